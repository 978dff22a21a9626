package sync_test

import (
	"testing"

	"nassync/internal/sync"

	"github.com/google/uuid"
)

func TestUUIDGenerator(t *testing.T) {
	var gen sync.UUIDGenerator

	id := gen.New()
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("New() = %q, not a valid uuid: %v", id, err)
	}
	if gen.New() == id {
		t.Error("New() returned the same id twice")
	}
}
