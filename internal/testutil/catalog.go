package testutil

import (
	"testing"

	"nassync/internal/catalog"
	"nassync/internal/sync"
)

// NewTestCatalog creates an in-memory SQLite catalog with schema applied.
// The catalog is automatically closed when the test completes.
func NewTestCatalog(t *testing.T) sync.Catalog {
	t.Helper()

	c, err := catalog.NewSQLiteCatalog(":memory:")
	if err != nil {
		t.Fatalf("failed to open catalog: %v", err)
	}
	if err := c.Initialize(); err != nil {
		c.Close()
		t.Fatalf("failed to apply catalog schema: %v", err)
	}

	t.Cleanup(func() {
		c.Close()
	})

	return c
}
