package sync_test

import (
	"context"
	"errors"
	"testing"

	"nassync/internal/model"
	"nassync/internal/sync"
	"nassync/internal/testutil"
)

func TestUploader_UploadAll(t *testing.T) {
	t.Run("uploads the new set and finalizes catalog records", func(t *testing.T) {
		clock := testutil.FixedClock()
		fs := testutil.NewMemoryAdapter()
		fs.AddFile("docs/a.txt", []byte("alpha"), clock.Now())
		fs.AddFile("docs/b.txt", []byte("bravo"), clock.Now())

		cat := testutil.NewTestCatalog(t)
		store := testutil.NewMemoryStore("test-bucket")

		scanner := sync.NewScanner(fs, cat, nil, sync.NewNopLogger(), clock, sync.ScannerConfig{})
		result, _, err := scanner.Scan(context.Background(), "", false)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}

		uploader := sync.NewUploader(fs, store, cat, nil, sync.NewNopLogger(), clock, sync.UploaderConfig{})
		outcomes, err := uploader.UploadAll(context.Background(), *result)
		if err != nil {
			t.Fatalf("UploadAll() error = %v", err)
		}
		if len(outcomes) != 2 {
			t.Fatalf("outcomes = %d, want 2", len(outcomes))
		}
		for _, o := range outcomes {
			if o.Err != nil {
				t.Errorf("outcome for %s has error: %v", o.Info.Path, o.Err)
			}
		}
		if store.Len() != 2 {
			t.Errorf("stored objects = %d, want 2", store.Len())
		}

		obj, ok := store.Object("docs/a.txt")
		if !ok {
			t.Fatal("docs/a.txt missing from store")
		}
		if string(obj.Data) != "alpha" {
			t.Errorf("stored bytes = %q, want alpha", obj.Data)
		}

		record, err := cat.GetFileMetadata("docs/a.txt")
		if err != nil || record == nil {
			t.Fatalf("GetFileMetadata() = %v, %v", record, err)
		}
		if record.Status != model.StatusSynced {
			t.Errorf("status = %s, want synced", record.Status)
		}
		if record.RemoteKey != "docs/a.txt" {
			t.Errorf("remote key = %s, want docs/a.txt", record.RemoteKey)
		}
		if record.RemoteVersion == "" {
			t.Error("remote version empty, want stored")
		}
		if record.LastSyncedAt == nil {
			t.Error("last synced at nil, want set")
		}
	})

	t.Run("a failed transfer keeps the file eligible for retry", func(t *testing.T) {
		clock := testutil.FixedClock()
		fs := testutil.NewMemoryAdapter()
		fs.AddFile("docs/good.txt", []byte("fine"), clock.Now())
		fs.AddFile("docs/bad.txt", []byte("nope"), clock.Now())

		cat := testutil.NewTestCatalog(t)
		store := testutil.NewMemoryStore("test-bucket")
		store.FailKey("docs/bad.txt", errors.New("connection reset"))

		scanner := sync.NewScanner(fs, cat, nil, sync.NewNopLogger(), clock, sync.ScannerConfig{})
		result, _, err := scanner.Scan(context.Background(), "", false)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}

		uploader := sync.NewUploader(fs, store, cat, nil, sync.NewNopLogger(), clock, sync.UploaderConfig{})
		outcomes, err := uploader.UploadAll(context.Background(), *result)
		if err != nil {
			t.Fatalf("UploadAll() error = %v", err)
		}

		var failed, succeeded int
		for _, o := range outcomes {
			if o.Err != nil {
				failed++
			} else {
				succeeded++
			}
		}
		if failed != 1 || succeeded != 1 {
			t.Fatalf("failed=%d succeeded=%d, want 1/1", failed, succeeded)
		}

		record, err := cat.GetFileMetadata("docs/bad.txt")
		if err != nil || record == nil {
			t.Fatalf("GetFileMetadata() = %v, %v", record, err)
		}
		if record.Status != model.StatusError {
			t.Errorf("status = %s, want error", record.Status)
		}

		// Still listed by the pending query so the next run retries it.
		pending, err := cat.GetPendingFiles(10)
		if err != nil {
			t.Fatalf("GetPendingFiles() error = %v", err)
		}
		found := false
		for _, r := range pending {
			if r.Path == "docs/bad.txt" {
				found = true
			}
		}
		if !found {
			t.Error("docs/bad.txt not in pending set after failure")
		}
	})

	t.Run("dry run moves no bytes and leaves records pending", func(t *testing.T) {
		clock := testutil.FixedClock()
		fs := testutil.NewMemoryAdapter()
		fs.AddFile("docs/a.txt", []byte("alpha"), clock.Now())

		cat := testutil.NewTestCatalog(t)
		store := testutil.NewMemoryStore("test-bucket")

		scanner := sync.NewScanner(fs, cat, nil, sync.NewNopLogger(), clock, sync.ScannerConfig{})
		result, _, err := scanner.Scan(context.Background(), "", false)
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}

		uploader := sync.NewUploader(fs, store, cat, nil, sync.NewNopLogger(), clock, sync.UploaderConfig{DryRun: true})
		outcomes, err := uploader.UploadAll(context.Background(), *result)
		if err != nil {
			t.Fatalf("UploadAll() error = %v", err)
		}
		if len(outcomes) != 1 || outcomes[0].Err != nil {
			t.Fatalf("outcomes = %v, want one clean outcome", outcomes)
		}
		if !outcomes[0].Result.DryRun {
			t.Error("result not flagged dry-run")
		}
		if store.PutCount() != 0 {
			t.Errorf("store puts = %d, want 0 in dry run", store.PutCount())
		}

		record, _ := cat.GetFileMetadata("docs/a.txt")
		if record.Status != model.StatusPending {
			t.Errorf("status = %s, want pending after dry run", record.Status)
		}
	})

	t.Run("empty classification is a no-op", func(t *testing.T) {
		clock := testutil.FixedClock()
		fs := testutil.NewMemoryAdapter()
		cat := testutil.NewTestCatalog(t)
		store := testutil.NewMemoryStore("test-bucket")

		uploader := sync.NewUploader(fs, store, cat, nil, sync.NewNopLogger(), clock, sync.UploaderConfig{})
		outcomes, err := uploader.UploadAll(context.Background(), model.ScanClassification{})
		if err != nil {
			t.Fatalf("UploadAll() error = %v", err)
		}
		if len(outcomes) != 0 {
			t.Errorf("outcomes = %d, want 0", len(outcomes))
		}
	})
}
