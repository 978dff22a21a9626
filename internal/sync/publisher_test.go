package sync_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"nassync/internal/model"
	"nassync/internal/sync"
	"nassync/internal/testutil"
)

func uploadedInfo(path string, size int64) model.FileInfo {
	return model.FileInfo{Path: path, Name: path, Size: size, MimeType: "text/plain"}
}

func TestPublisher_PublishBatch(t *testing.T) {
	t.Run("chunks messages into batches of at most ten", func(t *testing.T) {
		clock := testutil.FixedClock()
		q := testutil.NewMemoryQueue(false)
		pub := sync.NewPublisher(q, "test-bucket", nil, sync.NewNopLogger(), clock, sync.PublisherConfig{})

		for i := 0; i < 23; i++ {
			pub.PublishFileUploaded(uploadedInfo(fmt.Sprintf("docs/f%02d.txt", i), 10),
				"", &model.UploadResult{Key: fmt.Sprintf("docs/f%02d.txt", i)})
			clock.Advance(time.Millisecond)
		}

		if err := pub.Flush(context.Background()); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if got := len(q.Sent()); got != 23 {
			t.Fatalf("sent = %d, want 23", got)
		}
		if calls := q.BatchCalls(); calls != 3 {
			t.Errorf("batch calls = %d, want 3 (10+10+3)", calls)
		}

		stats := pub.Stats()
		if stats.Published != 23 || stats.Failed != 0 || stats.Queued != 0 {
			t.Errorf("stats = %+v, want 23 published", stats)
		}
	})

	t.Run("resubmits only the failed subset", func(t *testing.T) {
		clock := testutil.FixedClock()
		q := testutil.NewMemoryQueue(false)
		// Two entries fail once, then succeed on the resubmission.
		q.FailKey("docs/f03.txt", 1)
		q.FailKey("docs/f07.txt", 1)

		pub := sync.NewPublisher(q, "test-bucket", nil, sync.NewNopLogger(), clock, sync.PublisherConfig{})
		for i := 0; i < 10; i++ {
			pub.PublishFileUploaded(uploadedInfo(fmt.Sprintf("docs/f%02d.txt", i), 10),
				"", &model.UploadResult{Key: fmt.Sprintf("docs/f%02d.txt", i)})
			clock.Advance(time.Millisecond)
		}

		if err := pub.Flush(context.Background()); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if got := len(q.Sent()); got != 10 {
			t.Fatalf("sent = %d, want all 10 delivered", got)
		}
		// One full batch plus one retry of the two-failure subset.
		if calls := q.BatchCalls(); calls != 2 {
			t.Errorf("batch calls = %d, want 2", calls)
		}
		if stats := pub.Stats(); stats.Published != 10 || stats.Failed != 0 {
			t.Errorf("stats = %+v, want 10 published, 0 failed", stats)
		}
	})

	t.Run("ordering within a group survives chunking and concurrency", func(t *testing.T) {
		clock := testutil.FixedClock()
		q := testutil.NewMemoryQueue(false)
		pub := sync.NewPublisher(q, "test-bucket", nil, sync.NewNopLogger(), clock, sync.PublisherConfig{BatchConcurrency: 4})

		// Two groups, each larger than one batch.
		for i := 0; i < 15; i++ {
			pub.PublishFileUploaded(uploadedInfo(fmt.Sprintf("docs/f%02d.txt", i), 10),
				"", &model.UploadResult{Key: fmt.Sprintf("docs/f%02d.txt", i)})
			pub.PublishFileUploaded(uploadedInfo(fmt.Sprintf("media/m%02d.jpg", i), 10),
				"", &model.UploadResult{Key: fmt.Sprintf("media/m%02d.jpg", i)})
			clock.Advance(time.Millisecond)
		}

		if err := pub.Flush(context.Background()); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if got := len(q.Sent()); got != 30 {
			t.Fatalf("sent = %d, want 30", got)
		}

		byGroup := map[string][]string{}
		for _, m := range q.Sent() {
			byGroup[m.GroupID] = append(byGroup[m.GroupID], m.Message.Path)
		}
		for group, want := range map[string]string{"docs": "docs/f%02d.txt", "media": "media/m%02d.jpg"} {
			paths := byGroup[group]
			if len(paths) != 15 {
				t.Fatalf("group %s delivered %d messages, want 15", group, len(paths))
			}
			for i, p := range paths {
				if p != fmt.Sprintf(want, i) {
					t.Fatalf("group %s out of order at %d: %v", group, i, paths)
				}
			}
		}
	})

	t.Run("exhausted retries route to the dead-letter queue", func(t *testing.T) {
		clock := testutil.FixedClock()
		q := testutil.NewMemoryQueue(true)
		q.FailKey("docs/poison.txt", -1) // fails forever

		pub := sync.NewPublisher(q, "test-bucket", nil, sync.NewNopLogger(), clock, sync.PublisherConfig{MaxRetries: 2})
		pub.PublishFileUploaded(uploadedInfo("docs/poison.txt", 10), "", &model.UploadResult{Key: "docs/poison.txt"})
		pub.PublishFileUploaded(uploadedInfo("docs/fine.txt", 10), "", &model.UploadResult{Key: "docs/fine.txt"})

		if err := pub.Flush(context.Background()); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}

		if got := len(q.Sent()); got != 1 {
			t.Fatalf("sent = %d, want 1", got)
		}
		dls := q.DeadLetters()
		if len(dls) != 1 {
			t.Fatalf("dead letters = %d, want 1", len(dls))
		}
		if dls[0].Message.Path != "docs/poison.txt" {
			t.Errorf("dead-lettered path = %s, want docs/poison.txt", dls[0].Message.Path)
		}
		if dls[0].Reason == "" {
			t.Error("dead-letter reason empty, want provenance")
		}
		if stats := pub.Stats(); stats.Published != 1 || stats.Failed != 1 {
			t.Errorf("stats = %+v, want 1 published / 1 failed", stats)
		}
	})

	t.Run("undeliverable without a dead-letter queue is an error", func(t *testing.T) {
		clock := testutil.FixedClock()
		q := testutil.NewMemoryQueue(false)
		q.FailKey("docs/poison.txt", -1)

		pub := sync.NewPublisher(q, "test-bucket", nil, sync.NewNopLogger(), clock, sync.PublisherConfig{MaxRetries: 1})
		pub.PublishFileUploaded(uploadedInfo("docs/poison.txt", 10), "", &model.UploadResult{Key: "docs/poison.txt"})

		if err := pub.Flush(context.Background()); err == nil {
			t.Fatal("Flush() error = nil, want undeliverable error")
		}
	})

	t.Run("dry run delivers nothing but counts as published", func(t *testing.T) {
		clock := testutil.FixedClock()
		q := testutil.NewMemoryQueue(false)

		pub := sync.NewPublisher(q, "test-bucket", nil, sync.NewNopLogger(), clock, sync.PublisherConfig{DryRun: true})
		pub.PublishFileUploaded(uploadedInfo("docs/a.txt", 10), "", &model.UploadResult{Key: "docs/a.txt"})

		if err := pub.Flush(context.Background()); err != nil {
			t.Fatalf("Flush() error = %v", err)
		}
		if len(q.Sent()) != 0 {
			t.Errorf("sent = %d, want 0 in dry run", len(q.Sent()))
		}
		if stats := pub.Stats(); stats.Published != 1 {
			t.Errorf("published = %d, want 1", stats.Published)
		}
	})
}

func TestPublisher_EventShapes(t *testing.T) {
	clock := testutil.FixedClock()
	q := testutil.NewMemoryQueue(false)
	pub := sync.NewPublisher(q, "test-bucket", nil, sync.NewNopLogger(), clock, sync.PublisherConfig{})

	res := &model.UploadResult{Key: "docs/a.txt", Version: "v1", Duration: time.Second}
	pub.PublishFileUploaded(uploadedInfo("docs/a.txt", 5), "abc123", res)
	pub.PublishFileModified(uploadedInfo("docs/b.txt", 7), "def456", &model.UploadResult{Key: "docs/b.txt"})
	pub.PublishFileDeleted(model.FileRecord{
		Path: "docs/gone.txt", RemoteKey: "docs/gone.txt", Size: 3, MimeType: "text/plain", Checksum: "aaa",
	})

	if err := pub.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	sent := q.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sent))
	}

	byEvent := map[model.EventType]model.DeliveryMessage{}
	for _, m := range sent {
		byEvent[m.Message.Event] = m.Message
	}

	up, ok := byEvent[model.EventFileUploaded]
	if !ok {
		t.Fatal("no FILE_UPLOADED message")
	}
	if up.Bucket != "test-bucket" || up.Key != "docs/a.txt" || up.Checksum != "abc123" {
		t.Errorf("uploaded message = %+v", up)
	}
	if up.Metadata["remoteVersion"] != "v1" {
		t.Errorf("metadata = %v, want remoteVersion v1", up.Metadata)
	}

	if _, ok := byEvent[model.EventFileModified]; !ok {
		t.Error("no FILE_MODIFIED message")
	}

	del, ok := byEvent[model.EventFileDeleted]
	if !ok {
		t.Fatal("no FILE_DELETED message")
	}
	if del.Key != "docs/gone.txt" || del.Path != "docs/gone.txt" {
		t.Errorf("deleted message = %+v", del)
	}
}

func TestPublisher_DeletedWithoutRemoteKey(t *testing.T) {
	clock := testutil.FixedClock()
	q := testutil.NewMemoryQueue(false)
	pub := sync.NewPublisher(q, "test-bucket", nil, sync.NewNopLogger(), clock, sync.PublisherConfig{})

	// Never uploaded: the record has no remote key.
	pub.PublishFileDeleted(model.FileRecord{Path: "docs/never.txt", Size: 4})

	if err := pub.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	sent := q.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	if sent[0].Message.Key != "docs/never.txt" {
		t.Errorf("key = %q, want the catalog path as fallback", sent[0].Message.Key)
	}
}

func TestDedupID(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	msg := model.DeliveryMessage{Event: model.EventFileUploaded, Key: "docs/a.txt", EmittedAt: at}

	if sync.DedupID(msg) != sync.DedupID(msg) {
		t.Error("DedupID not deterministic for identical messages")
	}

	other := msg
	other.EmittedAt = at.Add(time.Nanosecond)
	if sync.DedupID(msg) == sync.DedupID(other) {
		t.Error("DedupID identical for different emission times")
	}

	other = msg
	other.Event = model.EventFileModified
	if sync.DedupID(msg) == sync.DedupID(other) {
		t.Error("DedupID identical for different events")
	}
}

func TestGroupID(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"docs/reports/q1.pdf", "docs"},
		{"docs/a.txt", "docs"},
		{"top.txt", "top.txt"},
		{"/docs/a.txt", "docs"},
		{"", "root"},
	}
	for _, tc := range tests {
		got := sync.GroupID(model.DeliveryMessage{Path: tc.path})
		if got != tc.want {
			t.Errorf("GroupID(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}
