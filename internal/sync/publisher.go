package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	stdsync "sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"nassync/internal/model"
)

// maxBatchEntries is the queue service's ceiling on entries per batch call.
const maxBatchEntries = 10

// PublisherConfig holds the tunables for the delivery publisher.
type PublisherConfig struct {
	BatchConcurrency int // concurrent batch sends, default 5
	MaxRetries       int // resubmissions of a failed subset, default 3
	DryRun           bool
}

// PublisherStats are cumulative counters for the life of a Publisher.
type PublisherStats struct {
	Published int64
	Failed    int64
	Queued    int64
}

// Publisher emits one DeliveryMessage per file outcome to the queue, batched
// for throughput. Messages are deduplicated by a key derived from (event,
// remote key, emission timestamp), and grouped by the top-level path segment
// so per-directory ordering is preserved.
type Publisher struct {
	queue    Queue
	bucket   string
	progress *Tracker
	logger   Logger
	clock    Clock
	cfg      PublisherConfig

	mu      stdsync.Mutex
	pending []model.DeliveryMessage

	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher creates a Publisher. bucket names the destination the messages
// refer to. progress may be nil.
func NewPublisher(queue Queue, bucket string, progress *Tracker, logger Logger, clock Clock, cfg PublisherConfig) *Publisher {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 5
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Publisher{
		queue:    queue,
		bucket:   bucket,
		progress: progress,
		logger:   logger,
		clock:    clock,
		cfg:      cfg,
	}
}

// PublishFileUploaded enqueues an upload event for a newly seen file.
func (p *Publisher) PublishFileUploaded(info model.FileInfo, checksum string, res *model.UploadResult) {
	p.enqueue(p.newMessage(model.EventFileUploaded, info, checksum, res))
}

// PublishFileModified enqueues an upload event for a changed file.
func (p *Publisher) PublishFileModified(info model.FileInfo, checksum string, res *model.UploadResult) {
	p.enqueue(p.newMessage(model.EventFileModified, info, checksum, res))
}

// PublishFileDeleted enqueues a deletion event for a path no longer on disk.
// A record that never finished an upload has no remote key; the catalog path
// stands in so the message key is never empty.
func (p *Publisher) PublishFileDeleted(record model.FileRecord) {
	key := record.RemoteKey
	if key == "" {
		key = record.Path
	}
	msg := model.DeliveryMessage{
		Event:     model.EventFileDeleted,
		Bucket:    p.bucket,
		Key:       key,
		Size:      record.Size,
		MimeType:  record.MimeType,
		Path:      record.Path,
		Checksum:  record.Checksum,
		EmittedAt: p.clock.Now(),
	}
	p.enqueue(msg)
}

func (p *Publisher) newMessage(event model.EventType, info model.FileInfo, checksum string, res *model.UploadResult) model.DeliveryMessage {
	msg := model.DeliveryMessage{
		Event:     event,
		Bucket:    p.bucket,
		Size:      info.Size,
		MimeType:  info.MimeType,
		Path:      info.Path,
		Checksum:  checksum,
		EmittedAt: p.clock.Now(),
	}
	if res != nil {
		msg.Key = res.Key
		msg.Metadata = map[string]string{
			"uploadDuration": res.Duration.String(),
		}
		if res.Version != "" {
			msg.Metadata["remoteVersion"] = res.Version
		}
	}
	return msg
}

func (p *Publisher) enqueue(msg model.DeliveryMessage) {
	p.mu.Lock()
	p.pending = append(p.pending, msg)
	p.mu.Unlock()
}

// Flush publishes everything enqueued so far and clears the pending buffer.
func (p *Publisher) Flush(ctx context.Context) error {
	p.mu.Lock()
	msgs := p.pending
	p.pending = nil
	p.mu.Unlock()

	if len(msgs) == 0 {
		return nil
	}
	return p.PublishBatch(ctx, msgs)
}

// PublishMessage sends a single message immediately.
func (p *Publisher) PublishMessage(ctx context.Context, msg model.DeliveryMessage) error {
	if p.cfg.DryRun {
		p.logger.Info("dry-run: would publish", "event", msg.Event, "path", msg.Path)
		p.published.Add(1)
		return nil
	}
	if err := p.queue.Send(ctx, msg, DedupID(msg), GroupID(msg)); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("sending message for %s: %w", msg.Path, err)
	}
	p.published.Add(1)
	return nil
}

// PublishBatch partitions messages by group ID, then into batches of at most
// ten. Distinct groups are sent concurrently up to the configured parallelism;
// batches within one group are sent sequentially so per-group ordering reaches
// the queue intact. A partially failed batch has only its failed subset
// resubmitted; entries that still fail after the retry budget go to the
// dead-letter destination when one is configured.
func (p *Publisher) PublishBatch(ctx context.Context, msgs []model.DeliveryMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	if p.progress != nil {
		p.progress.Start(model.PhaseProcess, int64(len(msgs)))
		defer p.progress.Complete(model.PhaseProcess)
	}

	if p.cfg.DryRun {
		for _, msg := range msgs {
			p.logger.Info("dry-run: would publish", "event", msg.Event, "path", msg.Path)
		}
		p.published.Add(int64(len(msgs)))
		return nil
	}

	groups := make(map[string][]model.DeliveryMessage)
	var order []string
	for _, msg := range msgs {
		id := GroupID(msg)
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], msg)
	}

	sem := semaphore.NewWeighted(int64(p.cfg.BatchConcurrency))
	var wg stdsync.WaitGroup
	var firstErr error
	var errOnce stdsync.Once
	var sent atomic.Int64

	for _, id := range order {
		group := groups[id]

		if err := sem.Acquire(ctx, 1); err != nil {
			errOnce.Do(func() { firstErr = err })
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			for start := 0; start < len(group); start += maxBatchEntries {
				end := min(start+maxBatchEntries, len(group))
				chunk := group[start:end]
				if err := p.sendChunk(ctx, chunk); err != nil {
					errOnce.Do(func() { firstErr = err })
					return
				}
				if p.progress != nil {
					p.progress.Update(model.PhaseProcess, sent.Add(int64(len(chunk))), "")
				}
			}
		}()
	}

	wg.Wait()
	return firstErr
}

// sendChunk delivers one batch of at most ten messages, resubmitting only the
// failed subset until the retry budget runs out.
func (p *Publisher) sendChunk(ctx context.Context, chunk []model.DeliveryMessage) error {
	remaining := chunk

	for attempt := 0; attempt <= p.cfg.MaxRetries && len(remaining) > 0; attempt++ {
		dedupIDs := make([]string, len(remaining))
		groupIDs := make([]string, len(remaining))
		for i, msg := range remaining {
			dedupIDs[i] = DedupID(msg)
			groupIDs[i] = GroupID(msg)
		}

		res, err := p.queue.SendBatch(ctx, remaining, dedupIDs, groupIDs)
		if err != nil {
			// Whole call failed; everything remains outstanding.
			p.logger.Warn("batch send failed", "size", len(remaining), "attempt", attempt, "error", err)
			continue
		}

		p.published.Add(int64(res.Succeeded))

		if len(res.Failed) == 0 {
			return nil
		}

		failed := make([]model.DeliveryMessage, 0, len(res.Failed))
		for _, idx := range res.Failed {
			failed = append(failed, remaining[idx])
		}
		p.logger.Warn("batch partially failed", "failed", len(failed), "attempt", attempt)
		remaining = failed
	}

	if len(remaining) == 0 {
		return nil
	}

	p.failed.Add(int64(len(remaining)))
	if !p.queue.HasDeadLetter() {
		return fmt.Errorf("%d message(s) undeliverable and no dead-letter queue configured", len(remaining))
	}

	for _, msg := range remaining {
		if err := p.queue.SendToDeadLetter(ctx, msg, "batch delivery retries exhausted"); err != nil {
			return fmt.Errorf("dead-lettering message for %s: %w", msg.Path, err)
		}
		p.logger.Warn("message dead-lettered", "event", msg.Event, "path", msg.Path)
	}
	return nil
}

// Metrics returns approximate queue depth counts for diagnosis.
func (p *Publisher) Metrics(ctx context.Context) (*model.QueueMetrics, error) {
	return p.queue.Metrics(ctx)
}

// Stats returns the cumulative counters for this publisher instance.
func (p *Publisher) Stats() PublisherStats {
	p.mu.Lock()
	queued := int64(len(p.pending))
	p.mu.Unlock()
	return PublisherStats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Queued:    queued,
	}
}

// ResetStats zeroes the cumulative counters.
func (p *Publisher) ResetStats() {
	p.published.Store(0)
	p.failed.Store(0)
}

// DedupID derives a deterministic deduplication key so that re-publishing the
// identical event is a no-op at the queue.
func DedupID(msg model.DeliveryMessage) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", msg.Event, msg.Key, msg.EmittedAt.UnixNano()))
	return hex.EncodeToString(h[:])
}

// GroupID groups messages by the top-level path segment: ordering is
// preserved per top-level directory, while distinct directories may be
// delivered out of order relative to each other.
func GroupID(msg model.DeliveryMessage) string {
	path := strings.TrimPrefix(msg.Path, "/")
	if i := strings.IndexByte(path, '/'); i > 0 {
		return path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}
