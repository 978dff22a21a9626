package sync

import (
	"context"

	"nassync/internal/model"
)

// BatchResult reports the outcome of one batch send. Failed holds the indexes
// (into the submitted batch) of entries the queue rejected.
type BatchResult struct {
	Succeeded int
	Failed    []int
}

// Queue is the delivery side of the engine: a message queue accepting single
// and batched sends with deduplication and ordering keys.
type Queue interface {
	// Send delivers a single message. dedupID and groupID map to the queue's
	// deduplication and ordering keys.
	Send(ctx context.Context, msg model.DeliveryMessage, dedupID, groupID string) error

	// SendBatch delivers up to 10 messages in one call. A partial failure is
	// not an error; rejected entries are reported in the result.
	SendBatch(ctx context.Context, msgs []model.DeliveryMessage, dedupIDs, groupIDs []string) (*BatchResult, error)

	// SendToDeadLetter reroutes a message that exhausted normal delivery,
	// attaching provenance (original queue, failure reason, timestamp).
	SendToDeadLetter(ctx context.Context, msg model.DeliveryMessage, reason string) error

	// Metrics returns approximate visible, in-flight, and delayed counts.
	Metrics(ctx context.Context) (*model.QueueMetrics, error)

	// HasDeadLetter reports whether a dead-letter destination is configured.
	HasDeadLetter() bool
}
