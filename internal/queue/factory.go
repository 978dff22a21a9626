package queue

import (
	"context"
	"fmt"

	"nassync/internal/config"
	"nassync/internal/sync"
)

// NewQueueFromConfig builds a Queue from configuration.
func NewQueueFromConfig(ctx context.Context, cfg config.QueueConfig, logger sync.Logger) (sync.Queue, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryQueue(cfg.DeadLetterURL != ""), nil
	case "sqs", "":
		return NewSQSQueue(ctx, SQSOptions{
			URL:           cfg.URL,
			DeadLetterURL: cfg.DeadLetterURL,
			Region:        cfg.Region,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
