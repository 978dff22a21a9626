package queue

import (
	"context"
	"fmt"
	stdsync "sync"

	"nassync/internal/model"
	"nassync/internal/sync"
)

// SentMessage is one message recorded by a MemoryQueue.
type SentMessage struct {
	Message model.DeliveryMessage
	DedupID string
	GroupID string
}

// DeadLetterMessage is one message rerouted to the fake dead-letter queue.
type DeadLetterMessage struct {
	Message model.DeliveryMessage
	Reason  string
}

// MemoryQueue is an in-memory Queue for tests. FailKeys marks message keys
// whose batch entries are rejected; FailCount bounds how many times each key
// fails before succeeding, mimicking transient queue errors.
type MemoryQueue struct {
	mu         stdsync.Mutex
	hasDLQ     bool
	sent       []SentMessage
	deadLetter []DeadLetterMessage
	dedupSeen  map[string]bool
	failKeys   map[string]int
	batchCalls int
	sendErr    error
}

func NewMemoryQueue(hasDLQ bool) *MemoryQueue {
	return &MemoryQueue{
		hasDLQ:    hasDLQ,
		dedupSeen: make(map[string]bool),
		failKeys:  make(map[string]int),
	}
}

// FailKey makes batch entries for key fail count times before succeeding.
// A negative count fails forever.
func (m *MemoryQueue) FailKey(key string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failKeys[key] = count
}

// FailSends makes every Send and SendBatch call return err.
func (m *MemoryQueue) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *MemoryQueue) Send(ctx context.Context, msg model.DeliveryMessage, dedupID, groupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}
	m.record(msg, dedupID, groupID)
	return nil
}

func (m *MemoryQueue) SendBatch(ctx context.Context, msgs []model.DeliveryMessage, dedupIDs, groupIDs []string) (*sync.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(msgs) > maxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds the limit of %d", len(msgs), maxBatchSize)
	}
	if len(dedupIDs) != len(msgs) || len(groupIDs) != len(msgs) {
		return nil, fmt.Errorf("batch ids must match message count")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.batchCalls++

	result := &sync.BatchResult{}
	for i, msg := range msgs {
		if remaining, ok := m.failKeys[msg.Key]; ok && remaining != 0 {
			if remaining > 0 {
				m.failKeys[msg.Key] = remaining - 1
			}
			result.Failed = append(result.Failed, i)
			continue
		}
		m.record(msg, dedupIDs[i], groupIDs[i])
		result.Succeeded++
	}
	return result, nil
}

func (m *MemoryQueue) SendToDeadLetter(ctx context.Context, msg model.DeliveryMessage, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasDLQ {
		return fmt.Errorf("no dead-letter queue configured")
	}
	m.deadLetter = append(m.deadLetter, DeadLetterMessage{Message: msg, Reason: reason})
	return nil
}

func (m *MemoryQueue) Metrics(ctx context.Context) (*model.QueueMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return &model.QueueMetrics{Visible: int64(len(m.sent))}, nil
}

func (m *MemoryQueue) HasDeadLetter() bool {
	return m.hasDLQ
}

// record drops duplicate dedup IDs, matching FIFO queue semantics.
func (m *MemoryQueue) record(msg model.DeliveryMessage, dedupID, groupID string) {
	if dedupID != "" && m.dedupSeen[dedupID] {
		return
	}
	if dedupID != "" {
		m.dedupSeen[dedupID] = true
	}
	m.sent = append(m.sent, SentMessage{Message: msg, DedupID: dedupID, GroupID: groupID})
}

// Sent returns a copy of all accepted messages in delivery order.
func (m *MemoryQueue) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// DeadLetters returns a copy of all messages routed to the dead-letter queue.
func (m *MemoryQueue) DeadLetters() []DeadLetterMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetterMessage, len(m.deadLetter))
	copy(out, m.deadLetter)
	return out
}

// BatchCalls returns the number of SendBatch invocations.
func (m *MemoryQueue) BatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// Compile-time check that MemoryQueue implements sync.Queue
var _ sync.Queue = (*MemoryQueue)(nil)
