package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nassync/internal/model"
	"nassync/internal/sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// maxBatchSize is the SQS limit on entries per SendMessageBatch call.
const maxBatchSize = 10

// wireMessage is the JSON body consumers receive. Field names are part of the
// wire contract and must not change.
type wireMessage struct {
	Event     string            `json:"event"`
	Bucket    string            `json:"bucket"`
	Key       string            `json:"key"`
	Size      int64             `json:"size"`
	MimeType  string            `json:"mime_type"`
	FilePath  string            `json:"file_path"`
	Checksum  string            `json:"checksum,omitempty"`
	EmittedAt time.Time         `json:"emitted_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func encodeMessage(msg model.DeliveryMessage) (string, error) {
	body, err := json.Marshal(wireMessage{
		Event:     string(msg.Event),
		Bucket:    msg.Bucket,
		Key:       msg.Key,
		Size:      msg.Size,
		MimeType:  msg.MimeType,
		FilePath:  msg.Path,
		Checksum:  msg.Checksum,
		EmittedAt: msg.EmittedAt,
		Metadata:  msg.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("encoding delivery message: %w", err)
	}
	return string(body), nil
}

// SQSQueue delivers messages to an AWS SQS queue, with an optional dead-letter
// queue for messages that exhaust normal delivery. FIFO queues (URL ending in
// .fifo) get deduplication and group IDs; standard queues ignore them.
type SQSQueue struct {
	client *sqs.Client
	url    string
	dlqURL string
	fifo   bool
	logger sync.Logger
}

// SQSOptions configures the queue destination.
type SQSOptions struct {
	URL           string
	DeadLetterURL string
	Region        string
}

// NewSQSQueue builds an SQSQueue from options using the default credential chain.
func NewSQSQueue(ctx context.Context, opts SQSOptions, logger sync.Logger) (*SQSQueue, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("sqs queue requires a url")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSQSQueueFromClient(sqs.NewFromConfig(awsCfg), opts, logger), nil
}

// NewSQSQueueFromClient wraps an existing SQS client.
func NewSQSQueueFromClient(client *sqs.Client, opts SQSOptions, logger sync.Logger) *SQSQueue {
	if logger == nil {
		logger = sync.NewNopLogger()
	}
	return &SQSQueue{
		client: client,
		url:    opts.URL,
		dlqURL: opts.DeadLetterURL,
		fifo:   strings.HasSuffix(opts.URL, ".fifo"),
		logger: logger,
	}
}

// Send delivers a single message.
func (q *SQSQueue) Send(ctx context.Context, msg model.DeliveryMessage, dedupID, groupID string) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.url),
		MessageBody:       aws.String(body),
		MessageAttributes: messageAttributes(msg),
	}
	if q.fifo {
		input.MessageDeduplicationId = aws.String(dedupID)
		input.MessageGroupId = aws.String(groupID)
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sending message for %s: %w", msg.Key, err)
	}
	return nil
}

// SendBatch delivers up to 10 messages in one call. Entries the queue rejects
// are reported by index in the result; a partial failure is not an error.
func (q *SQSQueue) SendBatch(ctx context.Context, msgs []model.DeliveryMessage, dedupIDs, groupIDs []string) (*sync.BatchResult, error) {
	if len(msgs) == 0 {
		return &sync.BatchResult{}, nil
	}
	if len(msgs) > maxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds the limit of %d", len(msgs), maxBatchSize)
	}
	if len(dedupIDs) != len(msgs) || len(groupIDs) != len(msgs) {
		return nil, fmt.Errorf("batch ids must match message count")
	}

	entries := make([]types.SendMessageBatchRequestEntry, len(msgs))
	for i, msg := range msgs {
		body, err := encodeMessage(msg)
		if err != nil {
			return nil, err
		}
		entry := types.SendMessageBatchRequestEntry{
			Id:                aws.String(strconv.Itoa(i)),
			MessageBody:       aws.String(body),
			MessageAttributes: messageAttributes(msg),
		}
		if q.fifo {
			entry.MessageDeduplicationId = aws.String(dedupIDs[i])
			entry.MessageGroupId = aws.String(groupIDs[i])
		}
		entries[i] = entry
	}

	out, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(q.url),
		Entries:  entries,
	})
	if err != nil {
		return nil, fmt.Errorf("sending batch of %d: %w", len(msgs), err)
	}

	result := &sync.BatchResult{Succeeded: len(out.Successful)}
	for _, failed := range out.Failed {
		idx, convErr := strconv.Atoi(aws.ToString(failed.Id))
		if convErr != nil || idx < 0 || idx >= len(msgs) {
			return nil, fmt.Errorf("queue returned unknown batch entry id %q", aws.ToString(failed.Id))
		}
		q.logger.Warn("batch entry rejected",
			"key", msgs[idx].Key,
			"code", aws.ToString(failed.Code),
			"message", aws.ToString(failed.Message))
		result.Failed = append(result.Failed, idx)
	}
	return result, nil
}

// SendToDeadLetter reroutes a message to the dead-letter queue with provenance
// attributes identifying the failure and the originating queue.
func (q *SQSQueue) SendToDeadLetter(ctx context.Context, msg model.DeliveryMessage, reason string) error {
	if q.dlqURL == "" {
		return fmt.Errorf("no dead-letter queue configured")
	}

	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}

	attrs := messageAttributes(msg)
	attrs["FailureReason"] = types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(reason),
	}
	attrs["FailureTimestamp"] = types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(time.Now().UTC().Format(time.RFC3339)),
	}
	attrs["OriginalQueue"] = types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(q.url),
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(q.dlqURL),
		MessageBody:       aws.String(body),
		MessageAttributes: attrs,
	}
	if strings.HasSuffix(q.dlqURL, ".fifo") {
		input.MessageDeduplicationId = aws.String(fmt.Sprintf("dlq-%s-%d", msg.Key, msg.EmittedAt.UnixNano()))
		input.MessageGroupId = aws.String("dead-letter")
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("sending %s to dead-letter queue: %w", msg.Key, err)
	}

	q.logger.Warn("message routed to dead-letter queue", "key", msg.Key, "reason", reason)
	return nil
}

// Metrics returns approximate message counts from the queue attributes.
func (q *SQSQueue) Metrics(ctx context.Context) (*model.QueueMetrics, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.url),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reading queue attributes: %w", err)
	}

	parse := func(name types.QueueAttributeName) int64 {
		n, _ := strconv.ParseInt(out.Attributes[string(name)], 10, 64)
		return n
	}

	return &model.QueueMetrics{
		Visible:  parse(types.QueueAttributeNameApproximateNumberOfMessages),
		InFlight: parse(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed:  parse(types.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}, nil
}

// HasDeadLetter reports whether a dead-letter queue is configured.
func (q *SQSQueue) HasDeadLetter() bool {
	return q.dlqURL != ""
}

func messageAttributes(msg model.DeliveryMessage) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		"EventType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(msg.Event)),
		},
		"FileSize": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.FormatInt(msg.Size, 10)),
		},
	}
	if msg.MimeType != "" {
		attrs["ContentType"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(msg.MimeType),
		}
	}
	return attrs
}

// Compile-time check that SQSQueue implements sync.Queue
var _ sync.Queue = (*SQSQueue)(nil)
