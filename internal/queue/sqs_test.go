package queue

import (
	"encoding/json"
	"testing"
	"time"

	"nassync/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
)

func TestEncodeMessage(t *testing.T) {
	emitted := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	msg := model.DeliveryMessage{
		Event:     model.EventFileUploaded,
		Bucket:    "backups",
		Key:       "nas/docs/report.pdf",
		Size:      2048,
		MimeType:  "application/pdf",
		Path:      "docs/report.pdf",
		Checksum:  "abc123",
		EmittedAt: emitted,
		Metadata:  map[string]string{"remoteVersion": "v7"},
	}

	body, err := encodeMessage(msg)
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}

	// Consumers depend on these exact field names.
	var decoded map[string]any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	want := map[string]any{
		"event":     "FILE_UPLOADED",
		"bucket":    "backups",
		"key":       "nas/docs/report.pdf",
		"size":      float64(2048),
		"mime_type": "application/pdf",
		"file_path": "docs/report.pdf",
		"checksum":  "abc123",
	}
	for field, v := range want {
		if decoded[field] != v {
			t.Errorf("%s = %v, want %v", field, decoded[field], v)
		}
	}
	if decoded["emitted_at"] != "2024-01-15T10:30:00Z" {
		t.Errorf("emitted_at = %v", decoded["emitted_at"])
	}
	meta, ok := decoded["metadata"].(map[string]any)
	if !ok || meta["remoteVersion"] != "v7" {
		t.Errorf("metadata = %v", decoded["metadata"])
	}
}

func TestEncodeMessage_OmitsEmptyOptionalFields(t *testing.T) {
	body, err := encodeMessage(model.DeliveryMessage{
		Event: model.EventFileDeleted,
		Key:   "gone.txt",
		Path:  "gone.txt",
	})
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(body), &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if _, present := decoded["checksum"]; present {
		t.Error("checksum present, want omitted when empty")
	}
	if _, present := decoded["metadata"]; present {
		t.Error("metadata present, want omitted when empty")
	}
}

func TestMessageAttributes(t *testing.T) {
	t.Run("includes event type and size", func(t *testing.T) {
		attrs := messageAttributes(model.DeliveryMessage{
			Event:    model.EventFileModified,
			Size:     512,
			MimeType: "text/plain",
		})

		if got := aws.ToString(attrs["EventType"].StringValue); got != "FILE_MODIFIED" {
			t.Errorf("EventType = %s", got)
		}
		if got := aws.ToString(attrs["FileSize"].StringValue); got != "512" {
			t.Errorf("FileSize = %s", got)
		}
		if got := aws.ToString(attrs["FileSize"].DataType); got != "Number" {
			t.Errorf("FileSize data type = %s", got)
		}
		if got := aws.ToString(attrs["ContentType"].StringValue); got != "text/plain" {
			t.Errorf("ContentType = %s", got)
		}
	})

	t.Run("skips content type when unknown", func(t *testing.T) {
		attrs := messageAttributes(model.DeliveryMessage{Event: model.EventFileDeleted})
		if _, present := attrs["ContentType"]; present {
			t.Error("ContentType present, want omitted for empty mime type")
		}
	})
}

func TestNewSQSQueueFromClient_FifoDetection(t *testing.T) {
	tests := []struct {
		url  string
		fifo bool
	}{
		{"https://sqs.eu-west-1.amazonaws.com/123/events.fifo", true},
		{"https://sqs.eu-west-1.amazonaws.com/123/events", false},
	}
	for _, tt := range tests {
		q := NewSQSQueueFromClient(nil, SQSOptions{URL: tt.url}, nil)
		if q.fifo != tt.fifo {
			t.Errorf("fifo for %s = %v, want %v", tt.url, q.fifo, tt.fifo)
		}
	}
}

func TestSQSQueue_HasDeadLetter(t *testing.T) {
	with := NewSQSQueueFromClient(nil, SQSOptions{URL: "https://q", DeadLetterURL: "https://dlq"}, nil)
	if !with.HasDeadLetter() {
		t.Error("HasDeadLetter() = false with a configured dead-letter url")
	}
	without := NewSQSQueueFromClient(nil, SQSOptions{URL: "https://q"}, nil)
	if without.HasDeadLetter() {
		t.Error("HasDeadLetter() = true without a dead-letter url")
	}
}
