package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"nassync/internal/config"
)

func TestNewConfig(t *testing.T) {
	cfg := config.NewConfig("/data/nassync")

	if cfg.Catalog.Path != filepath.Join("/data/nassync", "catalog.db") {
		t.Errorf("catalog path = %s", cfg.Catalog.Path)
	}
	if cfg.LogDir != filepath.Join("/data/nassync", "log") {
		t.Errorf("log dir = %s", cfg.LogDir)
	}
	if cfg.Adapter.Type != "auto" {
		t.Errorf("adapter type = %s, want auto", cfg.Adapter.Type)
	}
	if cfg.Storage.Type != "s3" || cfg.Storage.MultipartThreshold != 100*1024*1024 {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Queue.Type != "sqs" || cfg.Queue.MaxRetries != 3 || cfg.Queue.BatchConcurrency != 5 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if len(cfg.Scan.ExcludePatterns) == 0 || cfg.Scan.Concurrency != 20 {
		t.Errorf("scan defaults = %+v", cfg.Scan)
	}
}

func TestManager_RoundTrip(t *testing.T) {
	original := config.NewConfig("/tmp/nassync-test")
	original.DryRun = true
	original.Adapter.Type = "mounted"
	original.Adapter.MountPath = "/mnt/nas"
	original.Storage.Bucket = "backups"
	original.Storage.Prefix = "nas/main"
	original.Storage.Endpoint = "http://minio.local:9000"
	original.Queue.URL = "https://sqs.eu-west-1.amazonaws.com/123/events.fifo"
	original.Queue.DeadLetterURL = "https://sqs.eu-west-1.amazonaws.com/123/events-dlq.fifo"
	original.Scan.ExcludePatterns = []string{"*.tmp", "cache/*"}
	original.Scan.MaxFileSize = 1 << 30

	m := &config.Manager{}
	var sb strings.Builder
	if err := m.Write(&sb, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	decoded, err := m.Read(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if decoded.DryRun != original.DryRun {
		t.Errorf("dry run = %v", decoded.DryRun)
	}
	if decoded.Adapter.MountPath != original.Adapter.MountPath {
		t.Errorf("mount path = %s", decoded.Adapter.MountPath)
	}
	if decoded.Storage.Bucket != "backups" || decoded.Storage.Endpoint != original.Storage.Endpoint {
		t.Errorf("storage = %+v", decoded.Storage)
	}
	if decoded.Queue.DeadLetterURL != original.Queue.DeadLetterURL {
		t.Errorf("dead letter url = %s", decoded.Queue.DeadLetterURL)
	}
	if len(decoded.Scan.ExcludePatterns) != 2 || decoded.Scan.ExcludePatterns[1] != "cache/*" {
		t.Errorf("exclude patterns = %v", decoded.Scan.ExcludePatterns)
	}
	if decoded.Scan.MaxFileSize != 1<<30 {
		t.Errorf("max file size = %d", decoded.Scan.MaxFileSize)
	}
}

func TestManager_ReadInvalid(t *testing.T) {
	m := &config.Manager{}
	if _, err := m.Read(strings.NewReader("this is not = [valid toml")); err == nil {
		t.Error("Read() = nil, want decode error")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates a new config file with parents", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "nassync.toml")
		if err := config.Init(path, config.NewConfig("/data")); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		cfg, err := config.ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if cfg.Adapter.Type != "auto" {
			t.Errorf("adapter type = %s", cfg.Adapter.Type)
		}
	})

	t.Run("refuses to overwrite an existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nassync.toml")
		if err := os.WriteFile(path, []byte("log_dir = \"/x\"\n"), 0644); err != nil {
			t.Fatalf("seeding file: %v", err)
		}
		if err := config.Init(path, config.NewConfig("/data")); err == nil {
			t.Error("Init() = nil, want already-exists error")
		}
	})
}

func TestReadFromFile_Missing(t *testing.T) {
	if _, err := config.ReadFromFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("ReadFromFile() = nil, want error")
	}
}
