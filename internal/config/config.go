package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for nassync.
type Config struct {
	LogDir  string        `toml:"log_dir"`
	DryRun  bool          `toml:"dry_run"`
	Adapter AdapterConfig `toml:"adapter"`
	Catalog CatalogConfig `toml:"catalog"`
	Storage StorageConfig `toml:"storage"`
	Queue   QueueConfig   `toml:"queue"`
	Scan    ScanConfig    `toml:"scan"`
}

// AdapterConfig selects the filesystem adapter variant.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type AdapterConfig struct {
	Type string `toml:"type"` // "mounted", "local", "memory", or "auto"

	// Mounted-specific fields (only used when Type == "mounted" or "auto")
	MountPath string `toml:"mount_path,omitempty"`

	// Local/sandbox-specific fields (only used when Type == "local")
	SandboxDir string `toml:"sandbox_dir,omitempty"`
}

// CatalogConfig locates the local catalog database.
type CatalogConfig struct {
	Path string `toml:"path"` // SQLite file path, or ":memory:" for tests
}

// StorageConfig represents configuration for the object storage destination.
type StorageConfig struct {
	Type               string `toml:"type"` // "s3" or "memory"
	Bucket             string `toml:"bucket"`
	Prefix             string `toml:"prefix,omitempty"`
	Region             string `toml:"region,omitempty"`
	Endpoint           string `toml:"endpoint,omitempty"` // custom endpoint for S3-compatible stores
	AccessKey          string `toml:"access_key,omitempty"`
	SecretKey          string `toml:"secret_key,omitempty"`
	MultipartThreshold int64  `toml:"multipart_threshold"` // bytes; chunked transfer above this
	Concurrency        int    `toml:"concurrency"`         // concurrent transfers
}

// QueueConfig represents configuration for the delivery queue.
type QueueConfig struct {
	Type             string `toml:"type"` // "sqs" or "memory"
	URL              string `toml:"url"`
	DeadLetterURL    string `toml:"dead_letter_url,omitempty"`
	Region           string `toml:"region,omitempty"`
	BatchConcurrency int    `toml:"batch_concurrency"`
	MaxRetries       int    `toml:"max_retries"`
}

// ScanConfig holds scan-pass tunables.
type ScanConfig struct {
	Root            string   `toml:"root"` // adapter-relative scan root; "" scans the whole tree
	ExcludePatterns []string `toml:"exclude_patterns"`
	MaxFileSize     int64    `toml:"max_file_size"` // bytes; 0 means no ceiling
	MaxDepth        int      `toml:"max_depth"`
	Concurrency     int      `toml:"concurrency"`
}

// defaultMultipartThreshold matches the object store's minimum useful part
// size times a comfortable margin.
const defaultMultipartThreshold = 100 * 1024 * 1024

// NewConfig creates a Config with sensible defaults rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		LogDir: filepath.Join(baseDir, "log"),
		Adapter: AdapterConfig{
			Type: "auto",
		},
		Catalog: CatalogConfig{
			Path: filepath.Join(baseDir, "catalog.db"),
		},
		Storage: StorageConfig{
			Type:               "s3",
			MultipartThreshold: defaultMultipartThreshold,
			Concurrency:        10,
		},
		Queue: QueueConfig{
			Type:             "sqs",
			BatchConcurrency: 5,
			MaxRetries:       3,
		},
		Scan: ScanConfig{
			ExcludePatterns: []string{".*", "*.tmp", "~$*"},
			Concurrency:     20,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
