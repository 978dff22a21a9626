package adapter

import (
	"fmt"
	"os"

	"nassync/internal/config"
	"nassync/internal/sync"
)

// NewAdapterFromConfig creates an Adapter based on the adapter config type.
// "auto" probes the configured mount path and falls back to a sandbox under
// the sandbox dir when the mount is absent; the selection is logged but
// otherwise behaves identically to an explicit choice.
func NewAdapterFromConfig(cfg config.AdapterConfig, logger sync.Logger) (sync.Adapter, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryAdapter(), nil
	case "mounted":
		if cfg.MountPath == "" {
			return nil, fmt.Errorf("mounted adapter requires mount_path to be set")
		}
		return NewMountedAdapter(cfg.MountPath, logger), nil
	case "local":
		if cfg.SandboxDir == "" {
			return nil, fmt.Errorf("local adapter requires sandbox_dir to be set")
		}
		return NewLocalAdapter(cfg.SandboxDir, logger)
	case "auto", "":
		if cfg.MountPath != "" {
			if info, err := os.Stat(cfg.MountPath); err == nil && info.IsDir() {
				logger.Info("adapter auto-detect: mount present", "path", cfg.MountPath)
				return NewMountedAdapter(cfg.MountPath, logger), nil
			}
			logger.Info("adapter auto-detect: mount absent", "path", cfg.MountPath)
		}
		if cfg.SandboxDir == "" {
			return nil, fmt.Errorf("auto adapter selection requires mount_path or sandbox_dir")
		}
		logger.Info("adapter auto-detect: using sandbox", "path", cfg.SandboxDir)
		return NewLocalAdapter(cfg.SandboxDir, logger)
	default:
		return nil, fmt.Errorf("unknown adapter type: %s", cfg.Type)
	}
}
