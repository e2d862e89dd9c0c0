package availability

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FileLoader reads the config from a YAML file.
type FileLoader struct {
	Path string
}

func (f FileLoader) LoadAvailability(_ context.Context) (*Config, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read availability config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse availability config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate availability config: %w", err)
	}
	return &cfg, nil
}

// Watch polls path and applies the file to store whenever its mtime moves
// forward. Broken edits are logged and skipped so the last good config stays.
func Watch(ctx context.Context, path string, interval time.Duration, store *Store, logger *zerolog.Logger) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	loader := FileLoader{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat availability config: %w", err)
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				cfg, err := loader.LoadAvailability(ctx)
				if err != nil {
					logger.Warn().Err(err).Str("path", path).Msg("availability config reload failed")
					continue
				}
				lastMod = info.ModTime()
				store.Set(cfg)
			}
		}
	}()

	return nil
}
