// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Loader loads and watches a config file.
type Loader struct {
	path     string
	onChange func(*Config)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithOnChange sets a callback invoked when the file changes and reloads
// cleanly.
func WithOnChange(fn func(*Config)) LoaderOption {
	return func(l *Loader) {
		l.onChange = fn
	}
}

// NewLoader creates a Loader for the given path.
func NewLoader(path string, opts ...LoaderOption) (*Loader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	l := &Loader{path: absPath}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Load reads, expands, decodes, defaults and validates the configuration.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", l.path, err)
	}
	return Parse(data)
}

// Parse runs the full pipeline on raw config bytes.
func Parse(data []byte) (*Config, error) {
	rawMap, err := parseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded, _ := ExpandEnvVarsInData(rawMap).(map[string]interface{})

	cfg := &Config{}
	if err := decodeConfig(expanded, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Default returns a config with every default applied, for mock mode and
// tests.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Watch blocks watching the config file until ctx is cancelled. Change
// events are debounced; a reload failure keeps the previous config.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory; editors replace files instead of writing them.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	slog.Info("config_watch_started", "path", l.path)

	const debounceDelay = 100 * time.Millisecond
	var debounce *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config_watch_error", "error", err)

		case <-reload:
			cfg, err := l.Load(ctx)
			if err != nil {
				slog.Error("config_reload_failed", "error", err)
				continue
			}
			slog.Info("config_reloaded", "path", l.path)
			if l.onChange != nil {
				l.onChange(cfg)
			}
		}
	}
}

// parseBytes parses raw bytes into a map. YAML first, JSON fallback.
func parseBytes(data []byte) (map[string]any, error) {
	var result map[string]any

	if err := yaml.Unmarshal(data, &result); err == nil {
		return result, nil
	}

	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse as YAML or JSON: %w", err)
	}

	return result, nil
}

// decodeConfig decodes a map into a Config struct using mapstructure.
func decodeConfig(input map[string]any, output *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           output,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("failed to decode: %w", err)
	}

	return nil
}
