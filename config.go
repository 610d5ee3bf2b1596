package orbit

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config controls what the recorder captures and how much it retains.
type Config struct {
	// Enabled is the master switch. When false, nothing is recorded.
	Enabled bool `yaml:"enabled"`

	RecordRequests     bool `yaml:"record_requests"`
	RecordQueries      bool `yaml:"record_queries"`
	RecordLogs         bool `yaml:"record_logs"`
	RecordExceptions   bool `yaml:"record_exceptions"`
	RecordJobs         bool `yaml:"record_jobs"`
	RecordCommands     bool `yaml:"record_commands"`
	RecordCache        bool `yaml:"record_cache"`
	RecordModels       bool `yaml:"record_models"`
	RecordHTTPClient   bool `yaml:"record_http_client"`
	RecordMail         bool `yaml:"record_mail"`
	RecordSignals      bool `yaml:"record_signals"`
	RecordRedis        bool `yaml:"record_redis"`
	RecordGates        bool `yaml:"record_gates"`
	RecordTransactions bool `yaml:"record_transactions"`
	RecordStorage      bool `yaml:"record_storage"`

	// SlowQueryThresholdMS marks queries slower than this many milliseconds as
	// slow. By default, 500. Negative values are replaced by the default.
	SlowQueryThresholdMS float64 `yaml:"slow_query_threshold_ms"`

	// StorageLimit is the maximum number of retained entries. By default, 1000.
	// The minimum is 1, and the maximum is 1000000.
	StorageLimit int `yaml:"storage_limit"`

	// IgnorePaths are path prefixes excluded from request capture.
	IgnorePaths []string `yaml:"ignore_paths"`

	// AsyncBuffer, if greater than zero, makes appends asynchronous, via a
	// buffer of the given size. When the buffer is full, entries are dropped.
	AsyncBuffer int `yaml:"async_buffer"`

	// AuthCheck guards the query surface. Optional. By default, all requests
	// are allowed. It can only be set in code.
	AuthCheck func(*http.Request) bool `yaml:"-"`
}

const (
	slowQueryThresholdDef = 500.0
	storageLimitMin       = 1
	storageLimitDef       = 1000
	storageLimitMax       = 1_000_000
)

// DefaultConfig returns a config with every watcher enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		RecordRequests:       true,
		RecordQueries:        true,
		RecordLogs:           true,
		RecordExceptions:     true,
		RecordJobs:           true,
		RecordCommands:       true,
		RecordCache:          true,
		RecordModels:         true,
		RecordHTTPClient:     true,
		RecordMail:           true,
		RecordSignals:        true,
		RecordRedis:          true,
		RecordGates:          true,
		RecordTransactions:   true,
		RecordStorage:        true,
		SlowQueryThresholdMS: slowQueryThresholdDef,
		StorageLimit:         storageLimitDef,
		IgnorePaths:          []string{"/orbit/", "/static/", "/favicon.ico"},
	}
}

// Normalize enforces limits on the config values.
func (c *Config) Normalize() {
	switch {
	case c.StorageLimit <= 0:
		c.StorageLimit = storageLimitDef
	case c.StorageLimit < storageLimitMin:
		c.StorageLimit = storageLimitMin
	case c.StorageLimit > storageLimitMax:
		c.StorageLimit = storageLimitMax
	}

	if c.SlowQueryThresholdMS < 0 {
		c.SlowQueryThresholdMS = slowQueryThresholdDef
	}

	if c.AsyncBuffer < 0 {
		c.AsyncBuffer = 0
	}

	paths := c.IgnorePaths[:0:0]
	for _, p := range c.IgnorePaths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	c.IgnorePaths = paths
}

// Allows returns true if entries of the given type should be recorded.
func (c Config) Allows(t Type) bool {
	if !c.Enabled {
		return false
	}
	switch t {
	case TypeRequest:
		return c.RecordRequests
	case TypeQuery:
		return c.RecordQueries
	case TypeLog:
		return c.RecordLogs
	case TypeException:
		return c.RecordExceptions
	case TypeJob:
		return c.RecordJobs
	case TypeCommand:
		return c.RecordCommands
	case TypeCache:
		return c.RecordCache
	case TypeModel:
		return c.RecordModels
	case TypeHTTPClient:
		return c.RecordHTTPClient
	case TypeMail:
		return c.RecordMail
	case TypeSignal:
		return c.RecordSignals
	case TypeRedis:
		return c.RecordRedis
	case TypeGate:
		return c.RecordGates
	case TypeTransaction:
		return c.RecordTransactions
	case TypeStorage:
		return c.RecordStorage
	default:
		return false
	}
}

// IsIgnoredPath returns true if the request path matches an ignored prefix.
func (c Config) IsIgnoredPath(path string) bool {
	for _, prefix := range c.IgnorePaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// LoadConfig reads a YAML config file over the default config. Keys missing
// from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config data over the default config.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.Normalize()
	return cfg, nil
}

//
//
//

// ConfigWatcher reloads a config file when it changes, and applies the new
// config to a recorder.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	apply    func(Config)
	debounce time.Duration
	errorf   func(format string, args ...any)
}

// NewConfigWatcher watches the config file at path. Changes are parsed and
// passed to apply, typically [Recorder.SetConfig]. Errors are reported to
// errorf, which may be nil.
func NewConfigWatcher(path string, apply func(Config), errorf func(format string, args ...any)) (*ConfigWatcher, error) {
	if errorf == nil {
		errorf = func(string, ...any) {}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Watch the directory, so that editors which replace the file are handled.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %q: %w", path, err)
	}

	return &ConfigWatcher{
		watcher:  watcher,
		path:     abs,
		apply:    apply,
		debounce: 250 * time.Millisecond,
		errorf:   errorf,
	}, nil
}

// Run watches for changes until ctx is canceled.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.errorf("config watcher: %v", err)
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.errorf("config reload: %v", err)
		return
	}
	w.apply(cfg)
}
