package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/quotaguard/tokenquota/internal/errors"
	"github.com/quotaguard/tokenquota/internal/logging"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "TOKENQUOTA_CONFIG_PATH"

// DefaultReloadDebounce collapses the burst of events an editor produces
// for a single save.
const DefaultReloadDebounce = 250 * time.Millisecond

// Loader reads the configuration file and, once watching, re-reads it when
// it changes on disk.
type Loader struct {
	path     string
	debounce time.Duration

	mu        sync.RWMutex
	current   *Config
	digest    [sha256.Size]byte
	listeners []func(*Config)
	logger    *logging.Logger

	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
	wg      sync.WaitGroup
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithReloadDebounce sets how long the watcher waits for events to settle.
func WithReloadDebounce(d time.Duration) LoaderOption {
	return func(l *Loader) { l.debounce = d }
}

// NewLoader returns a Loader for path. Nothing is read until Load.
func NewLoader(path string, opts ...LoaderOption) *Loader {
	l := &Loader{
		path:     path,
		debounce: DefaultReloadDebounce,
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLogger sets the logger used for reload reporting.
func (l *Loader) SetLogger(logger *logging.Logger) {
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

func (l *Loader) read() ([]byte, error) {
	content, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, &errors.ErrConfigNotFound{Path: l.path}
	}
	if err != nil {
		return nil, &errors.ErrFileRead{Path: l.path, Err: err}
	}
	return content, nil
}

// Load reads and validates the file and makes it current. Listeners are
// not notified.
func (l *Loader) Load() (*Config, error) {
	content, err := l.read()
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(expandEnv(content))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current, l.digest = cfg, sha256.Sum256(content)
	l.mu.Unlock()
	return cfg, nil
}

// Reload re-reads the file and notifies listeners when its content changed.
// An invalid file leaves the current configuration in place.
func (l *Loader) Reload() (*Config, error) {
	content, err := l.read()
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(content)
	l.mu.RLock()
	current, unchanged := l.current, l.current != nil && bytes.Equal(digest[:], l.digest[:])
	l.mu.RUnlock()
	if unchanged {
		return current, nil
	}

	cfg, err := Parse(expandEnv(content))
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.current, l.digest = cfg, digest
	listeners := append([]func(*Config){}, l.listeners...)
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(cfg)
	}
	return cfg, nil
}

// Get returns the current configuration, or nil before the first Load.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// SetOnChange registers fn to run after every successful reload.
func (l *Loader) SetOnChange(fn func(*Config)) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

// StartWatcher watches the file's directory, so that editors which save by
// renaming a temporary file are noticed too.
func (l *Loader) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(l.path), err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.done = make(chan struct{})
	l.mu.Unlock()

	l.wg.Add(1)
	go l.watch(watcher, l.done)
	return nil
}

// StopWatcher stops watching and waits for the watch goroutine to exit.
// It is safe to call more than once.
func (l *Loader) StopWatcher() {
	l.mu.Lock()
	watcher, done := l.watcher, l.done
	l.watcher, l.done = nil, nil
	if l.timer != nil {
		l.timer.Stop()
	}
	l.mu.Unlock()

	if watcher == nil {
		return
	}
	close(done)
	_ = watcher.Close()
	l.wg.Wait()
}

func (l *Loader) watch(watcher *fsnotify.Watcher, done <-chan struct{}) {
	defer l.wg.Done()
	name := filepath.Base(l.path)

	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == name && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				l.scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.log().Error("config watcher error", "error", err)
		}
	}
}

func (l *Loader) scheduleReload() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Reset(l.debounce)
		return
	}
	l.timer = time.AfterFunc(l.debounce, l.reloadFromDisk)
}

func (l *Loader) reloadFromDisk() {
	if _, err := l.Reload(); err != nil {
		l.log().Error("config reload failed, keeping previous config", "path", l.path, "error", err)
		return
	}
	l.log().Info("configuration reloaded", "path", l.path)
}

func (l *Loader) log() *logging.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

// PathFromEnv returns $TOKENQUOTA_CONFIG_PATH, or "config.yaml".
func PathFromEnv() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	return "config.yaml"
}

func defaults() Config {
	return Config{
		Version: "1",
		Server: ServerConfig{
			Host:            "127.0.0.1",
			HTTPPort:        8318,
			ShutdownTimeout: 30 * time.Second,
			LogLevel:        "info",
		},
	}
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &errors.ErrConfigParse{Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &errors.ErrConfigValidation{Err: err}
	}
	return &cfg, nil
}

// Default returns the configuration produced by an empty file.
func Default() *Config {
	cfg, err := Parse(nil)
	if err != nil {
		panic(fmt.Sprintf("default config is invalid: %v", err))
	}
	return cfg
}

// expandEnv substitutes ${VAR} references before parsing.
func expandEnv(content []byte) []byte {
	return []byte(os.ExpandEnv(string(content)))
}
