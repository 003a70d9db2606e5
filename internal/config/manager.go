package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Format represents supported configuration file formats
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ChangeEvent represents a configuration change event
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"` // create, modify, delete
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called when configuration changes
type ChangeHandler func(event ChangeEvent) error

// Manager watches a config directory and hot-reloads tunables. Only
// scoring weights, thresholds, and deadlines take effect live; structural
// settings (ports, backends) still require a restart.
type Manager struct {
	configDir string
	configs   map[string]map[string]interface{}
	handlers  map[string][]ChangeHandler
	watcher   *fsnotify.Watcher
	started   bool
	stopCh    chan struct{}
	logger    *zap.Logger
	mu        sync.RWMutex
	watcherMu sync.Mutex

	validators map[string]func(map[string]interface{}) error

	// Polling fallback for when fsnotify isn't reliable
	pollInterval  time.Duration
	enablePolling bool
}

// NewManager creates a new configuration manager
func NewManager(configDir string, logger *zap.Logger) (*Manager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Manager{
		configDir:     configDir,
		configs:       make(map[string]map[string]interface{}),
		handlers:      make(map[string][]ChangeHandler),
		validators:    make(map[string]func(map[string]interface{}) error),
		watcher:       watcher,
		stopCh:        make(chan struct{}),
		logger:        logger,
		pollInterval:  10 * time.Second,
		enablePolling: false,
	}, nil
}

// Start begins watching for configuration changes
func (m *Manager) Start(ctx context.Context) error {
	// Avoid holding m.mu while doing I/O (watcher add, file loads)
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.watcher.Add(m.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	if err := m.loadAllConfigs(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	m.mu.Lock()
	m.started = true
	loaded := len(m.configs)
	polling := m.enablePolling
	m.mu.Unlock()

	go m.watchLoop()

	if polling {
		go m.pollLoop()
	}

	m.logger.Info("Configuration manager started",
		zap.String("config_dir", m.configDir),
		zap.Int("loaded_configs", loaded),
		zap.Bool("polling_enabled", polling),
	)

	return nil
}

// Stop stops watching for configuration changes
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return nil
	}

	close(m.stopCh)
	if err := m.watcher.Close(); err != nil {
		m.logger.Error("Error closing file watcher", zap.Error(err))
	}

	m.started = false
	m.logger.Info("Configuration manager stopped")

	return nil
}

// RegisterHandler registers a change handler for a specific config file
func (m *Manager) RegisterHandler(filename string, handler ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[filename] = append(m.handlers[filename], handler)

	m.logger.Info("Configuration handler registered",
		zap.String("filename", filename),
		zap.Int("total_handlers", len(m.handlers[filename])),
	)
}

// RegisterValidator registers a configuration validator for a specific file
func (m *Manager) RegisterValidator(filename string, validator func(map[string]interface{}) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.validators[filename] = validator
	m.logger.Info("Configuration validator registered", zap.String("filename", filename))
}

// GetConfig returns the current configuration for a file
func (m *Manager) GetConfig(filename string) (map[string]interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	config, exists := m.configs[filename]
	if !exists {
		return nil, false
	}

	result := make(map[string]interface{}, len(config))
	for k, v := range config {
		result[k] = v
	}

	return result, true
}

// ReloadConfig manually reloads a specific configuration file
func (m *Manager) ReloadConfig(filename string) error {
	return m.loadConfigFile(filepath.Join(m.configDir, filename), "manual_reload")
}

// SetConfig programmatically sets a configuration (useful for testing)
func (m *Manager) SetConfig(filename string, config map[string]interface{}) error {
	m.mu.RLock()
	validator, hasValidator := m.validators[filename]
	m.mu.RUnlock()

	if hasValidator {
		if err := validator(config); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	configCopy := make(map[string]interface{}, len(config))
	for k, v := range config {
		configCopy[k] = v
	}

	m.mu.Lock()
	m.configs[filename] = config
	handlers := make([]ChangeHandler, len(m.handlers[filename]))
	copy(handlers, m.handlers[filename])
	m.mu.Unlock()

	m.notify(handlers, ChangeEvent{
		File:      filename,
		Action:    "programmatic_set",
		Config:    configCopy,
		Timestamp: time.Now(),
	})

	return nil
}

// EnablePolling enables polling fallback for unreliable filesystems
func (m *Manager) EnablePolling(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enablePolling = true
	m.pollInterval = interval

	m.logger.Info("Configuration polling enabled", zap.Duration("interval", interval))
}

func (m *Manager) watchLoop() {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-m.stopCh:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleWatchEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (m *Manager) pollLoop() {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	lastModTimes := make(map[string]time.Time)

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkForChanges(lastModTimes)
		}
	}
}

func (m *Manager) checkForChanges(lastModTimes map[string]time.Time) {
	err := filepath.WalkDir(m.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		filename := filepath.Base(path)
		if info.ModTime().After(lastModTimes[filename]) {
			lastModTimes[filename] = info.ModTime()
			return m.loadConfigFile(path, "polling_detected")
		}
		return nil
	})
	if err != nil {
		m.logger.Error("Error during polling check", zap.Error(err))
	}
}

func (m *Manager) handleWatchEvent(event fsnotify.Event) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	filename := filepath.Base(event.Name)
	if !isConfigFile(event.Name) {
		return
	}

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		action = "delete"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		action = "rename"
	case event.Op&fsnotify.Chmod == fsnotify.Chmod:
		return
	default:
		action = event.Op.String()
	}

	if action == "delete" || action == "rename" {
		m.handleFileRemoval(filename)
		return
	}

	// Small delay to handle rapid successive writes
	time.Sleep(50 * time.Millisecond)

	if err := m.loadConfigFile(event.Name, action); err != nil {
		m.logger.Error("Failed to load config file",
			zap.String("file", filename),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (m *Manager) loadAllConfigs() error {
	return filepath.WalkDir(m.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		return m.loadConfigFile(path, "initial_load")
	})
}

func (m *Manager) loadConfigFile(filePath, action string) error {
	// Read and parse before taking any locks
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	filename := filepath.Base(filePath)
	config := make(map[string]interface{})

	switch detectFormat(filename) {
	case FormatJSON:
		if err := json.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse JSON config %s: %w", filename, err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", filename, err)
		}
	}

	m.mu.RLock()
	validator := m.validators[filename]
	m.mu.RUnlock()

	// A config that fails validation never replaces the running one
	if validator != nil {
		if err := validator(config); err != nil {
			return fmt.Errorf("configuration validation failed for %s: %w", filename, err)
		}
	}

	configCopy := make(map[string]interface{}, len(config))
	for k, v := range config {
		configCopy[k] = v
	}

	m.mu.Lock()
	m.configs[filename] = config
	handlers := make([]ChangeHandler, len(m.handlers[filename]))
	copy(handlers, m.handlers[filename])
	m.mu.Unlock()

	m.notify(handlers, ChangeEvent{
		File:      filename,
		Action:    action,
		Config:    configCopy,
		Timestamp: time.Now(),
	})

	m.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.Int("keys", len(config)),
	)

	return nil
}

func (m *Manager) handleFileRemoval(filename string) {
	m.mu.Lock()
	config := m.configs[filename]
	delete(m.configs, filename)
	handlers := make([]ChangeHandler, len(m.handlers[filename]))
	copy(handlers, m.handlers[filename])
	m.mu.Unlock()

	var configCopy map[string]interface{}
	if config != nil {
		configCopy = make(map[string]interface{}, len(config))
		for k, v := range config {
			configCopy[k] = v
		}
	}

	m.notify(handlers, ChangeEvent{
		File:      filename,
		Action:    "delete",
		Config:    configCopy,
		Timestamp: time.Now(),
	})

	m.logger.Info("Configuration file removed", zap.String("filename", filename))
}

// notify runs handlers asynchronously so a slow handler never blocks the
// watch loop, and a handler that reloads config can't deadlock on m.mu.
func (m *Manager) notify(handlers []ChangeHandler, event ChangeEvent) {
	for _, handler := range handlers {
		h := handler
		go func() {
			if err := h(event); err != nil {
				m.logger.Error("Configuration handler error",
					zap.String("filename", event.File),
					zap.String("action", event.Action),
					zap.Error(err),
				)
			}
		}()
	}
}

func isConfigFile(filename string) bool {
	ext := filepath.Ext(filename)
	return ext == ".json" || ext == ".yaml" || ext == ".yml"
}

func detectFormat(filename string) Format {
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
