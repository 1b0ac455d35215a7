package config

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"os"
	"sync"
	"time"

	"amd/internal/errors"
	logx "amd/pkg/logx"
)

const (
	defaultDebounce        = 250 * time.Millisecond
	reloadValidateDeadline = 5 * time.Second
)

// Validator checks a parsed config before it is committed.
type Validator func(ctx context.Context, cfg *Config) error

// Manager owns the current config. Load commits the startup config; Watch
// keeps following the file and hands every valid change to subscribers.
type Manager struct {
	path   string
	getenv func(string) string
	check  Validator
	wait   time.Duration
	log    logx.Logger

	mu      sync.RWMutex
	current *Config
	digest  uint64

	// subsMu is separate from mu so a slow subscriber never blocks Get.
	subsMu sync.Mutex
	subs   []chan *Config
}

func NewManager(path string) *Manager {
	return &Manager{
		path:   path,
		getenv: os.Getenv,
		check:  func(_ context.Context, cfg *Config) error { return Validate(cfg) },
		wait:   defaultDebounce,
	}
}

func (m *Manager) Path() string { return m.path }

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetEnv replaces the environment lookup (tests).
func (m *Manager) SetEnv(getenv func(string) string) { m.getenv = getenv }

// SetValidator replaces the check run by Load and by every reload.
func (m *Manager) SetValidator(v Validator) { m.check = v }

// Parse reads and strictly decodes the file, then overlays the environment.
// Every failure is a configuration error.
func (m *Manager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "read config %s", m.path), errors.KindConfiguration)
	}
	doc, format, err := coerceToJSONBytes(m.path, raw)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "parse %s config", format), errors.KindConfiguration)
	}
	cfg, err := decodeStrict(doc)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode %s config", format), errors.KindConfiguration)
	}
	ApplyEnv(cfg, m.getenv)
	return cfg, nil
}

// decodeStrict rejects unknown keys and anything after the first document.
func decodeStrict(doc []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
		return &cfg, nil
	case err == nil:
		return nil, errors.New("trailing data after config document")
	default:
		return nil, err
	}
}

// Load parses, validates and commits the file. Startup treats any error as fatal.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if m.check != nil {
		if err := m.check(context.Background(), cfg); err != nil {
			return nil, err
		}
	}
	m.Commit(cfg)
	return cfg, nil
}

// Commit makes cfg current without notifying subscribers.
func (m *Manager) Commit(cfg *Config) {
	d := digest(cfg)
	m.mu.Lock()
	m.current, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel receiving every committed reload. A subscriber
// that falls behind only ever sees the newest config.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, max(buffer, 1))
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s != ch {
			continue
		}
		m.subs = append(m.subs[:i], m.subs[i+1:]...)
		close(ch)
		return
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// full: drop the stale pending config, then retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload re-reads the file after a change notification and publishes it if
// it parsed, validated and actually changed.
func (m *Manager) reload(ctx context.Context) {
	log := m.log.With(logx.String("path", m.path))
	cfg, err := m.Parse()
	if err != nil {
		log.Warn("config parse failed", logx.Err(err))
		return
	}

	d := digest(cfg)
	m.mu.RLock()
	same := d != 0 && d == m.digest
	m.mu.RUnlock()
	if same {
		log.Debug("config unchanged")
		return
	}

	if m.check != nil {
		vctx, cancel := context.WithTimeout(ctx, reloadValidateDeadline)
		err := m.check(vctx, cfg)
		cancel()
		if err != nil {
			log.Warn("config rejected", logx.Err(err))
			return
		}
	}

	m.Commit(cfg)
	m.publish(cfg)
	log.Info("config reload committed")
}

// digest fingerprints a config by its canonical JSON. Zero means unknown.
func digest(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil || len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
