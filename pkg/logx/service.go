package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"amd/internal/errors"
)

// DefaultFilePath is used when the file sink is enabled without a path.
const DefaultFilePath = "./amd.log"

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig routes WARN and above (by default) to an operator chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Service owns the sinks and the live level. Loggers created from it pick up
// every Apply and SetLevel without being rebuilt.
type Service struct {
	// mu guards level, out, file and the sink's routing knobs.
	mu    sync.RWMutex
	level zerolog.Level
	out   io.Writer
	file  *os.File

	root atomic.Pointer[zerolog.Logger]

	sink *operatorSink
}

// New applies cfg and returns the service with a live root logger. sender
// may be nil, which turns the Telegram sink into a no-op.
func New(cfg Config, sender TextSender) (*Service, Logger) {
	s := &Service{sink: newOperatorSink(sender)}
	boot := newRoot(newConsoleWriter(os.Stdout), parseLevel(cfg.Level, zerolog.InfoLevel))
	s.root.Store(&boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.root.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// Level returns the verbosity as an upper-case name such as "INFO".
func (s *Service) Level() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return levelName(s.level)
}

// SetLevel changes verbosity without touching sinks. Unknown names are a
// configuration error and leave the level as it was.
func (s *Service) SetLevel(raw string) error {
	lvl, ok := lookupLevel(raw)
	if !ok {
		return errors.Configuration("unknown log level %q (use TRACE, DEBUG, INFO, WARN or ERROR)", raw)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = lvl
	s.publishLocked()
	return nil
}

// SinkStats reports the operator sink counters.
func (s *Service) SinkStats() SinkStats {
	return s.sink.stats()
}

// Apply rebuilds sinks and level from cfg. Safe for concurrent use. The
// previous log file is closed only after the new root is published, so a
// concurrent writer never lands on a closed file.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.file
	s.file = nil

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = DefaultFilePath
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if s.sink.configure(cfg.Telegram) {
		writers = append(writers, s.sink)
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(os.Stdout))
	}

	s.out = zerolog.MultiLevelWriter(writers...)
	s.level = parseLevel(cfg.Level, zerolog.InfoLevel)
	s.publishLocked()
	if old != nil {
		_ = old.Close()
	}
}

// Close stops the sink worker and closes the log file.
func (s *Service) Close() error {
	s.sink.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}

func (s *Service) publishLocked() {
	out := s.out
	if out == nil {
		out = newConsoleWriter(os.Stdout)
	}
	zl := newRoot(out, s.level)
	s.root.Store(&zl)
}
