// Package logger wraps log/slog with the two streams the coordinator writes:
// the application log and an audit trail of swarm mutations and access
// denials. File outputs rotate through lumberjack.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// LevelTrace is below debug and is used for per-request tracing.
	LevelTrace = slog.LevelDebug - 4
	// LevelOff silences every record.
	LevelOff = slog.LevelError + 8
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the dedicated audit file. When disabled, audit
// records go to the application outputs tagged with stream=audit.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type sinks struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.RWMutex
	current *sinks
)

// Init installs loggers built from cfg. Files held by a previous
// configuration are closed; loggers derived from it before the call keep
// their old handler, so Init belongs at the top of process start-up.
func Init(cfg Config) error {
	next, err := build(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	prev := current
	current = next
	mu.Unlock()
	if prev != nil {
		return prev.close()
	}
	return nil
}

func build(cfg Config) (*sinks, error) {
	s := &sinks{}
	writer, err := s.outputs(cfg.OutputPaths)
	if err != nil {
		_ = s.close()
		return nil, err
	}

	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   level <= slog.LevelDebug,
		ReplaceAttr: renameLevels,
	}
	var handler slog.Handler = slog.NewJSONHandler(writer, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(writer, opts)
	}
	s.app = slog.New(handler)
	s.audit = s.app.With(slog.String("stream", "audit"))

	if cfg.Audit.Enabled {
		if cfg.Audit.Path == "" {
			_ = s.close()
			return nil, errors.New("audit log path cannot be empty when enabled")
		}
		file := rotating(cfg.Audit.Path, cfg.Audit.MaxSizeMB, cfg.Audit.MaxBackups, cfg.Audit.MaxAgeDays)
		s.closers = append(s.closers, file)
		s.audit = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return s, nil
}

// outputs resolves stdout, stderr or a file path per entry. Files are
// rotated with lumberjack defaults.
func (s *sinks) outputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, path := range paths {
		switch strings.ToLower(strings.TrimSpace(path)) {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			file := rotating(path, 0, 0, 0)
			s.closers = append(s.closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func rotating(path string, maxSizeMB, maxBackups, maxAgeDays int) *lumberjack.Logger {
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
}

func (s *sinks) close() error {
	var err error
	for _, closer := range s.closers {
		err = errors.Join(err, closer.Close())
	}
	s.closers = nil
	return err
}

// renameLevels prints TRACE instead of slog's "DEBUG-4".
func renameLevels(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// ParseLevel accepts named levels as well as the numeric verbosity used by
// LOG_LEVEL: 0 disables logging, 1 is info, 2 is debug and 3 traces requests.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "0", "off", "none":
		return LevelOff
	case "2", "debug":
		return slog.LevelDebug
	case "3", "trace":
		return LevelTrace
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func load() *sinks {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		return s
	}
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		// stdout-only configuration cannot fail.
		current, _ = build(Config{})
	}
	return current
}

// L returns the application logger.
func L() *slog.Logger { return load().app }

// Audit returns the audit logger.
func Audit() *slog.Logger { return load().audit }

// Named returns a child logger tagged with a component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Trace logs at LevelTrace on the application logger.
func Trace(ctx context.Context, msg string, args ...any) {
	L().Log(ctx, LevelTrace, msg, args...)
}

// Sync closes file outputs so buffered data reaches disk. Call it once on
// shutdown.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	return current.close()
}
