package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process log sinks and the separate audit sink
type Logger struct {
	logger   zerolog.Logger
	audit    zerolog.Logger
	level    *atomic.Int32
	closers  []io.Closer
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string // trace, debug, info, warn, error
	File      string // log file path, empty disables file output
	AuditFile string // audit trail path, empty sends audit events to the main sink
	Console   bool   // enable console output
	Pretty    bool   // pretty format for console
	Redaction bool   // redact credentials before anything is written
	MaxSize   int    // max size in MB before rotation, 0 disables rotation
	MaxAge    int    // days rotated files are kept
	Compress  bool   // gzip rotated files
}

// New creates a logger and installs it as the global zerolog logger
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	l := &Logger{level: new(atomic.Int32)}
	l.level.Store(int32(level))
	if cfg.Redaction {
		l.redactor = NewRedactor()
	}

	var writers []io.Writer
	if cfg.Console {
		var consoleWriter io.Writer = os.Stdout
		if cfg.Pretty {
			consoleWriter = zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			}
		}
		writers = append(writers, consoleWriter)
	}

	if cfg.File != "" {
		fw, err := l.openFile(cfg.File, cfg)
		if err != nil {
			l.Close()
			return nil, err
		}
		writers = append(writers, fw)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = os.Stdout
	case 1:
		writer = writers[0]
	default:
		writer = io.MultiWriter(writers...)
	}
	writer = l.wrap(writer)

	l.logger = zerolog.New(&levelGate{out: writer, level: l.level}).
		With().
		Timestamp().
		Logger()

	l.audit = zerolog.New(writer).With().Timestamp().Str("stream", "audit").Logger()
	if cfg.AuditFile != "" {
		aw, err := l.openFile(cfg.AuditFile, cfg)
		if err != nil {
			l.Close()
			return nil, err
		}
		// Audit events are never filtered by the runtime level
		l.audit = zerolog.New(l.wrap(aw)).
			With().
			Timestamp().
			Str("stream", "audit").
			Logger()
	}

	log.Logger = l.logger

	return l, nil
}

func (l *Logger) openFile(path string, cfg Config) (io.Writer, error) {
	rw, err := NewRotatingWriter(path, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	l.closers = append(l.closers, rw)
	return rw, nil
}

func (l *Logger) wrap(w io.Writer) io.Writer {
	if l.redactor == nil {
		return w
	}
	return l.redactor.Wrap(w)
}

// Close closes every file sink
func (l *Logger) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}

// SetLevel changes the level of the main sink. Safe to call while logging.
func (l *Logger) SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.level.Store(int32(parsed))
	return nil
}

// Level returns the current level of the main sink
func (l *Logger) Level() zerolog.Level {
	return zerolog.Level(l.level.Load())
}

// levelGate drops events below a level that can change at runtime
type levelGate struct {
	out   io.Writer
	level *atomic.Int32
}

func (g *levelGate) Write(p []byte) (int, error) {
	return g.out.Write(p)
}

func (g *levelGate) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < zerolog.Level(g.level.Load()) {
		return len(p), nil
	}
	return g.out.Write(p)
}

func (l *Logger) Debug() *zerolog.Event {
	return l.logger.Debug()
}

func (l *Logger) Info() *zerolog.Event {
	return l.logger.Info()
}

func (l *Logger) Warn() *zerolog.Event {
	return l.logger.Warn()
}

func (l *Logger) Error() *zerolog.Event {
	return l.logger.Error()
}

// With creates a child logger with additional context
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// Audit returns the audit sink
func (l *Logger) Audit() zerolog.Logger {
	return l.audit
}

// Redactor returns the active redactor, nil when redaction is off
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}
