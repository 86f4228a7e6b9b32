// Package logging builds the service's structured logger: one JSON core per
// sink, each with its own threshold, sharing the same enrichment.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	loggerName   = "app"
	timestampKey = "timestamp"
	levelKey     = "level"
	nameKey      = "logger_name"
	messageKey   = "message"
)

// Keys owned by the logger. Context fields may not overwrite them.
var reservedKeys = map[string]struct{}{
	timestampKey:      {},
	levelKey:          {},
	nameKey:           {},
	messageKey:        {},
	"service_name":    {},
	"service_version": {},
}

// Config describes the sinks of a Logger.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Development    bool

	// ConsoleLevel is the console threshold. Console defaults to stdout.
	ConsoleLevel string
	Console      io.Writer

	// FilePath enables the rotating file sink when set.
	FilePath       string
	FileLevel      string
	FileMaxSizeMB  int
	FileMaxBackups int

	OTLP      OTLPConfig
	OTLPLevel string
}

// Logger owns the zap logger and the sinks behind it.
type Logger struct {
	zap       *zap.Logger
	console   zap.AtomicLevel
	sinks     []*countingSyncer
	rotator   *lumberjack.Logger
	otel      *OTelWriter
	collector *sinkCollector
}

// New creates a Logger. A sink that cannot be opened is an error; a sink
// that later fails to accept writes only increments its failure counter.
func New(cfg Config) (*Logger, error) {
	consoleLevel, err := ParseLevel(cfg.ConsoleLevel)
	if err != nil {
		return nil, err
	}

	l := &Logger{console: zap.NewAtomicLevelAt(consoleLevel)}
	encoder := zapcore.NewJSONEncoder(EncoderConfig())

	out := cfg.Console
	if out == nil {
		out = os.Stdout
	}
	console := newCountingSyncer(SinkConsole, zapcore.AddSync(out))
	l.sinks = append(l.sinks, console)
	cores := []zapcore.Core{zapcore.NewCore(encoder, console, l.console)}

	if cfg.FilePath != "" {
		fileLevel, err := ParseLevel(cfg.FileLevel)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.rotator = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.FileMaxSizeMB,
			MaxBackups: cfg.FileMaxBackups,
		}
		file := newCountingSyncer(SinkFile, zapcore.AddSync(l.rotator))
		l.sinks = append(l.sinks, file)
		cores = append(cores, zapcore.NewCore(encoder, file, threshold(fileLevel)))
	}

	if cfg.OTLP.Enabled {
		otlpLevel, err := ParseLevel(cfg.OTLPLevel)
		if err != nil {
			return nil, err
		}
		w, err := NewOTelWriter(context.Background(), cfg.OTLP)
		if err != nil {
			return nil, err
		}
		l.otel = w
		remote := newCountingSyncer(SinkOTLP, w)
		l.sinks = append(l.sinks, remote)
		cores = append(cores, zapcore.NewCore(encoder, remote, threshold(otlpLevel)))
	}

	opts := []zap.Option{
		zap.Fields(
			zap.String("service_name", cfg.ServiceName),
			zap.String("service_version", cfg.ServiceVersion),
		),
	}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}

	l.zap = zap.New(zapcore.NewTee(cores...), opts...).Named(loggerName)
	l.collector = newSinkCollector(l.sinks)

	l.zap.Debug("Logger initialized",
		zap.Strings("sinks", sinkNames(l.sinks)),
		zap.String("console_level", consoleLevel.String()),
	)
	return l, nil
}

func threshold(min zapcore.Level) zap.LevelEnablerFunc {
	return func(lvl zapcore.Level) bool {
		return lvl >= min
	}
}

// EncoderConfig is the JSON layout shared by all sinks.
func EncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        timestampKey,
		LevelKey:       levelKey,
		NameKey:        nameKey,
		MessageKey:     messageKey,
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    levelEncoder,
		EncodeTime:     utcTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

func levelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel, zapcore.DPanicLevel:
		enc.AppendString("ERROR")
	default:
		enc.AppendString("CRITICAL")
	}
}

func utcTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

// ParseLevel accepts debug, info, warn, warning, error and critical.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "critical":
		return zapcore.DPanicLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// Log emits one event with the given context fields.
func (l *Logger) Log(level zapcore.Level, msg string, fields map[string]any) {
	Log(l.zap, level, msg, fields)
}

// SetConsoleLevel changes the console threshold at runtime.
func (l *Logger) SetConsoleLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	l.console.SetLevel(lvl)
	return nil
}

// ConsoleLevel returns the current console threshold.
func (l *Logger) ConsoleLevel() zapcore.Level {
	return l.console.Level()
}

// SinkErrors returns the number of failed writes per sink.
func (l *Logger) SinkErrors() map[string]uint64 {
	out := make(map[string]uint64, len(l.sinks))
	for _, s := range l.sinks {
		out[s.name] = s.Failures()
	}
	return out
}

// Collector exposes SinkErrors as log_sink_errors_total.
func (l *Logger) Collector() prometheus.Collector {
	return l.collector
}

// Sync flushes all sinks.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Shutdown flushes and closes the sinks.
func (l *Logger) Shutdown(ctx context.Context) error {
	var errs []error
	_ = l.zap.Sync()
	if l.otel != nil {
		if err := l.otel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("otlp log sink: %w", err))
		}
	}
	if l.rotator != nil {
		if err := l.rotator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("file log sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Log emits msg at level with fields sorted by key. A timestamp field given as
// a time.Time or an RFC 3339 string becomes the event time. Other fields that
// collide with logger-owned keys are dropped.
func Log(logger *zap.Logger, level zapcore.Level, msg string, fields map[string]any) {
	ce := logger.Check(level, msg)
	if ce == nil {
		return
	}
	if ts, ok := upstreamTime(fields[timestampKey]); ok {
		ce.Entry.Time = ts
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if _, reserved := reservedKeys[k]; !reserved {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	zf := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		zf = append(zf, zap.Any(k, fields[k]))
	}
	ce.Write(zf...)
}

func upstreamTime(v any) (time.Time, bool) {
	switch ts := v.(type) {
	case time.Time:
		return ts, !ts.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}
