package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin structured wrapper over zerolog. Child loggers made with
// With share the parent's collector slot, so a collector attached after the
// children were derived still receives their error events.
type Logger struct {
	zl   zerolog.Logger
	sink *collectorSlot
}

type collectorSlot struct {
	c atomic.Pointer[LogCollector]
}

type Config struct {
	Level      string // trace, debug, info, warn, error, fatal, panic
	Format     string // json or console
	Output     string // stdout, stderr, or file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = timeFormat

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: timeFormat}
	}

	zl := zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		CallerWithSkipFrameCount(4).
		Logger()

	return &Logger{zl: zl, sink: &collectorSlot{}}, nil
}

func openOutput(target string) (io.Writer, error) {
	switch target {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}
	return f, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), sink: &collectorSlot{}}
}

// With returns a child logger carrying the given fields on every event.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &Logger{zl: ctx.Logger(), sink: l.sink}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(l.zl.Debug(), msg, fields) }

func (l *Logger) Info(msg string, fields ...Field) { l.emit(l.zl.Info(), msg, fields) }

func (l *Logger) Warn(msg string, fields ...Field) { l.emit(l.zl.Warn(), msg, fields) }

// Error logs at error level and forwards the entry to the attached collector.
func (l *Logger) Error(msg string, fields ...Field) {
	l.emit(l.zl.Error(), msg, fields)
	l.collect("error", msg, fields)
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.apply(ev)
	}
	ev.Msg(msg)
}

func (l *Logger) collect(level, msg string, fields []Field) {
	c := l.sink.c.Load()
	if c == nil {
		return
	}

	// skip collect and Error
	caller := "unknown"
	if _, file, line, ok := runtime.Caller(2); ok {
		caller = fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(file)), filepath.Base(file), line)
	}

	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.plain()
	}
	c.AddLog(level, msg, m, caller)
}

// AddCollector attaches a collector shared by this logger and all of its
// children, closing any collector attached before.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if old := l.sink.c.Swap(NewLogCollector(cfg)); old != nil {
		old.Close()
	}
}

// RemoveCollector detaches and flushes the current collector.
func (l *Logger) RemoveCollector() {
	if old := l.sink.c.Swap(nil); old != nil {
		old.Close()
	}
}

// Field is a single structured key/value attached to a log event.
type Field struct {
	Key   string
	Value interface{}
}

func (f Field) apply(ev *zerolog.Event) {
	switch v := f.Value.(type) {
	case string:
		ev.Str(f.Key, v)
	case int:
		ev.Int(f.Key, v)
	case int64:
		ev.Int64(f.Key, v)
	case float64:
		ev.Float64(f.Key, v)
	case bool:
		ev.Bool(f.Key, v)
	case time.Duration:
		ev.Dur(f.Key, v)
	case error:
		ev.AnErr(f.Key, v)
	default:
		ev.Interface(f.Key, v)
	}
}

// plain is the form stored by the collector, which serializes to JSON.
func (f Field) plain() interface{} {
	switch v := f.Value.(type) {
	case error:
		return v.Error()
	case nil:
		return nil
	case time.Duration:
		return v.Milliseconds()
	default:
		return v
	}
}

func String(key, value string) Field { return Field{Key: key, Value: value} }

func Int(key string, value int) Field { return Field{Key: key, Value: value} }

func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }

func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }

func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }

// Duration is rendered in milliseconds.
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

func Strings(key string, value []string) Field {
	return Field{Key: key, Value: strings.Join(value, ", ")}
}

func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Error attaches err under the "error" key.
func Error(err error) Field { return Field{Key: zerolog.ErrorFieldName, Value: err} }
