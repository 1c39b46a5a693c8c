package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"detect-web/common/config"
)

// LogLevel defines the log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogEntry represents a single log entry
type LogEntry struct {
	Level     LogLevel
	Message   string
	Timestamp time.Time
	Fields    map[string]interface{}
}

const (
	defaultBufferSize = 2000
	batchSize         = 100
	flushInterval     = 100 * time.Millisecond
)

// AsyncLogger queues entries on a buffered channel and writes them in
// batches from a single goroutine. When the buffer is full entries are dropped.
type AsyncLogger struct {
	logChan chan LogEntry
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
	logger  *slog.Logger
	closer  io.Closer
}

// NewAsyncLogger creates a new async logger writing through handler.
func NewAsyncLogger(handler slog.Handler, bufferSize int) *AsyncLogger {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	al := &AsyncLogger{
		logChan: make(chan LogEntry, bufferSize),
		done:    make(chan struct{}),
		logger:  slog.New(handler),
	}

	al.wg.Add(1)
	go al.worker()

	return al
}

func (al *AsyncLogger) worker() {
	defer al.wg.Done()

	batch := make([]LogEntry, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-al.logChan:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				al.flushBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				al.flushBatch(batch)
				batch = batch[:0]
			}

		case <-al.done:
			// drain whatever is still queued
			for {
				select {
				case entry := <-al.logChan:
					batch = append(batch, entry)
				default:
					al.flushBatch(batch)
					return
				}
			}
		}
	}
}

func (al *AsyncLogger) flushBatch(entries []LogEntry) {
	for _, entry := range entries {
		al.writeLogEntry(entry)
	}
}

func (al *AsyncLogger) writeLogEntry(entry LogEntry) {
	attrs := make([]slog.Attr, 0, len(entry.Fields))
	for key, value := range entry.Fields {
		attrs = append(attrs, slog.Any(key, value))
	}

	record := slog.NewRecord(entry.Timestamp, entry.Level.slogLevel(), entry.Message, 0)
	record.AddAttrs(attrs...)
	handler := al.logger.Handler()
	if handler.Enabled(context.Background(), record.Level) {
		_ = handler.Handle(context.Background(), record)
	}
}

func (al *AsyncLogger) log(level LogLevel, msg string, fields map[string]interface{}) {
	entry := LogEntry{
		Level:     level,
		Message:   msg,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	select {
	case <-al.done:
		// closed: write synchronously so late messages are not lost
		al.writeLogEntry(entry)
		return
	default:
	}

	select {
	case al.logChan <- entry:
	default:
		fmt.Fprintf(os.Stderr, "async logger buffer full, dropping log: %s\n", msg)
	}
}

func firstFields(fields []map[string]interface{}) map[string]interface{} {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug message
func (al *AsyncLogger) Debug(msg string, fields ...map[string]interface{}) {
	al.log(LevelDebug, msg, firstFields(fields))
}

// Info logs an info message
func (al *AsyncLogger) Info(msg string, fields ...map[string]interface{}) {
	al.log(LevelInfo, msg, firstFields(fields))
}

// Warn logs a warning message
func (al *AsyncLogger) Warn(msg string, fields ...map[string]interface{}) {
	al.log(LevelWarn, msg, firstFields(fields))
}

// Error logs an error message
func (al *AsyncLogger) Error(msg string, fields ...map[string]interface{}) {
	al.log(LevelError, msg, firstFields(fields))
}

// Close flushes pending entries and stops the worker. Safe to call twice.
func (al *AsyncLogger) Close() error {
	var err error
	al.once.Do(func() {
		close(al.done)
		al.wg.Wait()
		if al.closer != nil {
			err = al.closer.Close()
		}
	})
	return err
}

// Options selects the handler and destinations of the global logger.
type Options struct {
	Format string // config.LogFormatConsole or config.LogFormatJSON
	Debug  bool
	File   string // optional rotating log file
}

// NewHandler builds the slog handler for opts. The returned closer is non-nil
// when a log file was opened.
func NewHandler(opts Options) (slog.Handler, io.Closer) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	var closer io.Closer
	if opts.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		out = io.MultiWriter(os.Stdout, rotator)
		closer = rotator
	}

	if opts.Format == config.LogFormatJSON {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}), closer
	}
	// no ANSI colors once a file shares the stream
	return tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    opts.File != "",
	}), closer
}

var (
	globalMu     sync.RWMutex
	globalLogger = NewAsyncLogger(tint.NewHandler(os.Stderr, &tint.Options{TimeFormat: "15:04:05"}), defaultBufferSize)
)

// Setup replaces the global logger according to opts. The previous logger is
// flushed and closed.
func Setup(opts Options) {
	handler, closer := NewHandler(opts)
	next := NewAsyncLogger(handler, defaultBufferSize)
	next.closer = closer
	ReplaceGlobal(next)
}

// ReplaceGlobal swaps the global logger and closes the old one.
func ReplaceGlobal(al *AsyncLogger) {
	globalMu.Lock()
	prev := globalLogger
	globalLogger = al
	globalMu.Unlock()
	if prev != nil && prev != al {
		_ = prev.Close()
	}
}

// Global returns the global logger.
func Global() *AsyncLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

func Debug(msg string, fields ...map[string]interface{}) { Global().Debug(msg, fields...) }

func Info(msg string, fields ...map[string]interface{}) { Global().Info(msg, fields...) }

func Warn(msg string, fields ...map[string]interface{}) { Global().Warn(msg, fields...) }

func Error(msg string, fields ...map[string]interface{}) { Global().Error(msg, fields...) }

// Close flushes the global logger.
func Close() error {
	return Global().Close()
}
