// Package logger provides a small leveled logger with prefix forking. Every
// long-lived object in panelrelay carries one, forked from its parent so that
// log lines identify the component ("server: proxy#12: ...").
package logger

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

// LogLevel specifies the level of spew that should go to the log
type LogLevel int32

const (
	// LogLevelUnknown is a default value for LogLevel. It's
	// behavior is undefined
	LogLevelUnknown LogLevel = iota

	// LogLevelPanic causes output of an error message followed by a panic
	LogLevelPanic

	// LogLevelFatal causes output of an error message followed by os.Exit(1)
	LogLevelFatal

	// LogLevelError is for unexpected error messages
	LogLevelError

	// LogLevelWarning is for Warning messages
	LogLevelWarning

	// LogLevelInfo is for Info messages
	LogLevelInfo

	// LogLevelDebug is for debug messaged
	LogLevelDebug

	// LogLevelTrace is for trace messages
	LogLevelTrace
)

var logLevelNames = [...]string{
	"unknown", "panic", "fatal", "error", "warning", "info", "debug", "trace",
}

// StringToLogLevel converts a string to a LogLevel. "warn" is accepted
// as an alias for "warning".
func StringToLogLevel(s string) LogLevel {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warn" {
		s = "warning"
	}
	for i, name := range logLevelNames {
		if name == s {
			return LogLevel(i)
		}
	}
	return LogLevelUnknown
}

func (x LogLevel) String() string {
	if x < LogLevelUnknown || x > LogLevelTrace {
		x = LogLevelUnknown
	}
	return logLevelNames[x]
}

// Logger is an interface for a logging component that supports logging levels and prefix forking
type Logger interface {
	// Prefix returns the logger's prefix string (does not include ": " trailer)
	Prefix() string

	GetLogLevel() LogLevel
	SetLogLevel(logLevel LogLevel)

	// Log outputs to a Logger iff logging level is enabled
	Log(logLevel LogLevel, args ...interface{})

	// Logf outputs to a Logger iff logging level is enabled
	Logf(logLevel LogLevel, f string, args ...interface{})

	ELogf(f string, args ...interface{})
	WLogf(f string, args ...interface{})
	ILogf(f string, args ...interface{})
	DLogf(f string, args ...interface{})
	TLogf(f string, args ...interface{})

	ELog(args ...interface{})
	WLog(args ...interface{})
	ILog(args ...interface{})
	DLog(args ...interface{})

	// Panicf outputs a log message and then panics
	Panicf(f string, args ...interface{})

	// PanicOnError does nothing if err is nil; otherwise
	// outputs a log message and then panics
	PanicOnError(err error)

	// Errorf returns an error object with a description string that has the
	// Logger's prefix
	Errorf(f string, args ...interface{}) error

	// Sprintf returns a string that has the Logger's prefix
	Sprintf(f string, args ...interface{}) string

	// ELogErrorf outputs an error message to a Logger iff ERROR logging level is enabled,
	// and returns an error object with a description string that has the
	// logger's prefix
	ELogErrorf(f string, args ...interface{}) error

	// WLogErrorf is ELogErrorf at WARNING level
	WLogErrorf(f string, args ...interface{}) error

	// DLogErrorf is ELogErrorf at DEBUG level
	DLogErrorf(f string, args ...interface{}) error

	// Fork creates a new Logger that has an additional formatted string appended onto
	// an existing logger's prefix (with ": " added between)
	Fork(prefix string, args ...interface{}) Logger
}

// BasicLogger is a logical log output stream with a level filter
// and a prefix added to each output record.
type BasicLogger struct {
	prefix string
	// prefixC is prefix if prefix is empty; otherwise prefix + ": "
	prefixC  string
	out      *log.Logger
	logLevel int32
}

// Option configures a logger created with New
type Option func(*options)

type options struct {
	writer   io.Writer
	flags    int
	prefix   string
	logLevel LogLevel
}

// WithWriter sets the output stream. The default is os.Stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithLogLevel sets the initial level filter. The default is LogLevelInfo.
func WithLogLevel(logLevel LogLevel) Option {
	return func(o *options) { o.logLevel = logLevel }
}

// WithPrefix sets the prefix prepended to every record
func WithPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithFlags sets the standard library log flags
func WithFlags(flags int) Option {
	return func(o *options) { o.flags = flags }
}

const defaultLogFlags = log.Ldate | log.Ltime

// New creates a new Logger from options
func New(opts ...Option) (Logger, error) {
	o := &options{
		writer:   os.Stderr,
		flags:    defaultLogFlags,
		logLevel: LogLevelInfo,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.writer == nil {
		return nil, errors.New("logger: nil writer")
	}
	if o.logLevel <= LogLevelUnknown || o.logLevel > LogLevelTrace {
		return nil, fmt.Errorf("logger: invalid log level %d", o.logLevel)
	}
	return newBasicLogger(log.New(o.writer, "", o.flags), o.prefix, o.logLevel), nil
}

// NewLogger creates a new Logger with a given prefix and default flags,
// emitting output to os.Stderr
func NewLogger(prefix string, logLevel LogLevel) Logger {
	return newBasicLogger(log.New(os.Stderr, "", defaultLogFlags), prefix, logLevel)
}

// Discard returns a Logger that drops everything below LogLevelFatal. It is
// mostly useful in tests.
func Discard() Logger {
	return newBasicLogger(log.New(io.Discard, "", 0), "", LogLevelError)
}

func newBasicLogger(out *log.Logger, prefix string, logLevel LogLevel) *BasicLogger {
	prefixC := prefix
	if prefixC != "" {
		prefixC += ": "
	}
	return &BasicLogger{
		prefix:   prefix,
		prefixC:  prefixC,
		out:      out,
		logLevel: int32(logLevel),
	}
}

func (l *BasicLogger) enabled(logLevel LogLevel) bool {
	return logLevel <= l.GetLogLevel() || logLevel <= LogLevelFatal
}

func (l *BasicLogger) emit(logLevel LogLevel, msg string) {
	l.out.Print(msg)
	switch logLevel {
	case LogLevelFatal:
		os.Exit(1)
	case LogLevelPanic:
		panic(msg)
	}
}

// Log outputs to a Logger if the given logLevel is enabled. Then,
// if the given logLevel is LogLevelPanic or LogLevelFatal, exits appropriately
func (l *BasicLogger) Log(logLevel LogLevel, args ...interface{}) {
	if l.enabled(logLevel) {
		l.emit(logLevel, l.prefixC+fmt.Sprint(args...))
	}
}

// Logf outputs to a Logger if the given logLevel is enabled. Then,
// if the given logLevel is LogLevelPanic or LogLevelFatal, exits appropriately
func (l *BasicLogger) Logf(logLevel LogLevel, f string, args ...interface{}) {
	if l.enabled(logLevel) {
		l.emit(logLevel, l.Sprintf(f, args...))
	}
}

func (l *BasicLogger) logErrorf(logLevel LogLevel, f string, args ...interface{}) error {
	msg := l.Sprintf(f, args...)
	if l.enabled(logLevel) {
		l.emit(logLevel, msg)
	}
	return errors.New(msg)
}

// ELogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ELogf(f string, args ...interface{}) { l.Logf(LogLevelError, f, args...) }

// WLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) WLogf(f string, args ...interface{}) { l.Logf(LogLevelWarning, f, args...) }

// ILogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) ILogf(f string, args ...interface{}) { l.Logf(LogLevelInfo, f, args...) }

// DLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) DLogf(f string, args ...interface{}) { l.Logf(LogLevelDebug, f, args...) }

// TLogf outputs a formatted log message if logLevel permits
func (l *BasicLogger) TLogf(f string, args ...interface{}) { l.Logf(LogLevelTrace, f, args...) }

// ELog outputs a log message if logLevel permits
func (l *BasicLogger) ELog(args ...interface{}) { l.Log(LogLevelError, args...) }

// WLog outputs a log message if logLevel permits
func (l *BasicLogger) WLog(args ...interface{}) { l.Log(LogLevelWarning, args...) }

// ILog outputs a log message if logLevel permits
func (l *BasicLogger) ILog(args ...interface{}) { l.Log(LogLevelInfo, args...) }

// DLog outputs a log message if logLevel permits
func (l *BasicLogger) DLog(args ...interface{}) { l.Log(LogLevelDebug, args...) }

// Panicf outputs a formatted log message and then panics
func (l *BasicLogger) Panicf(f string, args ...interface{}) {
	l.Logf(LogLevelPanic, f, args...)
}

// PanicOnError does nothing if err is nil; otherwise
// outputs a log message and then panics
func (l *BasicLogger) PanicOnError(err error) {
	if err != nil {
		l.Log(LogLevelPanic, err)
	}
}

// Errorf returns an error object with a description string that has the
// Logger's prefix
func (l *BasicLogger) Errorf(f string, args ...interface{}) error {
	return errors.New(l.Sprintf(f, args...))
}

// Sprintf returns a string that has the Logger's prefix
func (l *BasicLogger) Sprintf(f string, args ...interface{}) string {
	return l.prefixC + fmt.Sprintf(f, args...)
}

// ELogErrorf outputs an error message iff ERROR logging level is enabled,
// and returns an error object with the logger's prefix
func (l *BasicLogger) ELogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelError, f, args...)
}

// WLogErrorf outputs an error message iff WARNING logging level is enabled,
// and returns an error object with the logger's prefix
func (l *BasicLogger) WLogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelWarning, f, args...)
}

// DLogErrorf outputs an error message iff DEBUG logging level is enabled,
// and returns an error object with the logger's prefix
func (l *BasicLogger) DLogErrorf(f string, args ...interface{}) error {
	return l.logErrorf(LogLevelDebug, f, args...)
}

// Fork creates a new Logger that has an additional formatted string appended onto
// an existing logger's prefix (with ": " added between). The fork shares the
// parent's output stream but has its own level.
func (l *BasicLogger) Fork(prefix string, args ...interface{}) Logger {
	newPrefix := fmt.Sprintf(prefix, args...)
	if l.prefix != "" {
		newPrefix = l.prefix + ": " + newPrefix
	}
	return newBasicLogger(l.out, newPrefix, l.GetLogLevel())
}

// Prefix returns the Logger's prefix string (does not include ": " trailer)
func (l *BasicLogger) Prefix() string {
	return l.prefix
}

// GetLogLevel returns the log level
func (l *BasicLogger) GetLogLevel() LogLevel {
	return LogLevel(atomic.LoadInt32(&l.logLevel))
}

// SetLogLevel sets the log level
func (l *BasicLogger) SetLogLevel(logLevel LogLevel) {
	atomic.StoreInt32(&l.logLevel, int32(logLevel))
}
