// Package logging provides a small leveled logger writing to stdout/stderr and,
// optionally, to per-level log files.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Logger provides leveled logging (info/warning/error).
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	verbose    bool
	files      []*os.File
	mu         sync.Mutex
}

// New creates a Logger. When logDir is non-empty the directory is created and
// info.log, warning.log and error.log are appended to alongside the console.
func New(logDir string, verbose bool) (*Logger, error) {
	var infoW, warnW, errW io.Writer = os.Stdout, os.Stdout, os.Stderr
	l := &Logger{verbose: verbose}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		open := func(name string) (*os.File, error) {
			f, err := os.OpenFile(filepath.Join(logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
			}
			l.files = append(l.files, f)
			return f, nil
		}
		infoF, err := open("info.log")
		if err != nil {
			l.Close()
			return nil, err
		}
		warnF, err := open("warning.log")
		if err != nil {
			l.Close()
			return nil, err
		}
		errF, err := open("error.log")
		if err != nil {
			l.Close()
			return nil, err
		}
		infoW = io.MultiWriter(infoW, infoF)
		warnW = io.MultiWriter(warnW, warnF)
		errW = io.MultiWriter(errW, errF)
	}

	l.setup(infoW, warnW, errW)
	return l, nil
}

// NewWriter creates a Logger that sends every level to w. Used by tests and
// by callers that want to capture output.
func NewWriter(w io.Writer, verbose bool) *Logger {
	l := &Logger{verbose: verbose}
	l.setup(w, w, w)
	return l
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return NewWriter(io.Discard, false)
}

func (l *Logger) setup(infoW, warnW, errW io.Writer) {
	l.infoLog = log.New(infoW, "INFO    ", log.Ldate|log.Ltime)
	l.warningLog = log.New(warnW, "WARNING ", log.Ldate|log.Ltime)
	l.errorLog = log.New(errW, "ERROR   ", log.Ldate|log.Ltime)
}

// Info writes a formatted info-level entry. Suppressed unless verbose.
func (l *Logger) Info(format string, v ...interface{}) {
	if l == nil || !l.verbose {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Printf(format, v...)
}

// Warning writes a formatted warning-level entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Printf(format, v...)
}

// Error writes a formatted error-level entry.
func (l *Logger) Error(format string, v ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Printf(format, v...)
}

// Close releases any open log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	return first
}
