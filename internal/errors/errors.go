// Package errors provides structured template errors with source spans,
// caret snippets and race-safe collection across many template files.
//
// Parse errors carry the offending byte range and the chain of enclosing tag
// names. Binding errors are raised when an expression is compiled or first
// applied. Macro errors name the macro and its parameter set.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrorSeverity represents the severity of a collected error
type ErrorSeverity int

const (
	ErrorSeverityInfo ErrorSeverity = iota
	ErrorSeverityWarning
	ErrorSeverityError
	ErrorSeverityFatal
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case ErrorSeverityInfo:
		return "info"
	case ErrorSeverityWarning:
		return "warning"
	case ErrorSeverityError:
		return "error"
	case ErrorSeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Entry is one collected template error
type Entry struct {
	File      string        `json:"file"`
	Line      int           `json:"line"`
	Column    int           `json:"column"`
	Code      string        `json:"code,omitempty"`
	Type      ErrorType     `json:"type,omitempty"`
	Message   string        `json:"message"`
	Snippet   string        `json:"snippet,omitempty"`
	Severity  ErrorSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`
}

// Error implements the error interface
func (e *Entry) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s: %s", e.File, e.Line, e.Column, e.Severity, e.Message)
}

// ErrorCollector collects errors from many template files
type ErrorCollector struct {
	entries []Entry
	mutex   sync.RWMutex
}

// NewErrorCollector creates a new error collector
func NewErrorCollector() *ErrorCollector {
	return &ErrorCollector{
		entries: make([]Entry, 0),
	}
}

// Add records err against file. WeftErrors keep their location and snippet.
func (ec *ErrorCollector) Add(file string, err error) {
	if err == nil {
		return
	}

	entry := Entry{
		File:      file,
		Message:   err.Error(),
		Severity:  ErrorSeverityError,
		Timestamp: time.Now(),
	}

	var we *WeftError
	if errors.As(err, &we) {
		entry.Line = we.Line
		entry.Column = we.Column
		entry.Code = we.Code
		entry.Type = we.Type
		entry.Snippet = we.Snippet(1)
		if we.Type == ErrorTypeInternal {
			entry.Severity = ErrorSeverityFatal
		}
	}

	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.entries = append(ec.entries, entry)
}

// Entries returns a copy of all collected entries sorted by file and line
func (ec *ErrorCollector) Entries() []Entry {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	result := make([]Entry, len(ec.entries))
	copy(result, ec.entries)
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].File != result[j].File {
			return result[i].File < result[j].File
		}

		return result[i].Line < result[j].Line
	})

	return result
}

// HasErrors returns true if there are any errors
func (ec *ErrorCollector) HasErrors() bool {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	return len(ec.entries) > 0
}

// Clear clears all errors
func (ec *ErrorCollector) Clear() {
	ec.mutex.Lock()
	defer ec.mutex.Unlock()
	ec.entries = ec.entries[:0]
}

// ByFile returns errors for a specific file
func (ec *ErrorCollector) ByFile(file string) []Entry {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()
	var fileErrors []Entry
	for _, e := range ec.entries {
		if e.File == file {
			fileErrors = append(fileErrors, e)
		}
	}

	return fileErrors
}

// CountByType returns the number of collected errors per error type
func (ec *ErrorCollector) CountByType() map[ErrorType]int {
	ec.mutex.RLock()
	defer ec.mutex.RUnlock()

	counts := make(map[ErrorType]int)
	for _, e := range ec.entries {
		counts[e.Type]++
	}

	return counts
}

// Report formats every collected error with its snippet
func (ec *ErrorCollector) Report() string {
	var sb strings.Builder
	for _, e := range ec.Entries() {
		sb.WriteString(e.Error())
		sb.WriteByte('\n')
		if e.Snippet != "" {
			sb.WriteString(e.Snippet)
		}
	}

	return sb.String()
}
