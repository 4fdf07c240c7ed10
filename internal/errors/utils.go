package errors

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context, creating a WeftError if the input is not already one.
func Wrap(err error, errType ErrorType, code, message string) *WeftError {
	if err == nil {
		return nil
	}

	// Keep location data of the wrapped error so callers can still point at the source.
	var we *WeftError
	if errors.As(err, &we) {
		var context map[string]interface{}
		if we.Context != nil {
			context = make(map[string]interface{}, len(we.Context))
			for k, v := range we.Context {
				context[k] = v
			}
		}

		return &WeftError{
			Type:      errType,
			Code:      code,
			Message:   message,
			Cause:     we,
			Context:   context,
			Component: we.Component,
			FilePath:  we.FilePath,
			Line:      we.Line,
			Column:    we.Column,
			Span:      we.Span,
			Tags:      we.Tags,
			source:    we.source,
		}
	}

	return &WeftError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WrapIO wraps an error as an I/O error.
func WrapIO(err error, code, message string) *WeftError {
	return Wrap(err, ErrorTypeIO, code, message)
}

// WithFile sets the file path on err if it is a WeftError without one.
func WithFile(err error, path string) error {
	var we *WeftError
	if errors.As(err, &we) && we.FilePath == "" {
		we.FilePath = path
	}

	return err
}

// LineColumn converts a byte offset of src into 1-based line and column.
func LineColumn(src []byte, offset int) (int, int) {
	if offset > len(src) {
		offset = len(src)
	}
	if offset < 0 {
		offset = 0
	}
	line := 1 + bytes.Count(src[:offset], []byte("\n"))
	lineStart := bytes.LastIndexByte(src[:offset], '\n') + 1

	return line, offset - lineStart + 1
}

// Snippet renders the source line holding the error span with a caret
// marker underneath, preceded and followed by radius lines of context.
func (e *WeftError) Snippet(radius int) string {
	if e.source == nil || e.Line == 0 {
		return ""
	}

	lines := strings.Split(string(e.source), "\n")
	index := e.Line - 1
	start := max(0, index-radius)
	end := min(len(lines), index+radius+1)

	var sb strings.Builder
	for i := start; i < end; i++ {
		prefix := "  "
		if i == index {
			prefix = "→ "
		}
		fmt.Fprintf(&sb, "%s%4d | %s\n", prefix, i+1, lines[i])
		if i != index {
			continue
		}

		width := e.Span.End - e.Span.Start
		remaining := len(lines[i]) - (e.Column - 1)
		if width > remaining {
			width = remaining
		}
		if width < 1 {
			width = 1
		}
		sb.WriteString(strings.Repeat(" ", 9+e.Column-1))
		sb.WriteString(strings.Repeat("^", width))
		sb.WriteByte('\n')
	}

	return sb.String()
}
