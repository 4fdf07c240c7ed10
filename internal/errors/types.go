package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeParse    ErrorType = "parse"
	ErrorTypeBinding  ErrorType = "binding"
	ErrorTypeMacro    ErrorType = "macro"
	ErrorTypeIO       ErrorType = "io"
	ErrorTypeConfig   ErrorType = "config"
	ErrorTypeInternal ErrorType = "internal"
)

// Span is a half-open byte range into a template source.
type Span struct {
	Start int
	End   int
}

// IsZero reports whether the span carries no location.
func (s Span) IsZero() bool {
	return s.Start == 0 && s.End == 0
}

// WeftError is a structured error type with source location and tag context.
type WeftError struct {
	Type      ErrorType
	Code      string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Component string
	FilePath  string
	Line      int
	Column    int
	Span      Span
	// Tags is the chain of enclosing tag names, innermost first.
	Tags []string

	source []byte
}

// Error implements the error interface.
func (e *WeftError) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.FilePath != "" || e.Line > 0 {
		location := e.FilePath
		if location == "" {
			location = "<template>"
		}
		if e.Line > 0 {
			location += fmt.Sprintf(":%d", e.Line)
			if e.Column > 0 {
				location += fmt.Sprintf(":%d", e.Column)
			}
		}
		parts = append(parts, location)
	}

	if e.Component != "" {
		parts = append(parts, "in <"+e.Component+">")
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *WeftError) Unwrap() error {
	return e.Cause
}

// Is implements error comparison on type and code.
func (e *WeftError) Is(target error) bool {
	var t *WeftError
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *WeftError) WithContext(key string, value interface{}) *WeftError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithLocation adds file location information.
func (e *WeftError) WithLocation(filePath string, line, column int) *WeftError {
	e.FilePath = filePath
	e.Line = line
	e.Column = column

	return e
}

// WithComponent records the tag the error is attached to.
func (e *WeftError) WithComponent(component string) *WeftError {
	e.Component = component

	return e
}

// WithTags records the enclosing tag chain, innermost first.
func (e *WeftError) WithTags(tags ...string) *WeftError {
	e.Tags = tags

	return e
}

// WithSpan attaches a byte range of src and derives line and column from it.
func (e *WeftError) WithSpan(src []byte, start, end int) *WeftError {
	if start < 0 {
		start = 0
	}
	if end < start {
		end = start
	}
	if end > len(src) {
		end = len(src)
	}
	if start > end {
		start = end
	}
	e.Span = Span{Start: start, End: end}
	e.source = src
	e.Line, e.Column = LineColumn(src, start)

	return e
}

// Source returns the template source the span refers to, if known.
func (e *WeftError) Source() []byte {
	return e.source
}

// Error creation functions

// NewParseError creates a structural template error.
func NewParseError(code, message string) *WeftError {
	return &WeftError{
		Type:    ErrorTypeParse,
		Code:    code,
		Message: message,
	}
}

// NewBindingError creates an expression or binding error.
func NewBindingError(code, message string) *WeftError {
	return &WeftError{
		Type:    ErrorTypeBinding,
		Code:    code,
		Message: message,
	}
}

// NewMacroError creates a macro definition or resolution error.
func NewMacroError(code, message string) *WeftError {
	return &WeftError{
		Type:    ErrorTypeMacro,
		Code:    code,
		Message: message,
	}
}

// NewIOError creates an I/O error.
func NewIOError(code, message string, cause error) *WeftError {
	return &WeftError{
		Type:    ErrorTypeIO,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *WeftError {
	return &WeftError{
		Type:    ErrorTypeConfig,
		Code:    code,
		Message: message,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *WeftError {
	return &WeftError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// IsParseError checks if an error is a structural template error.
func IsParseError(err error) bool {
	return hasType(err, ErrorTypeParse)
}

// IsBindingError checks if an error comes from an expression or binding.
func IsBindingError(err error) bool {
	return hasType(err, ErrorTypeBinding)
}

// IsMacroError checks if an error comes from macro definition or resolution.
func IsMacroError(err error) bool {
	return hasType(err, ErrorTypeMacro)
}

// HasCode reports whether err or any error it wraps carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var we *WeftError
		if !errors.As(err, &we) {
			return false
		}
		if we.Code == code {
			return true
		}
		err = we.Cause
	}

	return false
}

// CodeOf returns the code of the outermost WeftError in err's chain, or
// fallback when there is none.
func CodeOf(err error, fallback string) string {
	var we *WeftError
	if errors.As(err, &we) && we.Code != "" {
		return we.Code
	}

	return fallback
}

func hasType(err error, t ErrorType) bool {
	var we *WeftError
	if errors.As(err, &we) {
		return we.Type == t
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error with fields matching its category.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var we *WeftError
	if !errors.As(err, &we) {
		h.logger.Error(ctx, err, "Unhandled error occurred")

		return
	}

	switch we.Type {
	case ErrorTypeParse, ErrorTypeBinding, ErrorTypeMacro:
		h.logger.Warn(ctx, err, "Template error",
			"type", we.Type,
			"code", we.Code,
			"file", we.FilePath,
			"line", we.Line,
			"column", we.Column,
			"tags", strings.Join(we.Tags, " < "))
	default:
		h.logger.Error(ctx, err, "Error occurred",
			"type", we.Type,
			"code", we.Code,
			"component", we.Component)
	}
}

// Common error codes.
const (
	ErrCodeTagMismatch          = "ERR_TAG_MISMATCH"
	ErrCodeUnclosedTag          = "ERR_UNCLOSED_TAG"
	ErrCodeChildrenNotAllowed   = "ERR_CHILDREN_NOT_ALLOWED"
	ErrCodeScalarMode           = "ERR_SCALAR_MODE"
	ErrCodeUnknownAttribute     = "ERR_UNKNOWN_ATTRIBUTE"
	ErrCodeDuplicateProperty    = "ERR_DUPLICATE_PROPERTY"
	ErrCodeInvalidProperty      = "ERR_INVALID_PROPERTY"
	ErrCodeUnknownComponent     = "ERR_UNKNOWN_COMPONENT"
	ErrCodeInvalidTree          = "ERR_INVALID_TREE"
	ErrCodeSyntax               = "ERR_EXPRESSION_SYNTAX"
	ErrCodeUnbalancedDelimiter  = "ERR_UNBALANCED_DELIMITER"
	ErrCodeUnknownFilter        = "ERR_UNKNOWN_FILTER"
	ErrCodeFilterFailed         = "ERR_FILTER_FAILED"
	ErrCodeBindingCycle         = "ERR_BINDING_CYCLE"
	ErrCodeUnknownParameter     = "ERR_UNKNOWN_PARAMETER"
	ErrCodeDuplicateParameter   = "ERR_DUPLICATE_PARAMETER"
	ErrCodeReservedParameter    = "ERR_RESERVED_PARAMETER"
	ErrCodeInvalidParameterType = "ERR_INVALID_PARAMETER_TYPE"
	ErrCodeDefaultParameter     = "ERR_DEFAULT_PARAMETER"
	ErrCodeNoDefaultParameter   = "ERR_NO_DEFAULT_PARAMETER"
	ErrCodeDuplicateMacro       = "ERR_DUPLICATE_MACRO"
	ErrCodeMacroNotDefined      = "ERR_MACRO_NOT_DEFINED"
	ErrCodeMacroFileNotFound    = "ERR_MACRO_FILE_NOT_FOUND"
	ErrCodeMacroCycle           = "ERR_MACRO_CYCLE"
	ErrCodeFileNotFound         = "ERR_FILE_NOT_FOUND"
	ErrCodeConfigInvalid        = "ERR_CONFIG_INVALID"
	ErrCodeRenderFailed         = "ERR_RENDER_FAILED"
	ErrCodeInternalError        = "ERR_INTERNAL"
)
