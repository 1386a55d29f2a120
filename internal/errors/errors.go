package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeValidation
	ErrorTypeArchive
	ErrorTypeManifest
	ErrorTypeRepackage
	ErrorTypeSigning
	ErrorTypeFileSystem
	ErrorTypeConfiguration
	ErrorTypeJob
	ErrorTypeNotFound
)

// String returns the string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeArchive:
		return "ARCHIVE"
	case ErrorTypeManifest:
		return "MANIFEST"
	case ErrorTypeRepackage:
		return "REPACKAGE"
	case ErrorTypeSigning:
		return "SIGNING"
	case ErrorTypeFileSystem:
		return "FILESYSTEM"
	case ErrorTypeConfiguration:
		return "CONFIGURATION"
	case ErrorTypeJob:
		return "JOB"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	default:
		return "UNKNOWN"
	}
}

// Well-known error codes used across the pipeline. Shared-phase codes
// (validation and extraction) abort a whole job; the per-mode codes only
// fail the mode they occurred in.
const (
	CodeEmptyInput      = "EMPTY_INPUT"
	CodeOversizedInput  = "OVERSIZED_INPUT"
	CodeCorruptArchive  = "CORRUPT_ARCHIVE"
	CodeEmptyArchive    = "EMPTY_ARCHIVE"
	CodeMissingManifest = "MISSING_MANIFEST"
	CodeRepackageFailed = "REPACKAGE_FAILED"
	CodeSigningFailed   = "SIGNING_FAILED"
	CodeJobNotFound     = "JOB_NOT_FOUND"
	CodeModeNotReady    = "MODE_NOT_READY"
)

// MorphError represents an enhanced error with context and suggestions
type MorphError struct {
	Type        ErrorType         `json:"type"`
	Code        string            `json:"code"`
	Message     string            `json:"message"`
	Cause       error             `json:"cause,omitempty"`
	Context     map[string]string `json:"context,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	Stack       []string          `json:"stack,omitempty"`
	Retryable   bool              `json:"retryable"`
}

// Error implements the error interface
func (e *MorphError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *MorphError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target
func (e *MorphError) Is(target error) bool {
	if t, ok := target.(*MorphError); ok {
		return e.Type == t.Type && e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error
func (e *MorphError) WithContext(key, value string) *MorphError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion to the error
func (e *MorphError) WithSuggestion(suggestion string) *MorphError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// SetRetryable marks the error as retryable or not
func (e *MorphError) SetRetryable(retryable bool) *MorphError {
	e.Retryable = retryable
	return e
}

// FormatDetailed returns a detailed error message with context and suggestions
func (e *MorphError) FormatDetailed() string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("%s Error [%s]: %s\n", e.Type.String(), e.Code, e.Message))

	if len(e.Context) > 0 {
		builder.WriteString("\nContext:\n")
		for key, value := range e.Context {
			builder.WriteString(fmt.Sprintf("   %s: %s\n", key, value))
		}
	}

	if e.Cause != nil {
		builder.WriteString(fmt.Sprintf("\nUnderlying cause: %v\n", e.Cause))
	}

	if len(e.Suggestions) > 0 {
		builder.WriteString("\nSuggestions:\n")
		for _, suggestion := range e.Suggestions {
			builder.WriteString(fmt.Sprintf("   - %s\n", suggestion))
		}
	}

	if e.Retryable {
		builder.WriteString("\nThis operation can be retried\n")
	}

	return builder.String()
}

// NewError creates a new MorphError
func NewError(errorType ErrorType, code, message string) *MorphError {
	return &MorphError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Stack:     captureStack(),
	}
}

// WrapError wraps an existing error with MorphError
func WrapError(err error, errorType ErrorType, code, message string) *MorphError {
	return &MorphError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Stack:     captureStack(),
	}
}

// AsMorphError converts any error to a MorphError, wrapping plain errors
// under the UNKNOWN type.
func AsMorphError(err error) *MorphError {
	if err == nil {
		return nil
	}
	if me, ok := err.(*MorphError); ok {
		return me
	}
	return WrapError(err, ErrorTypeUnknown, "UNKNOWN", err.Error())
}

// captureStack captures the current stack trace
func captureStack() []string {
	var stack []string

	// Skip the first few frames (this function and error creation)
	for i := 2; i < 10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		// Only include frames from our project
		if strings.Contains(file, "apkmorph") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		}
	}

	return stack
}

// Common error constructors

// NewValidationError creates a validation error
func NewValidationError(code, message string) *MorphError {
	return NewError(ErrorTypeValidation, code, message).
		WithSuggestion("Verify the uploaded package is a valid APK")
}

// NewArchiveError creates an archive error
func NewArchiveError(code, message string) *MorphError {
	return NewError(ErrorTypeArchive, code, message).
		WithSuggestion("Check if the archive is corrupted").
		WithSuggestion("Try re-exporting the APK from its source")
}

// NewManifestError creates a manifest processing error
func NewManifestError(code, message string) *MorphError {
	return NewError(ErrorTypeManifest, code, message).
		WithSuggestion("Verify AndroidManifest.xml is well formed")
}

// NewRepackageError creates a repackaging error
func NewRepackageError(code, message string) *MorphError {
	return NewError(ErrorTypeRepackage, code, message).
		SetRetryable(true).
		WithSuggestion("Check disk space in the work directory").
		WithSuggestion("Retry the conversion")
}

// NewSigningError creates a signing error
func NewSigningError(code, message string) *MorphError {
	return NewError(ErrorTypeSigning, code, message).
		WithSuggestion("Regenerate the debug signing certificate")
}

// NewFileSystemError creates a filesystem error
func NewFileSystemError(code, message string) *MorphError {
	return NewError(ErrorTypeFileSystem, code, message).
		WithSuggestion("Check file permissions").
		WithSuggestion("Verify disk space availability")
}

// NewConfigurationError creates a configuration error
func NewConfigurationError(code, message string) *MorphError {
	return NewError(ErrorTypeConfiguration, code, message).
		WithSuggestion("Check the configuration file syntax")
}

// NewJobError creates a job lifecycle error
func NewJobError(code, message string) *MorphError {
	return NewError(ErrorTypeJob, code, message)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(code, message string) *MorphError {
	return NewError(ErrorTypeNotFound, code, message).
		WithSuggestion("Verify the job id or mode name")
}
