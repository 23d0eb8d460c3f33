// Package errors provides unified error handling with a closed code set.
// Internal detail stays in the error chain for logging; UserMessage returns
// the sanitized category string shown to consumers.
package errors

import "fmt"

// Code classifies every failure the core can surface.
type Code int

const (
	CodeUnknown Code = iota

	// Device / capture
	CodeDeviceNotFound
	CodeDeviceBusy
	CodeDeviceIO
	CodeCaptureTooShort
	CodeNoAudioFile

	// Transcription capability
	CodeModelLoading
	CodeModelLoadFailed
	CodeTranscribeFailed

	// LLM router
	CodeProviderUnsupported
	CodeProviderUnreachable
	CodeCredentialMissing
	CodeMalformedResponse
	CodeRequestTimeout

	// Lifecycle guards
	CodeSessionActive
	CodeSessionNotActive
)

var codeNames = map[Code]string{
	CodeUnknown:             "UNKNOWN",
	CodeDeviceNotFound:      "DEVICE_NOT_FOUND",
	CodeDeviceBusy:          "DEVICE_BUSY",
	CodeDeviceIO:            "DEVICE_IO",
	CodeCaptureTooShort:     "CAPTURE_TOO_SHORT",
	CodeNoAudioFile:         "NO_AUDIO_FILE",
	CodeModelLoading:        "MODEL_LOADING",
	CodeModelLoadFailed:     "MODEL_LOAD_FAILED",
	CodeTranscribeFailed:    "TRANSCRIBE_FAILED",
	CodeProviderUnsupported: "PROVIDER_UNSUPPORTED",
	CodeProviderUnreachable: "PROVIDER_UNREACHABLE",
	CodeCredentialMissing:   "CREDENTIAL_MISSING",
	CodeMalformedResponse:   "MALFORMED_RESPONSE",
	CodeRequestTimeout:      "REQUEST_TIMEOUT",
	CodeSessionActive:       "SESSION_ACTIVE",
	CodeSessionNotActive:    "SESSION_NOT_ACTIVE",
}

// userMessages are the only strings allowed to reach a consumer. They never
// carry paths, keys, or wrapped error text.
var userMessages = map[Code]string{
	CodeDeviceNotFound:      "Audio device not found",
	CodeDeviceBusy:          "Audio device is busy",
	CodeDeviceIO:            "Audio device error",
	CodeCaptureTooShort:     "Audio capture failure: recording too short",
	CodeNoAudioFile:         "No audio file was produced",
	CodeModelLoading:        "Speech model is still loading",
	CodeModelLoadFailed:     "Speech model failed to load",
	CodeTranscribeFailed:    "Transcription failed",
	CodeProviderUnsupported: "AI provider is not supported",
	CodeProviderUnreachable: "AI provider is unreachable",
	CodeCredentialMissing:   "AI provider credential is missing",
	CodeMalformedResponse:   "AI provider returned an unreadable response",
	CodeRequestTimeout:      "AI request timed out",
	CodeSessionActive:       "A recording session is already active",
	CodeSessionNotActive:    "No recording session is active",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// AppError is the base error type with structured code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface with full internal detail.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// UserMessage returns the sanitized category string for this error.
func (e *AppError) UserMessage() string {
	if m, ok := userMessages[e.Code]; ok {
		return m
	}
	return "Something went wrong"
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// CodeOf extracts the code from any error, CodeUnknown if untagged.
func CodeOf(err error) Code {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsFatalLLM reports whether an LLM error class should terminate the
// owning loop instead of being retried next tick.
func IsFatalLLM(err error) bool {
	switch CodeOf(err) {
	case CodeCredentialMissing, CodeProviderUnreachable, CodeProviderUnsupported:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if the error is potentially retryable.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeProviderUnreachable, CodeRequestTimeout, CodeDeviceBusy, CodeModelLoading:
		return true
	default:
		return false
	}
}

// UserMessage returns the sanitized text for any error.
func UserMessage(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.UserMessage()
	}
	return "Something went wrong"
}
