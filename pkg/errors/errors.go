// Package errors provides structured error handling for kpfind.
// It defines sentinel errors, exit codes, and helpers for adding
// context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Process exit codes.
const (
	ExitSuccess     = 0 // Successful execution
	ExitGeneral     = 1 // General/unknown error
	ExitInput       = 2 // Invalid input (flags, pattern, key file)
	ExitAuth        = 3 // Bad credentials or unlock throttled
	ExitNotFound    = 4 // Database file not found
	ExitPermission  = 5 // Cache directory could not be inspected
	ExitUnavailable = 6 // Cache daemon unreachable
)

// KPError is the structured error type for kpfind.
type KPError struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *KPError) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *KPError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for KPError. Two errors match when their codes match.
func (e *KPError) Is(target error) bool {
	var t *KPError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrGeneral = &KPError{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &KPError{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	// ErrCredentials means the database could not be decrypted with the
	// supplied password and key file.
	ErrCredentials = &KPError{
		Code:     "CREDENTIALS_INVALID",
		Message:  "authentication failed - wrong password, wrong key file or corrupted database",
		ExitCode: ExitAuth,
	}

	ErrThrottled = &KPError{
		Code:     "UNLOCK_THROTTLED",
		Message:  "too many unlock attempts for this database",
		ExitCode: ExitAuth,
	}

	// ErrStat means the directory hosting the cache socket could not be
	// inspected, so cache safety cannot be determined.
	ErrStat = &KPError{
		Code:     "STAT_FAILED",
		Message:  "cannot inspect cache directory",
		ExitCode: ExitPermission,
	}

	// ErrIPCUnavailable means the cache daemon could not be reached, even
	// after spawning it and retrying.
	ErrIPCUnavailable = &KPError{
		Code:     "IPC_UNAVAILABLE",
		Message:  "cache daemon unreachable",
		ExitCode: ExitUnavailable,
	}

	// ErrNoSession is returned by the daemon when no live session exists for
	// a database and the request carried no credential. Clients react by
	// prompting and resending; it is never shown to the operator.
	ErrNoSession = &KPError{
		Code:     "NO_SESSION",
		Message:  "no cached session for database",
		ExitCode: ExitGeneral,
	}

	ErrDatabaseNotFound = &KPError{
		Code:     "DATABASE_NOT_FOUND",
		Message:  "database file not found",
		ExitCode: ExitNotFound,
	}

	ErrKeyFile = &KPError{
		Code:     "KEY_FILE_INVALID",
		Message:  "cannot read key file",
		ExitCode: ExitInput,
	}

	ErrInvalidFlag = &KPError{
		Code:     "INVALID_REGEX_FLAG",
		Message:  "unrecognized pattern flag",
		ExitCode: ExitInput,
	}

	ErrInvalidPattern = &KPError{
		Code:     "INVALID_PATTERN",
		Message:  "invalid search pattern",
		ExitCode: ExitInput,
	}

	ErrConfigInvalid = &KPError{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	ErrConfigExists = &KPError{
		Code:     "CONFIG_EXISTS",
		Message:  "configuration file already exists",
		ExitCode: ExitInput,
	}

	ErrProtocol = &KPError{
		Code:     "PROTOCOL_ERROR",
		Message:  "malformed message on cache channel",
		ExitCode: ExitUnavailable,
	}
)

// byCode indexes the sentinels that may cross the cache channel.
//
//nolint:gochecknoglobals // Read-only lookup table built from the sentinels above
var byCode = map[string]*KPError{
	ErrGeneral.Code:          ErrGeneral,
	ErrInvalidInput.Code:     ErrInvalidInput,
	ErrCredentials.Code:      ErrCredentials,
	ErrThrottled.Code:        ErrThrottled,
	ErrStat.Code:             ErrStat,
	ErrIPCUnavailable.Code:   ErrIPCUnavailable,
	ErrNoSession.Code:        ErrNoSession,
	ErrDatabaseNotFound.Code: ErrDatabaseNotFound,
	ErrKeyFile.Code:          ErrKeyFile,
	ErrInvalidFlag.Code:      ErrInvalidFlag,
	ErrInvalidPattern.Code:   ErrInvalidPattern,
	ErrProtocol.Code:         ErrProtocol,
}

// New creates a new KPError with the given code and message.
func New(code, message string) *KPError {
	return &KPError{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// FromCode rebuilds an error of the kind identified by code, carrying the
// remote message. Unknown codes become general errors.
func FromCode(code, message string) error {
	se, ok := byCode[code]
	if !ok {
		return &KPError{
			Code:     "GENERAL_ERROR",
			Message:  message,
			ExitCode: ExitGeneral,
		}
	}
	if message == "" {
		message = se.Message
	}
	return &KPError{
		Code:     se.Code,
		Message:  message,
		ExitCode: se.ExitCode,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var se *KPError
	if errors.As(err, &se) {
		return &KPError{
			Code:       se.Code,
			Message:    fmt.Sprintf("%s: %s", msg, se.Message),
			Details:    se.Details,
			Suggestion: se.Suggestion,
			Cause:      err,
			ExitCode:   se.ExitCode,
		}
	}

	return &KPError{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithCause returns a copy of the sentinel carrying cause as its underlying
// error. Use it to attach a library error to a sentinel kind.
func WithCause(sentinel *KPError, cause error) error {
	return &KPError{
		Code:       sentinel.Code,
		Message:    sentinel.Message,
		Details:    sentinel.Details,
		Suggestion: sentinel.Suggestion,
		Cause:      cause,
		ExitCode:   sentinel.ExitCode,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var se *KPError
	if errors.As(err, &se) {
		return &KPError{
			Code:       se.Code,
			Message:    se.Message,
			Details:    details,
			Suggestion: se.Suggestion,
			Cause:      se.Cause,
			ExitCode:   se.ExitCode,
		}
	}

	return &KPError{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var se *KPError
	if errors.As(err, &se) {
		return &KPError{
			Code:       se.Code,
			Message:    se.Message,
			Details:    se.Details,
			Suggestion: suggestion,
			Cause:      se.Cause,
			ExitCode:   se.ExitCode,
		}
	}

	return &KPError{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var se *KPError
	if errors.As(err, &se) {
		return se.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var se *KPError
	if errors.As(err, &se) {
		return se.Code
	}
	return "GENERAL_ERROR"
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
