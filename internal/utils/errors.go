package utils

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against any error built by this package.
var (
	// ErrTransientIO marks a failed call to an external collaborator; retried, then dropped.
	ErrTransientIO = errors.New("transient io")
	// ErrDataQuality marks a malformed or out-of-range event; the event is discarded.
	ErrDataQuality = errors.New("data quality")
	// ErrModelBuild marks a skipped model rebuild; the previous model keeps serving.
	ErrModelBuild = errors.New("model build")
	// ErrConfiguration marks invalid startup configuration and is fatal.
	ErrConfiguration = errors.New("configuration")
)

// AppError wraps an error kind, operation, human-facing message, and underlying error.
type AppError struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches the error kind so callers can branch with errors.Is(err, ErrDataQuality).
func (e *AppError) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// NewAppError constructs an AppError without a kind.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}

// TransientIOError constructs an ErrTransientIO AppError.
func TransientIOError(op, msg string, err error) error {
	return &AppError{Kind: ErrTransientIO, Op: op, Msg: msg, Err: err}
}

// DataQualityError constructs an ErrDataQuality AppError.
func DataQualityError(op, msg string) error {
	return &AppError{Kind: ErrDataQuality, Op: op, Msg: msg}
}

// ModelBuildError constructs an ErrModelBuild AppError.
func ModelBuildError(op, msg string) error {
	return &AppError{Kind: ErrModelBuild, Op: op, Msg: msg}
}

// ConfigurationError constructs an ErrConfiguration AppError.
func ConfigurationError(op, msg string) error {
	return &AppError{Kind: ErrConfiguration, Op: op, Msg: msg}
}
