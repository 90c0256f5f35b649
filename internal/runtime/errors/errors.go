package errors

import sterrors "errors"

var (
	ErrConfigRequired     = sterrors.New("transitboard: configuration is required")
	ErrLoggerRequired     = sterrors.New("transitboard: logger is required")
	ErrSourceRequired     = sterrors.New("transitboard: stream source is required")
	ErrProcessorRequired  = sterrors.New("transitboard: processor is required")
	ErrBindingNameMissing = sterrors.New("transitboard: binding name is required")
	ErrBindingSourceEmpty = sterrors.New("transitboard: binding source is required")
	ErrUnknownModel       = sterrors.New("transitboard: unknown view model")
	ErrAlreadyStarted     = sterrors.New("transitboard: service already started")
	ErrEmptyPayload       = sterrors.New("transitboard: record payload is empty")
)

// ConfigValidationError marks configuration problems detected before startup.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "transitboard: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
