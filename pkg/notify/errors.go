package notify

import (
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedEventKind is returned when the event key is not one of Kinds.
	ErrUnrecognizedEventKind = errors.New("unrecognized event kind")
	// ErrMalformedPayload is returned when a required payload field is missing
	// or has the wrong type.
	ErrMalformedPayload = errors.New("malformed payload")
)

// PayloadError reports the JSONPath of the field that failed validation.
type PayloadError struct {
	Path   string
	Reason string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrMalformedPayload, e.Path, e.Reason)
}

func (e *PayloadError) Unwrap() error {
	return ErrMalformedPayload
}

func malformed(path, format string, args ...interface{}) error {
	return &PayloadError{Path: path, Reason: fmt.Sprintf(format, args...)}
}
