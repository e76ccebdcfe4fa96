package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an application error
type Kind string

const (
	// KindDeviceQuery means the audio subsystem could not be initialized or queried
	KindDeviceQuery Kind = "device_query"
	// KindInvalidDevice means the requested device is not an enumerated input device
	KindInvalidDevice Kind = "invalid_device"
	// KindInvalidState means the operation is not allowed in the current state
	KindInvalidState Kind = "invalid_state"
	// KindIOWrite means a file could not be written
	KindIOWrite Kind = "io_write"
	// KindCollaborator means an ASR, LLM, TTS or playback stage failed
	KindCollaborator Kind = "collaborator"
	// KindConfigWarning is a non-fatal configuration problem that was corrected
	KindConfigWarning Kind = "config_warning"
	// KindConfig means the configuration is invalid
	KindConfig Kind = "config"
)

// Error is the error type shared by all EzVoice packages
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Wrap attaches a kind to err. An err that already carries a kind is returned as is.
func Wrap(kind Kind, op, message string, err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return err
	}

	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// New creates an error without a cause
func New(kind Kind, op, message string) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: message,
	}
}

// Newf creates an error with a formatted message
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// IsKind reports whether the first *Error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first *Error in the chain, or "" if there is none
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}
