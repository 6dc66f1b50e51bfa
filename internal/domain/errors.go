package domain

import (
	"errors"
	"fmt"
)

const (
	FieldTitle      = "title"
	FieldOfferingID = "offering_id"
	FieldProfessor  = "prof_uni"
	FieldFile       = "file"
)

// ErrorKind classifies a failed session.
type ErrorKind string

const (
	KindRegistration ErrorKind = "registration"
	KindRejected     ErrorKind = "rejected"
	KindNetwork      ErrorKind = "network"
	KindTimeout      ErrorKind = "timeout"
	KindCancelled    ErrorKind = "cancelled"
)

// DefaultRegistrationMessage is used when the metadata service gives no reason.
const DefaultRegistrationMessage = "failed to initiate upload"

const CancelledMessage = "upload cancelled"

// ErrResetWhileActive is returned by Reset while a network phase is in flight.
var ErrResetWhileActive = errors.New("cannot reset while an upload is in progress")

// ValidationError is returned synchronously for a malformed UploadRequest.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid upload request: %s %s", e.Field, e.Reason)
}

// AlreadyInProgressError is returned when Submit is called during an active session.
type AlreadyInProgressError struct {
	State SessionState
}

func (e *AlreadyInProgressError) Error() string {
	return fmt.Sprintf("upload already in progress (state %s)", e.State)
}

// RegistrationError is a failed metadata call.
type RegistrationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RegistrationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", DefaultRegistrationMessage, e.Err)
	}
	return DefaultRegistrationMessage
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// TransferError is a failed direct-to-storage PUT.
type TransferError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *TransferError) Error() string {
	switch e.Kind {
	case KindRejected:
		return fmt.Sprintf("storage rejected the upload (status %d)", e.StatusCode)
	case KindTimeout:
		return fmt.Sprintf("network failure during transfer: timeout: %v", e.Err)
	case KindCancelled:
		return CancelledMessage
	default:
		if e.Err == nil {
			return "network failure during transfer"
		}
		return fmt.Sprintf("network failure during transfer: %v", e.Err)
	}
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
