package domain

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// VideoFile is the binary handle selected for upload.
type VideoFile struct {
	Name     string    `json:"name"`
	MimeType string    `json:"mime_type" validate:"required,startswith=video/"`
	Size     int64     `json:"size"`
	Content  io.Reader `json:"-"`
}

// UploadRequest carries the form fields and file for one publication attempt.
// It is treated as immutable once handed to the orchestrator.
type UploadRequest struct {
	Title        string    `json:"title" validate:"required"`
	OfferingID   string    `json:"offering_id" validate:"required,number"`
	ProfessorUNI string    `json:"prof_uni" validate:"required"`
	File         VideoFile `json:"file"`
}

// UploadTicket is issued by the metadata service and consumed by exactly one transfer.
type UploadTicket struct {
	VideoID   string `json:"video_id"`
	SignedURL string `json:"signed_url"`
}

// RegistrationRequest is the payload of the metadata registration call.
type RegistrationRequest struct {
	Title        string `json:"videoTitle"`
	OfferingID   int    `json:"offering_id"`
	ProfessorUNI string `json:"prof_uni"`
	MimeType     string `json:"mime_type"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate reports the first missing or invalid field, in the order
// title, offering_id, prof_uni, file. It is recomputed on every call.
func (r UploadRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return &ValidationError{Field: "request", Reason: err.Error()}
		}
		return toValidationError(fieldErrs[0])
	}
	if r.File.Content == nil {
		return &ValidationError{Field: FieldFile, Reason: "is required"}
	}
	return nil
}

// Valid is a convenience over Validate.
func (r UploadRequest) Valid() bool {
	return r.Validate() == nil
}

// Registration builds the metadata payload. The request must be valid.
func (r UploadRequest) Registration() (RegistrationRequest, error) {
	offeringID, err := strconv.Atoi(r.OfferingID)
	if err != nil {
		return RegistrationRequest{}, &ValidationError{Field: FieldOfferingID, Reason: "must be an integer"}
	}
	return RegistrationRequest{
		Title:        r.Title,
		OfferingID:   offeringID,
		ProfessorUNI: r.ProfessorUNI,
		MimeType:     r.File.MimeType,
	}, nil
}

func toValidationError(fe validator.FieldError) *ValidationError {
	field := fe.Field()
	if strings.Contains(fe.Namespace(), "."+FieldFile+".") {
		field = FieldFile
	}
	switch fe.Tag() {
	case "required":
		if field == FieldFile {
			return &ValidationError{Field: field, Reason: "a valid video file is required"}
		}
		return &ValidationError{Field: field, Reason: "is required"}
	case "number":
		return &ValidationError{Field: field, Reason: "must be an integer"}
	case "startswith":
		return &ValidationError{Field: field, Reason: fmt.Sprintf("mime type %q is not a video/* type", fe.Value())}
	default:
		return &ValidationError{Field: field, Reason: fmt.Sprintf("failed %q check", fe.Tag())}
	}
}

// SessionState is the orchestrator state machine position.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateMetadataSent SessionState = "metadata_sent"
	StateTransferring SessionState = "transferring"
	StateComplete     SessionState = "complete"
	StateFailed       SessionState = "failed"
)

// Active reports whether a network phase is in flight.
func (s SessionState) Active() bool {
	return s == StateMetadataSent || s == StateTransferring
}

// Terminal reports whether the session has finished.
func (s SessionState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// UploadSession is a snapshot of one submission attempt.
type UploadSession struct {
	State           SessionState  `json:"state"`
	ProgressPercent int           `json:"progress_percent"`
	Error           string        `json:"error,omitempty"`
	ErrorKind       ErrorKind     `json:"error_kind,omitempty"`
	Ticket          *UploadTicket `json:"ticket,omitempty"`
	Title           string        `json:"title,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// IdleSession returns the initial snapshot.
func IdleSession() UploadSession {
	return UploadSession{State: StateIdle, UpdatedAt: time.Now()}
}

// VideoID returns the ticket's video id, or "" before registration succeeded.
func (s UploadSession) VideoID() string {
	if s.Ticket == nil {
		return ""
	}
	return s.Ticket.VideoID
}

// StatusLine renders the session as one human-readable line.
func (s UploadSession) StatusLine() string {
	switch s.State {
	case StateMetadataSent:
		return "Sending metadata & creating DB record..."
	case StateTransferring:
		return fmt.Sprintf("Uploading file... %d%%", s.ProgressPercent)
	case StateComplete:
		return fmt.Sprintf("Upload and DB Entry Complete! Video ID: %s", s.VideoID())
	case StateFailed:
		return s.Error
	default:
		return "Fill out the form and select a video to begin."
	}
}

// ProgressPercent converts a byte count into a rounded percentage in [0, 100].
func ProgressPercent(sent, total int64) int {
	if total <= 0 || sent <= 0 {
		return 0
	}
	if sent >= total {
		return 100
	}
	return int((sent*100 + total/2) / total)
}
