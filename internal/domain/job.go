package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// UploadJob is a drop-folder file waiting to be published.
type UploadJob struct {
	Path         string    `json:"path"`
	Title        string    `json:"title"`
	OfferingID   string    `json:"offering_id"`
	ProfessorUNI string    `json:"prof_uni"`
	SizeBytes    int64     `json:"size_bytes"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// TitleFromPath turns "intro_to_microservices.mp4" into "intro to microservices".
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(base))
}

// VideoUploadedEvent announces a completed upload to downstream processing.
type VideoUploadedEvent struct {
	VideoID      string    `json:"video_id"`
	Title        string    `json:"title"`
	OfferingID   string    `json:"offering_id"`
	ProfessorUNI string    `json:"prof_uni"`
	MimeType     string    `json:"mime_type"`
	SizeBytes    int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// NewVideoUploadedEvent builds the event for a request whose session completed.
func NewVideoUploadedEvent(req UploadRequest, session UploadSession) VideoUploadedEvent {
	return VideoUploadedEvent{
		VideoID:      session.VideoID(),
		Title:        req.Title,
		OfferingID:   req.OfferingID,
		ProfessorUNI: req.ProfessorUNI,
		MimeType:     req.File.MimeType,
		SizeBytes:    req.File.Size,
		UploadedAt:   session.UpdatedAt,
	}
}
