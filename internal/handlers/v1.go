package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jonno85/columbiastream-uploader/internal/adapter"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
)

// UploadController is the orchestrator surface exposed over HTTP.
type UploadController interface {
	Snapshot() domain.UploadSession
	Reset() error
}

// SnapshotStore holds the last snapshot recorded for each drop-folder job.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, name adapter.JobName) (domain.UploadSession, error)
}

type StatusResponse struct {
	Session    domain.UploadSession `json:"session"`
	StatusLine string               `json:"status_line"`
	VideoID    string               `json:"video_id,omitempty"`
}

func newStatusResponse(s domain.UploadSession) StatusResponse {
	return StatusResponse{Session: s, StatusLine: s.StatusLine(), VideoID: s.VideoID()}
}

type V1Handler struct {
	Uploads UploadController
	Jobs    SnapshotStore
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *V1Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, newStatusResponse(h.Uploads.Snapshot()))
}

func (h *V1Handler) Reset(c *gin.Context) {
	if err := h.Uploads.Reset(); err != nil {
		if errors.Is(err, domain.ErrResetWhileActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(h.Uploads.Snapshot()))
}

func (h *V1Handler) Job(c *gin.Context) {
	if h.Jobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job tracking is not enabled"})
		return
	}
	name := c.Param("name")
	session, err := h.Jobs.GetSnapshot(c.Request.Context(), name)
	if err != nil {
		if errors.Is(err, adapter.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no upload recorded for " + name})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, newStatusResponse(session))
}
