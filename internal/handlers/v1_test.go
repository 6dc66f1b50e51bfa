package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jonno85/columbiastream-uploader/internal/adapter"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
	"github.com/jonno85/columbiastream-uploader/internal/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubUploads struct {
	session  domain.UploadSession
	resetErr error
	resets   int
}

func (s *stubUploads) Snapshot() domain.UploadSession { return s.session }

func (s *stubUploads) Reset() error {
	s.resets++
	if s.resetErr != nil {
		return s.resetErr
	}
	s.session = domain.UploadSession{State: domain.StateIdle}
	return nil
}

type stubJobs map[string]domain.UploadSession

func (s stubJobs) GetSnapshot(_ context.Context, name adapter.JobName) (domain.UploadSession, error) {
	if name == "broken.mp4" {
		return domain.UploadSession{}, errors.New("redis: connection refused")
	}
	session, ok := s[name]
	if !ok {
		return domain.UploadSession{}, adapter.ErrJobNotFound
	}
	return session, nil
}

func newTestRouter(uploads *stubUploads, jobs handlers.SnapshotStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return handlers.NewRouter(&handlers.V1Handler{Uploads: uploads, Jobs: jobs}, logger)
}

func doRequest(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) handlers.StatusResponse {
	t.Helper()
	var resp handlers.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	w := doRequest(newTestRouter(&stubUploads{}, nil), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestStatus(t *testing.T) {
	uploads := &stubUploads{session: domain.UploadSession{State: domain.StateTransferring, ProgressPercent: 37}}
	w := doRequest(newTestRouter(uploads, nil), http.MethodGet, "/v1/upload/status")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeStatus(t, w)
	assert.Equal(t, domain.StateTransferring, resp.Session.State)
	assert.Equal(t, "Uploading file... 37%", resp.StatusLine)
}

func TestReset(t *testing.T) {
	t.Run("from terminal state", func(t *testing.T) {
		uploads := &stubUploads{session: domain.UploadSession{State: domain.StateFailed, Error: "db down"}}
		w := doRequest(newTestRouter(uploads, nil), http.MethodPost, "/v1/upload/reset")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, domain.StateIdle, decodeStatus(t, w).Session.State)
		assert.Equal(t, 1, uploads.resets)
	})

	t.Run("while active", func(t *testing.T) {
		uploads := &stubUploads{
			session:  domain.UploadSession{State: domain.StateMetadataSent},
			resetErr: domain.ErrResetWhileActive,
		}
		w := doRequest(newTestRouter(uploads, nil), http.MethodPost, "/v1/upload/reset")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), domain.ErrResetWhileActive.Error())
	})
}

func TestJob(t *testing.T) {
	jobs := stubJobs{
		"week1.mp4": {State: domain.StateComplete, ProgressPercent: 100, Ticket: &domain.UploadTicket{VideoID: "v1"}},
	}
	r := newTestRouter(&stubUploads{}, jobs)

	w := doRequest(r, http.MethodGet, "/v1/upload/jobs/week1.mp4")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeStatus(t, w)
	assert.Equal(t, "v1", resp.VideoID)
	assert.Equal(t, "Upload and DB Entry Complete! Video ID: v1", resp.StatusLine)

	assert.Equal(t, http.StatusNotFound, doRequest(r, http.MethodGet, "/v1/upload/jobs/unknown.mp4").Code)
	assert.Equal(t, http.StatusInternalServerError, doRequest(r, http.MethodGet, "/v1/upload/jobs/broken.mp4").Code)
}

func TestJob_WithoutStore(t *testing.T) {
	w := doRequest(newTestRouter(&stubUploads{}, nil), http.MethodGet, "/v1/upload/jobs/week1.mp4")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
