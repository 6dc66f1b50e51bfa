package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
)

const (
	startUploadPath   = "/videos/start_upload"
	maxErrorBodyBytes = 64 << 10
)

// HTTPRegistrar registers video metadata with the composite service and
// receives the signed upload URL in return.
type HTTPRegistrar struct {
	baseURL string
	client  *http.Client
	tokens  *TokenSource
	logger  *slog.Logger
}

type startUploadResponse struct {
	SignedURL string          `json:"signed_url"`
	VideoID   json.RawMessage `json:"video_id"`
	Error     string          `json:"error"`
}

func NewHTTPRegistrar(baseURL string, client *http.Client, tokens *TokenSource, logger *slog.Logger) *HTTPRegistrar {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPRegistrar{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		logger:  logger,
	}
}

// Register issues exactly one POST to /videos/start_upload. It never retries.
func (r *HTTPRegistrar) Register(ctx context.Context, reg domain.RegistrationRequest) (domain.UploadTicket, error) {
	payload, err := json.Marshal(reg)
	if err != nil {
		return domain.UploadTicket{}, &domain.RegistrationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+startUploadPath, bytes.NewReader(payload))
	if err != nil {
		return domain.UploadTicket{}, &domain.RegistrationError{Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	token, err := r.tokens.Token()
	if err != nil {
		return domain.UploadTicket{}, &domain.RegistrationError{Message: err.Error(), Err: err}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	r.logger.Debug("Registering video metadata", "requestID", requestID, "title", reg.Title, "offeringID", reg.OfferingID, "mimeType", reg.MimeType)
	resp, err := r.client.Do(req)
	if err != nil {
		return domain.UploadTicket{}, &domain.RegistrationError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return domain.UploadTicket{}, &domain.RegistrationError{StatusCode: resp.StatusCode, Err: err}
	}

	var decoded startUploadResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("Metadata service rejected registration", "requestID", requestID, "status", resp.StatusCode)
		return domain.UploadTicket{}, &domain.RegistrationError{
			StatusCode: resp.StatusCode,
			Message:    decoded.Error,
			Err:        fmt.Errorf("metadata service returned status %d", resp.StatusCode),
		}
	}
	if decodeErr != nil {
		return domain.UploadTicket{}, &domain.RegistrationError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode start_upload response: %w", decodeErr)}
	}

	ticket := domain.UploadTicket{
		VideoID:   rawID(decoded.VideoID),
		SignedURL: decoded.SignedURL,
	}
	if ticket.SignedURL == "" || ticket.VideoID == "" {
		return domain.UploadTicket{}, &domain.RegistrationError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("start_upload response is missing signed_url or video_id"),
		}
	}
	return ticket, nil
}

// rawID keeps the textual form of a JSON string or number id.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
