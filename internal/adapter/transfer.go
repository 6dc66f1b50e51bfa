package adapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/jonno85/columbiastream-uploader/internal/domain"
)

// HTTPTransferrer streams a file straight to object storage through a signed URL.
type HTTPTransferrer struct {
	client *http.Client
	logger *slog.Logger
}

func NewHTTPTransferrer(client *http.Client, logger *slog.Logger) *HTTPTransferrer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransferrer{client: client, logger: logger}
}

// Transfer issues a single PUT of the whole file. Content-Type must equal the
// MIME type declared at registration, since the URL was signed against it.
func (t *HTTPTransferrer) Transfer(ctx context.Context, ticket domain.UploadTicket, file domain.VideoFile, onProgress func(sent, total int64)) error {
	var body io.Reader = http.NoBody
	if file.Size > 0 {
		body = &progressReader{r: file.Content, total: file.Size, onProgress: onProgress}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, ticket.SignedURL, body)
	if err != nil {
		return &domain.TransferError{Kind: domain.KindNetwork, Err: err}
	}
	req.ContentLength = file.Size
	req.Header.Set("Content-Type", file.MimeType)

	resp, err := t.client.Do(req)
	if err != nil {
		return &domain.TransferError{Kind: classifyTransportError(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		t.logger.Error("Storage upload error response", "videoID", ticket.VideoID, "status", resp.StatusCode, "body", string(snippet))
		return &domain.TransferError{Kind: domain.KindRejected, StatusCode: resp.StatusCode}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func classifyTransportError(ctx context.Context, err error) domain.ErrorKind {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.KindCancelled
	}
	if IsTimeout(err) {
		return domain.KindTimeout
	}
	return domain.KindNetwork
}

// IsTimeout reports whether err is a deadline or transport timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	onProgress func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}
