package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
)

// videoExtensions backs up content sniffing for containers it cannot identify.
var videoExtensions = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".ogv":  "video/ogg",
	".3gp":  "video/3gpp",
}

// OpenVideoFile opens path and resolves its MIME type. The caller owns the
// returned Content and must close it (the orchestrator does so on Reset).
func OpenVideoFile(path string) (domain.VideoFile, error) {
	mimeType, err := DetectMimeType(path)
	if err != nil {
		return domain.VideoFile{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.VideoFile{}, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return domain.VideoFile{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return domain.VideoFile{
		Name:     filepath.Base(path),
		MimeType: mimeType,
		Size:     info.Size(),
		Content:  f,
	}, nil
}

// DetectMimeType sniffs the content first and falls back to the extension.
func DetectMimeType(path string) (string, error) {
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mime type of %s: %w", path, err)
	}
	mimeType := strings.TrimSpace(strings.SplitN(detected.String(), ";", 2)[0])
	if strings.HasPrefix(mimeType, "video/") {
		return mimeType, nil
	}
	if byExt, ok := videoExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return byExt, nil
	}
	return mimeType, nil
}

// IsVideoPath reports whether path has a known video extension.
func IsVideoPath(path string) bool {
	_, ok := videoExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
