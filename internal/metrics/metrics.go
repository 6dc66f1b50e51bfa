package metrics

import (
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	UploadsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "video_uploads_started_total",
			Help: "Total number of upload submissions accepted",
		},
	)
	UploadsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "video_uploads_completed_total",
			Help: "Total number of uploads that reached storage",
		},
	)
	UploadsFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_uploads_failed_total",
			Help: "Total number of failed uploads by failure kind",
		},
		[]string{"kind"},
	)
	ValidationRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_upload_validation_rejected_total",
			Help: "Total number of submissions rejected by validation",
		},
		[]string{"field"},
	)
	FilesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_files_ingested_total",
			Help: "Total number of drop-folder files queued for upload",
		},
		[]string{"ext"},
	)
	FilesIngestedErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_files_ingested_errors_total",
			Help: "Total number of drop-folder files that could not be queued",
		},
		[]string{"ext"},
	)
	BytesUploaded = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_bytes_uploaded",
			Help:    "Size of completed uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(1<<20, 4, 8),
		},
	)
	RegistrationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_registration_duration_seconds",
			Help:    "Latency of the metadata registration call",
			Buckets: prometheus.DefBuckets,
		},
	)
	TransferDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "video_transfer_duration_seconds",
			Help:    "Duration of the direct-to-storage transfer",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)

func init() {
	prometheus.MustRegister(UploadsStarted)
	prometheus.MustRegister(UploadsCompleted)
	prometheus.MustRegister(UploadsFailed)
	prometheus.MustRegister(ValidationRejected)
	prometheus.MustRegister(FilesIngested)
	prometheus.MustRegister(FilesIngestedErrors)
	prometheus.MustRegister(BytesUploaded)
	prometheus.MustRegister(RegistrationDuration)
	prometheus.MustRegister(TransferDuration)
}

// ExtensionLabel keeps ingest series bounded by labelling with the file extension.
func ExtensionLabel(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "none"
	}
	return ext
}
