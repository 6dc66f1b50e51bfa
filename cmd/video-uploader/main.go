// Package main is the entry point for the ColumbiaStream video uploader.
// "upload" publishes a single lecture video; "watch" runs the drop-folder
// daemon with its status API and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonno85/columbiastream-uploader/internal/adapter"
	"github.com/jonno85/columbiastream-uploader/internal/config"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
	"github.com/jonno85/columbiastream-uploader/internal/handlers"
	"github.com/jonno85/columbiastream-uploader/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	exitComplete = 0
	exitFailed   = 1
	exitInvalid  = 2
)

// replaced in tests
var (
	openVideoFile     = adapter.OpenVideoFile
	buildOrchestrator = newOrchestrator
)

const usage = `usage:
  video-uploader upload -title <title> -offering <id> -prof <uni> -file <path>
  video-uploader watch`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return exitInvalid
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "configuration error:", err)
		return exitFailed
	}
	logger := config.NewLogger(cfg.Log, stderr)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "upload":
		return runUpload(ctx, cfg, logger, args[1:], stdout, stderr)
	case "watch":
		if err := runWatch(ctx, cfg, logger); err != nil {
			logger.Error("Watch daemon failed", "err", err)
			return exitFailed
		}
		return exitComplete
	default:
		fmt.Fprintln(stderr, usage)
		return exitInvalid
	}
}

// newOrchestrator wires the registrar selected by REGISTRAR_MODE and the HTTP transferrer.
func newOrchestrator(ctx context.Context, cfg *config.UploaderConfig, logger *slog.Logger) (*service.Orchestrator, error) {
	var registrar service.Registrar
	switch cfg.RegistrarMode {
	case config.RegistrarModeMinio:
		minioRegistrar, err := adapter.NewMinioRegistrar(cfg.Minio, logger)
		if err != nil {
			return nil, err
		}
		if err := minioRegistrar.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		registrar = minioRegistrar
	default:
		registrar = adapter.NewHTTPRegistrar(
			cfg.CompositeBaseURL,
			&http.Client{Timeout: cfg.HTTPTimeout},
			adapter.NewTokenSource(cfg.AuthToken),
			logger,
		)
	}
	transferrer := adapter.NewHTTPTransferrer(&http.Client{Timeout: cfg.TransferTimeout}, logger)
	return service.NewOrchestrator(registrar, transferrer, logger), nil
}

func runUpload(ctx context.Context, cfg *config.UploaderConfig, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	title := fs.String("title", "", "lecture title")
	offering := fs.String("offering", cfg.Defaults.OfferingID, "course offering id")
	prof := fs.String("prof", cfg.Defaults.ProfessorUNI, "professor UNI")
	path := fs.String("file", "", "video file to upload")
	if err := fs.Parse(args); err != nil {
		return exitInvalid
	}

	req := domain.UploadRequest{Title: *title, OfferingID: *offering, ProfessorUNI: *prof}
	if *path != "" {
		file, err := openVideoFile(*path)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitInvalid
		}
		req.File = file
	}

	orchestrator, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		closeIfCloser(req.File.Content)
		fmt.Fprintln(stderr, err)
		return exitFailed
	}
	fmt.Fprintln(stdout, orchestrator.Snapshot().StatusLine())

	snapshots, err := orchestrator.Submit(ctx, req)
	if err != nil {
		fmt.Fprintln(stderr, err)
		closeIfCloser(req.File.Content)
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return exitInvalid
		}
		return exitFailed
	}

	var last domain.UploadSession
	for s := range snapshots {
		last = s
		fmt.Fprintln(stdout, s.StatusLine())
	}
	if err := orchestrator.Reset(); err != nil {
		logger.Warn("Failed to reset orchestrator", "err", err)
	}
	if last.State != domain.StateComplete {
		return exitFailed
	}
	return exitComplete
}

// closeIfCloser releases a file that never reached the orchestrator.
func closeIfCloser(r io.Reader) {
	if closer, ok := r.(io.Closer); ok {
		closer.Close()
	}
}

func runWatch(ctx context.Context, cfg *config.UploaderConfig, logger *slog.Logger) error {
	redisClient := adapter.NewRedisClientImpl(cfg.Redis, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("Failed to close Redis client", "err", err)
		}
	}()

	var notifier service.UploadNotifier
	if cfg.AMQP.Enabled() {
		publisher, err := adapter.NewAMQPPublisher(cfg.AMQP, logger)
		if err != nil {
			logger.Error("Upload events disabled", "err", err)
		} else {
			defer publisher.Close()
			notifier = publisher
		}
	}

	orchestrator, err := buildOrchestrator(ctx, cfg, logger)
	if err != nil {
		return err
	}
	worker := service.NewUploadWorkerService(redisClient, orchestrator, notifier, logger)
	watcher := service.NewDropFolderWatcher(cfg.Watch, cfg.Defaults, redisClient, logger)
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Close()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := worker.ProcessPendingQueue(ctx); err != nil {
			logger.Error("Error requeueing pending jobs", "err", err)
		}
		worker.ProcessQueue(ctx)
	}()

	router := handlers.NewRouter(&handlers.V1Handler{Uploads: orchestrator, Jobs: redisClient}, logger)
	server := config.NewHTTPServer(cfg.Server, router)
	metricsServer := newMetricsServer(cfg.Server.MetricsPort)

	go func() {
		logger.Info("Starting Prometheus metrics server", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Prometheus metrics server error", "err", err)
		}
	}()
	go func() {
		logger.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "err", err)
		}
	}()

	<-ctx.Done()
	gracefulShutdown(logger, server, metricsServer)
	<-workerDone
	return nil
}

func newMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
}

// gracefulShutdown stops the HTTP servers, giving in-flight requests ten seconds.
func gracefulShutdown(logger *slog.Logger, servers ...*http.Server) {
	logger.Info("Shutting down servers...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, server := range servers {
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server forced to shutdown", "addr", server.Addr, "err", err)
		}
	}
	logger.Info("Servers exited")
}
