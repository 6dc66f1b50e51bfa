package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jonno85/columbiastream-uploader/internal/config"
	"github.com/jonno85/columbiastream-uploader/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

const (
	QueueNew        = "queue:new"
	QueueInProgress = "queue:in-progress"
	QueueCompleted  = "queue:completed"
	QueueFailed     = "queue:failed"
	TTL_INFINITE    = 0

	jobPrefix      = "job:"
	snapshotPrefix = "snapshot:"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrJobNotFound = errors.New("job not found")
	// ErrAlreadyQueued means a job with the same name is still pending or running.
	ErrAlreadyQueued = errors.New("job already queued")
)

// JobName is the queue member identifying a drop-folder file.
type JobName = string

// JobNameFor derives the queue member from a file path.
func JobNameFor(path string) JobName {
	return filepath.Base(path)
}

type RedisOperationalClient interface {
	Enqueue(ctx context.Context, job domain.UploadJob) error
	DequeueInProgress(ctx context.Context, timeout time.Duration) (JobName, error)
	RequeueStale(ctx context.Context) (int, error)
	GetJob(ctx context.Context, name JobName) (domain.UploadJob, error)
	Finish(ctx context.Context, name JobName, session domain.UploadSession) error
	Discard(ctx context.Context, name JobName) error
	SetSnapshot(ctx context.Context, name JobName, session domain.UploadSession) error
	GetSnapshot(ctx context.Context, name JobName) (domain.UploadSession, error)
	Close() error
}

type RedisClientImpl struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewRedisClientImpl(cfg config.RedisConfig, logger *slog.Logger) *RedisClientImpl {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Error("Failed to connect to Redis", "addr", cfg.Addr, "err", err)
	}
	return &RedisClientImpl{redisClient: client, logger: logger}
}

// Enqueue claims job:<name> with SET NX and only then pushes the name, so a
// file reported twice while pending is queued once.
func (r *RedisClientImpl) Enqueue(ctx context.Context, job domain.UploadJob) error {
	name := JobNameFor(job.Path)
	jsonBytes, err := json.Marshal(job)
	if err != nil {
		return err
	}
	claimed, err := r.redisClient.SetNX(ctx, jobPrefix+name, jsonBytes, TTL_INFINITE).Result()
	if err != nil {
		return err
	}
	if !claimed {
		r.logger.Debug("Job already queued", "job", name)
		return ErrAlreadyQueued
	}
	if err := r.redisClient.LPush(ctx, QueueNew, name).Err(); err != nil {
		if delErr := r.redisClient.Del(ctx, jobPrefix+name).Err(); delErr != nil {
			r.logger.Error("Failed to release job claim", "job", name, "err", delErr)
		}
		return err
	}
	r.logger.Debug("Enqueued", "job", name)
	return nil
}

// DequeueInProgress blocks up to timeout for the next job and moves it to the
// in-progress list. It returns ErrQueueEmpty when nothing arrived in time.
func (r *RedisClientImpl) DequeueInProgress(ctx context.Context, timeout time.Duration) (JobName, error) {
	name, err := r.redisClient.BLMove(ctx, QueueNew, QueueInProgress, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrQueueEmpty
	}
	return name, err
}

// RequeueStale moves jobs left in-progress by a previous run back to the new queue.
func (r *RedisClientImpl) RequeueStale(ctx context.Context) (int, error) {
	moved := 0
	for {
		name, err := r.redisClient.LMove(ctx, QueueInProgress, QueueNew, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		r.logger.Info("Requeued stale job", "job", name)
		moved++
	}
}

func (r *RedisClientImpl) GetJob(ctx context.Context, name JobName) (domain.UploadJob, error) {
	var job domain.UploadJob
	jsonBytes, err := r.redisClient.Get(ctx, jobPrefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return job, ErrJobNotFound
		}
		return job, err
	}
	err = json.Unmarshal(jsonBytes, &job)
	return job, err
}

// Finish records the terminal snapshot and moves the job to the completed or failed list.
func (r *RedisClientImpl) Finish(ctx context.Context, name JobName, session domain.UploadSession) error {
	target := QueueCompleted
	if session.State != domain.StateComplete {
		target = QueueFailed
	}
	jsonBytes, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if err := pipe.LRem(ctx, QueueInProgress, 1, name).Err(); err != nil {
			return err
		}
		if err := pipe.LPush(ctx, target, name).Err(); err != nil {
			return err
		}
		if err := pipe.Set(ctx, snapshotPrefix+name, jsonBytes, TTL_INFINITE).Err(); err != nil {
			return err
		}
		return pipe.Del(ctx, jobPrefix+name).Err()
	})
	r.logger.Debug("Finished job", "job", name, "queue", target, "err", err)
	return err
}

// Discard drops one in-progress entry without touching snapshots or result lists.
func (r *RedisClientImpl) Discard(ctx context.Context, name JobName) error {
	return r.redisClient.LRem(ctx, QueueInProgress, 1, name).Err()
}

func (r *RedisClientImpl) SetSnapshot(ctx context.Context, name JobName, session domain.UploadSession) error {
	jsonBytes, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return r.redisClient.Set(ctx, snapshotPrefix+name, jsonBytes, TTL_INFINITE).Err()
}

func (r *RedisClientImpl) GetSnapshot(ctx context.Context, name JobName) (domain.UploadSession, error) {
	var session domain.UploadSession
	jsonBytes, err := r.redisClient.Get(ctx, snapshotPrefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session, ErrJobNotFound
		}
		return session, err
	}
	err = json.Unmarshal(jsonBytes, &session)
	return session, err
}

func (r *RedisClientImpl) Close() error {
	return r.redisClient.Close()
}
