package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hibiken/asynq"
	aErrors "github.com/mantonx/viewra-artwork/internal/modules/artworkmodule/errors"
)

const (
	// TaskProcessArtwork is the asynq task type for one artwork.
	TaskProcessArtwork = "artwork:process"

	asynqQueueName = "default"
)

// TaskID is the deterministic task id of an artwork, so a second enqueue of
// a waiting id is rejected by Redis.
func TaskID(artworkID int64) string {
	return fmt.Sprintf("artwork:%d", artworkID)
}

// AsynqConfig configures the Redis backed queue.
type AsynqConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Workers       int
	MaxRetry      int
}

// AsynqBackend persists queued ids in Redis so they survive restarts.
type AsynqBackend struct {
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	runner    *Runner
	maxRetry  int
	logger    hclog.Logger
}

// NewAsynqBackend creates a Redis backed backend.
func NewAsynqBackend(cfg AsynqConfig, runner *Runner, logger hclog.Logger) *AsynqBackend {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	logger = logger.Named("asynq-queue")

	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Workers,
		Queues:      map[string]int{asynqQueueName: 1},
		Logger:      &asynqLogger{logger: logger},
	})

	return &AsynqBackend{
		client:    asynq.NewClient(redisOpt),
		server:    server,
		inspector: asynq.NewInspector(redisOpt),
		runner:    runner,
		maxRetry:  cfg.MaxRetry,
		logger:    logger,
	}
}

// Submit enqueues the artwork under its deterministic task id. A task that
// is pending, scheduled, active or retrying makes this a no-op; a completed
// or archived task lingering in Redis is removed and enqueued again.
func (b *AsynqBackend) Submit(ctx context.Context, artworkID int64) error {
	payload, err := json.Marshal(Item{ID: artworkID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	id := TaskID(artworkID)
	task := asynq.NewTask(TaskProcessArtwork, payload,
		asynq.TaskID(id), asynq.Queue(asynqQueueName), asynq.MaxRetry(b.maxRetry))

	_, err = b.client.EnqueueContext(ctx, task)
	if err == nil {
		return nil
	}
	if !isTaskConflict(err) {
		return fmt.Errorf("enqueue: %w", err)
	}

	info, infoErr := b.inspector.GetTaskInfo(asynqQueueName, id)
	switch {
	case errors.Is(infoErr, asynq.ErrTaskNotFound):
		// finished and swept between the two calls
	case infoErr != nil:
		return fmt.Errorf("inspect task %s: %w", id, infoErr)
	case !replaceable(info.State):
		b.logger.Trace("artwork already queued", "artwork_id", artworkID, "state", info.State.String())
		return nil
	default:
		if delErr := b.inspector.DeleteTask(asynqQueueName, id); delErr != nil && !errors.Is(delErr, asynq.ErrTaskNotFound) {
			return fmt.Errorf("delete finished task %s: %w", id, delErr)
		}
		b.logger.Debug("cleared finished task", "task_id", id, "state", info.State.String())
	}

	if _, err = b.client.EnqueueContext(ctx, task); err != nil {
		if isTaskConflict(err) {
			b.logger.Trace("artwork already queued", "artwork_id", artworkID)
			return nil
		}
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

// replaceable reports whether a task in state s is finished, so a new task
// may take over its id.
func replaceable(s asynq.TaskState) bool {
	return s == asynq.TaskStateCompleted || s == asynq.TaskStateArchived
}

// Run serves tasks until ctx is done.
func (b *AsynqBackend) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskProcessArtwork, b.processTask)

	if err := b.server.Start(mux); err != nil {
		return fmt.Errorf("failed to start asynq server: %w", err)
	}
	b.logger.Info("asynq worker started")

	<-ctx.Done()
	b.server.Shutdown()
	return nil
}

// processTask hands the task to the runner. Only transient failures are
// retried by asynq.
func (b *AsynqBackend) processTask(ctx context.Context, t *asynq.Task) error {
	var item Item
	if err := json.Unmarshal(t.Payload(), &item); err != nil {
		return fmt.Errorf("unmarshal: %v: %w", err, asynq.SkipRetry)
	}

	err := b.runner.Handle(ctx, item)
	if err == nil || aErrors.IsTransient(err) {
		return err
	}
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// Close releases the Redis connections.
func (b *AsynqBackend) Close() error {
	return errors.Join(b.client.Close(), b.inspector.Close())
}

func isTaskConflict(err error) bool {
	if errors.Is(err, asynq.ErrDuplicateTask) || errors.Is(err, asynq.ErrTaskIDConflict) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "task ID conflicts") || strings.Contains(msg, "duplicate task")
}

// asynqLogger routes asynq's logging into hclog.
type asynqLogger struct {
	logger hclog.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Error(fmt.Sprint(args...)) }
