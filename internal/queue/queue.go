package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"appforge/internal/config"
	"appforge/internal/engine"
	"appforge/internal/logging"
)

const (
	TypeGeneration = "generation:run"

	DefaultQueue   = "generation"
	DefaultTimeout = 10 * time.Minute
)

func redisOpt(c config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Addr, Password: c.Password, DB: c.DB}
}

func queueName(c config.QueueConfig) string {
	if c.Name == "" {
		return DefaultQueue
	}
	return c.Name
}

// NewTask encodes a generation job as an asynq task.
func NewTask(job engine.Job, c config.QueueConfig) (*asynq.Task, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal payload failed: %w", err)
	}
	return asynq.NewTask(TypeGeneration, payload,
		asynq.Queue(queueName(c)),
		asynq.MaxRetry(c.MaxRetry),
		asynq.Timeout(DefaultTimeout),
		asynq.Retention(24*time.Hour),
	), nil
}

// Dispatcher enqueues generation jobs for a worker process.
type Dispatcher struct {
	Client *asynq.Client
	Config config.QueueConfig
	Logger *slog.Logger
}

func NewDispatcher(c config.QueueConfig, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		Client: asynq.NewClient(redisOpt(c.Redis)),
		Config: c,
		Logger: logging.OrDiscard(logger),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job engine.Job) error {
	task, err := NewTask(job, d.Config)
	if err != nil {
		return err
	}
	info, err := d.Client.EnqueueContext(ctx, task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	d.Logger.Info("generation enqueued", "project_id", job.ProjectID, "task_id", info.ID, "queue", info.Queue)
	return nil
}

func (d *Dispatcher) Close() error {
	return d.Client.Close()
}
