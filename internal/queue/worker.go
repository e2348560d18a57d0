package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"appforge/internal/config"
	"appforge/internal/engine"
	"appforge/internal/logging"
)

// Executor runs one generation job to completion.
type Executor interface {
	Execute(ctx context.Context, job engine.Job) error
}

// Worker consumes generation tasks and hands them to an Executor.
type Worker struct {
	Exec   Executor
	Config config.QueueConfig
	Logger *slog.Logger
}

func NewWorker(exec Executor, c config.QueueConfig, logger *slog.Logger) *Worker {
	return &Worker{Exec: exec, Config: c, Logger: logging.OrDiscard(logger)}
}

// HandleGeneration decodes the job and executes it. Undecodable payloads are not retried.
func (w *Worker) HandleGeneration(ctx context.Context, t *asynq.Task) error {
	var job engine.Job
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if job.ProjectID == "" || job.UserID == "" {
		return fmt.Errorf("incomplete job %+v: %w", job, asynq.SkipRetry)
	}
	log := logging.OrDiscard(w.Logger).With("project_id", job.ProjectID)
	log.Info("processing generation")
	if err := w.Exec.Execute(ctx, job); err != nil {
		log.Error("generation task", "error", err)
		return err
	}
	return nil
}

func (w *Worker) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGeneration, w.HandleGeneration)
	return mux
}

// Run serves tasks until ctx is done, then shuts the server down.
func (w *Worker) Run(ctx context.Context) error {
	concurrency := w.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	srv := asynq.NewServer(redisOpt(w.Config.Redis), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queueName(w.Config): 1},
	})
	logging.OrDiscard(w.Logger).Info("starting generation worker", "concurrency", concurrency, "queue", queueName(w.Config))
	if err := srv.Start(w.Mux()); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	<-ctx.Done()
	srv.Shutdown()
	return nil
}
