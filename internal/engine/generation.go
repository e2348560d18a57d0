package engine

import (
	"context"
	"errors"
	"fmt"

	"appforge/internal/domain"
	"appforge/internal/events"
	"appforge/internal/filetree"
	"appforge/internal/repo"
)

// Progress is the observable state of a project's generation.
type Progress struct {
	ProjectID  string        `json:"project_id"`
	Status     domain.Status `json:"status"`
	Step       int           `json:"step"`
	TotalSteps int           `json:"total_steps"`
	Label      string        `json:"label,omitempty"`
	Running    bool          `json:"running"`
	Queued     bool          `json:"queued,omitempty"`
	Files      int           `json:"files,omitempty"`
	Error      string        `json:"error,omitempty"`
	// Cancelled marks a run stopped before it finished. The project stays generating.
	Cancelled  bool          `json:"cancelled,omitempty"`
}

// Terminal reports whether no run will move this progress any further.
func (p Progress) Terminal() bool {
	if p.Running || p.Queued {
		return false
	}
	return p.Cancelled || p.Status != domain.StatusGenerating
}

// StartGeneration moves the project to generating and runs the steps, in
// process or through the Dispatcher. Completed projects regenerate from
// scratch; a project already running here is refused.
func (e *Engine) StartGeneration(ctx context.Context, userID, projectID string) (Progress, error) {
	p, err := e.owned(ctx, userID, projectID)
	if err != nil {
		return Progress{}, err
	}
	return e.start(ctx, userID, p)
}

// Retry restarts a failed project from the first step.
func (e *Engine) Retry(ctx context.Context, userID, projectID string) (Progress, error) {
	p, err := e.owned(ctx, userID, projectID)
	if err != nil {
		return Progress{}, err
	}
	if p.Status != domain.StatusError {
		return Progress{}, fmt.Errorf("%w: status is %s", ErrNotRetryable, p.Status)
	}
	return e.start(ctx, userID, p)
}

func (e *Engine) start(ctx context.Context, userID string, p domain.Project) (Progress, error) {
	e.mu.Lock()
	if _, busy := e.runs[p.ID]; busy {
		e.mu.Unlock()
		return Progress{}, ErrGenerationRunning
	}
	runCtx, cancel := context.WithCancel(e.base)
	r := &run{projectID: p.ID, cancel: cancel, done: make(chan struct{})}
	e.runs[p.ID] = r
	e.mu.Unlock()

	if p.Status != domain.StatusGenerating || p.GeneratedCode != nil {
		generating := domain.StatusGenerating
		e.editMu.Lock()
		updated, err := e.Repo.UpdateProject(ctx, p.ID, repo.Patch{Status: &generating, ClearGeneratedCode: true})
		e.editMu.Unlock()
		if err != nil {
			e.release(r)
			return Progress{}, fmt.Errorf("mark generating: %w", err)
		}
		p = updated
	}
	e.event(ctx, events.GenerationStarted, p.ID, userID, events.EventPayload{"tech_stack": p.TechStack})

	if e.Dispatcher != nil {
		e.release(r)
		queued := Progress{ProjectID: p.ID, Status: domain.StatusGenerating, TotalSteps: len(e.Steps), Queued: true}
		if err := e.Dispatcher.Dispatch(ctx, Job{ProjectID: p.ID, UserID: userID}); err != nil {
			e.fail(ctx, userID, p.ID, &GenerationFault{Label: "dispatch", Err: err})
			return Progress{}, fmt.Errorf("dispatch generation: %w", err)
		}
		e.publish(queued)
		return queued, nil
	}

	first := Progress{ProjectID: p.ID, Status: domain.StatusGenerating, TotalSteps: len(e.Steps), Running: true}
	e.publish(first)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(r)
		e.generate(runCtx, userID, p)
	}()
	return first, nil
}

// Execute runs a dispatched job to the end on the caller's goroutine. Jobs for
// projects that left the generating state or no longer exist are dropped.
func (e *Engine) Execute(ctx context.Context, job Job) error {
	p, err := e.owned(ctx, job.UserID, job.ProjectID)
	if errors.Is(err, repo.ErrNotFound) {
		e.Logger.Info("dropping job for missing project", "project_id", job.ProjectID)
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status != domain.StatusGenerating {
		e.Logger.Info("dropping stale job", "project_id", p.ID, "status", p.Status)
		return nil
	}
	e.mu.Lock()
	if _, busy := e.runs[p.ID]; busy {
		e.mu.Unlock()
		return ErrGenerationRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &run{projectID: p.ID, cancel: cancel, done: make(chan struct{})}
	e.runs[p.ID] = r
	e.mu.Unlock()
	defer e.release(r)

	stopOnClose := context.AfterFunc(e.base, cancel)
	defer stopOnClose()
	e.generate(runCtx, job.UserID, p)
	return nil
}

func (e *Engine) release(r *run) {
	r.cancel()
	e.mu.Lock()
	if e.runs[r.projectID] == r {
		delete(e.runs, r.projectID)
	}
	e.mu.Unlock()
	close(r.done)
}

// Cancel stops the project's in-process run. The project stays in the
// generating state and can be started again.
func (e *Engine) Cancel(projectID string) bool {
	e.mu.Lock()
	r, ok := e.runs[projectID]
	e.mu.Unlock()
	if ok {
		r.cancel()
	}
	return ok
}

// Wait blocks until the project's in-process run has returned.
func (e *Engine) Wait(ctx context.Context, projectID string) error {
	e.mu.Lock()
	r, ok := e.runs[projectID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a run for the project is active in this process.
func (e *Engine) Running(projectID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.runs[projectID]
	return ok
}

// Progress returns the last published progress, falling back to the stored status.
func (e *Engine) Progress(ctx context.Context, userID, projectID string) (Progress, error) {
	p, err := e.owned(ctx, userID, projectID)
	if err != nil {
		return Progress{}, err
	}
	e.mu.Lock()
	last, ok := e.status[projectID]
	_, running := e.runs[projectID]
	e.mu.Unlock()
	if ok && (running || last.Status == p.Status) {
		return last, nil
	}
	out := Progress{ProjectID: p.ID, Status: p.Status, TotalSteps: len(e.Steps)}
	switch p.Status {
	case domain.StatusCompleted:
		out.Step = len(e.Steps)
		if p.GeneratedCode != nil {
			if files, err := filetree.Decode(*p.GeneratedCode); err == nil {
				out.Files = len(files)
			}
		}
	case domain.StatusError:
		out.Error = "generation failed"
	}
	return out, nil
}

// Subscribe registers fn for every progress change and returns its unsubscribe function.
// fn runs on the generating goroutine and must not block.
func (e *Engine) Subscribe(fn func(Progress)) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

func (e *Engine) publish(p Progress) {
	e.mu.Lock()
	e.status[p.ProjectID] = p
	subs := make([]func(Progress), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}

// generate walks the steps and records the outcome. Every store write is
// preceded by a liveness check so a cancelled run leaves the project alone.
func (e *Engine) generate(ctx context.Context, userID string, p domain.Project) {
	total := len(e.Steps)
	log := e.Logger.With("project_id", p.ID)
	for i, step := range e.Steps {
		if ctx.Err() != nil {
			e.cancelled(userID, p.ID, i)
			return
		}
		e.publish(Progress{ProjectID: p.ID, Status: domain.StatusGenerating, Step: i + 1, TotalSteps: total, Label: step.Label, Running: true})
		e.event(ctx, events.GenerationStep, p.ID, userID, events.EventPayload{"step": i + 1, "label": step.Label})
		log.Debug("generation step", "step", i+1, "label", step.Label)
		if err := step.Run(ctx); err != nil {
			if ctx.Err() != nil {
				e.cancelled(userID, p.ID, i+1)
				return
			}
			e.fail(ctx, userID, p.ID, &GenerationFault{Step: i + 1, Label: step.Label, Err: err})
			return
		}
	}
	if ctx.Err() != nil {
		e.cancelled(userID, p.ID, total)
		return
	}
	files, err := e.Generator.Generate(ctx, p)
	if ctx.Err() != nil {
		e.cancelled(userID, p.ID, total)
		return
	}
	if err == nil {
		files = filetree.Dedupe(files)
		if len(files) == 0 {
			err = ErrEmptyOutput
		}
	}
	if err != nil {
		e.fail(ctx, userID, p.ID, &GenerationFault{Step: total, Label: "render files", Err: err})
		return
	}
	code, err := filetree.Encode(files)
	if err != nil {
		e.fail(ctx, userID, p.ID, &GenerationFault{Step: total, Label: "encode files", Err: err})
		return
	}
	if ctx.Err() != nil {
		e.cancelled(userID, p.ID, total)
		return
	}
	completed := domain.StatusCompleted
	if _, err := e.Repo.UpdateProject(ctx, p.ID, repo.Patch{Status: &completed, GeneratedCode: &code}); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Info("project removed during generation")
			return
		}
		e.fail(ctx, userID, p.ID, &GenerationFault{Step: total, Label: "save files", Err: err})
		return
	}
	log.Info("generation completed", "files", len(files))
	e.event(ctx, events.GenerationCompleted, p.ID, userID, events.EventPayload{"files": len(files)})
	e.publish(Progress{ProjectID: p.ID, Status: domain.StatusCompleted, Step: total, TotalSteps: total, Files: len(files)})
}

func (e *Engine) fail(ctx context.Context, userID, projectID string, fault *GenerationFault) {
	if ctx.Err() != nil {
		e.cancelled(userID, projectID, fault.Step)
		return
	}
	log := e.Logger.With("project_id", projectID)
	log.Error("generation failed", "step", fault.Step, "label", fault.Label, "error", fault.Err)
	failed := domain.StatusError
	if _, err := e.Repo.UpdateProject(ctx, projectID, repo.Patch{Status: &failed, ClearGeneratedCode: true}); err != nil {
		log.Error("record generation failure", "error", err)
	}
	e.event(ctx, events.GenerationFailed, projectID, userID, events.EventPayload{"step": fault.Step, "label": fault.Label, "error": fault.Err.Error()})
	e.publish(Progress{ProjectID: projectID, Status: domain.StatusError, Step: fault.Step, TotalSteps: len(e.Steps), Label: fault.Label, Error: fault.Error()})
}

func (e *Engine) cancelled(userID, projectID string, step int) {
	e.Logger.Info("generation cancelled", "project_id", projectID, "step", step)
	e.event(context.Background(), events.GenerationCancelled, projectID, userID, events.EventPayload{"step": step})
	e.publish(Progress{ProjectID: projectID, Status: domain.StatusGenerating, Step: step, TotalSteps: len(e.Steps), Cancelled: true})
}
