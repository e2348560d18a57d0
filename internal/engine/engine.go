package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"appforge/internal/domain"
	"appforge/internal/events"
	"appforge/internal/logging"
	"appforge/internal/repo"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrGenerationRunning = errors.New("generation already running")
	ErrNotRetryable      = errors.New("only projects in error state can be retried")
	ErrNotCompleted      = errors.New("project has no generated code")
	ErrEmptyOutput       = errors.New("generator produced no files")
	ErrDeleteFailed      = errors.New("project could not be deleted")
)

// GenerationFault records why a run ended in the error state.
type GenerationFault struct {
	Step  int
	Label string
	Err   error
}

func (f *GenerationFault) Error() string {
	return fmt.Sprintf("generation step %d (%s): %v", f.Step, f.Label, f.Err)
}

func (f *GenerationFault) Unwrap() error { return f.Err }

// Job identifies one generation request, in process or on a queue.
type Job struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
}

// Dispatcher hands a job to something that will call Engine.Execute.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

type Options struct {
	StepDelay  time.Duration
	Steps      []Step
	Generator  Generator
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

// Engine drives projects through generation and edits their files.
type Engine struct {
	Repo       *repo.Repo
	Events     events.Writer
	Generator  Generator
	Steps      []Step
	Dispatcher Dispatcher
	Logger     *slog.Logger

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	runs   map[string]*run
	status map[string]Progress
	subs   map[int]func(Progress)
	nextID int
	editMu sync.Mutex
}

type run struct {
	projectID string
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(r *repo.Repo, w events.Writer, opts Options) *Engine {
	steps := opts.Steps
	if steps == nil {
		delay := opts.StepDelay
		if delay == 0 {
			delay = DefaultStepDelay
		}
		steps = DelaySteps(delay)
	}
	gen := opts.Generator
	if gen == nil {
		gen = NewTemplateGenerator()
	}
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		Repo:       r,
		Events:     w,
		Generator:  gen,
		Steps:      steps,
		Dispatcher: opts.Dispatcher,
		Logger:     logging.OrDiscard(opts.Logger),
		base:       base,
		stop:       stop,
		runs:       map[string]*run{},
		status:     map[string]Progress{},
		subs:       map[int]func(Progress){},
	}
}

// Close cancels every in-process run and waits for them to return.
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
}

func (e *Engine) event(ctx context.Context, evtType, projectID, userID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, projectID, userID, payload); err != nil {
		e.Logger.Warn("append event", "type", evtType, "project_id", projectID, "error", err)
	}
}

// owned loads a project and hides other users' projects behind ErrNotFound.
func (e *Engine) owned(ctx context.Context, userID, projectID string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.UserID != userID {
		return domain.Project{}, repo.ErrNotFound
	}
	return p, nil
}

type NewProject struct {
	Name        string
	Description string
	TechStack   string
}

// CreateProject stores a new project in the generating state. Generation starts separately.
func (e *Engine) CreateProject(ctx context.Context, userID string, in NewProject) (domain.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Project{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(userID) == "" {
		return domain.Project{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	stack, err := domain.ParseTechStack(in.TechStack)
	if err != nil {
		return domain.Project{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	p, err := e.Repo.SaveProject(ctx, domain.Project{
		UserID:      userID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		TechStack:   stack,
		Status:      domain.StatusGenerating,
	})
	if err != nil {
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	e.event(ctx, events.ProjectCreated, p.ID, userID, events.EventPayload{"name": p.Name, "tech_stack": p.TechStack})
	return p, nil
}

func (e *Engine) ListProjects(ctx context.Context, userID string) []domain.Project {
	return e.Repo.ListProjects(ctx, userID)
}

func (e *Engine) GetProject(ctx context.Context, userID, projectID string) (domain.Project, error) {
	return e.owned(ctx, userID, projectID)
}

type ProjectUpdate struct {
	Name        *string
	Description *string
	TechStack   *string
	PreviewURL  *string
}

// UpdateProject changes descriptive fields. Status and code only move through generation and edits.
func (e *Engine) UpdateProject(ctx context.Context, userID, projectID string, in ProjectUpdate) (domain.Project, error) {
	if _, err := e.owned(ctx, userID, projectID); err != nil {
		return domain.Project{}, err
	}
	var patch repo.Patch
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return domain.Project{}, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
		}
		patch.Name = &name
	}
	patch.Description = in.Description
	patch.PreviewURL = in.PreviewURL
	if in.TechStack != nil {
		stack, err := domain.ParseTechStack(*in.TechStack)
		if err != nil {
			return domain.Project{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		patch.TechStack = &stack
	}
	p, err := e.Repo.UpdateProject(ctx, projectID, patch)
	if err != nil {
		return domain.Project{}, err
	}
	e.event(ctx, events.ProjectUpdated, p.ID, userID, nil)
	return p, nil
}

// DeleteProject cancels any run for the project and removes it.
func (e *Engine) DeleteProject(ctx context.Context, userID, projectID string) error {
	if _, err := e.owned(ctx, userID, projectID); err != nil {
		return err
	}
	e.Cancel(projectID)
	if !e.Repo.DeleteProject(ctx, projectID) {
		return ErrDeleteFailed
	}
	e.mu.Lock()
	delete(e.status, projectID)
	e.mu.Unlock()
	e.event(ctx, events.ProjectDeleted, projectID, userID, nil)
	return nil
}
