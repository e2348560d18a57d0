package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/db"
	"appforge/internal/domain"
	"appforge/internal/engine"
	"appforge/internal/events"
	"appforge/internal/filetree"
	"appforge/internal/migrate"
	"appforge/internal/repo"
	"appforge/internal/storage"
)

type testEnv struct {
	Engine *engine.Engine
	Repo   *repo.Repo
	Events events.Writer
	Ctx    context.Context
}

func newTestEnv(t *testing.T, opts engine.Options) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return newEnvWithMedium(t, storage.NewSQLite(conn), events.Writer{DB: conn}, opts)
}

func newEnvWithMedium(t *testing.T, m storage.Medium, w events.Writer, opts engine.Options) testEnv {
	t.Helper()
	r := repo.New(m, "projects", nil)
	if opts.Steps == nil && opts.StepDelay == 0 {
		opts.StepDelay = time.Millisecond
	}
	e := engine.New(r, w, opts)
	t.Cleanup(e.Close)
	return testEnv{Engine: e, Repo: r, Events: w, Ctx: context.Background()}
}

func (env testEnv) create(t *testing.T, user, stack string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, user, engine.NewProject{Name: "Task Tracker", Description: "Track team tasks", TechStack: stack})
	require.NoError(t, err)
	return p
}

func (env testEnv) runToEnd(t *testing.T, user, id string) domain.Project {
	t.Helper()
	_, err := env.Engine.StartGeneration(env.Ctx, user, id)
	require.NoError(t, err)
	return env.wait(t, user, id)
}

func (env testEnv) wait(t *testing.T, user, id string) domain.Project {
	t.Helper()
	ctx, cancel := context.WithTimeout(env.Ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.Engine.Wait(ctx, id))
	p, err := env.Engine.GetProject(env.Ctx, user, id)
	require.NoError(t, err)
	return p
}

// recordingSteps returns steps that log their labels; failAt (1-based) makes that step fail once.
func recordingSteps(failAt int) ([]engine.Step, func() []string) {
	var mu sync.Mutex
	var seen []string
	failed := false
	steps := make([]engine.Step, len(engine.StepLabels))
	for i, label := range engine.StepLabels {
		i, label := i, label
		steps[i] = engine.Step{Label: label, Run: func(ctx context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, label)
			if i+1 == failAt && !failed {
				failed = true
				return errors.New("model overloaded")
			}
			return nil
		}}
	}
	return steps, func() []string {
		mu.Lock()
		defer mu.Unlock()
		out := append([]string(nil), seen...)
		seen = nil
		return out
	}
}

func TestGenerationCompletes(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	var mu sync.Mutex
	var labels []string
	unsubscribe := env.Engine.Subscribe(func(p engine.Progress) {
		mu.Lock()
		defer mu.Unlock()
		if p.Label != "" {
			labels = append(labels, p.Label)
		}
	})
	defer unsubscribe()

	p := env.create(t, "u1", "react-typescript")
	assert.Equal(t, domain.StatusGenerating, p.Status)
	assert.Nil(t, p.GeneratedCode)

	done := env.runToEnd(t, "u1", p.ID)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.GeneratedCode)
	files, err := filetree.Decode(*done.GeneratedCode)
	require.NoError(t, err)
	require.NotEmpty(t, files)

	byPath := map[string]domain.CodeFile{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	for _, want := range []string{"src/App.tsx", "src/pages/HomePage.tsx", "src/pages/Dashboard.tsx", "package.json"} {
		assert.Contains(t, byPath, want)
	}
	var pkg struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal([]byte(byPath["package.json"].Content), &pkg))
	assert.Equal(t, "task-tracker", pkg.Name)
	assert.Equal(t, "typescript", byPath["src/App.tsx"].Language)
	assert.Contains(t, byPath["src/pages/HomePage.tsx"].Content, `"Track team tasks"`)

	mu.Lock()
	assert.Equal(t, engine.StepLabels, labels)
	mu.Unlock()

	prog, err := env.Engine.Progress(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.True(t, prog.Terminal())
	assert.Equal(t, len(files), prog.Files)

	evts, err := env.Events.Latest(env.Ctx, 50, p.ID, "")
	require.NoError(t, err)
	require.NotEmpty(t, evts)
	assert.Equal(t, events.GenerationCompleted, evts[0].Type)
	steps, err := env.Events.Latest(env.Ctx, 50, p.ID, events.GenerationStep)
	require.NoError(t, err)
	assert.Len(t, steps, len(engine.StepLabels))
}

func TestEveryStackGeneratesFiles(t *testing.T) {
	gen := engine.NewTemplateGenerator()
	for _, st := range domain.TechStacks {
		t.Run(string(st.ID), func(t *testing.T) {
			files, err := gen.Generate(context.Background(), domain.Project{
				Name: "My \"Quoted\" App", Description: strings.Repeat("d", 150), TechStack: st.ID,
			})
			require.NoError(t, err)
			require.NotEmpty(t, files)
			joined := filetree.Bundle(files)
			assert.Contains(t, joined, `My \"Quoted\" App`)
			assert.NotContains(t, joined, strings.Repeat("d", 101), "descriptions are cut to 100 characters")
			for _, f := range files {
				_, err := filetree.NormalizePath(f.Path)
				assert.NoError(t, err)
				assert.NotEmpty(t, f.Language)
				assert.False(t, strings.HasSuffix(f.Path, ".tmpl"))
			}
		})
	}
	_, err := gen.Generate(context.Background(), domain.Project{Name: "x", TechStack: "cobol"})
	assert.Error(t, err)
	assert.Equal(t, "my-new-app", engine.Slug("My new \t app"))
	assert.Equal(t, "project", engine.Slug("   "))
}

func TestStepFaultEndsInError(t *testing.T) {
	steps, seen := recordingSteps(3)
	env := newTestEnv(t, engine.Options{Steps: steps})
	p := env.create(t, "u1", "nextjs")

	done := env.runToEnd(t, "u1", p.ID)
	assert.Equal(t, domain.StatusError, done.Status)
	assert.Nil(t, done.GeneratedCode)
	assert.Equal(t, engine.StepLabels[:3], seen(), "no step runs after the failing one")

	prog, err := env.Engine.Progress(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, prog.Status)
	assert.Contains(t, prog.Error, "model overloaded")

	failed, err := env.Events.Latest(env.Ctx, 5, p.ID, events.GenerationFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Payload, `"step":3`)
}

func TestEmptyGeneratorOutputIsAnError(t *testing.T) {
	env := newTestEnv(t, engine.Options{Generator: engine.GeneratorFunc(func(context.Context, domain.Project) ([]domain.CodeFile, error) {
		return []domain.CodeFile{{Path: "bad/", Content: "x"}}, nil
	})})
	p := env.create(t, "u1", "vue-typescript")
	done := env.runToEnd(t, "u1", p.ID)
	assert.Equal(t, domain.StatusError, done.Status)
	assert.Nil(t, done.GeneratedCode)
}

func TestRetryRestartsFromFirstStep(t *testing.T) {
	steps, seen := recordingSteps(2)
	env := newTestEnv(t, engine.Options{Steps: steps})
	p := env.create(t, "u1", "python-fastapi")

	_, err := env.Engine.Retry(env.Ctx, "u1", p.ID)
	assert.ErrorIs(t, err, engine.ErrNotRetryable)

	failed := env.runToEnd(t, "u1", p.ID)
	require.Equal(t, domain.StatusError, failed.Status)
	assert.Equal(t, engine.StepLabels[:2], seen())

	_, err = env.Engine.Retry(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	done := env.wait(t, "u1", p.ID)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, engine.StepLabels, seen(), "retry walks every step again from the first")
	assert.True(t, done.CreatedAt.Equal(p.CreatedAt))
}

func TestRegenerateClearsCodeWhileRunning(t *testing.T) {
	release := make(chan struct{})
	steps := engine.DelaySteps(0)
	steps[0].Run = func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	env := newTestEnv(t, engine.Options{Steps: steps})
	p := env.create(t, "u1", "react-typescript")
	close(release)
	done := env.runToEnd(t, "u1", p.ID)
	require.NotNil(t, done.GeneratedCode)

	release = make(chan struct{})
	_, err := env.Engine.StartGeneration(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	mid, err := env.Engine.GetProject(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGenerating, mid.Status)
	assert.Nil(t, mid.GeneratedCode)

	_, err = env.Engine.StartGeneration(env.Ctx, "u1", p.ID)
	assert.ErrorIs(t, err, engine.ErrGenerationRunning)

	close(release)
	again := env.wait(t, "u1", p.ID)
	assert.Equal(t, domain.StatusCompleted, again.Status)
}

func blockingSteps(started chan<- struct{}) []engine.Step {
	steps := engine.DelaySteps(0)
	steps[1].Run = func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	return steps
}

func TestCancelLeavesProjectUntouched(t *testing.T) {
	started := make(chan struct{}, 1)
	env := newTestEnv(t, engine.Options{Steps: blockingSteps(started)})
	p := env.create(t, "u1", "nodejs-express")

	_, err := env.Engine.StartGeneration(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	<-started
	assert.True(t, env.Engine.Running(p.ID))
	before, err := env.Repo.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)

	assert.True(t, env.Engine.Cancel(p.ID))
	after := env.wait(t, "u1", p.ID)
	assert.False(t, env.Engine.Running(p.ID))
	assert.Equal(t, domain.StatusGenerating, after.Status)
	assert.Nil(t, after.GeneratedCode)
	assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt), "a cancelled run writes nothing")

	prog, err := env.Engine.Progress(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.True(t, prog.Cancelled)
	assert.True(t, prog.Terminal(), "a cancelled run is final until restarted")

	cancelled, err := env.Events.Latest(env.Ctx, 5, p.ID, events.GenerationCancelled)
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)
	assert.False(t, env.Engine.Cancel(p.ID))
}

func TestCloseCancelsRuns(t *testing.T) {
	started := make(chan struct{}, 1)
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))
	r := repo.New(storage.NewSQLite(conn), "projects", nil)
	e := engine.New(r, events.Writer{DB: conn}, engine.Options{Steps: blockingSteps(started)})
	ctx := context.Background()
	p, err := e.CreateProject(ctx, "u1", engine.NewProject{Name: "x", TechStack: "nextjs"})
	require.NoError(t, err)
	_, err = e.StartGeneration(ctx, "u1", p.ID)
	require.NoError(t, err)
	<-started

	e.Close()
	assert.False(t, e.Running(p.ID))
	got, err := r.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGenerating, got.Status)
}

func TestDeleteDuringGeneration(t *testing.T) {
	started := make(chan struct{}, 1)
	env := newTestEnv(t, engine.Options{Steps: blockingSteps(started)})
	p := env.create(t, "u1", "fullstack-react")
	_, err := env.Engine.StartGeneration(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	<-started

	require.NoError(t, env.Engine.DeleteProject(env.Ctx, "u1", p.ID))
	ctx, cancel := context.WithTimeout(env.Ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, env.Engine.Wait(ctx, p.ID))
	_, err = env.Repo.GetProject(env.Ctx, p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOwnershipHidesOtherUsersProjects(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	p := env.create(t, "alice", "react-typescript")

	_, err := env.Engine.GetProject(env.Ctx, "mallory", p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	_, err = env.Engine.StartGeneration(env.Ctx, "mallory", p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.ErrorIs(t, env.Engine.DeleteProject(env.Ctx, "mallory", p.ID), repo.ErrNotFound)
	assert.Empty(t, env.Engine.ListProjects(env.Ctx, "mallory"))
	assert.Len(t, env.Engine.ListProjects(env.Ctx, "alice"), 1)
}

func TestCreateProjectValidation(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	_, err := env.Engine.CreateProject(env.Ctx, "u1", engine.NewProject{Name: " ", TechStack: "nextjs"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateProject(env.Ctx, "u1", engine.NewProject{Name: "x", TechStack: "rails"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
	_, err = env.Engine.CreateProject(env.Ctx, "", engine.NewProject{Name: "x", TechStack: "nextjs"})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)

	p := env.create(t, "u1", "nextjs")
	name, stack, preview := "Renamed", "vue-typescript", "https://preview.example/x"
	updated, err := env.Engine.UpdateProject(env.Ctx, "u1", p.ID, engine.ProjectUpdate{Name: &name, TechStack: &stack, PreviewURL: &preview})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, domain.StackVueTypeScript, updated.TechStack)
	require.NotNil(t, updated.PreviewURL)
	bad := "rails"
	_, err = env.Engine.UpdateProject(env.Ctx, "u1", p.ID, engine.ProjectUpdate{TechStack: &bad})
	assert.ErrorIs(t, err, engine.ErrInvalidInput)
}

func TestFileEdits(t *testing.T) {
	env := newTestEnv(t, engine.Options{})
	p := env.create(t, "u1", "react-typescript")

	_, err := env.Engine.Files(env.Ctx, "u1", p.ID)
	assert.ErrorIs(t, err, engine.ErrNotCompleted)
	_, err = env.Engine.WriteFile(env.Ctx, "u1", p.ID, "a.ts", "x", "")
	assert.ErrorIs(t, err, engine.ErrNotCompleted)

	env.runToEnd(t, "u1", p.ID)

	f, err := env.Engine.WriteFile(env.Ctx, "u1", p.ID, "src/App.tsx", "export {}", "")
	require.NoError(t, err)
	assert.Equal(t, "typescript", f.Language)
	got, err := env.Engine.ReadFile(env.Ctx, "u1", p.ID, "src/App.tsx")
	require.NoError(t, err)
	assert.Equal(t, "export {}", got.Content)

	_, err = env.Engine.CreateFile(env.Ctx, "u1", p.ID, "src/App.tsx", "", "")
	assert.ErrorIs(t, err, filetree.ErrFileExists)
	_, err = env.Engine.CreateFile(env.Ctx, "u1", p.ID, "README.md", "# Task Tracker", "")
	require.NoError(t, err)

	n, err := env.Engine.RenameFile(env.Ctx, "u1", p.ID, "src/pages", "src/views")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tree, err := env.Engine.Tree(env.Ctx, "u1", p.ID, "")
	require.NoError(t, err)
	_, ok := filetree.Find(tree, "src/views/HomePage.tsx")
	assert.True(t, ok)
	_, ok = filetree.Find(tree, "src/pages")
	assert.False(t, ok)

	filtered, err := env.Engine.Tree(env.Ctx, "u1", p.ID, "readme")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "README.md", filtered[0].Name)

	n, err = env.Engine.RemoveFile(env.Ctx, "u1", p.ID, "src/views")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = env.Engine.RemoveFile(env.Ctx, "u1", p.ID, "src/views")
	assert.ErrorIs(t, err, filetree.ErrFileNotFound)

	bundle, err := env.Engine.Export(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Contains(t, bundle, "// src/App.tsx\nexport {}\n")
	assert.NotContains(t, bundle, "HomePage")

	stored, err := env.Repo.GetProject(env.Ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, stored.Status)

	changes, err := env.Events.Latest(env.Ctx, 10, p.ID, events.FileChanged)
	require.NoError(t, err)
	assert.Len(t, changes, 4)
}

func TestOversizedOutputMarksError(t *testing.T) {
	env := newEnvWithMedium(t, storage.NewMemory(1024), events.Writer{}, engine.Options{})
	p := env.create(t, "u1", "react-typescript")
	done := env.runToEnd(t, "u1", p.ID)
	assert.Equal(t, domain.StatusError, done.Status)
	assert.Nil(t, done.GeneratedCode)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []engine.Job
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job engine.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func TestDispatchedGeneration(t *testing.T) {
	d := &recordingDispatcher{}
	env := newTestEnv(t, engine.Options{Dispatcher: d})
	p := env.create(t, "u1", "python-fastapi")

	prog, err := env.Engine.StartGeneration(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.True(t, prog.Queued)
	assert.False(t, env.Engine.Running(p.ID))
	require.Len(t, d.jobs, 1)
	assert.Equal(t, engine.Job{ProjectID: p.ID, UserID: "u1"}, d.jobs[0])

	require.NoError(t, env.Engine.Execute(env.Ctx, d.jobs[0]))
	done, err := env.Engine.GetProject(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	require.NoError(t, env.Engine.Execute(env.Ctx, d.jobs[0]), "stale jobs are dropped")
	require.NoError(t, env.Engine.Execute(env.Ctx, engine.Job{ProjectID: "proj_gone", UserID: "u1"}))

	d.err = errors.New("queue down")
	_, err = env.Engine.StartGeneration(env.Ctx, "u1", p.ID)
	assert.ErrorIs(t, err, d.err)
}

func TestDispatchFailureEndsInError(t *testing.T) {
	d := &recordingDispatcher{}
	env := newTestEnv(t, engine.Options{Dispatcher: d})
	p := env.create(t, "u1", "react-typescript")
	_, err := env.Engine.StartGeneration(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	require.NoError(t, env.Engine.Execute(env.Ctx, d.jobs[0]))

	d.err = errors.New("redis down")
	_, err = env.Engine.StartGeneration(env.Ctx, "u1", p.ID)
	require.ErrorIs(t, err, d.err)

	got, err := env.Engine.GetProject(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)
	assert.Nil(t, got.GeneratedCode)
	assert.False(t, env.Engine.Running(p.ID))

	prog, err := env.Engine.Progress(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.True(t, prog.Terminal())
	assert.Contains(t, prog.Error, "redis down")
	failed, err := env.Events.Latest(env.Ctx, 5, p.ID, events.GenerationFailed)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	d.err = nil
	prog, err = env.Engine.Retry(env.Ctx, "u1", p.ID)
	require.NoError(t, err)
	assert.True(t, prog.Queued)
}
