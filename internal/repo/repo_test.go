package repo_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/db"
	"appforge/internal/domain"
	"appforge/internal/migrate"
	"appforge/internal/repo"
	"appforge/internal/storage"
)

const key = "ai-code-generator-projects"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newRepo(t *testing.T, m storage.Medium) *repo.Repo {
	t.Helper()
	r := repo.New(m, key, nil)
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r.Now = c.Now
	return r
}

type faultyMedium struct {
	storage.Medium
	readErr  error
	writeErr error
}

func (f *faultyMedium) Get(ctx context.Context, k string) ([]byte, bool, error) {
	if f.readErr != nil {
		return nil, false, f.readErr
	}
	return f.Medium.Get(ctx, k)
}

func (f *faultyMedium) Put(ctx context.Context, k string, v []byte) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.Medium.Put(ctx, k, v)
}

func TestSaveProjectAssignsIdentityAndTimestamps(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, storage.NewMemory(0))

	p, err := r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "Todo", TechStack: domain.StackReactTypeScript})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^proj_[0-9a-z]+$`), p.ID)
	assert.Equal(t, domain.StatusGenerating, p.Status)
	assert.False(t, p.CreatedAt.IsZero())
	assert.False(t, p.UpdatedAt.Before(p.CreatedAt))

	createdAt := p.CreatedAt
	p.Name = "Todo v2"
	p.CreatedAt = time.Time{}
	again, err := r.SaveProject(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, p.ID, again.ID)
	assert.True(t, again.CreatedAt.Equal(createdAt))
	assert.True(t, again.UpdatedAt.After(p.UpdatedAt))

	list := r.ListProjects(ctx, "u1")
	require.Len(t, list, 1, "saving the same id twice must upsert")
	assert.Equal(t, "Todo v2", list[0].Name)

	first, err := r.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, first.CreatedAt.Equal(again.CreatedAt), "createdAt never changes after the first save")
}

func TestSaveProjectKeepsOriginalCreatedAt(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, storage.NewMemory(0))
	p, err := r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "a"})
	require.NoError(t, err)

	p.CreatedAt = p.CreatedAt.Add(-48 * time.Hour)
	saved, err := r.SaveProject(ctx, p)
	require.NoError(t, err)
	assert.True(t, saved.CreatedAt.Equal(p.CreatedAt.Add(48*time.Hour)))
}

func TestSaveProjectRequiresOwner(t *testing.T) {
	r := newRepo(t, storage.NewMemory(0))
	_, err := r.SaveProject(context.Background(), domain.Project{Name: "orphan"})
	assert.ErrorIs(t, err, repo.ErrInvalidProject)
}

func TestListProjectsIsScopedToUser(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, storage.NewMemory(0))
	for i, user := range []string{"alice", "bob", "alice", "carol"} {
		_, err := r.SaveProject(ctx, domain.Project{UserID: user, Name: fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
	}

	alice := r.ListProjects(ctx, "alice")
	require.Len(t, alice, 2)
	assert.Equal(t, "p0", alice[0].Name)
	assert.Equal(t, "p2", alice[1].Name)
	for _, p := range alice {
		assert.Equal(t, "alice", p.UserID)
	}
	assert.Empty(t, r.ListProjects(ctx, "dave"))
	assert.NotNil(t, r.ListProjects(ctx, "dave"))
}

func TestGetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, storage.NewMemory(0))

	_, err := r.GetProject(ctx, "nope")
	assert.ErrorIs(t, err, repo.ErrNotFound)
	name := "x"
	_, err = r.UpdateProject(ctx, "nope", repo.Patch{Name: &name})
	assert.ErrorIs(t, err, repo.ErrNotFound)

	p, err := r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "Shop"})
	require.NoError(t, err)

	completed := domain.StatusCompleted
	code := `[{"path":"a.ts","content":"x","language":"typescript"}]`
	updated, err := r.UpdateProject(ctx, p.ID, repo.Patch{Status: &completed, GeneratedCode: &code})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)
	require.NotNil(t, updated.GeneratedCode)
	assert.Equal(t, code, *updated.GeneratedCode)
	assert.Equal(t, "Shop", updated.Name)
	assert.True(t, updated.UpdatedAt.After(p.UpdatedAt))

	generating := domain.StatusGenerating
	cleared, err := r.UpdateProject(ctx, p.ID, repo.Patch{Status: &generating, ClearGeneratedCode: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.GeneratedCode)

	bad := domain.Status("paused")
	_, err = r.UpdateProject(ctx, p.ID, repo.Patch{Status: &bad})
	assert.ErrorIs(t, err, repo.ErrInvalidProject)

	assert.True(t, r.DeleteProject(ctx, p.ID))
	_, err = r.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.True(t, r.DeleteProject(ctx, p.ID), "deleting an absent id still rewrites the collection")
}

func TestWriteFaultsPropagate(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, storage.NewMemory(400))
	p, err := r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "small"})
	require.NoError(t, err)

	big := make([]byte, 500)
	for i := range big {
		big[i] = 'x'
	}
	code := string(big)
	_, err = r.UpdateProject(ctx, p.ID, repo.Patch{GeneratedCode: &code})
	var fault *repo.StorageFault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "write", fault.Op)
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)

	got, err := r.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.GeneratedCode, "a failed write leaves the stored record untouched")

	_, err = r.SaveProject(ctx, domain.Project{UserID: "u1", Name: string(big)})
	assert.ErrorIs(t, err, storage.ErrQuotaExceeded)
}

func TestReadFaultsDegrade(t *testing.T) {
	ctx := context.Background()
	m := &faultyMedium{Medium: storage.NewMemory(0)}
	r := newRepo(t, m)
	p, err := r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "a"})
	require.NoError(t, err)

	m.readErr = errors.New("disk unplugged")
	assert.Empty(t, r.ListProjects(ctx, "u1"))
	_, err = r.GetProject(ctx, p.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.False(t, r.DeleteProject(ctx, p.ID))

	_, err = r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "b"})
	var fault *repo.StorageFault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "read", fault.Op)

	m.readErr = nil
	m.writeErr = errors.New("read-only")
	assert.False(t, r.DeleteProject(ctx, p.ID))
	assert.Len(t, r.ListProjects(ctx, "u1"), 1)
}

func TestMalformedCollection(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory(0)
	require.NoError(t, m.Put(ctx, key, []byte(`{not json`)))
	r := newRepo(t, m)

	assert.Empty(t, r.ListProjects(ctx, "u1"))
	_, err := r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "a"})
	assert.ErrorIs(t, err, repo.ErrMalformed)

	require.NoError(t, r.Reset(ctx))
	_, err = r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "a"})
	require.NoError(t, err)
	assert.Len(t, r.ListProjects(ctx, "u1"), 1)
}

func TestInvalidRecordsAreHiddenButPreserved(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory(0)
	seed := `[
		{"id":"bad","userId":"u1","status":"paused","createdAt":"2024-01-01T00:00:00.000Z"},
		{"id":"old","userId":"u1","name":"Legacy","techStack":"react-typescript","status":"completed","createdAt":"2023-05-01T10:00:00.000Z"},
		null
	]`
	require.NoError(t, m.Put(ctx, key, []byte(seed)))
	r := newRepo(t, m)

	list := r.ListProjects(ctx, "u1")
	require.Len(t, list, 1)
	assert.Equal(t, "old", list[0].ID)
	assert.True(t, list[0].UpdatedAt.Equal(list[0].CreatedAt), "missing updatedAt upgrades to createdAt")

	_, err := r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "new"})
	require.NoError(t, err)

	raw, _, err := m.Get(ctx, key)
	require.NoError(t, err)
	var items []json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &items))
	require.Len(t, items, 4)
	assert.Contains(t, string(items[0]), `"paused"`)
	assert.Equal(t, "null", string(items[2]))
}

func TestConcurrentSavesKeepEveryRecord(t *testing.T) {
	ctx := context.Background()
	r := newRepo(t, storage.NewMemory(0))
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.SaveProject(ctx, domain.Project{ID: fmt.Sprintf("p%02d", i), UserID: "u1"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.ListProjects(ctx, "u1"), 25)
}

func TestSQLiteBackedRepo(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, migrate.Migrate(conn))

	r := newRepo(t, storage.NewSQLite(conn))
	p, err := r.SaveProject(ctx, domain.Project{UserID: "u1", Name: "Persisted", TechStack: domain.StackNextJS})
	require.NoError(t, err)

	reopened := newRepo(t, storage.NewSQLite(conn))
	got, err := reopened.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, domain.StackNextJS, got.TechStack)
}
