package repo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"appforge/internal/domain"
	"appforge/internal/logging"
	"appforge/internal/storage"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrMalformed      = errors.New("malformed persisted data")
	ErrInvalidProject = errors.New("invalid project")
)

// StorageFault reports that the medium could not be read, decoded or written.
type StorageFault struct {
	Op  string
	Err error
}

func (f *StorageFault) Error() string {
	return fmt.Sprintf("storage %s: %v", f.Op, f.Err)
}

func (f *StorageFault) Unwrap() error { return f.Err }

// Patch lists the fields UpdateProject may change. Nil fields are left alone.
type Patch struct {
	Name               *string
	Description        *string
	TechStack          *domain.TechStack
	Status             *domain.Status
	GeneratedCode      *string
	ClearGeneratedCode bool
	PreviewURL         *string
}

// Repo keeps every project in one region of the medium. Each mutation reads
// the whole collection, changes it and writes it back under mu.
type Repo struct {
	Medium storage.Medium
	Key    string
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func(time.Time) string

	mu sync.Mutex
}

func New(m storage.Medium, key string, logger *slog.Logger) *Repo {
	return &Repo{
		Medium: m,
		Key:    key,
		Logger: logging.OrDiscard(logger),
		Now:    time.Now,
		NewID:  NewProjectID,
	}
}

// NewProjectID returns proj_ followed by the base-36 millisecond clock and a random base-36 suffix.
func NewProjectID(now time.Time) string {
	u := uuid.New()
	suffix := strconv.FormatUint(binary.BigEndian.Uint64(u[:8]), 36)
	return "proj_" + strconv.FormatInt(now.UnixMilli(), 36) + suffix
}

func (r *Repo) now() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return now().UTC().Truncate(time.Millisecond)
}

func (r *Repo) logger() *slog.Logger {
	return logging.OrDiscard(r.Logger)
}

func (r *Repo) load(ctx context.Context) (collection, error) {
	data, ok, err := r.Medium.Get(ctx, r.Key)
	if err != nil {
		return collection{}, &StorageFault{Op: "read", Err: err}
	}
	if !ok {
		return collection{}, nil
	}
	c, err := decodeCollection(data)
	if err != nil {
		return collection{}, &StorageFault{Op: "decode", Err: err}
	}
	for _, rec := range c.records {
		if rec.invalid != nil {
			r.logger().Warn("skipping invalid project record", "key", r.Key, "error", rec.invalid)
		}
	}
	return c, nil
}

func (r *Repo) store(ctx context.Context, c collection) error {
	data, err := c.encode()
	if err != nil {
		return &StorageFault{Op: "encode", Err: err}
	}
	if err := r.Medium.Put(ctx, r.Key, data); err != nil {
		return &StorageFault{Op: "write", Err: err}
	}
	return nil
}

// ListProjects returns the user's projects in storage order. Storage faults are
// logged and yield an empty list.
func (r *Repo) ListProjects(ctx context.Context, userID string) []domain.Project {
	c, err := r.load(ctx)
	if err != nil {
		r.logger().Error("list projects", "user_id", userID, "error", err)
		return []domain.Project{}
	}
	out := []domain.Project{}
	for _, rec := range c.records {
		if rec.invalid == nil && rec.project.UserID == userID {
			out = append(out, rec.project)
		}
	}
	return out
}

// GetProject returns ErrNotFound for unknown ids and, after logging, for unreadable storage.
func (r *Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	c, err := r.load(ctx)
	if err != nil {
		r.logger().Error("get project", "project_id", id, "error", err)
		return domain.Project{}, ErrNotFound
	}
	i := c.find(id)
	if i < 0 {
		return domain.Project{}, ErrNotFound
	}
	return c.records[i].project, nil
}

// SaveProject upserts p. It assigns an id and createdAt when missing and always refreshes updatedAt.
func (r *Repo) SaveProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	if strings.TrimSpace(p.UserID) == "" {
		return domain.Project{}, fmt.Errorf("%w: userId required", ErrInvalidProject)
	}
	if p.Status == "" {
		p.Status = domain.StatusGenerating
	}
	if !p.Status.Valid() {
		return domain.Project{}, fmt.Errorf("%w: status %q", ErrInvalidProject, p.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.load(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	now := r.now()
	if p.ID == "" {
		newID := r.NewID
		if newID == nil {
			newID = NewProjectID
		}
		p.ID = newID(now)
	}
	i := c.find(p.ID)
	switch {
	case i >= 0:
		p.CreatedAt = c.records[i].project.CreatedAt
	case p.CreatedAt.IsZero():
		p.CreatedAt = now
	default:
		p.CreatedAt = p.CreatedAt.UTC().Truncate(time.Millisecond)
	}
	p.UpdatedAt = notBefore(now, p.CreatedAt)
	if i >= 0 {
		c.records[i] = record{project: p}
	} else {
		c.records = append(c.records, record{project: p})
	}
	if err := r.store(ctx, c); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// UpdateProject merges patch into the stored record and refreshes updatedAt.
func (r *Repo) UpdateProject(ctx context.Context, id string, patch Patch) (domain.Project, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return domain.Project{}, fmt.Errorf("%w: status %q", ErrInvalidProject, *patch.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.load(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	i := c.find(id)
	if i < 0 {
		return domain.Project{}, ErrNotFound
	}
	p := c.records[i].project
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.TechStack != nil {
		p.TechStack = *patch.TechStack
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.ClearGeneratedCode {
		p.GeneratedCode = nil
	}
	if patch.GeneratedCode != nil {
		code := *patch.GeneratedCode
		p.GeneratedCode = &code
	}
	if patch.PreviewURL != nil {
		url := *patch.PreviewURL
		p.PreviewURL = &url
	}
	p.UpdatedAt = notBefore(r.now(), p.CreatedAt)
	c.records[i] = record{project: p}
	if err := r.store(ctx, c); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject removes the record and reports whether the collection was rewritten.
func (r *Repo) DeleteProject(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.load(ctx)
	if err != nil {
		r.logger().Error("delete project", "project_id", id, "error", err)
		return false
	}
	kept := c.records[:0]
	for _, rec := range c.records {
		if rec.invalid == nil && rec.project.ID == id {
			continue
		}
		kept = append(kept, rec)
	}
	c.records = kept
	if err := r.store(ctx, c); err != nil {
		r.logger().Error("delete project", "project_id", id, "error", err)
		return false
	}
	return true
}

// Reset replaces the region with an empty collection, discarding unreadable data.
func (r *Repo) Reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store(ctx, collection{})
}

func notBefore(t, floor time.Time) time.Time {
	if t.Before(floor) {
		return floor
	}
	return t
}
