package engine

import (
	"context"
	"fmt"

	"appforge/internal/domain"
	"appforge/internal/events"
	"appforge/internal/filetree"
	"appforge/internal/repo"
)

func (e *Engine) completed(ctx context.Context, userID, projectID string) (domain.Project, []domain.CodeFile, error) {
	p, err := e.owned(ctx, userID, projectID)
	if err != nil {
		return domain.Project{}, nil, err
	}
	if p.Status != domain.StatusCompleted || p.GeneratedCode == nil {
		return domain.Project{}, nil, fmt.Errorf("%w: status is %s", ErrNotCompleted, p.Status)
	}
	files, err := filetree.Decode(*p.GeneratedCode)
	if err != nil {
		return domain.Project{}, nil, err
	}
	return p, files, nil
}

// Files returns the generated files of a completed project.
func (e *Engine) Files(ctx context.Context, userID, projectID string) ([]domain.CodeFile, error) {
	_, files, err := e.completed(ctx, userID, projectID)
	return files, err
}

// Tree returns the sorted file tree, optionally filtered by a path substring.
func (e *Engine) Tree(ctx context.Context, userID, projectID, filter string) ([]domain.FileNode, error) {
	files, err := e.Files(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	return filetree.BuildTree(files, filter), nil
}

func (e *Engine) ReadFile(ctx context.Context, userID, projectID, path string) (domain.CodeFile, error) {
	files, err := e.Files(ctx, userID, projectID)
	if err != nil {
		return domain.CodeFile{}, err
	}
	return filetree.NewFileSet(files).Get(path)
}

// Export bundles every file into one text document.
func (e *Engine) Export(ctx context.Context, userID, projectID string) (string, error) {
	files, err := e.Files(ctx, userID, projectID)
	if err != nil {
		return "", err
	}
	return filetree.Bundle(files), nil
}

// edit applies fn to the project's files and stores the result in one update.
func (e *Engine) edit(ctx context.Context, userID, projectID, action string, fn func(*filetree.FileSet) error) (domain.Project, error) {
	e.editMu.Lock()
	defer e.editMu.Unlock()
	_, files, err := e.completed(ctx, userID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	set := filetree.NewFileSet(files)
	if err := fn(set); err != nil {
		return domain.Project{}, err
	}
	code, err := filetree.Encode(set.Files())
	if err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.UpdateProject(ctx, projectID, repo.Patch{GeneratedCode: &code})
	if err != nil {
		return domain.Project{}, err
	}
	e.event(ctx, events.FileChanged, projectID, userID, events.EventPayload{"action": action, "files": set.Len()})
	return p, nil
}

// WriteFile creates or replaces one file.
func (e *Engine) WriteFile(ctx context.Context, userID, projectID, path, content, language string) (domain.CodeFile, error) {
	var out domain.CodeFile
	_, err := e.edit(ctx, userID, projectID, "write", func(s *filetree.FileSet) error {
		f, err := s.Put(path, content, language)
		out = f
		return err
	})
	return out, err
}

// CreateFile adds a file and fails when the path is taken.
func (e *Engine) CreateFile(ctx context.Context, userID, projectID, path, content, language string) (domain.CodeFile, error) {
	var out domain.CodeFile
	_, err := e.edit(ctx, userID, projectID, "create", func(s *filetree.FileSet) error {
		f, err := s.Create(path, content, language)
		out = f
		return err
	})
	return out, err
}

// RemoveFile deletes a file or a whole folder and reports how many files went away.
func (e *Engine) RemoveFile(ctx context.Context, userID, projectID, path string) (int, error) {
	var n int
	_, err := e.edit(ctx, userID, projectID, "remove", func(s *filetree.FileSet) error {
		var err error
		n, err = s.Remove(path)
		return err
	})
	return n, err
}

func (e *Engine) RenameFile(ctx context.Context, userID, projectID, from, to string) (int, error) {
	var n int
	_, err := e.edit(ctx, userID, projectID, "rename", func(s *filetree.FileSet) error {
		var err error
		n, err = s.Rename(from, to)
		return err
	})
	return n, err
}
