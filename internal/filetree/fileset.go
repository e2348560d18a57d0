package filetree

import (
	"errors"
	"fmt"
	"strings"

	"appforge/internal/domain"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrFileExists   = errors.New("file already exists")
	ErrPathConflict = errors.New("path conflicts with an existing file or folder")
)

// Dedupe normalizes paths, drops unusable ones and collapses repeats: the
// last occurrence supplies the content, the first decides the position.
func Dedupe(files []domain.CodeFile) []domain.CodeFile {
	out := make([]domain.CodeFile, 0, len(files))
	pos := make(map[string]int, len(files))
	for _, f := range files {
		p, err := NormalizePath(f.Path)
		if err != nil {
			continue
		}
		f.Path = p
		if i, ok := pos[p]; ok {
			out[i] = f
			continue
		}
		pos[p] = len(out)
		out = append(out, f)
	}
	return out
}

// FileSet is an editable, ordered set of files keyed by normalized path.
type FileSet struct {
	files []domain.CodeFile
	index map[string]int
}

func NewFileSet(files []domain.CodeFile) *FileSet {
	s := &FileSet{files: Dedupe(files)}
	s.reindex()
	return s
}

func (s *FileSet) reindex() {
	s.index = make(map[string]int, len(s.files))
	for i, f := range s.files {
		s.index[f.Path] = i
	}
}

func (s *FileSet) Len() int { return len(s.files) }

// Files returns a copy in set order.
func (s *FileSet) Files() []domain.CodeFile {
	return append([]domain.CodeFile(nil), s.files...)
}

func (s *FileSet) Get(p string) (domain.CodeFile, error) {
	np, err := NormalizePath(p)
	if err != nil {
		return domain.CodeFile{}, err
	}
	i, ok := s.index[np]
	if !ok {
		return domain.CodeFile{}, fmt.Errorf("%w: %s", ErrFileNotFound, np)
	}
	return s.files[i], nil
}

// Put creates or replaces a file. An empty language is detected from the extension.
func (s *FileSet) Put(p, content, lang string) (domain.CodeFile, error) {
	np, err := NormalizePath(p)
	if err != nil {
		return domain.CodeFile{}, err
	}
	if lang == "" {
		lang = Language(np)
	}
	f := domain.CodeFile{Path: np, Content: content, Language: lang}
	if i, ok := s.index[np]; ok {
		s.files[i] = f
		return f, nil
	}
	if err := s.checkFree(np, ""); err != nil {
		return domain.CodeFile{}, err
	}
	s.index[np] = len(s.files)
	s.files = append(s.files, f)
	return f, nil
}

// Create adds a new file and fails if the path is taken.
func (s *FileSet) Create(p, content, lang string) (domain.CodeFile, error) {
	np, err := NormalizePath(p)
	if err != nil {
		return domain.CodeFile{}, err
	}
	if _, ok := s.index[np]; ok {
		return domain.CodeFile{}, fmt.Errorf("%w: %s", ErrFileExists, np)
	}
	return s.Put(np, content, lang)
}

// Remove deletes a file, or every file under a folder path. It returns how many files went away.
func (s *FileSet) Remove(p string) (int, error) {
	np, err := NormalizePath(p)
	if err != nil {
		return 0, err
	}
	prefix := np + "/"
	kept := s.files[:0]
	removed := 0
	for _, f := range s.files {
		if f.Path == np || strings.HasPrefix(f.Path, prefix) {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	s.files = kept
	s.reindex()
	if removed == 0 {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, np)
	}
	return removed, nil
}

// Rename moves a file, or a folder with everything under it, keeping positions.
func (s *FileSet) Rename(from, to string) (int, error) {
	src, err := NormalizePath(from)
	if err != nil {
		return 0, err
	}
	dst, err := NormalizePath(to)
	if err != nil {
		return 0, err
	}
	var moved []int
	for i, f := range s.files {
		if f.Path == src || strings.HasPrefix(f.Path, src+"/") {
			moved = append(moved, i)
		}
	}
	if len(moved) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, src)
	}
	if src == dst {
		return len(moved), nil
	}
	if strings.HasPrefix(dst, src+"/") {
		return 0, fmt.Errorf("%w: cannot move %s into itself", ErrPathConflict, src)
	}
	renamed := make(map[int]string, len(moved))
	for _, i := range moved {
		target := dst + strings.TrimPrefix(s.files[i].Path, src)
		if j, taken := s.index[target]; taken && !under(s.files[j].Path, src) {
			return 0, fmt.Errorf("%w: %s", ErrFileExists, target)
		}
		if err := s.checkFree(target, src); err != nil {
			return 0, err
		}
		renamed[i] = target
	}
	for i, target := range renamed {
		if s.files[i].Language == Language(s.files[i].Path) {
			s.files[i].Language = Language(target)
		}
		s.files[i].Path = target
	}
	s.reindex()
	return len(moved), nil
}

// checkFree reports a conflict when p would sit under an existing file or
// over an existing folder. Paths under ignore are treated as already gone.
func (s *FileSet) checkFree(p, ignore string) error {
	skip := func(q string) bool {
		return ignore != "" && under(q, ignore)
	}
	for dir := Dir(p); dir != ""; dir = Dir(dir) {
		if _, ok := s.index[dir]; ok && !skip(dir) {
			return fmt.Errorf("%w: %s is a file", ErrPathConflict, dir)
		}
	}
	prefix := p + "/"
	for _, f := range s.files {
		if strings.HasPrefix(f.Path, prefix) && !skip(f.Path) {
			return fmt.Errorf("%w: %s is a folder", ErrPathConflict, p)
		}
	}
	return nil
}

// under reports whether p is dir itself or lies below it.
func under(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}
