package filetree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appforge/internal/domain"
)

func paths(files []domain.CodeFile) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Path)
	}
	return out
}

func TestFileSetEdits(t *testing.T) {
	s := NewFileSet([]domain.CodeFile{
		file("src/App.tsx", "app"),
		file("src/pages/Home.tsx", "home"),
		file("package.json", "{}"),
	})
	require.Equal(t, 3, s.Len())

	f, err := s.Put("src/App.tsx", "app v2", "")
	require.NoError(t, err)
	assert.Equal(t, "typescript", f.Language)
	got, err := s.Get("/src/App.tsx")
	require.NoError(t, err)
	assert.Equal(t, "app v2", got.Content)

	_, err = s.Create("src/App.tsx", "dup", "")
	assert.ErrorIs(t, err, ErrFileExists)

	_, err = s.Create("README.md", "# readme", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/App.tsx", "src/pages/Home.tsx", "package.json", "README.md"}, paths(s.Files()))

	_, err = s.Put("src/pages", "x", "")
	assert.ErrorIs(t, err, ErrPathConflict, "a folder cannot become a file")
	_, err = s.Put("package.json/extra.ts", "x", "")
	assert.ErrorIs(t, err, ErrPathConflict, "a file cannot become a folder")
	_, err = s.Put("src/", "x", "")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestFileSetRemove(t *testing.T) {
	s := NewFileSet([]domain.CodeFile{
		file("src/App.tsx", ""), file("src/pages/Home.tsx", ""), file("src/pages/About.tsx", ""), file("package.json", ""),
	})
	n, err := s.Remove("src/pages")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"src/App.tsx", "package.json"}, paths(s.Files()))

	n, err = s.Remove("package.json")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Remove("missing.txt")
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = s.Get("package.json")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileSetRename(t *testing.T) {
	s := NewFileSet([]domain.CodeFile{
		file("src/pages/Home.tsx", "home"), file("src/App.tsx", "app"), file("notes.txt", "n"),
	})

	n, err := s.Rename("src/pages", "src/views")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"src/views/Home.tsx", "src/App.tsx", "notes.txt"}, paths(s.Files()))

	_, err = s.Rename("notes.txt", "notes.md")
	require.NoError(t, err)
	f, err := s.Get("notes.md")
	require.NoError(t, err)
	assert.Equal(t, "markdown", f.Language)

	_, err = s.Rename("notes.md", "src/App.tsx")
	assert.ErrorIs(t, err, ErrFileExists)
	_, err = s.Rename("src", "src/inner")
	assert.ErrorIs(t, err, ErrPathConflict)
	_, err = s.Rename("ghost", "other")
	assert.ErrorIs(t, err, ErrFileNotFound)

	n, err = s.Rename("src", "src")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFileSetRenameOntoOwnSubtree(t *testing.T) {
	s := NewFileSet([]domain.CodeFile{file("a/b/c.ts", "outer"), file("a/b/b/c.ts", "inner")})

	n, err := s.Rename("a/b", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a/c.ts", "a/b/c.ts"}, paths(s.Files()))
	f, err := s.Get("a/b/c.ts")
	require.NoError(t, err)
	assert.Equal(t, "inner", f.Content)
}

func TestEncodeDecode(t *testing.T) {
	files := []domain.CodeFile{file("src/App.tsx", "x"), file("package.json", "{}")}
	code, err := Encode(files)
	require.NoError(t, err)
	back, err := Decode(code)
	require.NoError(t, err)
	assert.Equal(t, files, back)

	empty, err := Encode(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", empty)

	_, err = Decode("{oops")
	assert.ErrorIs(t, err, ErrMalformedCode)
	_, err = Decode(`[{"path":"../x","content":""}]`)
	assert.ErrorIs(t, err, ErrMalformedCode)

	deduped, err := Decode(`[{"path":"a.ts","content":"1"},{"path":"/a.ts","content":"2"}]`)
	require.NoError(t, err)
	require.Len(t, deduped, 1)
	assert.Equal(t, "2", deduped[0].Content)
}

func TestBundle(t *testing.T) {
	out := Bundle([]domain.CodeFile{file("a.ts", "A"), file("b/c.ts", "C")})
	assert.Equal(t, "// a.ts\nA\n\n\n// b/c.ts\nC\n\n", out)
	assert.Equal(t, "", Bundle(nil))
}
