package engine

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"appforge/internal/domain"
	"appforge/internal/filetree"
)

// Generator produces the file list for a project.
type Generator interface {
	Generate(ctx context.Context, p domain.Project) ([]domain.CodeFile, error)
}

type GeneratorFunc func(ctx context.Context, p domain.Project) ([]domain.CodeFile, error)

func (f GeneratorFunc) Generate(ctx context.Context, p domain.Project) ([]domain.CodeFile, error) {
	return f(ctx, p)
}

//go:embed templates
var templatesFS embed.FS

const templateExt = ".tmpl"

// TemplateGenerator renders the embedded starter templates for the project's stack.
type TemplateGenerator struct {
	FS fs.FS
}

func NewTemplateGenerator() TemplateGenerator {
	sub, _ := fs.Sub(templatesFS, "templates")
	return TemplateGenerator{FS: sub}
}

type templateData struct {
	Name        string
	Slug        string
	Description string
	Summary     string
	Stack       domain.TechStack
}

var templateFuncs = template.FuncMap{
	"json": func(s string) (string, error) {
		b, err := json.Marshal(s)
		return string(b), err
	},
}

func (g TemplateGenerator) Generate(ctx context.Context, p domain.Project) ([]domain.CodeFile, error) {
	if g.FS == nil {
		g = NewTemplateGenerator()
	}
	root := string(p.TechStack)
	if _, err := domain.ParseTechStack(root); err != nil {
		return nil, err
	}
	data := templateData{
		Name:        p.Name,
		Slug:        Slug(p.Name),
		Description: p.Description,
		Summary:     truncate(p.Description, 100),
		Stack:       p.TechStack,
	}
	var files []domain.CodeFile
	err := fs.WalkDir(g.FS, root, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(name, templateExt) {
			return nil
		}
		src, err := fs.ReadFile(g.FS, name)
		if err != nil {
			return err
		}
		tmpl, err := template.New(path.Base(name)).Delims("[[", "]]").Funcs(templateFuncs).Parse(string(src))
		if err != nil {
			return fmt.Errorf("parse template %s: %w", name, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return fmt.Errorf("render template %s: %w", name, err)
		}
		rel := strings.TrimSuffix(strings.TrimPrefix(name, root+"/"), templateExt)
		files = append(files, domain.CodeFile{Path: rel, Content: buf.String(), Language: filetree.Language(rel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

var whitespace = regexp.MustCompile(`\s+`)

// Slug lowercases name and joins whitespace runs with "-", the package.json naming used by the templates.
func Slug(name string) string {
	s := whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	if s == "" {
		return "project"
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
