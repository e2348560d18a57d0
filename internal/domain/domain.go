package domain

import (
	"fmt"
	"time"
)

// Status is the generation state of a project.
type Status string

const (
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ParseStatus rejects anything outside the three known states.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusGenerating, StatusCompleted, StatusError:
		return Status(s), nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid status %q", string(s))
	}
	return []byte(s), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// TechStack names the template family used for generation.
type TechStack string

const (
	StackReactTypeScript TechStack = "react-typescript"
	StackVueTypeScript   TechStack = "vue-typescript"
	StackNextJS          TechStack = "nextjs"
	StackNodeExpress     TechStack = "nodejs-express"
	StackPythonFastAPI   TechStack = "python-fastapi"
	StackFullstackReact  TechStack = "fullstack-react"
)

type StackInfo struct {
	ID          TechStack `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

// TechStacks lists the supported stacks in display order.
var TechStacks = []StackInfo{
	{StackReactTypeScript, "React + TypeScript", "Modern React with TypeScript and Tailwind CSS"},
	{StackVueTypeScript, "Vue 3 + TypeScript", "Vue 3 with Composition API and TypeScript"},
	{StackNextJS, "Next.js", "Full-stack React framework with SSR"},
	{StackNodeExpress, "Node.js + Express", "Backend API with Express.js"},
	{StackPythonFastAPI, "Python + FastAPI", "Modern Python API framework"},
	{StackFullstackReact, "Full-stack React", "React frontend with Node.js backend"},
}

func ParseTechStack(s string) (TechStack, error) {
	for _, st := range TechStacks {
		if string(st.ID) == s {
			return st.ID, nil
		}
	}
	return "", fmt.Errorf("invalid tech stack %q", s)
}

// Project is the persisted record. Field names follow the stored JSON layout.
type Project struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	TechStack     TechStack `json:"techStack"`
	Status        Status    `json:"status"`
	GeneratedCode *string   `json:"generatedCode,omitempty"`
	PreviewURL    *string   `json:"previewUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type CodeFile struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

type NodeType string

const (
	NodeFile   NodeType = "file"
	NodeFolder NodeType = "folder"
)

type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     NodeType   `json:"type"`
	Children []FileNode `json:"children,omitempty"`
	Size     int        `json:"size,omitempty"`
	Language string     `json:"language,omitempty"`
}

type Event struct {
	ID        int64  `json:"id"`
	TS        string `json:"ts" format:"date-time"`
	Type      string `json:"type"`
	ProjectID string `json:"project_id,omitempty"`
	ActorID   string `json:"actor_id"`
	Payload   string `json:"payload_json"`
}
