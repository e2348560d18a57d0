package server

import (
	"time"

	"appforge/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
	TechStack   string `json:"tech_stack" enum:"react-typescript,nextjs,vue-typescript,nodejs-express,python-fastapi,fullstack-react"`
	Generate    bool   `json:"generate,omitempty" doc:"Start generation right after creating the project"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	TechStack   *string `json:"tech_stack,omitempty" enum:"react-typescript,nextjs,vue-typescript,nodejs-express,python-fastapi,fullstack-react"`
	PreviewURL  *string `json:"preview_url,omitempty"`
}

type WriteFileRequest struct {
	Content   string `json:"content"`
	Language  string `json:"language,omitempty"`
	Exclusive bool   `json:"exclusive,omitempty" doc:"Fail with 409 when the path already exists"`
}

type RenameFileRequest struct {
	From string `json:"from" minLength:"1"`
	To   string `json:"to" minLength:"1"`
}

type ChatRequest struct {
	Message   string `json:"message" minLength:"1"`
	ProjectID string `json:"project_id,omitempty" doc:"Project to regenerate when the reply asks for it"`
}

type DevTokenRequest struct {
	UserID string `json:"user_id" minLength:"1"`
	Email  string `json:"email,omitempty"`
}

// Responses

type ProjectResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	TechStack     string    `json:"tech_stack"`
	Status        string    `json:"status" enum:"generating,completed,error"`
	GeneratedCode *string   `json:"generated_code,omitempty"`
	PreviewURL    *string   `json:"preview_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ProgressResponse struct {
	ProjectID  string `json:"project_id"`
	Status     string `json:"status"`
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Label      string `json:"label,omitempty"`
	Running    bool   `json:"running"`
	Queued     bool   `json:"queued,omitempty"`
	Files      int    `json:"files,omitempty"`
	Error      string `json:"error,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
}

type CreateProjectResponse struct {
	Project  ProjectResponse   `json:"project"`
	Progress *ProgressResponse `json:"progress,omitempty"`
}

type FileNodeResponse struct {
	Name     string             `json:"name"`
	Path     string             `json:"path"`
	Type     string             `json:"type" enum:"file,folder"`
	Children []FileNodeResponse `json:"children,omitempty"`
	Size     int                `json:"size,omitempty"`
	Language string             `json:"language,omitempty"`
}

type CodeFileResponse struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Language string `json:"language"`
}

type CountResponse struct {
	Files int `json:"files"`
}

type ChatResponse struct {
	Text               string            `json:"text"`
	TriggersGeneration bool              `json:"triggers_generation"`
	Progress           *ProgressResponse `json:"progress,omitempty"`
}

type DevTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type StackResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:            p.ID,
		UserID:        p.UserID,
		Name:          p.Name,
		Description:   p.Description,
		TechStack:     string(p.TechStack),
		Status:        string(p.Status),
		GeneratedCode: p.GeneratedCode,
		PreviewURL:    p.PreviewURL,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func fileNodeResponses(nodes []domain.FileNode) []FileNodeResponse {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]FileNodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, FileNodeResponse{
			Name:     n.Name,
			Path:     n.Path,
			Type:     string(n.Type),
			Children: fileNodeResponses(n.Children),
			Size:     n.Size,
			Language: n.Language,
		})
	}
	return out
}

func codeFileResponse(f domain.CodeFile) CodeFileResponse {
	return CodeFileResponse{Path: f.Path, Content: f.Content, Language: f.Language}
}
