package appforgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal AppForge HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// UserID is sent as X-User-Id when no bearer token is set.
	UserID     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	TechStack     string    `json:"tech_stack"`
	Status        string    `json:"status"`
	GeneratedCode *string   `json:"generated_code,omitempty"`
	PreviewURL    *string   `json:"preview_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Progress is a snapshot of a project's generation.
type Progress struct {
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

// Done reports whether generation has stopped for good.
func (p Progress) Done() bool {
	if p.Running || p.Queued {
		return false
	}
	return p.Cancelled || p.Status != "generating"
}

// FileNode is one entry of the generated file tree.
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Children []FileNode `json:"children,omitempty"`
	Size     int        `json:"size,omitempty"`
	Language string     `json:"language,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TechStack   string `json:"tech_stack"`
	Generate    bool   `json:"generate,omitempty"`
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "v0/projects", nil, &resp)
	return resp, err
}

// CreateProject creates a project and, with Generate set, starts generating it.
func (c *Client) CreateProject(ctx context.Context, in CreateProjectInput) (Project, error) {
	var resp struct {
		Project Project `json:"project"`
	}
	err := c.do(ctx, http.MethodPost, "v0/projects", in, &resp)
	return resp.Project, err
}

func (c *Client) GetProject(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, projectPath(id, ""), nil, nil)
}

// Generate starts or restarts generation.
func (c *Client) Generate(ctx context.Context, id string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodPost, projectPath(id, "generate"), nil, &resp)
	return resp, err
}

// Retry restarts a failed generation.
func (c *Client) Retry(ctx context.Context, id string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodPost, projectPath(id, "retry"), nil, &resp)
	return resp, err
}

func (c *Client) Progress(ctx context.Context, id string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, projectPath(id, "progress"), nil, &resp)
	return resp, err
}

// WaitGenerated polls progress every interval until generation stops.
func (c *Client) WaitGenerated(ctx context.Context, id string, interval time.Duration) (Progress, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		p, err := c.Progress(ctx, id)
		if err != nil || p.Done() {
			return p, err
		}
		select {
		case <-ctx.Done():
			return p, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tree returns the file tree, optionally filtered by a path substring.
func (c *Client) Tree(ctx context.Context, id, filter string) ([]FileNode, error) {
	endpoint := projectPath(id, "tree")
	if filter != "" {
		endpoint += "?filter=" + url.QueryEscape(filter)
	}
	var resp []FileNode
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.UserID != "":
		req.Header.Set("X-User-Id", c.UserID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func projectPath(id, p string) string {
	endpoint := "v0/projects/" + url.PathEscape(id)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
