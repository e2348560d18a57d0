package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"appforge/internal/auth"
	"appforge/internal/chat"
	"appforge/internal/domain"
	"appforge/internal/engine"
	"appforge/internal/filetree"
	"appforge/internal/logging"
	"appforge/internal/repo"
	"appforge/internal/storage"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	Chat     chat.Assistant
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the AppForge API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	cfg.BasePath = basePath
	cfg.Logger = logging.OrDiscard(cfg.Logger)

	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestLogger(cfg.Logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Logger))
	hcfg := huma.DefaultConfig("AppForge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	e := cfg.Engine
	registerDocs(router, basePath)
	registerHealth(group)
	registerStacks(group)
	registerProjects(group, e)
	registerGeneration(group, e)
	registerFiles(group, e)
	registerChat(group, e, cfg.Chat)
	registerDevAuth(group, cfg.Auth)
	registerStreams(router, basePath, e, cfg.Chat, cfg.Logger)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", ww.Status(), "duration", time.Since(start))
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return newAPIError(http.StatusUnauthorized, "unauthorized", msg, nil)
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, filetree.ErrFileNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, filetree.ErrInvalidPath):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case errors.Is(err, engine.ErrGenerationRunning):
		return newAPIError(http.StatusConflict, "generation_running", msg, nil)
	case errors.Is(err, engine.ErrNotRetryable):
		return newAPIError(http.StatusConflict, "not_retryable", msg, nil)
	case errors.Is(err, engine.ErrNotCompleted):
		return newAPIError(http.StatusConflict, "not_completed", msg, nil)
	case errors.Is(err, filetree.ErrFileExists), errors.Is(err, filetree.ErrPathConflict):
		return newAPIError(http.StatusConflict, "path_conflict", msg, nil)
	case errors.Is(err, storage.ErrQuotaExceeded):
		return newAPIError(http.StatusInsufficientStorage, "quota_exceeded", msg, nil)
	}
	var fault *repo.StorageFault
	if errors.As(err, &fault) {
		return newAPIError(http.StatusInternalServerError, "storage_fault", "storage unavailable", map[string]any{"op": fault.Op, "error": fault.Err.Error()})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	var schema *huma.Schema
	if oas.Components != nil && oas.Components.Schemas != nil {
		schema = oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), false, "ApiError")
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: schema},
				},
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var out []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			out = append(out, op)
		}
	}
	return out
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>AppForge API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStacks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stacks",
		Method:      http.MethodGet,
		Path:        "/stacks",
		Summary:     "List supported tech stacks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StackResponse `json:"body"`
	}, error) {
		out := make([]StackResponse, 0, len(domain.TechStacks))
		for _, s := range domain.TechStacks {
			out = append(out, StackResponse{ID: string(s.ID), Name: s.Name, Description: s.Description})
		}
		return &struct {
			Body []StackResponse `json:"body"`
		}{Body: out}, nil
	})
}

type projectPath struct {
	ProjectID string `path:"project_id"`
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body CreateProjectResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, userID, engine.NewProject{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			TechStack:   input.Body.TechStack,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := CreateProjectResponse{}
		if input.Body.Generate {
			prog, err := e.StartGeneration(ctx, userID, p.ID)
			if err != nil {
				return nil, handleError(err)
			}
			pr := progressResponse(prog)
			resp.Progress = &pr
			if p, err = e.GetProject(ctx, userID, p.ID); err != nil {
				return nil, handleError(err)
			}
		}
		resp.Project = projectResponse(p)
		return &struct {
			Body CreateProjectResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List the caller's projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(e.ListProjects(ctx, userID))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project details",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, userID, input.ProjectID, engine.ProjectUpdate{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			TechStack:   input.Body.TechStack,
			PreviewURL:  input.Body.PreviewURL,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}",
		Summary:       "Delete project",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, userID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func progressResponse(p engine.Progress) ProgressResponse {
	return ProgressResponse{
		ProjectID:  p.ProjectID,
		Status:     string(p.Status),
		Step:       p.Step,
		TotalSteps: p.TotalSteps,
		Label:      p.Label,
		Running:    p.Running,
		Queued:     p.Queued,
		Files:      p.Files,
		Error:      p.Error,
		Cancelled:  p.Cancelled,
	}
}

type progressOutput struct {
	Body ProgressResponse `json:"body"`
}

func registerGeneration(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-generation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/generate",
		Summary:       "Start or restart code generation",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*progressOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.StartGeneration(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &progressOutput{Body: progressResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "retry-generation",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/retry",
		Summary:       "Retry a failed generation from the first step",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*progressOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Retry(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &progressOutput{Body: progressResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-generation",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/generate",
		Summary:     "Cancel the running generation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body map[string]bool `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetProject(ctx, userID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]bool `json:"body"`
		}{Body: map[string]bool{"cancelled": e.Cancel(input.ProjectID)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-progress",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/progress",
		Summary:     "Generation progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*progressOutput, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Progress(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &progressOutput{Body: progressResponse(p)}, nil
	})
}

func registerFiles(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-tree",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tree",
		Summary:     "File tree of the generated code",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Filter    string `query:"filter" doc:"Case-insensitive path substring"`
	}) (*struct {
		Body []FileNodeResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		nodes, err := e.Tree(ctx, userID, input.ProjectID, input.Filter)
		if err != nil {
			return nil, handleError(err)
		}
		body := fileNodeResponses(nodes)
		if body == nil {
			body = []FileNodeResponse{}
		}
		return &struct {
			Body []FileNodeResponse `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-files",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/files",
		Summary:     "Read one file, or every file when path is omitted",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Path      string `query:"path"`
	}) (*struct {
		Body []CodeFileResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		var files []domain.CodeFile
		if input.Path != "" {
			f, err := e.ReadFile(ctx, userID, input.ProjectID, input.Path)
			if err != nil {
				return nil, handleError(err)
			}
			files = []domain.CodeFile{f}
		} else {
			all, err := e.Files(ctx, userID, input.ProjectID)
			if err != nil {
				return nil, handleError(err)
			}
			files = all
		}
		out := make([]CodeFileResponse, 0, len(files))
		for _, f := range files {
			out = append(out, codeFileResponse(f))
		}
		return &struct {
			Body []CodeFileResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "write-file",
		Method:      http.MethodPut,
		Path:        "/projects/{project_id}/files",
		Summary:     "Create or replace a file",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Path      string           `query:"path" required:"true"`
		Body      WriteFileRequest `json:"body"`
	}) (*struct {
		Body CodeFileResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		write := e.WriteFile
		if input.Body.Exclusive {
			write = e.CreateFile
		}
		f, err := write(ctx, userID, input.ProjectID, input.Path, input.Body.Content, input.Body.Language)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CodeFileResponse `json:"body"`
		}{Body: codeFileResponse(f)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-file",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/files",
		Summary:     "Remove a file or a folder",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Path      string `query:"path" required:"true"`
	}) (*struct {
		Body CountResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.RemoveFile(ctx, userID, input.ProjectID, input.Path)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CountResponse `json:"body"`
		}{Body: CountResponse{Files: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-file",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/files/rename",
		Summary:     "Move a file or a folder",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      RenameFileRequest `json:"body"`
	}) (*struct {
		Body CountResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.RenameFile(ctx, userID, input.ProjectID, input.Body.From, input.Body.To)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CountResponse `json:"body"`
		}{Body: CountResponse{Files: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/export",
		Summary:     "Download every file as one text bundle",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *projectPath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		bundle, err := e.Export(ctx, userID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "text/plain; charset=utf-8",
			ContentDisposition: fmt.Sprintf(`attachment; filename="%s.txt"`, engine.Slug(p.Name)),
			Body:               []byte(bundle),
		}, nil
	})
}

func registerChat(api huma.API, e *engine.Engine, assistant chat.Assistant) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Ask the assistant; replies that request a build regenerate project_id",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body ChatRequest `json:"body"`
	}) (*struct {
		Body ChatResponse `json:"body"`
	}, error) {
		userID, authErr := userIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		reply := assistant.Reply(input.Body.Message)
		resp := ChatResponse{Text: reply.Text, TriggersGeneration: reply.TriggersGeneration}
		if reply.TriggersGeneration && input.Body.ProjectID != "" {
			prog, err := e.StartGeneration(ctx, userID, input.Body.ProjectID)
			if err != nil {
				return nil, handleError(err)
			}
			pr := progressResponse(prog)
			resp.Progress = &pr
		}
		return &struct {
			Body ChatResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, cfg AuthConfig) {
	if !cfg.DevTokens {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-token",
		Method:      http.MethodPost,
		Path:        "/auth/dev-token",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevTokenRequest `json:"body"`
	}) (*struct {
		Body DevTokenResponse `json:"body"`
	}, error) {
		user := strings.TrimSpace(input.Body.UserID)
		if user == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		ttl := cfg.tokenTTL()
		token, err := cfg.Verifier.Issue(auth.User{ID: user, Email: input.Body.Email}, ttl)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevTokenResponse `json:"body"`
		}{Body: DevTokenResponse{Token: token, ExpiresAt: time.Now().UTC().Add(ttl)}}, nil
	})
}
