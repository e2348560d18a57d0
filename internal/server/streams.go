package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"appforge/internal/auth"
	"appforge/internal/chat"
	"appforge/internal/engine"
)

const progressPollInterval = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ChatFrame is one websocket message on the chat stream.
type ChatFrame struct {
	Type               string            `json:"type"` // chunk, done or error
	Text               string            `json:"text,omitempty"`
	TriggersGeneration bool              `json:"triggers_generation,omitempty"`
	Progress           *ProgressResponse `json:"progress,omitempty"`
	Error              string            `json:"error,omitempty"`
}

type streams struct {
	engine    *engine.Engine
	assistant chat.Assistant
	logger    *slog.Logger
}

func registerStreams(r chi.Router, basePath string, e *engine.Engine, assistant chat.Assistant, logger *slog.Logger) {
	s := &streams{engine: e, assistant: assistant, logger: logger}
	r.Get(path.Join(basePath, "chat/stream"), s.chat)
	r.Get(path.Join(basePath, "projects/{project_id}/progress/stream"), s.progress)
}

// chat reads ChatRequest messages and streams each reply as chunk frames
// holding the text so far, followed by a done frame. Closing the socket
// stops the reply in flight.
func (s *streams) chat(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("chat stream upgrade", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	requests := make(chan ChatRequest)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req ChatRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range requests {
		if req.Message == "" {
			if conn.WriteJSON(ChatFrame{Type: "error", Error: "message is required"}) != nil {
				return
			}
			continue
		}
		var writeErr error
		reply, err := s.assistant.Respond(ctx, req.Message, func(partial string) {
			if writeErr == nil {
				writeErr = conn.WriteJSON(ChatFrame{Type: "chunk", Text: partial})
				if writeErr != nil {
					cancel()
				}
			}
		})
		if err != nil {
			return
		}
		done := ChatFrame{Type: "done", Text: reply.Text, TriggersGeneration: reply.TriggersGeneration}
		if reply.TriggersGeneration && req.ProjectID != "" {
			prog, err := s.engine.StartGeneration(ctx, user.ID, req.ProjectID)
			if err != nil {
				done.Error = err.Error()
			} else {
				pr := progressResponse(prog)
				done.Progress = &pr
			}
		}
		if err := conn.WriteJSON(done); err != nil {
			return
		}
	}
}

// progress pushes the project's progress whenever it changes and closes
// after a terminal state. Runs in other processes are picked up by polling.
func (s *streams) progress(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		return
	}
	projectID := chi.URLParam(r, "project_id")
	ctx := r.Context()
	current, err := s.engine.Progress(ctx, user.ID, projectID)
	if err != nil {
		respondStatusError(w, handleError(err))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("progress stream upgrade", "error", err)
		return
	}
	defer conn.Close()

	changed := make(chan struct{}, 1)
	unsubscribe := s.engine.Subscribe(func(p engine.Progress) {
		if p.ProjectID != projectID {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()
	last := current
	if err := conn.WriteJSON(progressResponse(current)); err != nil {
		return
	}
	for !last.Terminal() {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-changed:
		case <-ticker.C:
		}
		next, err := s.engine.Progress(ctx, user.ID, projectID)
		if err != nil {
			_ = conn.WriteJSON(map[string]string{"error": err.Error()})
			return
		}
		if next == last {
			continue
		}
		last = next
		if err := conn.WriteJSON(progressResponse(next)); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
}
