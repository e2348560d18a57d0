package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"appforge/internal/auth"
)

type AuthConfig struct {
	Verifier auth.Verifier
	// DevTokens exposes POST /auth/dev-token.
	DevTokens bool
	TokenTTL  time.Duration
	// AllowUserHeader trusts X-User-Id when no bearer token is sent. Local use only.
	AllowUserHeader bool
}

func (c AuthConfig) tokenTTL() time.Duration {
	if c.TokenTTL <= 0 {
		return time.Hour
	}
	return c.TokenTTL
}

func userIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if u, ok := auth.UserFromContext(ctx); ok {
		return u.ID, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func publicPaths(basePath string) []string {
	return []string{
		path.Join(basePath, "health"),
		path.Join(basePath, "auth/dev-token"),
		path.Join(basePath, "openapi.json"),
		path.Join(basePath, "docs"),
	}
}

func newAuthMiddleware(basePath string, cfg AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	public := map[string]bool{}
	for _, p := range publicPaths(basePath) {
		public[p] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			// Browsers cannot set headers on websocket upgrades.
			queryToken := strings.TrimSpace(req.URL.Query().Get("access_token"))
			headerUser := strings.TrimSpace(req.Header.Get("X-User-Id"))

			token := queryToken
			if authz != "" {
				var ok bool
				if token, ok = bearerToken(authz); !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
			}
			if token != "" {
				user, err := cfg.Verifier.Verify(token)
				if err != nil {
					logger.Debug("rejected token", "path", req.URL.Path, "error", err)
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(auth.WithUser(req.Context(), user)))
				return
			}

			if headerUser != "" && cfg.AllowUserHeader {
				next.ServeHTTP(w, req.WithContext(auth.WithUser(req.Context(), auth.User{ID: headerUser})))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
