package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"appforge/internal/app"
	"appforge/internal/auth"
	"appforge/internal/config"
	"appforge/internal/queue"
	"appforge/internal/server"
)

const jwtIssuer = "appforge"

func verifier() auth.Verifier {
	return auth.Verifier{Secret: viper.GetString("jwt-secret"), Issuer: jwtIssuer}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowUserHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ string) error {
				authCfg := server.AuthConfig{
					Verifier:        verifier(),
					DevTokens:       a.Config.Auth.DevTokens,
					TokenTTL:        a.Config.TokenTTL(),
					AllowUserHeader: allowUserHeader,
				}
				if strings.TrimSpace(authCfg.Verifier.Secret) == "" && !allowUserHeader {
					return fmt.Errorf("APPFORGE_JWT_SECRET is required for bearer auth (or pass --allow-user-header)")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Chat:     a.Chat,
					BasePath: basePath,
					Auth:     authCfg,
					Logger:   a.Logger.With("component", "http"),
				})
				if err != nil {
					return err
				}
				hooks := server.NewWebhookDispatcher(a.Events, a.Config.Webhooks, a.Logger.With("component", "webhooks"))
				go hooks.Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving AppForge API on http://%s%s (OpenAPI at /openapi.json, docs at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowUserHeader, "allow-user-header", false, "trust X-User-Id from clients (local development only)")
	return cmd
}

func workerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queued generations",
		Long:  "Consumes generation jobs from the asynq queue configured under generation.queue.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ string) error {
				qcfg := a.Config.Generation.Queue
				if strings.TrimSpace(qcfg.Redis.Addr) == "" {
					return fmt.Errorf("generation.queue.redis.addr is required to run a worker")
				}
				if a.Config.Generation.Dispatch != config.DispatchAsynq {
					a.Logger.Warn("worker started while dispatch is inline; only other processes enqueue jobs")
				}
				w := queue.NewWorker(a.Engine, qcfg, a.Logger.With("component", "worker"))
				return w.Run(ctx)
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	token := &cobra.Command{Use: "token", Short: "API tokens"}
	var userID, email string
	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token signed with APPFORGE_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if userID == "" {
				userID = cfg.Auth.LocalUserID
				if email == "" {
					email = cfg.Auth.LocalEmail
				}
			}
			if ttl <= 0 {
				ttl = cfg.TokenTTL()
			}
			tok, err := verifier().Issue(auth.User{ID: userID, Email: email}, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"token": tok, "user_id": userID, "expires_at": time.Now().Add(ttl).UTC()})
			}
			fmt.Println(tok)
			return nil
		},
	}
	issue.Flags().StringVar(&userID, "for", "", "user id (defaults to the local user)")
	issue.Flags().StringVar(&email, "email", "", "email claim")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "lifetime (defaults to auth.token_ttl_minutes)")
	token.AddCommand(issue)
	return token
}
