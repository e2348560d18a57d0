package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"appforge/internal/app"
	"appforge/internal/config"
	"appforge/internal/db"
	"appforge/internal/domain"
	"appforge/internal/engine"
	"appforge/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "AppForge CLI",
	Long: `AppForge turns a project description into a generated code base.
- Project: a name, a description and a tech stack, owned by one user.
- Generation: a fixed sequence of steps that ends in completed or error; retry restarts a failed run.
- Files: the generated code, browsable as a tree and editable file by file.
- Chat: a scripted assistant that can kick off regeneration.
- Event log: every change, view with 'forge log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, text.FgRed.Sprint("error:"), err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("APPFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	envFile := filepath.Join(viper.GetString("workspace"), ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: load %s: %v\n", envFile, err)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "user id (overrides auth.local_user_id)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides log.level)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(stacksCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(filesCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
}

func storeCmd() *cobra.Command {
	store := &cobra.Command{Use: "store", Short: "Project storage"}
	store.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Replace the stored projects with an empty collection",
		Long:  "Recovers from unreadable project storage. Every project of every user is discarded.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ string) error {
				if err := a.Repo.Reset(ctx); err != nil {
					return err
				}
				fmt.Println("project storage reset")
				return nil
			})
		},
	})
	return store
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: projects, generation steps and file edits.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, _ string) error {
				evts, err := a.Events.Latest(ctx, n, projectID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Project", "Actor", "Payload"})
				for _, evt := range evts {
					tw.AppendRow(table.Row{evt.ID, relativeTS(evt.TS), evt.Type, evt.ProjectID, evt.ActorID, evt.Payload})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default appforge.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	return cfg
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if user := strings.TrimSpace(viper.GetString("user")); user != "" {
		cfg.Auth.LocalUserID = user
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}

// withApp opens the workspace services and hands fn the signed-in user's id.
func withApp(ctx context.Context, fn func(context.Context, *app.App, string) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, viper.GetString("workspace"), cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	userID, err := a.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	return fn(ctx, a, userID)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func statusText(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return text.FgGreen.Sprint(s)
	case domain.StatusError:
		return text.FgRed.Sprint(s)
	default:
		return text.FgYellow.Sprint(s)
	}
}

func relativeTS(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

func progressLine(p engine.Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d/%d] %s", p.Step, p.TotalSteps, statusText(p.Status))
	if p.Label != "" {
		fmt.Fprintf(&b, " %s", p.Label)
	}
	if p.Queued {
		b.WriteString(text.Faint.Sprint(" (queued)"))
	}
	if p.Cancelled {
		b.WriteString(text.FgYellow.Sprint(" (cancelled)"))
	}
	if p.Files > 0 {
		fmt.Fprintf(&b, " %s", humanize.Comma(int64(p.Files))+" files")
	}
	if p.Error != "" {
		fmt.Fprintf(&b, " %s", text.FgRed.Sprint(p.Error))
	}
	return b.String()
}
