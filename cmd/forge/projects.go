package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"appforge/internal/app"
	"appforge/internal/config"
	"appforge/internal/domain"
	"appforge/internal/engine"
	"appforge/internal/filetree"
)

const progressPoll = 500 * time.Millisecond

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your projects, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				items := a.Engine.ListProjects(ctx, userID)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Stack", "Status", "Files", "Updated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.TechStack, statusText(p.Status), fileCount(p), humanize.Time(p.UpdatedAt)})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "Total", len(items)})
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var in engine.NewProject
	var generate bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		Long:  "Creates a project in the generating state. With --generate the steps run right away and the command waits for them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				p, err := a.Engine.CreateProject(ctx, userID, in)
				if err != nil {
					return err
				}
				if !generate {
					return printProject(p)
				}
				if _, err := a.Engine.StartGeneration(ctx, userID, p.ID); err != nil {
					return err
				}
				if err := followProgress(ctx, a, userID, p.ID); err != nil {
					return err
				}
				p, err = a.Engine.GetProject(ctx, userID, p.ID)
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "project name")
	cmd.Flags().StringVar(&in.Description, "description", "", "what the app should do")
	cmd.Flags().StringVar(&in.TechStack, "stack", string(domain.StackReactTypeScript), "tech stack (see forge stacks)")
	cmd.Flags().BoolVar(&generate, "generate", false, "start generation after creating")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				p, err := a.Engine.GetProject(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var name, description, stack, previewURL string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project's name, description, stack or preview URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in engine.ProjectUpdate
			if cmd.Flags().Changed("name") {
				in.Name = &name
			}
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			if cmd.Flags().Changed("stack") {
				in.TechStack = &stack
			}
			if cmd.Flags().Changed("preview-url") {
				in.PreviewURL = &previewURL
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				p, err := a.Engine.UpdateProject(ctx, userID, args[0], in)
				if err != nil {
					return err
				}
				return printProject(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&stack, "stack", "", "tech stack")
	cmd.Flags().StringVar(&previewURL, "preview-url", "", "preview URL")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				if err := a.Engine.DeleteProject(ctx, userID, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func stacksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stacks",
		Short: "List supported tech stacks",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetBool("json") {
				return printJSON(domain.TechStacks)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "Name", "Description"})
			for _, s := range domain.TechStacks {
				tw.AppendRow(table.Row{s.ID, s.Name, s.Description})
			}
			fmt.Println(tw.Render())
			return nil
		},
	}
}

func generateCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "generate <id>",
		Short: "Generate or regenerate a project's code",
		Long: `Runs the generation steps. Regenerating a completed project discards its code.
With inline dispatch the steps run inside this command, so it always waits.
With asynq dispatch the run is queued for 'forge worker'; --wait follows it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				p, err := a.Engine.StartGeneration(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return afterStart(ctx, a, userID, p, wait)
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for a queued run to finish")
	return cmd
}

func retryCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "retry <id>",
		Short: "Restart a failed generation from the first step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				p, err := a.Engine.Retry(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return afterStart(ctx, a, userID, p, wait)
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for a queued run to finish")
	return cmd
}

func afterStart(ctx context.Context, a *app.App, userID string, p engine.Progress, wait bool) error {
	if a.Config.Generation.Dispatch == config.DispatchAsynq && !wait {
		if viper.GetBool("json") {
			return printJSON(p)
		}
		fmt.Println(progressLine(p))
		return nil
	}
	return followProgress(ctx, a, userID, p.ProjectID)
}

// followProgress prints every progress change until the run ends. Runs in
// another process are seen through polling.
func followProgress(ctx context.Context, a *app.App, userID, projectID string) error {
	changed := make(chan struct{}, 1)
	unsubscribe := a.Engine.Subscribe(func(p engine.Progress) {
		if p.ProjectID != projectID {
			return
		}
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()
	ticker := time.NewTicker(progressPoll)
	defer ticker.Stop()

	var last engine.Progress
	for {
		p, err := a.Engine.Progress(ctx, userID, projectID)
		if err != nil {
			return err
		}
		if p != last {
			last = p
			if viper.GetBool("json") {
				if err := printJSON(p); err != nil {
					return err
				}
			} else {
				fmt.Println(progressLine(p))
			}
		}
		if p.Terminal() {
			switch {
			case p.Status == domain.StatusError:
				return fmt.Errorf("generation failed: %s", p.Error)
			case p.Cancelled:
				return fmt.Errorf("generation cancelled at step %d", p.Step)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}

func printProject(p domain.Project) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := newTable()
	tw.AppendRows([]table.Row{
		{"ID", p.ID},
		{"Name", p.Name},
		{"Description", p.Description},
		{"Stack", p.TechStack},
		{"Status", statusText(p.Status)},
		{"Files", fileCount(p)},
		{"Created", p.CreatedAt.Format(time.RFC3339)},
		{"Updated", humanize.Time(p.UpdatedAt)},
	})
	if p.PreviewURL != nil {
		tw.AppendRow(table.Row{"Preview", *p.PreviewURL})
	}
	fmt.Println(tw.Render())
	return nil
}

func fileCount(p domain.Project) string {
	if p.GeneratedCode == nil {
		return "-"
	}
	files, err := filetree.Decode(*p.GeneratedCode)
	if err != nil {
		return "?"
	}
	return humanize.Comma(int64(len(files)))
}
