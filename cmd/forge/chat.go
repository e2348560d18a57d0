package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"appforge/internal/app"
	"appforge/internal/chat"
)

func chatCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant",
		Long: `Reads one message per line and streams each reply.
With --project, a reply that asks for a rebuild regenerates that project.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				if projectID != "" {
					if _, err := a.Engine.GetProject(ctx, userID, projectID); err != nil {
						return err
					}
				}
				return chatLoop(ctx, a, userID, projectID, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project to regenerate when asked")
	return cmd
}

func chatLoop(ctx context.Context, a *app.App, userID, projectID string, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, text.FgMagenta.Sprint("assistant> ")+chat.Greeting)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, text.Bold.Sprint("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			continue
		}
		fmt.Fprint(out, text.FgMagenta.Sprint("assistant> "))
		printed := 0
		reply, err := a.Chat.Respond(ctx, msg, func(partial string) {
			fmt.Fprint(out, partial[printed:])
			printed = len(partial)
		})
		fmt.Fprintln(out)
		if err != nil {
			return err
		}
		if !reply.TriggersGeneration || projectID == "" {
			continue
		}
		if _, err := a.Engine.StartGeneration(ctx, userID, projectID); err != nil {
			fmt.Fprintln(out, text.FgRed.Sprint(chat.ErrorReply))
			a.Logger.Warn("chat: start generation", "project_id", projectID, "error", err)
			continue
		}
		if err := followProgress(ctx, a, userID, projectID); err != nil {
			fmt.Fprintln(out, text.FgRed.Sprint(err.Error()))
		}
	}
}
