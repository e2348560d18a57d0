package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/list"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"appforge/internal/app"
	"appforge/internal/domain"
	"appforge/internal/filetree"
)

func filesCmd() *cobra.Command {
	files := &cobra.Command{Use: "files", Short: "Browse and edit generated files"}
	files.AddCommand(filesTreeCmd())
	files.AddCommand(filesShowCmd())
	files.AddCommand(filesWriteCmd())
	files.AddCommand(filesRemoveCmd())
	files.AddCommand(filesMoveCmd())
	files.AddCommand(filesExportCmd())
	return files
}

func filesTreeCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "tree <project-id>",
		Short: "Show the file tree, folders first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				nodes, err := a.Engine.Tree(ctx, userID, args[0], filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nodes)
				}
				if len(nodes) == 0 {
					fmt.Println("no files")
					return nil
				}
				fmt.Println(renderTree(nodes))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "keep files whose path contains this text")
	return cmd
}

func renderTree(nodes []domain.FileNode) string {
	lw := list.NewWriter()
	lw.SetStyle(list.StyleConnectedRounded)
	depth := 0
	filetree.Walk(nodes, func(n domain.FileNode, d int) bool {
		for ; depth < d; depth++ {
			lw.Indent()
		}
		for ; depth > d; depth-- {
			lw.UnIndent()
		}
		lw.AppendItem(nodeLabel(n))
		return true
	})
	return lw.Render()
}

func nodeLabel(n domain.FileNode) string {
	if n.Type == domain.NodeFolder {
		return text.FgBlue.Sprint(n.Name + "/")
	}
	label := n.Name
	if badge := filetree.Badge(n); badge != "" {
		label = text.FgCyan.Sprint(badge) + " " + label
	}
	return label + " " + text.Faint.Sprint(filetree.FormatSize(n.Size))
}

func filesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id> <path>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				f, err := a.Engine.ReadFile(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(f)
				}
				fmt.Print(f.Content)
				return nil
			})
		},
	}
}

func filesWriteCmd() *cobra.Command {
	var from, language string
	var create bool
	cmd := &cobra.Command{
		Use:   "write <project-id> <path>",
		Short: "Create or replace a file",
		Long:  "Reads the new content from --from, or from stdin when --from is not set.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, from)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				write := a.Engine.WriteFile
				if create {
					write = a.Engine.CreateFile
				}
				f, err := write(ctx, userID, args[0], args[1], content, language)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(f)
				}
				fmt.Printf("wrote %s (%s, %s)\n", f.Path, f.Language, filetree.FormatSize(len(f.Content)))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "read content from this file")
	cmd.Flags().StringVar(&language, "language", "", "language (guessed from the extension when empty)")
	cmd.Flags().BoolVar(&create, "create", false, "fail when the path already exists")
	return cmd
}

func readContent(cmd *cobra.Command, from string) (string, error) {
	if from != "" {
		b, err := os.ReadFile(from)
		return string(b), err
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	return string(b), err
}

func filesRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <project-id> <path>",
		Short: "Remove a file or a folder with everything under it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				n, err := a.Engine.RemoveFile(ctx, userID, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Printf("removed %d file(s)\n", n)
				return nil
			})
		},
	}
}

func filesMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <project-id> <from> <to>",
		Short: "Rename a file or folder",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				n, err := a.Engine.RenameFile(ctx, userID, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				fmt.Printf("moved %d file(s)\n", n)
				return nil
			})
		},
	}
}

func filesExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <project-id>",
		Short: "Write every file into one text bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App, userID string) error {
				bundle, err := a.Engine.Export(ctx, userID, args[0])
				if err != nil {
					return err
				}
				if out == "" {
					_, err = io.WriteString(cmd.OutOrStdout(), bundle)
					return err
				}
				if err := os.WriteFile(out, []byte(bundle), 0o644); err != nil {
					return err
				}
				fmt.Printf("exported to %s (%s)\n", out, filetree.FormatSize(len(bundle)))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (stdout when empty)")
	return cmd
}
