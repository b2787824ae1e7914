package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/surogate/surogate-agent/pkg/presenter"
	"github.com/surogate/surogate-agent/pkg/workspace"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage the developer workspace",
	Long: `Manage the developer workspace, where skill authors keep the files a skill is built
and tested against. Each skill gets its own directory, created on the first file write.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var workspaceListCmd = withTracing(&cobra.Command{
	Use:   "list",
	Short: "List skill workspaces",
	Run: func(cmd *cobra.Command, _ []string) {
		ws := newResolver(loadConfig()).Developer()
		if err := listWorkspaces(cmd.Context(), os.Stdout, ws); err != nil {
			presenter.Error(err, "Failed to list workspaces")
			os.Exit(1)
		}
	},
})

var workspaceShowCmd = withTracing(&cobra.Command{
	Use:   "show <skill>",
	Short: "Show the files in a skill workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := newResolver(loadConfig()).Developer()
		if err := listFiles(cmd.Context(), os.Stdout, ws, args[0], ""); err != nil {
			presenter.Error(err, "Failed to show workspace")
			os.Exit(1)
		}
	},
})

var workspaceCleanCmd = withTracing(&cobra.Command{
	Use:   "clean <skill>",
	Short: "Delete a skill workspace and all its files",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ws := newResolver(loadConfig()).Developer()
		if err := cleanWorkspace(cmd.Context(), ws, args[0]); err != nil {
			presenter.Error(err, "Failed to clean workspace")
			os.Exit(1)
		}
		presenter.Success(fmt.Sprintf("Removed workspace '%s'", args[0]))
	},
})

var workspaceFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage files in a skill workspace",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var workspaceFilesAddCmd = withTracing(&cobra.Command{
	Use:   "add <skill> <file>",
	Short: "Copy a file into a skill workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		config := getFileAddConfigFromFlags(cmd)
		ws := newResolver(loadConfig()).Developer()
		path, err := addFile(cmd.Context(), ws, args[0], args[1], config)
		if err != nil {
			presenter.Error(err, "Failed to add file")
			os.Exit(1)
		}
		presenter.Success(fmt.Sprintf("Added %s", path))
	},
})

var workspaceFilesShowCmd = withTracing(&cobra.Command{
	Use:   "show <skill> <file>",
	Short: "Print a file from a skill workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ws := newResolver(loadConfig()).Developer()
		if err := showFile(cmd.Context(), os.Stdout, ws, args[0], args[1]); err != nil {
			presenter.Error(err, "Failed to read file")
			os.Exit(1)
		}
	},
})

var workspaceFilesRemoveCmd = withTracing(&cobra.Command{
	Use:   "remove <skill> <file>",
	Short: "Delete a file from a skill workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ws := newResolver(loadConfig()).Developer()
		if err := ws.DeleteFile(cmd.Context(), args[0], args[1]); err != nil {
			presenter.Error(err, "Failed to remove file")
			os.Exit(1)
		}
		presenter.Success(fmt.Sprintf("Removed '%s' from workspace '%s'", args[1], args[0]))
	},
})

var workspaceFilesListCmd = withTracing(&cobra.Command{
	Use:   "list <skill>",
	Short: "List the files in a skill workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pattern, _ := cmd.Flags().GetString("pattern")
		ws := newResolver(loadConfig()).Developer()
		if err := listFiles(cmd.Context(), os.Stdout, ws, args[0], pattern); err != nil {
			presenter.Error(err, "Failed to list files")
			os.Exit(1)
		}
	},
})

func init() {
	addDefaults := NewFileAddConfig()
	workspaceFilesAddCmd.Flags().String("name", addDefaults.Name, "Destination file name (defaults to the source base name)")
	workspaceFilesAddCmd.Flags().Bool("no-overwrite", addDefaults.NoOverwrite, "Fail if the file already exists")
	workspaceFilesListCmd.Flags().String("pattern", "", "Only list files matching a glob pattern such as '**/*.md'")

	workspaceFilesCmd.AddCommand(workspaceFilesAddCmd)
	workspaceFilesCmd.AddCommand(workspaceFilesShowCmd)
	workspaceFilesCmd.AddCommand(workspaceFilesRemoveCmd)
	workspaceFilesCmd.AddCommand(workspaceFilesListCmd)

	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceShowCmd)
	workspaceCmd.AddCommand(workspaceCleanCmd)
	workspaceCmd.AddCommand(workspaceFilesCmd)
}

func getFileAddConfigFromFlags(cmd *cobra.Command) *FileAddConfig {
	config := NewFileAddConfig()
	if name, err := cmd.Flags().GetString("name"); err == nil {
		config.Name = name
	}
	if noOverwrite, err := cmd.Flags().GetBool("no-overwrite"); err == nil {
		config.NoOverwrite = noOverwrite
	}
	return config
}

func listWorkspaces(ctx context.Context, w io.Writer, ws *workspace.Manager) error {
	keys, err := ws.ListWorkspaces(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		presenter.Info("No workspaces found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SKILL\tFILES\tDIRECTORY")
	fmt.Fprintln(tw, "-----\t-----\t---------")
	for _, key := range keys {
		files, err := ws.ListFiles(ctx, key)
		if err != nil {
			return err
		}
		dir, _ := ws.Path(key)
		fmt.Fprintf(tw, "%s\t%d\t%s\n", key, len(files), dir)
	}
	return tw.Flush()
}

// cleanWorkspace deletes a workspace and reports a missing one as not found
func cleanWorkspace(ctx context.Context, ws *workspace.Manager, key string) error {
	exists, err := ws.Exists(key)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(workspace.ErrNotFound, "workspace %s", key)
	}
	return ws.DeleteWorkspace(ctx, key)
}
