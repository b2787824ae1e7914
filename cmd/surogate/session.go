package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/surogate/surogate-agent/pkg/presenter"
	"github.com/surogate/surogate-agent/pkg/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage session workspaces",
	Long: `Manage the per-session workspaces used by skill consumers. A session directory is
created when the first file is written to it.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var sessionNewCmd = withTracing(&cobra.Command{
	Use:   "new",
	Short: "Create a session id",
	Run: func(cmd *cobra.Command, _ []string) {
		id, _ := cmd.Flags().GetString("id")
		sessions := newResolver(loadConfig()).Sessions()
		s, err := sessions.New(id)
		if err != nil {
			presenter.Error(err, "Failed to create session")
			os.Exit(1)
		}
		fmt.Println(s.ID)
		presenter.Info(fmt.Sprintf("Workspace: %s (created on first file write)", s.WorkspaceDir))
	},
})

var sessionListCmd = withTracing(&cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	Run: func(cmd *cobra.Command, _ []string) {
		sessions := newResolver(loadConfig()).Sessions()
		if err := listSessions(cmd.Context(), os.Stdout, sessions); err != nil {
			presenter.Error(err, "Failed to list sessions")
			os.Exit(1)
		}
	},
})

var sessionShowCmd = withTracing(&cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the files in a session workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sessions := newResolver(loadConfig()).Sessions()
		if err := listFiles(cmd.Context(), os.Stdout, sessions.Workspace(), args[0], ""); err != nil {
			presenter.Error(err, "Failed to show session")
			os.Exit(1)
		}
	},
})

var sessionDeleteCmd = withTracing(&cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session workspace",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		sessions := newResolver(loadConfig()).Sessions()
		existed, err := sessions.Delete(cmd.Context(), args[0])
		if err != nil {
			presenter.Error(err, "Failed to delete session")
			os.Exit(1)
		}
		if !existed {
			presenter.Warning(fmt.Sprintf("Session '%s' does not exist", args[0]))
			return
		}
		presenter.Success(fmt.Sprintf("Deleted session '%s'", args[0]))
	},
})

var sessionFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "Manage files in a session workspace",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var sessionFilesAddCmd = withTracing(&cobra.Command{
	Use:   "add <session-id> <file>",
	Short: "Copy a file into a session workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		config := getFileAddConfigFromFlags(cmd)
		sessions := newResolver(loadConfig()).Sessions()
		path, err := addSessionFile(cmd.Context(), sessions, args[0], args[1], config)
		if err != nil {
			presenter.Error(err, "Failed to add file")
			os.Exit(1)
		}
		presenter.Success(fmt.Sprintf("Added %s", path))
	},
})

var sessionFilesShowCmd = withTracing(&cobra.Command{
	Use:   "show <session-id> <file>",
	Short: "Print a file from a session workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		sessions := newResolver(loadConfig()).Sessions()
		if err := showFile(cmd.Context(), os.Stdout, sessions.Workspace(), args[0], args[1]); err != nil {
			presenter.Error(err, "Failed to read file")
			os.Exit(1)
		}
	},
})

var sessionFilesRemoveCmd = withTracing(&cobra.Command{
	Use:   "remove <session-id> <file>",
	Short: "Delete a file from a session workspace",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		sessions := newResolver(loadConfig()).Sessions()
		if err := sessions.Workspace().DeleteFile(cmd.Context(), args[0], args[1]); err != nil {
			presenter.Error(err, "Failed to remove file")
			os.Exit(1)
		}
		presenter.Success(fmt.Sprintf("Removed '%s' from session '%s'", args[1], args[0]))
	},
})

func init() {
	sessionNewCmd.Flags().String("id", "", "Session id to use instead of a generated one")

	addDefaults := NewFileAddConfig()
	sessionFilesAddCmd.Flags().String("name", addDefaults.Name, "Destination file name (defaults to the source base name)")
	sessionFilesAddCmd.Flags().Bool("no-overwrite", addDefaults.NoOverwrite, "Fail if the file already exists")

	sessionFilesCmd.AddCommand(sessionFilesAddCmd)
	sessionFilesCmd.AddCommand(sessionFilesShowCmd)
	sessionFilesCmd.AddCommand(sessionFilesRemoveCmd)

	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionDeleteCmd)
	sessionCmd.AddCommand(sessionFilesCmd)
}

// addSessionFile copies source into the session, creating the session
// workspace when it does not exist yet
func addSessionFile(ctx context.Context, sessions *session.Manager, id, source string, config *FileAddConfig) (string, error) {
	s, err := sessions.ResumeOrCreate(id)
	if err != nil {
		return "", err
	}
	return s.AddFile(ctx, source, config.Name, config.writeOptions()...)
}

func listSessions(ctx context.Context, w io.Writer, sessions *session.Manager) error {
	list, err := sessions.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		presenter.Info("No sessions found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tFILES\tCREATED\tDIRECTORY")
	fmt.Fprintln(tw, "-------\t-----\t-------\t---------")
	for _, s := range list {
		files, err := s.Files(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.ID, len(files), humanize.Time(s.CreatedAt), s.WorkspaceDir)
	}
	return tw.Flush()
}
