package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/surogate/surogate-agent/pkg/workspace"
)

// FileAddConfig holds configuration for the files add commands
type FileAddConfig struct {
	Name        string
	NoOverwrite bool
}

// NewFileAddConfig creates a new FileAddConfig with default values
func NewFileAddConfig() *FileAddConfig {
	return &FileAddConfig{
		Name:        "",
		NoOverwrite: false,
	}
}

func (c *FileAddConfig) writeOptions() []workspace.WriteOption {
	if c.NoOverwrite {
		return []workspace.WriteOption{workspace.WithConflictProtection()}
	}
	return nil
}

// addFile copies source into the workspace key and returns the stored path
func addFile(ctx context.Context, ws *workspace.Manager, key, source string, config *FileAddConfig) (string, error) {
	return ws.CopyFile(ctx, key, source, config.Name, config.writeOptions()...)
}

// printFiles writes a table of files
func printFiles(w io.Writer, files []workspace.FileInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSIZE\tMODIFIED")
	fmt.Fprintln(tw, "----\t----\t--------")
	for _, f := range files {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Name, humanize.Bytes(uint64(f.Size)), humanize.Time(f.Modified))
	}
	return tw.Flush()
}

// listFiles prints the files in a workspace, optionally filtered by a glob
// pattern such as "**/*.md"
func listFiles(ctx context.Context, w io.Writer, ws *workspace.Manager, key, pattern string) error {
	exists, err := ws.Exists(key)
	if err != nil {
		return err
	}
	if !exists {
		return errors.Wrapf(workspace.ErrNotFound, "workspace %s", key)
	}

	if pattern != "" {
		matches, err := ws.Glob(ctx, key, pattern)
		if err != nil {
			return err
		}
		for _, m := range matches {
			fmt.Fprintln(w, m)
		}
		return nil
	}

	files, err := ws.ListFiles(ctx, key)
	if err != nil {
		return err
	}
	return printFiles(w, files)
}

// showFile writes the content of a workspace file
func showFile(ctx context.Context, w io.Writer, ws *workspace.Manager, key, name string) error {
	data, err := ws.ReadFile(ctx, key, name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
