// Package presenter writes the user-facing output of the surogate CLI:
// status lines and colored diffs of SKILL.md repairs.
package presenter

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Presenter is the CLI output surface
type Presenter interface {
	Error(err error, context string)
	Success(message string)
	Warning(message string)
	Info(message string)
	Diff(diff string)
	SetQuiet(quiet bool)
	IsQuiet() bool
}

// ColorMode controls whether output is colored
type ColorMode int

const (
	// ColorAuto leaves terminal detection to the color package
	ColorAuto ColorMode = iota
	// ColorAlways forces colored output
	ColorAlways
	// ColorNever disables colored output
	ColorNever
)

// TerminalPresenter implements Presenter for terminal output
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// New creates a TerminalPresenter writing to stdout and stderr
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, colorModeFromEnv())
}

// NewWithOptions creates a TerminalPresenter with custom writers and color mode
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	}
	return &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		colorMode:   colorMode,
	}
}

// colorModeFromEnv honours NO_COLOR first, then SUROGATE_COLOR
func colorModeFromEnv() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}
	switch strings.ToLower(os.Getenv("SUROGATE_COLOR")) {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

var (
	errorStyle   = color.New(color.FgRed, color.Bold)
	successStyle = color.New(color.FgGreen, color.Bold)
	warningStyle = color.New(color.FgYellow, color.Bold)

	diffHeaderStyle = color.New(color.Bold)
	diffHunkStyle   = color.New(color.FgCyan)
	diffAddStyle    = color.New(color.FgGreen)
	diffRemoveStyle = color.New(color.FgRed)
)

// Error writes err to stderr. Errors are shown even in quiet mode.
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}
	if context == "" {
		errorStyle.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
		return
	}
	errorStyle.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
}

// Success writes a check-marked message
func (p *TerminalPresenter) Success(message string) {
	if !p.quiet {
		successStyle.Fprintf(p.output, "✓ %s\n", message)
	}
}

// Warning writes a warning, such as a skipped skill or a pending repair
func (p *TerminalPresenter) Warning(message string) {
	if !p.quiet {
		warningStyle.Fprintf(p.output, "⚠ %s\n", message)
	}
}

// Info writes a plain message
func (p *TerminalPresenter) Info(message string) {
	if !p.quiet {
		fmt.Fprintln(p.output, message)
	}
}

// Diff writes a unified diff with file headers in bold, hunk headers in cyan,
// added lines in green and removed lines in red
func (p *TerminalPresenter) Diff(diff string) {
	if p.quiet || diff == "" {
		return
	}

	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		style := diffStyle(line)
		if style == nil {
			fmt.Fprint(p.output, line)
			continue
		}
		style.Fprint(p.output, line)
	}
	if !strings.HasSuffix(diff, "\n") {
		fmt.Fprintln(p.output)
	}
}

func diffStyle(line string) *color.Color {
	switch {
	case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		return diffHeaderStyle
	case strings.HasPrefix(line, "@@"):
		return diffHunkStyle
	case strings.HasPrefix(line, "+"):
		return diffAddStyle
	case strings.HasPrefix(line, "-"):
		return diffRemoveStyle
	}
	return nil
}

// SetQuiet suppresses everything but errors
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet reports whether quiet mode is on
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

var defaultPresenter = New()

// Error writes an error with the default presenter
func Error(err error, context string) { defaultPresenter.Error(err, context) }

// Success writes a success message with the default presenter
func Success(message string) { defaultPresenter.Success(message) }

// Warning writes a warning with the default presenter
func Warning(message string) { defaultPresenter.Warning(message) }

// Info writes a message with the default presenter
func Info(message string) { defaultPresenter.Info(message) }

// Diff writes a colored diff with the default presenter
func Diff(diff string) { defaultPresenter.Diff(diff) }

// SetQuiet toggles quiet mode on the default presenter
func SetQuiet(quiet bool) { defaultPresenter.SetQuiet(quiet) }

// IsQuiet reports quiet mode on the default presenter
func IsQuiet() bool { return defaultPresenter.IsQuiet() }
