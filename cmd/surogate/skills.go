package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/surogate/surogate-agent/pkg/presenter"
	"github.com/surogate/surogate-agent/pkg/roles"
	"github.com/surogate/surogate-agent/pkg/skills"
)

// SkillListConfig holds configuration for the skills list command
type SkillListConfig struct {
	Role   string
	Strict bool
}

// NewSkillListConfig creates a new SkillListConfig with default values
func NewSkillListConfig() *SkillListConfig {
	return &SkillListConfig{
		Role:   "",
		Strict: false,
	}
}

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect and repair skill definitions",
	Long:  `List, show, validate and normalize the SKILL.md definitions found in the configured skill roots.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var skillsListCmd = withTracing(&cobra.Command{
	Use:   "list",
	Short: "List resolved skills",
	Long: `List the skills that win across all configured roots. With --role, only the skills
that role may use are listed. With --strict, any skill that failed to load is an error.`,
	Run: func(cmd *cobra.Command, _ []string) {
		config := getSkillListConfigFromFlags(cmd)
		registry := newResolver(loadConfig()).Registry()
		if err := listSkills(cmd.Context(), os.Stdout, registry, config); err != nil {
			presenter.Error(err, "Failed to list skills")
			os.Exit(1)
		}
	},
})

var skillsShowCmd = withTracing(&cobra.Command{
	Use:   "show <name>",
	Short: "Show a skill definition",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		registry := newResolver(loadConfig()).Registry()
		if err := showSkill(cmd.Context(), os.Stdout, registry, args[0]); err != nil {
			presenter.Error(err, "Failed to show skill")
			os.Exit(1)
		}
	},
})

var skillsValidateCmd = withTracing(&cobra.Command{
	Use:   "validate <dir>",
	Short: "Validate a skill directory without modifying it",
	Long: `Load the SKILL.md in a skill directory, report every repair it would need and every
warning, and check that markdown tooling reads the same name and description.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := validateSkillDir(cmd.Context(), args[0]); err != nil {
			presenter.Error(err, "Skill is invalid")
			os.Exit(1)
		}
	},
})

var skillsNormalizeCmd = withTracing(&cobra.Command{
	Use:   "normalize <dir>",
	Short: "Repair a SKILL.md in place",
	Long: `Repair the structural defects of the SKILL.md in a skill directory and write the
canonical form back. With --dry-run the repairs are printed as a unified diff instead.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if err := normalizeSkillDir(cmd.Context(), args[0], dryRun); err != nil {
			presenter.Error(err, "Failed to normalize skill")
			os.Exit(1)
		}
	},
})

var skillsSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the SKILL.md frontmatter",
	Run: func(_ *cobra.Command, _ []string) {
		data, err := skills.MetadataSchemaJSON()
		if err != nil {
			presenter.Error(err, "Failed to generate schema")
			os.Exit(1)
		}
		fmt.Println(string(data))
	},
}

var skillsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rebuild the skill registry whenever a skill root changes",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		debounce, _ := cmd.Flags().GetDuration("debounce")
		registry := newResolver(loadConfig()).Registry()

		report := func(snap *skills.Snapshot) {
			presenter.Info(fmt.Sprintf("[%s] %d skill(s): %s",
				time.Now().Format(time.TimeOnly), len(snap.Names()), strings.Join(snap.Names(), ", ")))
			for _, f := range snap.Failures() {
				presenter.Warning(fmt.Sprintf("%s: %v", f.Directory, f.Err))
			}
		}
		report(registry.Build(ctx))

		presenter.Info("Watching skill roots, press Ctrl+C to stop")
		watcher := skills.NewWatcher(registry, report, skills.WithDebounce(debounce))
		if err := watcher.Run(ctx); err != nil {
			presenter.Error(err, "Watcher failed")
			os.Exit(1)
		}
	},
}

func init() {
	listDefaults := NewSkillListConfig()
	skillsListCmd.Flags().String("role", listDefaults.Role, "Only list skills usable by this role (author or consumer)")
	skillsListCmd.Flags().Bool("strict", listDefaults.Strict, "Fail if any skill could not be loaded")

	skillsNormalizeCmd.Flags().Bool("dry-run", false, "Print the repairs as a diff without writing")
	skillsWatchCmd.Flags().Duration("debounce", skills.DefaultDebounce, "Quiet period before rebuilding")

	skillsCmd.AddCommand(skillsListCmd)
	skillsCmd.AddCommand(skillsShowCmd)
	skillsCmd.AddCommand(skillsValidateCmd)
	skillsCmd.AddCommand(skillsNormalizeCmd)
	skillsCmd.AddCommand(skillsSchemaCmd)
	skillsCmd.AddCommand(skillsWatchCmd)
}

func getSkillListConfigFromFlags(cmd *cobra.Command) *SkillListConfig {
	config := NewSkillListConfig()
	if role, err := cmd.Flags().GetString("role"); err == nil {
		config.Role = role
	}
	if strict, err := cmd.Flags().GetBool("strict"); err == nil {
		config.Strict = strict
	}
	return config
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func listSkills(ctx context.Context, w io.Writer, registry *skills.Registry, config *SkillListConfig) error {
	snap := registry.Build(ctx)

	for _, f := range snap.Failures() {
		presenter.Warning(fmt.Sprintf("skipped %s: %v", f.Directory, f.Err))
	}
	if config.Strict {
		if err := snap.Err(); err != nil {
			return err
		}
	}

	var selected map[string]*skills.Skill
	if config.Role == "" {
		selected = snap.Skills()
	} else {
		role, err := roles.ParseRole(config.Role)
		if err != nil {
			return err
		}
		selected = snap.ForRole(role)
	}

	if len(selected) == 0 {
		presenter.Info("No skills found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVERSION\tACCESS\tDIRECTORY\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t-------\t------\t---------\t-----------")
	for _, name := range skills.SortedNames(selected) {
		skill := selected[name]
		access := "all"
		if skill.IsAuthorOnly() {
			access = "author"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", skill.Name, skill.Version, access, skill.Directory, truncate(skill.Description, 60))
	}
	return tw.Flush()
}

func showSkill(ctx context.Context, w io.Writer, registry *skills.Registry, name string) error {
	entry, ok := registry.Build(ctx).Get(name)
	if !ok {
		return errors.Errorf("skill '%s' not found", name)
	}
	skill := entry.Skill

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", skill.Name)
	fmt.Fprintf(tw, "Version:\t%s\n", skill.Version)
	fmt.Fprintf(tw, "Access:\t%s\n", skill.RoleRestriction)
	fmt.Fprintf(tw, "Directory:\t%s\n", skill.Directory)
	fmt.Fprintf(tw, "System:\t%t\n", entry.Root.System)
	if len(skill.Capabilities) > 0 {
		caps := make([]string, len(skill.Capabilities))
		for i, c := range skill.Capabilities {
			caps[i] = string(c)
		}
		fmt.Fprintf(tw, "Capabilities:\t%s\n", strings.Join(caps, ", "))
	}
	for _, c := range entry.Shadowed {
		fmt.Fprintf(tw, "Shadows:\t%s\n", c.Skill.Directory)
	}
	helpers, err := skill.HelperFiles()
	if err != nil {
		return err
	}
	if len(helpers) > 0 {
		fmt.Fprintf(tw, "Helper files:\t%s\n", strings.Join(helpers, ", "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, warning := range skill.Warnings {
		presenter.Warning(warning)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, skill.Description)
	fmt.Fprintln(w)
	fmt.Fprint(w, skill.Content)
	return nil
}

func validateSkillDir(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", dir)
	}

	loader := skills.NewLoader(filepath.Dir(abs), skills.WithRewrite(false))
	skill, err := loader.LoadSkillDir(ctx, abs)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(skill.DefinitionPath())
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", skill.DefinitionPath())
	}
	normalized, _, err := skills.Normalize(raw)
	if err != nil {
		return err
	}
	if err := skills.CheckCompatibility(normalized, skill); err != nil {
		return err
	}

	for _, repair := range skill.Repairs {
		presenter.Warning(fmt.Sprintf("needs repair: %s", repair))
	}
	for _, warning := range skill.Warnings {
		presenter.Warning(warning)
	}
	presenter.Success(fmt.Sprintf("Skill '%s' is valid", skill.Name))
	return nil
}

func normalizeSkillDir(ctx context.Context, dir string, dryRun bool) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return errors.Wrapf(err, "failed to resolve %s", dir)
	}
	path := filepath.Join(abs, skills.SkillFileName)

	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	normalized, skill, err := skills.Normalize(raw)
	if err != nil {
		return err
	}
	if !skill.WasRepaired {
		presenter.Info(fmt.Sprintf("%s is already canonical", path))
		return nil
	}

	if dryRun {
		presenter.Diff(skills.Diff(path, raw, normalized))
		return nil
	}

	loader := skills.NewLoader(filepath.Dir(abs), skills.WithRewrite(true))
	if _, err := loader.LoadSkillDir(ctx, abs); err != nil {
		return err
	}

	written, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to re-read %s", path)
	}
	if !bytes.Equal(written, normalized) {
		return errors.Errorf("%s was not rewritten", path)
	}

	repairs := make([]string, len(skill.Repairs))
	for i, r := range skill.Repairs {
		repairs[i] = string(r)
	}
	presenter.Success(fmt.Sprintf("Repaired %s (%s)", path, strings.Join(repairs, ", ")))
	return nil
}
