package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/surogate/surogate-agent/pkg/config"
	"github.com/surogate/surogate-agent/pkg/logger"
	"github.com/surogate/surogate-agent/pkg/presenter"
	"github.com/surogate/surogate-agent/pkg/resolver"
)

// shutdownTracing flushes spans once the command has finished
var shutdownTracing = func(context.Context) error { return nil }

func init() {
	if err := config.Setup(viper.GetViper()); err != nil {
		presenter.Error(err, "Failed to load configuration")
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "surogate",
	Short: "Skill resolution and workspace isolation for surogate agents",
	Long: `surogate discovers, repairs and resolves SKILL.md definitions across the configured
skill roots and manages the developer and session workspaces that agents read and write.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.Configure(viper.GetString("log_level"), viper.GetString("log_format")); err != nil {
			return err
		}
		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialize tracing")
			return nil
		}
		shutdownTracing = shutdown
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

// loadConfig decodes the configuration or exits
func loadConfig() config.Config {
	cfg, err := config.FromViper()
	if err != nil {
		presenter.Error(err, "Failed to load configuration")
		os.Exit(1)
	}
	return cfg
}

// newResolver builds the resolver from configuration or exits
func newResolver(cfg config.Config) *resolver.Resolver {
	r, err := resolver.NewFromConfig(cfg)
	if err != nil {
		presenter.Error(err, "Failed to initialize skill resolution")
		os.Exit(1)
	}
	return r
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt, json)")
	rootCmd.PersistentFlags().Bool("no-skills", false, "Disable skill resolution")
	rootCmd.PersistentFlags().String("skills-dir", "", "User skills directory (overrides config)")
	rootCmd.PersistentFlags().String("workspace-dir", "", "Developer workspace directory (overrides config)")
	rootCmd.PersistentFlags().String("sessions-dir", "", "Session workspaces directory (overrides config)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("no_skills", rootCmd.PersistentFlags().Lookup("no-skills"))
	viper.BindPFlag("skills.user_dir", rootCmd.PersistentFlags().Lookup("skills-dir"))
	viper.BindPFlag("workspace_dir", rootCmd.PersistentFlags().Lookup("workspace-dir"))
	viper.BindPFlag("sessions_dir", rootCmd.PersistentFlags().Lookup("sessions-dir"))

	rootCmd.AddCommand(skillsCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	ctx := context.Background()
	err := rootCmd.ExecuteContext(ctx)

	if shutdownErr := shutdownTracing(ctx); shutdownErr != nil {
		logger.G(ctx).WithError(shutdownErr).Warn("failed to flush traces")
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
