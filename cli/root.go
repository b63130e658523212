package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/squidspace/sqs/pkg/config"
	"github.com/squidspace/sqs/pkg/logger"
)

func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "sqs",
		Short:         "Asset pipeline for squidspace modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return SetupGlobalConfig(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a settings file (YAML or JSON)")
	flags.String("env-file", ".env", "Path to environment file")
	flags.String("dir", "", "Change to this directory before doing anything")
	flags.String("log-level", "info", "Log level (debug, info, warn, error, disabled)")
	flags.Bool("log-json", false, "Emit logs as JSON")
	flags.Bool("log-source", false, "Include source locations in logs")
	flags.String("build-dir", "", "Scratch directory root")
	flags.String("out-dir", "", "Default output directory")
	flags.String("chain-policy", "", "Stage failure policy (continue, abort)")
	flags.Int("fetch-retries", 0, "Retries for failed URL sources")
	flags.Duration("fetch-timeout", 0, "Timeout for URL sources")

	root.AddCommand(
		FilterCmd(),
		PipelineCmd(),
		ExplainCmd(),
	)

	return root
}

// SetupGlobalConfig loads settings from the config file, the environment and
// the flags, installs the process logger and stores both in the command
// context.
func SetupGlobalConfig(cmd *cobra.Command) error {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return fmt.Errorf("failed to get dir flag: %w", err)
	}
	if dir != "" {
		if err := os.Chdir(dir); err != nil {
			return fmt.Errorf("failed to change directory to %s: %w", dir, err)
		}
	}
	if _, err := loadEnvFile(cmd); err != nil {
		return err
	}
	configFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	overrides := make(map[string]any)
	extractCLIFlags(cmd, overrides)
	settings, err := config.Load(config.LoadOptions{File: configFile, Overrides: overrides})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	_, logJSON, logSource, err := logger.GetLoggerConfig(cmd)
	if err != nil {
		return err
	}
	logger.SetupLogger(settings.Log.Level, logJSON, logSource)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = config.ContextWithSettings(ctx, settings)
	ctx = logger.ContextWithLogger(ctx, logger.GetDefault())
	cmd.SetContext(ctx)
	return nil
}
