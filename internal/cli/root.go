package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/config"
	"github.com/harun/toolgate/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// newRootCmd builds the command tree. Each call returns fresh commands and
// resets the flag variables to their defaults.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "toolgate",
		Short: "Toolgate - session broker and tool gateway",
		Long: `Toolgate brokers per-user Composio sessions and executes third-party
tools (SMS, WhatsApp, email, web search) on behalf of callers. It enforces a
per-user rate limit, reuses sessions until they expire, and retries once with
a fresh session when the upstream rejects stale credentials.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.toolgate/toolgate.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newConfigureCmd(),
		newToolsCmd(),
		newOAuthStatusCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() error {
	return newRootCmd().Execute()
}

// GetRootCmd returns a fresh command tree for testing
func GetRootCmd() *cobra.Command {
	return newRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config named by --config and applies --log-level
func loadConfig() (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, loader, nil
}

// newLogger builds the process logger from the logging section
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		AuditFile: cfg.Logging.AuditFile,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
}
