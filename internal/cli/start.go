package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/toolgate/internal/daemon"
)

var noReload bool

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"serve"},
		Short:   "Run the Toolgate gateway in the foreground",
		Long: `Run the Toolgate gateway in the foreground until SIGINT or SIGTERM.
The config file is watched and a changed log level is applied without a restart.`,
		RunE: runStart,
	}
	cmd.Flags().BoolVar(&noReload, "no-reload", false, "do not watch the config file for changes")
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if pid, err := daemon.ReadPID(cfg.DataDir); err == nil && daemon.ProcessAlive(pid) {
		return fmt.Errorf("toolgate is already running (pid %d)", pid)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}

	if !noReload {
		if err := d.EnableConfigReload(loader); err != nil {
			log.Warn().Err(err).Msg("Config reload disabled")
		}
	}

	if err := d.Start(); err != nil {
		return err
	}

	return d.Wait()
}
