package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"amd/internal/app"
	"amd/internal/config"
	"amd/internal/errors"
	"amd/internal/exclusions"
	logx "amd/pkg/logx"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "amd",
	Short: "amD - club Discord daemon",
	Long: `amD - club Discord daemon.

Runs the recurring status-update check, reaction roles and operator
commands. Without a subcommand it behaves like "amd run".

Examples:
  amd --config config.toml            # Run the daemon
  amd config check                    # Validate the config and exit
  amd exclusions list                 # Show excluded member ids
  amd exclusions toggle 123456789     # Add or remove an id`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon until SIGINT or SIGTERM",
	RunE:  runDaemon,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate the configuration, then exit",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

var exclusionsCmd = &cobra.Command{
	Use:   "exclusions",
	Short: "Manage members excluded from the status update report",
}

var exclusionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print excluded member ids",
	Args:  cobra.NoArgs,
	RunE:  runExclusionsList,
}

var exclusionsToggleCmd = &cobra.Command{
	Use:   "toggle <user_id>",
	Short: "Add the id if absent, remove it if present",
	Args:  cobra.ExactArgs(1),
	RunE:  runExclusionsToggle,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.toml", "path to config (toml, yaml or json)")
	exclusionsCmd.PersistentFlags().String("file", "", "exclusion list path (overrides exclusions.path)")

	configCmd.AddCommand(configCheckCmd)
	exclusionsCmd.AddCommand(exclusionsListCmd, exclusionsToggleCmd)
	rootCmd.AddCommand(runCmd, configCmd, exclusionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return errors.Wrap(err, "fatal")
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return errors.Wrap(err, "fatal start")
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	case <-ctx.Done():
		reason = app.StopUnknown
	}
	cancel()

	stopCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	_ = a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil {
		return err
	}
	return nil
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	m := config.NewManager(cfgPath)
	cfg, err := m.Load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: %s\n", cfgPath)
	fmt.Fprintf(out, "  owners:         %d\n", len(cfg.Discord.OwnerIDs))
	fmt.Fprintf(out, "  reaction roles: %d\n", len(cfg.ReactionRoles))
	if cfg.StatusUpdate.IsEnabled() {
		d, _ := config.ParseInterval("status_update.interval", cfg.StatusUpdate.Interval)
		fmt.Fprintf(out, "  status update:  every %s -> channel %s\n", d, cfg.Channels.StatusUpdate)
	} else {
		fmt.Fprintln(out, "  status update:  disabled")
	}
	return nil
}

// exclusionStore resolves the list path from --file, then the config file,
// then the default. The config is only parsed, not validated, so the CLI
// works without a Discord token.
func exclusionStore(cmd *cobra.Command) *exclusions.Store {
	path, _ := cmd.Flags().GetString("file")
	if strings.TrimSpace(path) == "" {
		if cfg, err := config.NewManager(cfgPath).Parse(); err == nil {
			path = cfg.Exclusions.Path
		}
	}
	if strings.TrimSpace(path) == "" {
		path = exclusions.DefaultPath
	}
	return exclusions.New(path, logx.NewConsole("WARN"))
}

func runExclusionsList(cmd *cobra.Command, _ []string) error {
	ids, err := exclusionStore(cmd).List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func runExclusionsToggle(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(strings.TrimSpace(args[0]), 10, 64)
	if err != nil || id == 0 {
		return errors.Configuration("invalid user id %q", args[0])
	}
	store := exclusionStore(cmd)
	added, err := store.Toggle(id)
	if err != nil {
		return err
	}
	if added {
		fmt.Fprintf(cmd.OutOrStdout(), "%d added to %s\n", id, store.Path())
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%d removed from %s\n", id, store.Path())
	}
	return nil
}
