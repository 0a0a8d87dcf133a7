package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"wgsync/config"
	"wgsync/internal/buildinfo"
	"wgsync/internal/directory"
	"wgsync/internal/logging"
	"wgsync/internal/reconcile"
	"wgsync/internal/ui"
	"wgsync/internal/wireguard"

	"github.com/spf13/cobra"
)

type options struct {
	configPath    string
	dryRun        bool
	debug         bool
	noInteraction bool
}

func rootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "wgsync [config]",
		Short: "Sync WireGuard peers from wgPeer entries in an LDAP directory",
		Long: `wgsync reads wgPeer entries from an LDAP directory and makes the
peer list of a local WireGuard interface match them. It performs one pass
and exits; schedule it with a timer for continuous reconciliation.`,
		Version:       buildinfo.Version,
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(opts.noInteraction)
			return logging.Configure(logging.Resolve(logging.LevelWarn, opts.debug))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath(cmd, opts.configPath, args)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return &reconcile.Error{Kind: reconcile.KindConfig, Err: err}
			}
			if err := logging.Configure(logging.Resolve(cfg.LogLevel, opts.debug)); err != nil {
				return &reconcile.Error{Kind: reconcile.KindConfig, Err: fmt.Errorf("log_level: %w", err)}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSync(ctx, cfg, opts.dryRun, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Compute the update without writing to the interface")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&opts.noInteraction, "no-interaction", false, "Disable live progress and colour")
	return cmd
}

// configPath accepts the path either as --config or as the only argument.
func configPath(cmd *cobra.Command, flagValue string, args []string) (string, error) {
	if len(args) == 0 {
		return flagValue, nil
	}
	if cmd.Flags().Changed("config") && args[0] != flagValue {
		return "", &reconcile.Error{
			Kind: reconcile.KindConfig,
			Err:  fmt.Errorf("config given twice: --config %s and %s", flagValue, args[0]),
		}
	}
	return args[0], nil
}

func runSync(ctx context.Context, cfg *config.Config, dryRun bool, out io.Writer) error {
	dev, err := wireguard.New()
	if err != nil {
		return &reconcile.Error{Kind: reconcile.KindDevice, Err: err}
	}
	defer dev.Close()

	// The report is held back until progress rendering stops so live
	// redraws on stderr are not interleaved with it.
	var report bytes.Buffer
	tel := ui.NewTelemetryOutput()

	s := &reconcile.Syncer{
		Directory:  directory.New(cfg.Directory),
		Device:     dev,
		Parser:     reconcile.NewParser(net.DefaultResolver),
		DeviceName: cfg.Interface.DeviceName,
		Options:    cfg.Options(),
		DryRun:     dryRun,
		Tracer:     tel.Tracer("wgsync"),
		Reporter:   ui.NewReport(&report),
	}
	res, err := s.Run(ctx)
	tel.Close()
	_, _ = report.WriteTo(out)
	if err != nil {
		slog.Debug("Sync failed.", "kind", reconcile.KindOf(err), "err", err)
		return err
	}

	fmt.Fprintln(out, ui.Summary(res, dryRun))
	return nil
}
