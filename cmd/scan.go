package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/blelink/internal/bus"
	"github.com/nextlevelbuilder/blelink/internal/config"
	"github.com/nextlevelbuilder/blelink/internal/peripheral"
	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

func scanCmd() *cobra.Command {
	var (
		timeout time.Duration
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Discover peripherals matching the configured filters",
		Long: "Scan asks the bridge to discover peripherals and prints the candidate table as it changes.\n" +
			"It stops on Ctrl-C, or when the scan window passes with nothing found. With --watch the\n" +
			"scan keeps running and picks up filter changes from the config file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if timeout > 0 {
				cfg.Discovery.TimeoutSeconds = int(timeout / time.Second)
			}
			return runScan(cmd.Context(), cfg, watch)
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "scan timeout (default from config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep scanning and reload filters when the config file changes")
	return cmd
}

func runScan(parent context.Context, cfg *config.Config, watch bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := initTelemetry(ctx, cfg)
	defer shutdown()

	msgBus := bus.New()
	defer msgBus.Close()
	events, dropped := msgBus.Channel("scan", 64)

	session := newSession(cfg, msgBus, nil)
	if err := session.Open(ctx); err != nil {
		return err
	}
	defer session.Disconnect()

	if watch {
		w, err := config.NewWatcher(resolveConfigPath())
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		w.OnChange(func(next *config.Config) {
			slog.Info("discovery filters reloaded", "filters", len(next.Extension.Filters))
			session.UpdateDiscovery(next.DiscoverParams())
		})
		if err := w.Start(); err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer w.Stop()
	}

	fmt.Fprintf(os.Stderr, "Scanning via %s (extension %s)...\n", cfg.Bridge.URL, session.ExtensionID())

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			switch ev.Name {
			case protocol.EventListUpdated, protocol.EventUserPicked:
				fmt.Println()
				renderPeripheralTable(os.Stdout, session.Peripherals())

			case protocol.EventScanTimeout:
				if n := dropped(); n > 0 {
					slog.Debug("scan events dropped", "count", n)
				}
				if !watch {
					if len(session.Peripherals()) == 0 {
						fmt.Fprintln(os.Stderr, dimStyle.Render("Scan timed out, no peripherals found."))
					}
					return nil
				}
				fmt.Fprintln(os.Stderr, dimStyle.Render("Scan window elapsed, restarting discovery..."))
				session.StartDiscovery()

			case protocol.EventRequestError:
				return eventError(ev)

			case protocol.EventDisconnected:
				return nil
			}
		}
	}
}

// eventError turns an error-carrying event into an error value.
func eventError(ev bus.Event) error {
	if p, ok := ev.Payload.(peripheral.ErrorPayload); ok {
		return fmt.Errorf("%s: %s", ev.Name, p.Message)
	}
	return fmt.Errorf("%s", ev.Name)
}
