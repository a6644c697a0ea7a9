package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/blelink/internal/bus"
	"github.com/nextlevelbuilder/blelink/internal/config"
	"github.com/nextlevelbuilder/blelink/internal/pairing"
	"github.com/nextlevelbuilder/blelink/internal/peripheral"
	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

type connectOptions struct {
	peripheralID string
	pin          string
	settle       time.Duration
	remember     bool
}

func connectCmd() *cobra.Command {
	var opts connectOptions
	cmd := &cobra.Command{
		Use:   "connect [peripheral-id]",
		Short: "Connect to a peripheral and relay messages over stdin/stdout",
		Long: "Connect discovers peripherals, connects to the given id (or one picked interactively)\n" +
			"and then forwards each stdin line as a send request. Lines that are valid JSON are sent\n" +
			"as-is, anything else as a JSON string. Received messages are printed one per line.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.peripheralID = args[0]
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runConnect(cmd.Context(), cfg, opts, os.Stdin)
		},
	}
	cmd.Flags().StringVar(&opts.pin, "pin", "", "pairing PIN (default: remembered PIN or derived from the device name)")
	cmd.Flags().DurationVar(&opts.settle, "settle", 3*time.Second, "how long to collect candidates before prompting")
	cmd.Flags().BoolVar(&opts.remember, "remember", true, "remember the peripheral after a successful connect")
	return cmd
}

func runConnect(parent context.Context, cfg *config.Config, opts connectOptions, in io.Reader) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := initTelemetry(ctx, cfg)
	defer shutdown()

	msgBus := bus.New()
	defer msgBus.Close()
	events, _ := msgBus.Channel("connect", 64)

	session := newSession(cfg, msgBus, func(params json.RawMessage) {
		fmt.Println(string(params))
	})
	paired := newPairingService(cfg)

	if err := session.Open(ctx); err != nil {
		return err
	}
	defer session.Disconnect()

	target, err := awaitTarget(ctx, session, events, opts)
	if err != nil || target == nil {
		return err
	}

	pin := opts.pin
	if pin == "" {
		if rec, ok := paired.Lookup(session.ExtensionID(), target.Name); ok && rec.PIN != "" {
			slog.Debug("using remembered pin", "name", target.Name)
			pin = rec.PIN
		}
	}

	fmt.Fprintf(os.Stderr, "Connecting to %s (%s)...\n", target.Name, target.ID)
	session.Connect(target.ID, pin)

	if err := awaitConnected(ctx, events); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, okStyle.Render("Connected.")+" Type a message and press Enter to send; Ctrl-C to quit.")

	if opts.remember {
		rememberPeripheral(paired, session.ExtensionID(), *target, pin)
	}

	return relay(ctx, session, events, in)
}

// awaitTarget waits for discovery and returns the peripheral to connect to.
// A nil record with a nil error means the user backed out.
func awaitTarget(ctx context.Context, session *peripheral.Session, events <-chan bus.Event, opts connectOptions) (*peripheral.PeripheralRecord, error) {
	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil, nil

		case <-settle:
			return pickPeripheral(session.Peripherals())

		case ev := <-events:
			switch ev.Name {
			case protocol.EventListUpdated:
				if opts.peripheralID != "" {
					if rec, ok := session.Peripherals()[opts.peripheralID]; ok {
						return &rec, nil
					}
					continue
				}
				if settle == nil {
					settle = time.After(opts.settle)
				}

			case protocol.EventUserPicked:
				// the bridge ran its own chooser; take its choice when unambiguous
				recs := session.Peripherals()
				if len(recs) == 1 {
					for _, rec := range recs {
						return &rec, nil
					}
				}
				return pickPeripheral(recs)

			case protocol.EventScanTimeout:
				if opts.peripheralID != "" {
					return nil, fmt.Errorf("peripheral %s not found before scan timeout", opts.peripheralID)
				}
				recs := session.Peripherals()
				if len(recs) == 0 {
					return nil, errors.New("scan timed out, no peripherals found")
				}
				return pickPeripheral(recs)

			case protocol.EventRequestError:
				return nil, eventError(ev)
			}
		}
	}
}

// awaitConnected waits for the outcome of a connect request.
func awaitConnected(ctx context.Context, events <-chan bus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			switch ev.Name {
			case protocol.EventConnected:
				return nil
			case protocol.EventRequestError, protocol.EventPairingUnresolved:
				return eventError(ev)
			case protocol.EventDisconnected:
				return errors.New("bridge closed before the peripheral connected")
			}
		}
	}
}

// relay forwards stdin lines to the peripheral until the link drops, stdin
// ends or ctx is cancelled.
func relay(ctx context.Context, session *peripheral.Session, events <-chan bus.Event, in io.Reader) error {
	g, gctx := errgroup.WithContext(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-gctx.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errStdinClosed
				}
				if strings.TrimSpace(line) == "" {
					continue
				}
				if err := session.SendMessage(messagePayload(line)); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				switch ev.Name {
				case protocol.EventConnectionLost:
					return eventError(ev)
				case protocol.EventDisconnected:
					return disconnectCause(events, lostEventGrace)
				case protocol.EventRequestError:
					fmt.Fprintln(os.Stderr, errStyle.Render(eventError(ev).Error()))
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStdinClosed) {
		return err
	}
	return nil
}

var errStdinClosed = errors.New("stdin closed")

// lostEventGrace bounds the wait for the connection-lost event that follows
// a disconnect caused by the link dropping.
const lostEventGrace = 250 * time.Millisecond

// disconnectCause reports why the session disconnected. A lost link emits
// disconnected first and connection-lost right after, so the second event is
// awaited briefly to surface its message.
func disconnectCause(events <-chan bus.Event, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev := <-events:
			if ev.Name == protocol.EventConnectionLost {
				return eventError(ev)
			}
		case <-timer.C:
			return errors.New("peripheral disconnected")
		}
	}
}

// messagePayload sends JSON lines verbatim and wraps anything else as a
// JSON string.
func messagePayload(line string) interface{} {
	trimmed := strings.TrimSpace(line)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	return line
}

// rememberPeripheral records the peripheral. pin is the override used for
// the connect, empty when it was derived from the name.
func rememberPeripheral(paired *pairing.Service, extensionID string, rec peripheral.PeripheralRecord, pin string) {
	if rec.Name == "" {
		return
	}
	if err := paired.Remember(extensionID, rec.Name, rec.ID, pin); err != nil {
		slog.Warn("could not remember peripheral", "name", rec.Name, "error", err)
	}
}
