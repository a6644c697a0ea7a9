// Package peripheral drives one extension's BLE peripheral through a remote
// bridge: discovery, candidate tracking, PIN derivation, connect/disconnect
// and failure reporting.
//
// A Session is an actor (phony.Inbox). Public operations, RPC completions,
// inbound notifications and timer fires are all processed one at a time on
// its inbox, so session state needs no locks. Callbacks in Options run on
// the inbox too and must not call Peripherals.
package peripheral

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Arceliar/phony"
	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/nextlevelbuilder/blelink/internal/bridge"
	"github.com/nextlevelbuilder/blelink/internal/bus"
	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

// DefaultScanTimeout is how long discovery may run without a result before
// a scan-timeout event.
const DefaultScanTimeout = 15 * time.Second

// Channel is the RPC channel to the bridge. bridge.Conn implements it.
type Channel interface {
	Open(ctx context.Context, h bridge.Handler) error
	Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	Close() error
	IsOpen() bool
}

// EventSink receives host lifecycle events. bus.MessageBus implements it.
type EventSink interface {
	Broadcast(event bus.Event)
}

// Options configures a Session.
type Options struct {
	ExtensionID string
	Discovery   protocol.DiscoverParams

	// ScanTimeout defaults to DefaultScanTimeout.
	ScanTimeout time.Duration
	Clock       Clock
	Logger      *slog.Logger

	// OnConnect runs after a connect request is acknowledged.
	OnConnect func()
	// OnMessage receives didReceiveMessage params verbatim.
	OnMessage func(params json.RawMessage)
	// OnReset runs when the connection is lost while connected.
	OnReset func()
}

// Session is the peripheral connection lifecycle for one extension.
type Session struct {
	phony.Inbox

	id     string
	ch     Channel
	sink   EventSink
	opts   Options
	log    *slog.Logger
	router *bridge.Router

	state    *atomic.Int32
	registry *Registry
	timer    *Supervisor
	ctx      context.Context

	// in-flight RPC goroutines; lets tests wait for completions to land
	inflight sync.WaitGroup
}

func NewSession(ch Channel, sink EventSink, opts Options) *Session {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = DefaultScanTimeout
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:       uuid.NewString(),
		ch:       ch,
		sink:     sink,
		opts:     opts,
		router:   bridge.NewRouter(),
		state:    atomic.NewInt32(int32(StateIdle)),
		registry: NewRegistry(),
		ctx:      context.Background(),
	}
	s.log = logger.With("extension", opts.ExtensionID, "session", s.id)
	s.timer = NewSupervisor(opts.Clock, opts.ScanTimeout, func(fn func()) { s.Act(nil, fn) })
	s.registerNotifications()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// ExtensionID returns the extension this session is bound to.
func (s *Session) ExtensionID() string { return s.opts.ExtensionID }

// Open opens the bridge channel; discovery starts once the channel reports
// open. The session disconnects when ctx is done.
func (s *Session) Open(ctx context.Context) error {
	phony.Block(s, func() { s.ctx = ctx })
	if err := s.ch.Open(ctx, s); err != nil {
		return fmt.Errorf("open bridge channel: %w", err)
	}
	context.AfterFunc(ctx, s.Disconnect)
	return nil
}

// StartDiscovery clears the registry, re-arms the scan timeout and asks the
// bridge to discover peripherals.
func (s *Session) StartDiscovery() {
	s.Act(nil, s.startDiscovery)
}

// UpdateDiscovery replaces the discovery filters. A discovery in progress is
// restarted with the new filters.
func (s *Session) UpdateDiscovery(params protocol.DiscoverParams) {
	s.Act(nil, func() {
		s.opts.Discovery = params
		if s.State() == StateDiscovering {
			s.startDiscovery()
		}
	})
}

// Connect connects to a discovered peripheral. An empty pin is derived from
// the peripheral's name; unknown ids are ignored.
func (s *Session) Connect(id, pin string) {
	s.Act(nil, func() { s.connect(id, pin) })
}

// Disconnect tears the session down. Repeated calls emit one event.
func (s *Session) Disconnect() {
	s.Act(nil, s.disconnect)
}

// SendMessage forwards an opaque payload to the connected peripheral.
func (s *Session) SendMessage(payload interface{}) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	s.Act(nil, func() { s.sendMessage(payload) })
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether the session is connected.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Peripherals returns a snapshot of the candidate registry. It blocks on the
// session inbox and must not be called from a session callback.
func (s *Session) Peripherals() map[string]PeripheralRecord {
	var snap map[string]PeripheralRecord
	phony.Block(s, func() { snap = s.registry.Snapshot() })
	return snap
}

// --- bridge.Handler ---

// OnOpen starts discovery when the channel is ready.
func (s *Session) OnOpen() {
	s.Act(nil, s.startDiscovery)
}

// OnError reports a socket error as a request error.
func (s *Session) OnError(err error) {
	s.Act(nil, func() { s.requestError(err) })
}

// OnClose treats a closed socket as a lost connection.
func (s *Session) OnClose() {
	s.Act(nil, func() { s.connectionLost(ErrConnectionClosed) })
}

// HandleNotification dispatches an inbound notification on the inbox and
// waits for its result.
func (s *Session) HandleNotification(method string, params json.RawMessage) (result interface{}, err error) {
	phony.Block(s, func() {
		result, err = s.router.Dispatch(method, params)
	})
	return result, err
}

// --- inbox-only methods below ---

func (s *Session) startDiscovery() {
	s.registry.Clear()
	s.timer.Arm(s.discoveryTimeout)
	// an open link stays connected while a new scan runs
	if s.State() != StateConnected {
		s.setState(StateDiscovering)
	}
	s.log.Info("peripheral discovery started", "filters", len(s.opts.Discovery.Filters))

	s.call(protocol.MethodDiscover, s.opts.Discovery, func(_ json.RawMessage, err error) {
		if err != nil {
			s.requestError(err)
		}
	})
}

func (s *Session) connect(id, pin string) {
	rec, ok := s.registry.Get(id)
	if !ok {
		s.log.Debug("connect ignored, peripheral not in registry", "peripheral", id)
		return
	}

	if pin == "" {
		derived, ok := ResolvePIN(rec.Name)
		if !ok {
			s.log.Warn("connect aborted, pairing secret unresolvable", "peripheral", id, "name", rec.Name)
			s.emit(protocol.EventPairingUnresolved, ErrorPayload{
				Message:     fmt.Sprintf("%v: %q", ErrPINUnresolvable, rec.Name),
				ExtensionID: s.opts.ExtensionID,
			})
			return
		}
		pin = derived
	}

	s.log.Info("connecting to peripheral", "peripheral", id, "name", rec.Name)
	params := protocol.ConnectParams{PeripheralID: rec.RawID(), PIN: pin}
	s.call(protocol.MethodConnect, params, func(_ json.RawMessage, err error) {
		if err != nil {
			s.requestError(err)
			return
		}
		s.timer.Cancel()
		s.setState(StateConnected)
		s.log.Info("peripheral connected", "peripheral", id)
		if s.opts.OnConnect != nil {
			s.opts.OnConnect()
		}
		s.emit(protocol.EventConnected, nil)
	})
}

func (s *Session) sendMessage(payload interface{}) {
	if s.State() != StateConnected {
		s.log.Warn("send dropped, session not connected")
		return
	}
	s.call(protocol.MethodSend, payload, func(_ json.RawMessage, err error) {
		if err != nil {
			// a failed send while connected means the link is gone
			s.connectionLost(err)
		}
	})
}

func (s *Session) disconnect() {
	s.timer.Cancel()
	if s.ch.IsOpen() {
		if err := s.ch.Close(); err != nil {
			s.log.Debug("close bridge channel", "error", err)
		}
	}
	if s.State() == StateDisconnected {
		return
	}
	s.setState(StateDisconnected)
	s.log.Info("peripheral session disconnected")
	s.emit(protocol.EventDisconnected, nil)
}

func (s *Session) connectionLost(err error) {
	if s.State() != StateConnected {
		return
	}
	s.log.Warn("peripheral connection lost", "error", err)
	s.disconnect()
	if s.opts.OnReset != nil {
		s.opts.OnReset()
	}
	s.emit(protocol.EventConnectionLost, ErrorPayload{
		Message:     err.Error(),
		ExtensionID: s.opts.ExtensionID,
	})
}

func (s *Session) requestError(err error) {
	s.log.Warn("bridge request failed", "error", err)
	s.emit(protocol.EventRequestError, ErrorPayload{
		Message:     err.Error(),
		ExtensionID: s.opts.ExtensionID,
	})
}

func (s *Session) discoveryTimeout() {
	s.timer.Cancel()
	s.log.Info("peripheral scan timed out", "candidates", s.registry.Len())
	s.emit(protocol.EventScanTimeout, nil)
}

// call runs an RPC off the inbox and posts done back onto it. Completions
// arriving after a disconnect, or after the owning context ended, are
// dropped.
func (s *Session) call(method string, params interface{}, done func(json.RawMessage, error)) {
	ctx := s.ctx
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		result, err := s.ch.Call(ctx, method, params)
		s.Act(nil, func() {
			if s.State() == StateDisconnected || ctx.Err() != nil {
				s.log.Debug("dropping bridge completion after disconnect", "method", method, "error", err)
				return
			}
			done(result, err)
		})
	}()
}

func (s *Session) setState(state State) {
	if prev := State(s.state.Swap(int32(state))); prev != state {
		s.log.Debug("session state changed", "from", prev, "to", state)
	}
}

func (s *Session) emit(name string, payload interface{}) {
	if s.sink == nil {
		return
	}
	s.sink.Broadcast(bus.Event{Name: name, Payload: payload})
}
