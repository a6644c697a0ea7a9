package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/blelink/pkg/protocol"
)

// maxMessageSize is the maximum allowed WebSocket message size (512KB).
// Gorilla/websocket closes the connection with ErrReadLimit if exceeded.
const maxMessageSize = 512 * 1024

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	sendBuffer   = 256
)

// Handler receives the socket lifecycle and inbound notifications of a Conn.
// OnOpen is called from Open; the other methods are called from the read
// goroutine and should not block for long.
type Handler interface {
	OnOpen()
	OnError(err error)
	OnClose()
	HandleNotification(method string, params json.RawMessage) (interface{}, error)
}

type connState int

const (
	connIdle connState = iota
	connOpen
	connClosed
)

// Conn is a JSON-RPC channel to the bridge over one WebSocket. A Conn is
// opened once; open a new Conn to reconnect.
type Conn struct {
	url     string
	dialer  *websocket.Dialer
	header  http.Header
	limiter *rate.Limiter
	tracer  trace.Tracer

	ws      *websocket.Conn
	handler Handler
	send    chan []byte
	done    chan struct{}

	mu         sync.Mutex
	state      connState
	localClose bool
	pending    map[string]chan *protocol.ResponseFrame
	closeOnce  sync.Once
}

// Option configures a Conn.
type Option func(*Conn)

// WithDialer replaces the default WebSocket dialer (TLS settings, proxies).
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Conn) { c.dialer = d }
}

// WithHeader sets extra handshake headers such as Origin.
func WithHeader(h http.Header) Option {
	return func(c *Conn) { c.header = h }
}

// WithSendRate paces "send" calls with a token bucket. perSecond <= 0
// leaves sends unpaced.
func WithSendRate(perSecond float64, burst int) Option {
	return func(c *Conn) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewConn(url string, opts ...Option) *Conn {
	c := &Conn{
		url:     url,
		dialer:  websocket.DefaultDialer,
		tracer:  otel.Tracer("github.com/nextlevelbuilder/blelink/internal/bridge"),
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]chan *protocol.ResponseFrame),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open dials the bridge, starts the read and write pumps and reports OnOpen.
func (c *Conn) Open(ctx context.Context, h Handler) error {
	c.mu.Lock()
	if c.state != connIdle {
		c.mu.Unlock()
		return ErrAlreadyOpened
	}
	c.state = connOpen
	c.mu.Unlock()

	ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		c.mu.Lock()
		c.state = connClosed
		c.mu.Unlock()
		c.closeOnce.Do(func() { close(c.done) })
		return fmt.Errorf("connect to bridge at %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.state != connOpen {
		// Closed while dialing.
		c.mu.Unlock()
		ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.handler = h
	c.mu.Unlock()

	go c.writePump()
	go c.readPump()

	slog.Info("bridge connected", "url", c.url)
	h.OnOpen()
	return nil
}

// IsOpen reports whether the socket is open and not being closed.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == connOpen && c.ws != nil
}

// Close shuts the socket down. The handler still gets OnClose, but not
// OnError. Closing a closed Conn is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = connClosed
	c.localClose = true
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Call sends a request and waits for the correlated response, ctx
// cancellation, or the socket going away. A JSON-RPC error response is
// returned as *protocol.Error.
func (c *Conn) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "bridge.call "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rpc.system", "jsonrpc"),
			attribute.String("rpc.method", method),
		),
	)
	defer span.End()

	result, err := c.call(ctx, method, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (c *Conn) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if method == protocol.MethodSend && c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pace %s: %w", method, err)
		}
	}

	id := uuid.NewString()
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	respCh := make(chan *protocol.ResponseFrame, 1)
	c.mu.Lock()
	if c.state != connOpen {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.enqueue(data); err != nil {
		return nil, err
	}
	slog.Debug("bridge request sent", "method", method, "id", id)

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

func (c *Conn) enqueue(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		slog.Warn("bridge send buffer full, dropping frame", "url", c.url)
		return ErrSendBufferFull
	}
}

// readPump reads frames until the socket fails, then tears down.
func (c *Conn) readPump() {
	var readErr error
	defer func() { c.teardown(readErr) }()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			readErr = err
			return
		}

		// Reset read deadline on activity
		c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		c.handleFrame(data)
	}
}

// writePump writes queued frames and pings until the Conn is done.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Warn("bridge write failed", "url", c.url, "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *Conn) teardown(err error) {
	c.mu.Lock()
	local := c.localClose
	c.state = connClosed
	c.pending = make(map[string]chan *protocol.ResponseFrame)
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	c.ws.Close()

	if !local && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Warn("bridge read error", "url", c.url, "error", err)
		c.handler.OnError(err)
	}
	slog.Info("bridge disconnected", "url", c.url)
	c.handler.OnClose()
}

// handleFrame parses and dispatches a single inbound frame.
func (c *Conn) handleFrame(data []byte) {
	kind, err := protocol.ParseFrameKind(data)
	if err != nil {
		slog.Warn("invalid bridge frame", "error", err)
		c.reply(protocol.NewErrorResponse(nil, protocol.ErrCodeParse, "invalid frame: "+err.Error()))
		return
	}

	switch kind {
	case protocol.FrameKindResponse:
		var resp protocol.ResponseFrame
		if err := json.Unmarshal(data, &resp); err != nil {
			slog.Warn("malformed bridge response", "error", err)
			return
		}
		c.resolve(&resp)

	case protocol.FrameKindRequest, protocol.FrameKindNotification:
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			slog.Warn("malformed bridge request", "error", err)
			return
		}
		result, err := c.handler.HandleNotification(req.Method, req.Params)
		if kind == protocol.FrameKindNotification {
			if err != nil && !errors.Is(err, ErrUnhandled) {
				slog.Warn("bridge notification failed", "method", req.Method, "error", err)
			}
			return
		}
		if err != nil {
			c.reply(protocol.NewErrorResponse(req.ID, errorCode(err), err.Error()))
			return
		}
		resp, err := protocol.NewResultResponse(req.ID, result)
		if err != nil {
			c.reply(protocol.NewErrorResponse(req.ID, protocol.ErrCodeInternal, err.Error()))
			return
		}
		c.reply(resp)
	}
}

func (c *Conn) resolve(resp *protocol.ResponseFrame) {
	id := protocol.IDString(resp.ID)
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		slog.Debug("bridge response for unknown request", "id", id)
		return
	}
	select {
	case ch <- resp:
	default:
		slog.Warn("duplicate bridge response", "id", id)
	}
}

func (c *Conn) reply(resp *protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal bridge response failed", "error", err)
		return
	}
	if err := c.enqueue(data); err != nil {
		slog.Debug("bridge response not sent", "error", err)
	}
}
