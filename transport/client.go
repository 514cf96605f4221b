package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/screenreflect/screenreflect/demux"
	"github.com/screenreflect/screenreflect/observe"
)

// ClientConfig wires a Client to the consumer pipeline.
type ClientConfig struct {
	// Handler receives demultiplexed packets on the receive goroutine.
	Handler demux.Handler
	// OnSessionStart runs after the connection is established and before
	// any byte is read, so decoder façades start from a known-empty state.
	OnSessionStart func()
	Log            *slog.Logger
}

// Client owns the consumer side of a session: it connects to a producer
// endpoint, runs the receive pipeline, and surfaces connection state plus a
// last-error diagnostic for the UI.
type Client struct {
	log            *slog.Logger
	handler        demux.Handler
	onSessionStart func()

	state *observe.Broadcaster[ClientState]

	mu      sync.Mutex
	conn    net.Conn
	lastErr string

	parser *demux.Parser
}

// NewClient creates a Client. If cfg.Log is nil, slog.Default() is used.
func NewClient(cfg ClientConfig) *Client {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:            log.With("component", "transport-client"),
		handler:        cfg.Handler,
		onSessionStart: cfg.OnSessionStart,
		state:          observe.NewBroadcaster[ClientState](),
	}
}

// State returns the lifecycle broadcaster for UI observers.
func (c *Client) State() *observe.Broadcaster[ClientState] {
	return c.state
}

// LastError returns the diagnostic from the most recent session failure,
// or "" if the last session ended cleanly.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Run connects to addr and receives until the session ends. It blocks for
// the session lifetime and returns nil on a clean peer close. Errors are
// contained at the session boundary: the client never reconnects on its
// own, and every exit path lands in Disconnected.
func (c *Client) Run(ctx context.Context, addr string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setState(ClientConnecting)
	c.setLastError("")

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		err = fmt.Errorf("connect %s: %w", addr, err)
		c.fail(err)
		return err
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		tuneConn(tc, false)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer c.Disconnect()

	go func() {
		<-ctx.Done()
		c.Disconnect()
	}()

	if c.onSessionStart != nil {
		c.onSessionStart()
	}
	c.setState(ClientReceiving)
	c.log.Info("receiving", "remote", conn.RemoteAddr())

	parser := demux.NewParser(conn, c.handler, c.log)
	c.mu.Lock()
	c.parser = parser
	c.mu.Unlock()

	err = parser.Run()
	switch {
	case err == nil:
		c.log.Info("producer closed the session")
		c.setState(ClientDisconnected)
		return nil
	case ctx.Err() != nil || errors.Is(err, net.ErrClosed):
		c.log.Info("session cancelled")
		c.setState(ClientDisconnected)
		return nil
	default:
		c.fail(err)
		return err
	}
}

// Disconnect tears the session down. It is idempotent and safe to call
// from any goroutine; the blocked receive loop exits via the closed socket.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// Snapshot returns parser counters for the current or most recent session.
func (c *Client) Snapshot() demux.Snapshot {
	c.mu.Lock()
	parser := c.parser
	c.mu.Unlock()
	if parser == nil {
		return demux.Snapshot{}
	}
	return parser.Snapshot()
}

func (c *Client) fail(err error) {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		c.log.Warn("session broke mid-packet", "error", err)
	} else {
		c.log.Warn("session failed", "error", err)
	}
	c.setLastError(err.Error())
	c.setState(ClientDisconnected)
}

func (c *Client) setLastError(msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
}

func (c *Client) setState(st ClientState) {
	c.state.Publish(st)
}
