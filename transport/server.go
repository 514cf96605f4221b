package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/screenreflect/screenreflect/mux"
	"github.com/screenreflect/screenreflect/observe"
	"github.com/screenreflect/screenreflect/wire"
)

// drainPollInterval bounds how long the writer sleeps when the multiplexer
// is empty. Short enough that coalesced config updates go out promptly,
// long enough to avoid a busy spin.
const drainPollInterval = 20 * time.Millisecond

// writeBufferSize is the size of the buffered writer in front of the
// socket. Flushed opportunistically after every drain batch.
const writeBufferSize = 256 << 10

// ServerSnapshot is a point-in-time view of server activity.
type ServerSnapshot struct {
	State            string `json:"state"`
	SessionsAccepted uint64 `json:"sessionsAccepted"`
	PacketsSent      uint64 `json:"packetsSent"`
	BytesSent        uint64 `json:"bytesSent"`
	RemoteAddr       string `json:"remoteAddr,omitempty"`
}

// Server owns the producer's listening endpoint. It accepts one consumer
// session at a time, replays the session-defining caches on accept, fires
// the client-connected signal for the encoder feedback loop, and then
// drains the multiplexer into the socket until the session ends.
type Server struct {
	log       *slog.Logger
	addr      string
	mux       *mux.Multiplexer
	onConnect func()

	state *observe.Broadcaster[ServerState]

	port atomic.Int32

	sessionsAccepted atomic.Uint64
	packetsSent      atomic.Uint64
	bytesSent        atomic.Uint64
	remoteAddr       atomic.Value
}

// NewServer creates a Server that listens on addr and drains m. onConnect,
// if non-nil, is invoked after each accept's cache replay so the pipeline
// can request a fresh key frame; it must not block. If log is nil,
// slog.Default() is used.
func NewServer(addr string, m *mux.Multiplexer, onConnect func(), log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:       log.With("component", "transport-server"),
		addr:      addr,
		mux:       m,
		onConnect: onConnect,
		state:     observe.NewBroadcaster[ServerState](),
	}
}

// State returns the lifecycle broadcaster for UI observers.
func (s *Server) State() *observe.Broadcaster[ServerState] {
	return s.state
}

// Port returns the bound listening port, valid once Start has transitioned
// to Listening. Used by discovery to advertise the endpoint.
func (s *Server) Port() int {
	return int(s.port.Load())
}

// Start listens and serves accepted sessions until the context is
// cancelled. Only one session is served at a time; further connection
// attempts wait in the accept backlog until the current session ends.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	l, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	defer l.Close()

	s.port.Store(int32(l.Addr().(*net.TCPAddr).Port))
	s.setState(ServerListening)
	s.log.Info("listening", "addr", l.Addr().String())

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.setState(ServerStopped)
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		s.serve(ctx, conn.(*net.TCPConn))

		if ctx.Err() != nil {
			s.setState(ServerStopped)
			return nil
		}
		s.setState(ServerListening)
	}
}

// serve runs one consumer session to completion. A write error ends the
// session; the caller returns the server to Listening, and the session
// reset performed at the next accept clears any pending-transmit markers.
func (s *Server) serve(ctx context.Context, conn *net.TCPConn) {
	defer conn.Close()

	tuneConn(conn, true)
	s.sessionsAccepted.Add(1)
	s.remoteAddr.Store(conn.RemoteAddr().String())
	s.setState(ServerServing)
	s.log.Info("consumer connected", "remote", conn.RemoteAddr())

	// The consumer never sends payload bytes; a read returning means the
	// peer closed or the connection died.
	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	// Unblock a stalled write on shutdown. Exits via sessionDone once the
	// deferred close tears the reader down.
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sessionDone:
		}
	}()

	// Anything queued before this session belongs to no consumer.
	s.mux.ResetSession()

	bw := bufio.NewWriterSize(conn, writeBufferSize)

	// Accept contract, strictly before live frames: cached VideoConfig,
	// cached AudioConfig, cached key frame, then the client-connected
	// signal and a fresh Dimension.
	for _, p := range s.mux.Replay() {
		if err := s.writePacket(bw, p); err != nil {
			s.endSession(err)
			return
		}
	}
	if s.onConnect != nil {
		s.onConnect()
	}
	if d, ok := s.mux.AcceptDimension(); ok {
		p := wire.Packet{Kind: wire.KindDimension, Payload: wire.EncodeDimension(d)}
		if err := s.writePacket(bw, p); err != nil {
			s.endSession(err)
			return
		}
	}
	if err := bw.Flush(); err != nil {
		s.endSession(err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sessionDone:
			s.endSession(nil)
			return
		default:
		}

		batch := s.mux.Drain()
		if len(batch) == 0 {
			s.mux.Wait(sessionDone, drainPollInterval)
			continue
		}

		for _, p := range batch {
			if err := s.writePacket(bw, p); err != nil {
				s.endSession(err)
				return
			}
		}
		if err := bw.Flush(); err != nil {
			s.endSession(err)
			return
		}
	}
}

func (s *Server) writePacket(bw *bufio.Writer, p wire.Packet) error {
	if err := wire.WritePacket(bw, p.Kind, p.Payload); err != nil {
		return err
	}
	s.packetsSent.Add(1)
	s.bytesSent.Add(uint64(wire.HeaderSize) + uint64(len(p.Payload)))
	return nil
}

func (s *Server) endSession(err error) {
	if err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Info("session ended", "error", err)
	} else {
		s.log.Info("consumer disconnected")
	}
	s.remoteAddr.Store("")
}

func (s *Server) setState(st ServerState) {
	s.state.Publish(st)
}

// Snapshot returns current server counters.
func (s *Server) Snapshot() ServerSnapshot {
	st, _ := s.state.Last()
	remote, _ := s.remoteAddr.Load().(string)
	return ServerSnapshot{
		State:            st.String(),
		SessionsAccepted: s.sessionsAccepted.Load(),
		PacketsSent:      s.packetsSent.Load(),
		BytesSent:        s.bytesSent.Load(),
		RemoteAddr:       remote,
	}
}
