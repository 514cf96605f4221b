// Package demux turns the consumer's framed byte stream back into typed
// packet events and dispatches them to the decoder façades. The parser is a
// straight loop over (header, payload) reads; dispatch happens synchronously
// on the receive goroutine, so handlers must return quickly and do their own
// offloading if they need to.
package demux

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/screenreflect/screenreflect/media"
	"github.com/screenreflect/screenreflect/wire"
)

// Handler receives demultiplexed packet events. One method per known kind;
// unknown kinds never reach the handler.
type Handler interface {
	HandleVideoConfig(payload []byte)
	HandleVideo(payload []byte)
	HandleAudio(payload []byte)
	HandleAudioConfig(payload []byte)
	HandleDimension(d media.Dimension)
}

// Snapshot is a point-in-time view of parser activity.
type Snapshot struct {
	Packets      int64 `json:"packets"`
	Bytes        int64 `json:"bytes"`
	UnknownKinds int64 `json:"unknownKinds"`
	SkippedBytes int64 `json:"skippedBytes"`
}

// Parser reads framed packets from a byte stream until the stream ends or
// framing breaks. Reserved kinds are consumed and skipped so that newer
// producers can extend the protocol without breaking older consumers.
type Parser struct {
	log *slog.Logger
	r   io.Reader
	h   Handler

	packets      atomic.Int64
	bytes        atomic.Int64
	unknownKinds atomic.Int64
	skippedBytes atomic.Int64
}

// NewParser creates a Parser reading from r and dispatching to h. If log is
// nil, slog.Default() is used.
func NewParser(r io.Reader, h Handler, log *slog.Logger) *Parser {
	if log == nil {
		log = slog.Default()
	}
	return &Parser{
		log: log.With("component", "parser"),
		r:   r,
		h:   h,
	}
}

// Run parses packets until the stream ends. It returns nil on a clean peer
// close at a packet boundary, and otherwise the error that broke the
// session: a FramingError for protocol violations, or the underlying I/O
// error for short reads and resets. No partial payload is ever dispatched.
func (p *Parser) Run() error {
	for {
		kind, length, err := wire.ReadHeader(p.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if !kind.Known() {
			if _, err := io.CopyN(io.Discard, p.r, int64(length)); err != nil {
				return fmt.Errorf("skip unknown kind 0x%02X: %w", byte(kind), err)
			}
			p.unknownKinds.Add(1)
			p.skippedBytes.Add(int64(length))
			p.log.Debug("skipped unknown packet kind", "kind", fmt.Sprintf("0x%02X", byte(kind)), "length", length)
			continue
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(p.r, payload); err != nil {
			return fmt.Errorf("read %v payload: %w", kind, err)
		}

		p.packets.Add(1)
		p.bytes.Add(int64(wire.HeaderSize) + int64(length))

		if err := p.dispatch(kind, payload); err != nil {
			return err
		}
	}
}

func (p *Parser) dispatch(kind wire.Kind, payload []byte) error {
	switch kind {
	case wire.KindVideoConfig:
		p.h.HandleVideoConfig(payload)
	case wire.KindVideo:
		p.h.HandleVideo(payload)
	case wire.KindAudio:
		p.h.HandleAudio(payload)
	case wire.KindAudioConfig:
		p.h.HandleAudioConfig(payload)
	case wire.KindDimension:
		d, err := wire.ParseDimension(payload)
		if err != nil {
			return err
		}
		p.h.HandleDimension(d)
	}
	return nil
}

// Snapshot returns current parse counters.
func (p *Parser) Snapshot() Snapshot {
	return Snapshot{
		Packets:      p.packets.Load(),
		Bytes:        p.bytes.Load(),
		UnknownKinds: p.unknownKinds.Load(),
		SkippedBytes: p.skippedBytes.Load(),
	}
}
