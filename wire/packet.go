// Package wire implements the framed packet protocol shared by the producer
// and consumer: every packet is a 1-byte kind, a 4-byte big-endian payload
// length, and the payload itself. A packet is atomic on the wire; a partial
// packet means the session is broken.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/screenreflect/screenreflect/media"
)

// Kind identifies the payload semantics of a framed packet.
type Kind byte

// Packet kinds. Values above KindDimension are reserved; consumers must
// consume and ignore them.
const (
	KindVideoConfig Kind = 0x00
	KindVideo       Kind = 0x01
	KindAudio       Kind = 0x02
	KindAudioConfig Kind = 0x03
	KindDimension   Kind = 0x04
)

// HeaderSize is the fixed framing header length: kind byte + u32 length.
const HeaderSize = 5

// MaxPayloadSize is the largest payload accepted by the parser. A frame
// larger than this cannot be a legitimate access unit at LAN mirroring
// bitrates and is treated as a framing error.
const MaxPayloadSize = 8 << 20

// DimensionSize is the exact payload length of a Dimension packet:
// width (u32 BE) followed by height (u32 BE).
const DimensionSize = 8

// String returns the protocol name of the kind, or a hex form for
// reserved values.
func (k Kind) String() string {
	switch k {
	case KindVideoConfig:
		return "VideoConfig"
	case KindVideo:
		return "Video"
	case KindAudio:
		return "Audio"
	case KindAudioConfig:
		return "AudioConfig"
	case KindDimension:
		return "Dimension"
	}
	return fmt.Sprintf("Kind(0x%02X)", byte(k))
}

// Known reports whether the kind is part of the protocol's closed
// enumeration. Unknown kinds are skipped by the parser, never dispatched.
func (k Kind) Known() bool {
	return k <= KindDimension
}

// Packet is one framed unit: an opaque payload tagged with its kind.
type Packet struct {
	Kind    Kind
	Payload []byte
}

// WritePacket frames and writes a single packet. The write is not atomic at
// the io.Writer level; callers serialize all writes for a session through
// one writer.
func WritePacket(w io.Writer, kind Kind, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return &FramingError{Field: "length", Err: ErrOversizePayload}
	}

	var hdr [HeaderSize]byte
	hdr[0] = byte(kind)
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadHeader reads and validates a packet header. It returns io.EOF only on
// a clean close at a packet boundary; a header truncated mid-read surfaces
// as io.ErrUnexpectedEOF. The kind is not checked against the known set so
// that callers can skip reserved kinds.
func ReadHeader(r io.Reader) (Kind, uint32, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return 0, 0, io.EOF
		}
		return 0, 0, fmt.Errorf("read header: %w", err)
	}

	length := binary.BigEndian.Uint32(hdr[1:])
	if length > MaxPayloadSize {
		return 0, 0, &FramingError{
			Field: "length",
			Err:   fmt.Errorf("%w: %d bytes", ErrOversizePayload, length),
		}
	}
	return Kind(hdr[0]), length, nil
}

// ReadPacket reads one complete packet, header and payload. The payload is
// freshly allocated and owned by the caller.
func ReadPacket(r io.Reader) (Packet, error) {
	kind, length, err := ReadHeader(r)
	if err != nil {
		return Packet{}, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Packet{}, fmt.Errorf("read payload: %w", err)
	}
	return Packet{Kind: kind, Payload: payload}, nil
}

// EncodeDimension serializes a Dimension payload.
func EncodeDimension(d media.Dimension) []byte {
	buf := make([]byte, DimensionSize)
	binary.BigEndian.PutUint32(buf[0:4], d.Width)
	binary.BigEndian.PutUint32(buf[4:8], d.Height)
	return buf
}

// ParseDimension decodes a Dimension payload. Any length other than
// DimensionSize is an impossible kind/length combination and therefore a
// framing error.
func ParseDimension(payload []byte) (media.Dimension, error) {
	if len(payload) != DimensionSize {
		return media.Dimension{}, &FramingError{
			Field: "dimension",
			Err:   fmt.Errorf("payload is %d bytes, want %d", len(payload), DimensionSize),
		}
	}
	return media.Dimension{
		Width:  binary.BigEndian.Uint32(payload[0:4]),
		Height: binary.BigEndian.Uint32(payload[4:8]),
	}, nil
}
