package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/screenreflect/screenreflect/media"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	packets := []Packet{
		{Kind: KindVideoConfig, Payload: []byte{0x67, 0x42, 0x00, 0x1E}},
		{Kind: KindAudioConfig, Payload: []byte{0x11, 0x90}},
		{Kind: KindVideo, Payload: bytes.Repeat([]byte{0x65}, 768)},
		{Kind: KindAudio, Payload: []byte{0xFF, 0xF1, 0x50, 0x80}},
		{Kind: KindDimension, Payload: EncodeDimension(media.Dimension{Width: 1280, Height: 720})},
		{Kind: KindVideo, Payload: nil}, // zero-length payload is legal
	}

	var buf bytes.Buffer
	for _, p := range packets {
		if err := WritePacket(&buf, p.Kind, p.Payload); err != nil {
			t.Fatalf("WritePacket(%v): %v", p.Kind, err)
		}
	}

	for i, want := range packets {
		got, err := ReadPacket(&buf)
		if err != nil {
			t.Fatalf("ReadPacket #%d: %v", i, err)
		}
		if got.Kind != want.Kind {
			t.Errorf("packet #%d kind: got %v, want %v", i, got.Kind, want.Kind)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("packet #%d payload mismatch: %d vs %d bytes", i, len(got.Payload), len(want.Payload))
		}
	}

	if _, err := ReadPacket(&buf); err != io.EOF {
		t.Errorf("after last packet: got %v, want io.EOF", err)
	}
}

func TestHeaderLayout(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WritePacket(&buf, KindDimension, EncodeDimension(media.Dimension{Width: 1280, Height: 720})); err != nil {
		t.Fatal(err)
	}

	want := []byte{
		0x04,                   // kind
		0x00, 0x00, 0x00, 0x08, // length
		0x00, 0x00, 0x05, 0x00, // width 1280
		0x00, 0x00, 0x02, 0xD0, // height 720
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("wire bytes:\n got %x\nwant %x", buf.Bytes(), want)
	}
}

func TestReadHeaderOversize(t *testing.T) {
	t.Parallel()

	hdr := []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF}
	_, _, err := ReadHeader(bytes.NewReader(hdr))
	if !errors.Is(err, ErrOversizePayload) {
		t.Fatalf("got %v, want ErrOversizePayload", err)
	}
	if !IsFraming(err) {
		t.Errorf("oversize length should be a FramingError")
	}
}

func TestWritePacketOversize(t *testing.T) {
	t.Parallel()

	err := WritePacket(io.Discard, KindVideo, make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrOversizePayload) {
		t.Fatalf("got %v, want ErrOversizePayload", err)
	}
}

func TestReadPacketTruncatedPayload(t *testing.T) {
	t.Parallel()

	// Declares 4096 payload bytes, delivers 2048.
	var buf bytes.Buffer
	buf.Write([]byte{0x01, 0x00, 0x00, 0x10, 0x00})
	buf.Write(make([]byte, 2048))

	_, err := ReadPacket(&buf)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
	if IsFraming(err) {
		t.Errorf("truncated payload is transient I/O, not a framing error")
	}
}

func TestReadHeaderTruncated(t *testing.T) {
	t.Parallel()

	_, _, err := ReadHeader(bytes.NewReader([]byte{0x01, 0x00}))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestParseDimension(t *testing.T) {
	t.Parallel()

	d, err := ParseDimension([]byte{0x00, 0x00, 0x02, 0xD0, 0x00, 0x00, 0x05, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if d.Width != 720 || d.Height != 1280 {
		t.Errorf("got %dx%d, want 720x1280", d.Width, d.Height)
	}

	if _, err := ParseDimension([]byte{0x01}); !IsFraming(err) {
		t.Errorf("short dimension payload: got %v, want framing error", err)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	if got := KindVideo.String(); got != "Video" {
		t.Errorf("got %q", got)
	}
	if got := Kind(0xEE).String(); got != "Kind(0xEE)" {
		t.Errorf("got %q", got)
	}
	if Kind(0x05).Known() {
		t.Error("0x05 is reserved, not known")
	}
}
