// Package media defines the frame types that flow through the screenreflect
// pipeline, from the encoder façades through the multiplexer to the wire.
package media

// Queue capacities used by the producer-side multiplexer to decouple the
// encoder threads from the transport writer. Sized to absorb a short writer
// stall without excessive memory: ~1 second of video at 60 fps, ~2.5s of
// AAC audio.
const (
	VideoQueueSize = 60
	AudioQueueSize = 120
)

// VideoFrame is one encoded video access unit as produced by the video
// encoder façade. Key frames are decodable without reference to earlier
// frames and double as the session recovery point for late-joining
// consumers.
type VideoFrame struct {
	Data       []byte
	IsKeyframe bool
}

// AudioFrame is one encoded audio frame. The payload is self-delimited at
// the codec layer; consumers must not assume boundaries beyond the packet.
type AudioFrame struct {
	Data []byte
}

// Dimension is the encoded video size in pixels, announced to consumers
// whenever the capture source changes geometry.
type Dimension struct {
	Width  uint32
	Height uint32
}
