// Package player is the consumer pipeline: it receives demultiplexed
// packets from the transport client and feeds the decoder façades, keeping
// the session alive across recoverable decode failures and surfacing
// dimension changes and frame-available signals to observers.
package player

import (
	"log/slog"
	"sync/atomic"

	"github.com/screenreflect/screenreflect/media"
	"github.com/screenreflect/screenreflect/observe"
)

// VideoDecoder is the video decoder façade contract. Calls arrive on the
// receive goroutine and must return quickly; heavy decoding belongs on the
// façade's own threads.
type VideoDecoder interface {
	// Configure installs codec init bytes. May be called again mid-session
	// when the producer refreshes its config.
	Configure(config []byte) error
	// Decode consumes one access unit. Failures before a config+key pair
	// has landed are expected and recoverable.
	Decode(payload []byte) error
	// Reset returns the decoder to a known-empty state for a new session.
	Reset()
}

// AudioDecoder is the audio decoder façade contract.
type AudioDecoder interface {
	Configure(config []byte) error
	Decode(payload []byte) error
	Reset()
}

// Snapshot aggregates consumer-side pipeline counters.
type Snapshot struct {
	VideoFrames       int64 `json:"videoFrames"`
	AudioFrames       int64 `json:"audioFrames"`
	VideoDecodeErrors int64 `json:"videoDecodeErrors"`
	AudioDecodeErrors int64 `json:"audioDecodeErrors"`
	ConfigErrors      int64 `json:"configErrors"`
}

// Player implements demux.Handler over the decoder façades.
type Player struct {
	log  *slog.Logger
	vdec VideoDecoder
	adec AudioDecoder

	dimensions *observe.Broadcaster[media.Dimension]
	frames     *observe.Broadcaster[struct{}]

	videoFrames       atomic.Int64
	audioFrames       atomic.Int64
	videoDecodeErrors atomic.Int64
	audioDecodeErrors atomic.Int64
	configErrors      atomic.Int64
}

// New creates a Player over the given decoder façades. Either decoder may
// be nil for a video-only or audio-only consumer. If log is nil,
// slog.Default() is used.
func New(vdec VideoDecoder, adec AudioDecoder, log *slog.Logger) *Player {
	if log == nil {
		log = slog.Default()
	}
	return &Player{
		log:        log.With("component", "player"),
		vdec:       vdec,
		adec:       adec,
		dimensions: observe.NewBroadcaster[media.Dimension](),
		frames:     observe.NewBroadcaster[struct{}](),
	}
}

// Dimensions returns the broadcaster fired on every Dimension packet.
func (p *Player) Dimensions() *observe.Broadcaster[media.Dimension] {
	return p.dimensions
}

// Frames returns the broadcaster fired whenever a video frame was handed
// to the decoder; render façades use it as a latest-frame-available signal.
func (p *Player) Frames() *observe.Broadcaster[struct{}] {
	return p.frames
}

// ResetSession returns both decoders to a known-empty state. The transport
// client calls this when a session starts, before any byte is read.
func (p *Player) ResetSession() {
	if p.vdec != nil {
		p.vdec.Reset()
	}
	if p.adec != nil {
		p.adec.Reset()
	}
}

// HandleVideoConfig installs video codec init bytes.
func (p *Player) HandleVideoConfig(payload []byte) {
	if p.vdec == nil {
		return
	}
	if err := p.vdec.Configure(payload); err != nil {
		p.configErrors.Add(1)
		p.log.Warn("video decoder rejected config", "error", err)
	}
}

// HandleVideo feeds one access unit to the video decoder. A decode failure
// does not end the session: a frame received before its config, or a delta
// frame before the first key frame, fails until a config+key pair lands.
func (p *Player) HandleVideo(payload []byte) {
	if p.vdec == nil {
		return
	}
	if err := p.vdec.Decode(payload); err != nil {
		p.videoDecodeErrors.Add(1)
		p.log.Debug("video decode failed", "error", err)
		return
	}
	p.videoFrames.Add(1)
	p.frames.Publish(struct{}{})
}

// HandleAudio feeds one frame to the audio decoder.
func (p *Player) HandleAudio(payload []byte) {
	if p.adec == nil {
		return
	}
	if err := p.adec.Decode(payload); err != nil {
		p.audioDecodeErrors.Add(1)
		p.log.Debug("audio decode failed", "error", err)
		return
	}
	p.audioFrames.Add(1)
}

// HandleAudioConfig installs audio codec init bytes.
func (p *Player) HandleAudioConfig(payload []byte) {
	if p.adec == nil {
		return
	}
	if err := p.adec.Configure(payload); err != nil {
		p.configErrors.Add(1)
		p.log.Warn("audio decoder rejected config", "error", err)
	}
}

// HandleDimension surfaces the new encoded size to observers.
func (p *Player) HandleDimension(d media.Dimension) {
	p.log.Info("dimension update", "width", d.Width, "height", d.Height)
	p.dimensions.Publish(d)
}

// Snapshot returns current player counters.
func (p *Player) Snapshot() Snapshot {
	return Snapshot{
		VideoFrames:       p.videoFrames.Load(),
		AudioFrames:       p.audioFrames.Load(),
		VideoDecodeErrors: p.videoDecodeErrors.Load(),
		AudioDecodeErrors: p.audioDecodeErrors.Load(),
		ConfigErrors:      p.configErrors.Load(),
	}
}
