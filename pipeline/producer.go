// Package pipeline wires the capture and encoder façades to the multiplexer
// and transport server on the producer. It owns the encoder feedback
// contract: the client-connected signal requests an immediate key frame, and
// a capture dimension change is propagated to consumers and followed by a
// fresh key frame so they can re-sync.
package pipeline

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/screenreflect/screenreflect/media"
	"github.com/screenreflect/screenreflect/mux"
)

// keyFrameWindow is how long the pipeline waits after a client connect for
// the encoder to honor a key-frame request before raising a diagnostic.
const keyFrameWindow = 3 * time.Second

// KeyFrameRequester is the part of the video encoder façade the pipeline
// drives. RequestKeyFrame must be cheap and asynchronous; the encoder emits
// the key frame on its own thread via SubmitVideo.
type KeyFrameRequester interface {
	RequestKeyFrame()
}

// Snapshot aggregates producer-side pipeline counters for the debug
// endpoint.
type Snapshot struct {
	UptimeMs         int64        `json:"uptimeMs"`
	Mux              mux.Snapshot `json:"mux"`
	Width            uint32       `json:"width"`
	Height           uint32       `json:"height"`
	KeyFrameTimeouts uint64       `json:"keyFrameTimeouts"`
}

// Producer is the submission surface the encoder façades call into, and
// the feedback surface the transport server signals.
type Producer struct {
	log *slog.Logger
	mux *mux.Multiplexer
	enc KeyFrameRequester

	startTime time.Time

	lastKeyNanos     atomic.Int64
	keyFrameTimeouts atomic.Uint64
	width            atomic.Uint32
	height           atomic.Uint32
}

// NewProducer creates a Producer feeding m. enc may be nil when the video
// encoder façade offers no key-frame control; the pipeline then degrades to
// waiting for the encoder's periodic key frames. If log is nil,
// slog.Default() is used.
func NewProducer(m *mux.Multiplexer, enc KeyFrameRequester, log *slog.Logger) *Producer {
	if log == nil {
		log = slog.Default()
	}
	return &Producer{
		log:       log.With("component", "pipeline"),
		mux:       m,
		enc:       enc,
		startTime: time.Now(),
	}
}

// SubmitVideoConfig records new codec init bytes from the video encoder,
// emitted when they first become available or whenever they change.
func (p *Producer) SubmitVideoConfig(config []byte) {
	p.mux.SetVideoConfig(config)
}

// SubmitVideo forwards one encoded access unit, tagged key or non-key by
// the encoder.
func (p *Producer) SubmitVideo(payload []byte, isKeyframe bool) {
	if isKeyframe {
		p.lastKeyNanos.Store(time.Now().UnixNano())
	}
	p.mux.SubmitVideo(payload, isKeyframe)
}

// SubmitAudioConfig records new init bytes from the audio encoder.
func (p *Producer) SubmitAudioConfig(config []byte) {
	p.mux.SetAudioConfig(config)
}

// SubmitAudio forwards one encoded audio frame.
func (p *Producer) SubmitAudio(payload []byte) {
	p.mux.SubmitAudio(payload)
}

// HandleDimensionChange is called by the capture façade when the encoded
// geometry changes. Consumers get the new size ahead of the next frames,
// and the encoder is asked for a key frame so decoding restarts cleanly at
// the new dimensions.
func (p *Producer) HandleDimensionChange(width, height uint32) {
	p.width.Store(width)
	p.height.Store(height)
	p.mux.SetDimension(media.Dimension{Width: width, Height: height})
	p.log.Info("dimension changed", "width", width, "height", height)
	p.requestKeyFrame()
}

// HandleClientConnected is the transport server's accept-time signal. A
// fresh key frame is requested so session start-up does not wait out the
// encoder's periodic key-frame interval, and a watchdog raises a
// diagnostic if the encoder never delivers.
func (p *Producer) HandleClientConnected() {
	connectedAt := time.Now().UnixNano()
	p.requestKeyFrame()

	time.AfterFunc(keyFrameWindow, func() {
		if p.lastKeyNanos.Load() < connectedAt {
			p.keyFrameTimeouts.Add(1)
			p.log.Warn("no key frame within window after client connect",
				"window", keyFrameWindow)
		}
	})
}

func (p *Producer) requestKeyFrame() {
	if p.enc != nil {
		p.enc.RequestKeyFrame()
	}
}

// Snapshot returns current pipeline counters.
func (p *Producer) Snapshot() Snapshot {
	return Snapshot{
		UptimeMs:         time.Since(p.startTime).Milliseconds(),
		Mux:              p.mux.Snapshot(),
		Width:            p.width.Load(),
		Height:           p.height.Load(),
		KeyFrameTimeouts: p.keyFrameTimeouts.Load(),
	}
}
