// Package mux implements the producer-side packet multiplexer. Encoder
// façades submit tagged payloads; the multiplexer maintains the
// session-defining caches (video config, audio config, last key frame, last
// dimension), enforces the bounded-queue overflow policy, and presents a
// single prioritized drain to the transport writer.
//
// All submit operations are O(1) under a short mutex and never touch I/O,
// so encoder threads are never blocked by a stalled socket.
package mux

import (
	"log/slog"
	"sync"
	"time"

	"github.com/screenreflect/screenreflect/media"
	"github.com/screenreflect/screenreflect/wire"
)

// interleaveBatch is the number of frames taken from each of the video and
// audio queues per drain tick. Small enough to keep the streams paired
// under bursts, large enough to amortize the per-tick locking.
const interleaveBatch = 2

// Snapshot is a point-in-time view of multiplexer activity, serialized as
// JSON on the debug endpoint.
type Snapshot struct {
	VideoSubmitted uint64 `json:"videoSubmitted"`
	AudioSubmitted uint64 `json:"audioSubmitted"`
	VideoDropped   uint64 `json:"videoDropped"`
	AudioDropped   uint64 `json:"audioDropped"`
	VideoQueueLen  int    `json:"videoQueueLen"`
	AudioQueueLen  int    `json:"audioQueueLen"`
	HasVideoConfig bool   `json:"hasVideoConfig"`
	HasAudioConfig bool   `json:"hasAudioConfig"`
	HasKeyFrame    bool   `json:"hasKeyFrame"`
}

// Multiplexer routes encoder output to the transport writer. Caches are
// last-writer-wins and survive session resets; queues and pending-transmit
// markers are session-scoped.
type Multiplexer struct {
	log *slog.Logger

	mu sync.Mutex

	// Session-defining caches, replayed to every new consumer.
	videoConfig []byte
	audioConfig []byte
	keyFrame    []byte
	dimension   *media.Dimension

	// Pending-to-transmit markers, set on cache writes and consumed by
	// Drain (or Replay) for the current session only.
	pendingVideoConfig bool
	pendingAudioConfig bool
	pendingDimension   bool

	videoQ *videoQueue
	audioQ *audioQueue

	videoSubmitted uint64
	audioSubmitted uint64

	notify chan struct{}
}

// New creates a Multiplexer with the default queue capacities. If log is
// nil, slog.Default() is used.
func New(log *slog.Logger) *Multiplexer {
	if log == nil {
		log = slog.Default()
	}
	return &Multiplexer{
		log:    log.With("component", "mux"),
		videoQ: newVideoQueue(media.VideoQueueSize),
		audioQ: newAudioQueue(media.AudioQueueSize),
		notify: make(chan struct{}, 1),
	}
}

// SubmitVideo enqueues one encoded video access unit. Key frames also
// replace the cached recovery point. Never blocks.
func (m *Multiplexer) SubmitVideo(payload []byte, isKeyframe bool) {
	m.mu.Lock()
	if isKeyframe {
		m.keyFrame = payload
	}
	m.videoQ.offer(media.VideoFrame{Data: payload, IsKeyframe: isKeyframe})
	m.videoSubmitted++
	m.mu.Unlock()
	m.wake()
}

// SubmitAudio enqueues one encoded audio frame. Never blocks.
func (m *Multiplexer) SubmitAudio(payload []byte) {
	m.mu.Lock()
	m.audioQ.offer(media.AudioFrame{Data: payload})
	m.audioSubmitted++
	m.mu.Unlock()
	m.wake()
}

// SetVideoConfig replaces the cached video codec init bytes and marks them
// pending for the current session.
func (m *Multiplexer) SetVideoConfig(config []byte) {
	m.mu.Lock()
	m.videoConfig = config
	m.pendingVideoConfig = true
	m.mu.Unlock()
	m.wake()
}

// SetAudioConfig replaces the cached audio codec init bytes and marks them
// pending for the current session.
func (m *Multiplexer) SetAudioConfig(config []byte) {
	m.mu.Lock()
	m.audioConfig = config
	m.pendingAudioConfig = true
	m.mu.Unlock()
	m.wake()
}

// SetDimension replaces the cached encoded size and marks it pending for
// the current session.
func (m *Multiplexer) SetDimension(d media.Dimension) {
	m.mu.Lock()
	m.dimension = &d
	m.pendingDimension = true
	m.mu.Unlock()
	m.wake()
}

// Dimension returns the last-announced encoded size, if any.
func (m *Multiplexer) Dimension() (media.Dimension, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == nil {
		return media.Dimension{}, false
	}
	return *m.dimension, true
}

// AcceptDimension returns the cached encoded size for the accept-time fresh
// Dimension packet. Like Replay for the config markers, it consumes any
// pending-transmit marker so a SetDimension racing the accept window does
// not make the next Drain emit a duplicate.
func (m *Multiplexer) AcceptDimension() (media.Dimension, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimension == nil {
		return media.Dimension{}, false
	}
	m.pendingDimension = false
	return *m.dimension, true
}

// Replay returns the session-defining packets a freshly accepted consumer
// must receive before any live frame, in protocol order: VideoConfig,
// AudioConfig, then the cached key frame as a Video packet. Cached blobs
// whose pending markers were still set are considered covered by the
// replay, so the markers are cleared.
func (m *Multiplexer) Replay() []wire.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()

	packets := make([]wire.Packet, 0, 3)
	if m.videoConfig != nil {
		packets = append(packets, wire.Packet{Kind: wire.KindVideoConfig, Payload: m.videoConfig})
		m.pendingVideoConfig = false
	}
	if m.audioConfig != nil {
		packets = append(packets, wire.Packet{Kind: wire.KindAudioConfig, Payload: m.audioConfig})
		m.pendingAudioConfig = false
	}
	if m.keyFrame != nil {
		packets = append(packets, wire.Packet{Kind: wire.KindVideo, Payload: m.keyFrame})
	}
	return packets
}

// Drain returns the next packets to transmit for one drain tick, honoring
// strict priority: pending VideoConfig, pending AudioConfig, pending
// Dimension, then up to interleaveBatch video and audio frames taken
// alternately. An empty result means there is nothing to send; callers
// should Wait before polling again.
func (m *Multiplexer) Drain() []wire.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()

	var packets []wire.Packet

	if m.pendingVideoConfig {
		packets = append(packets, wire.Packet{Kind: wire.KindVideoConfig, Payload: m.videoConfig})
		m.pendingVideoConfig = false
	}
	if m.pendingAudioConfig {
		packets = append(packets, wire.Packet{Kind: wire.KindAudioConfig, Payload: m.audioConfig})
		m.pendingAudioConfig = false
	}
	if m.pendingDimension {
		packets = append(packets, wire.Packet{Kind: wire.KindDimension, Payload: wire.EncodeDimension(*m.dimension)})
		m.pendingDimension = false
	}

	for i := 0; i < interleaveBatch; i++ {
		v, vok := m.videoQ.poll()
		if vok {
			packets = append(packets, wire.Packet{Kind: wire.KindVideo, Payload: v.Data})
		}
		a, aok := m.audioQ.poll()
		if aok {
			packets = append(packets, wire.Packet{Kind: wire.KindAudio, Payload: a.Data})
		}
		if !vok && !aok {
			break
		}
	}

	return packets
}

// ResetSession discards all queued frames and pending-transmit markers.
// Caches are left intact; they are replayed to the next consumer. Called
// by the transport server at accept time, before the replay, so that
// nothing enqueued before the new session leaks onto it.
func (m *Multiplexer) ResetSession() {
	m.mu.Lock()
	dropped := m.videoQ.len() + m.audioQ.len()
	m.videoQ.clear()
	m.audioQ.clear()
	m.pendingVideoConfig = false
	m.pendingAudioConfig = false
	m.pendingDimension = false
	m.mu.Unlock()

	if dropped > 0 {
		m.log.Debug("session reset discarded queued frames", "count", dropped)
	}
}

// Wait blocks until new data may be available to Drain, the timeout
// elapses, or done is closed. The timed poll lets the writer coalesce
// config updates without busy-spinning.
func (m *Multiplexer) Wait(done <-chan struct{}, timeout time.Duration) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-m.notify:
	case <-t.C:
	case <-done:
	}
}

// Snapshot returns current counters and queue depths.
func (m *Multiplexer) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		VideoSubmitted: m.videoSubmitted,
		AudioSubmitted: m.audioSubmitted,
		VideoDropped:   m.videoQ.dropped,
		AudioDropped:   m.audioQ.dropped,
		VideoQueueLen:  m.videoQ.len(),
		AudioQueueLen:  m.audioQ.len(),
		HasVideoConfig: m.videoConfig != nil,
		HasAudioConfig: m.audioConfig != nil,
		HasKeyFrame:    m.keyFrame != nil,
	}
}

func (m *Multiplexer) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
