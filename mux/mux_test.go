package mux

import (
	"bytes"
	"testing"
	"time"

	"github.com/screenreflect/screenreflect/media"
	"github.com/screenreflect/screenreflect/wire"
)

func frame(tag byte, n int) []byte {
	return bytes.Repeat([]byte{tag}, n)
}

// drainAll collects packets across drain ticks until the mux runs dry.
func drainAll(m *Multiplexer) []wire.Packet {
	var all []wire.Packet
	for {
		p := m.Drain()
		if len(p) == 0 {
			return all
		}
		all = append(all, p...)
	}
}

func TestDrainPriority(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SubmitVideo(frame(0x41, 16), false)
	m.SubmitAudio(frame(0x51, 8))
	m.SetDimension(media.Dimension{Width: 1280, Height: 720})
	m.SetAudioConfig(frame(0x11, 2))
	m.SetVideoConfig(frame(0x67, 4))

	got := m.Drain()
	wantKinds := []wire.Kind{
		wire.KindVideoConfig,
		wire.KindAudioConfig,
		wire.KindDimension,
		wire.KindVideo,
		wire.KindAudio,
	}
	if len(got) != len(wantKinds) {
		t.Fatalf("drained %d packets, want %d", len(got), len(wantKinds))
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Errorf("packet #%d: got %v, want %v", i, got[i].Kind, k)
		}
	}
}

func TestDrainInterleave(t *testing.T) {
	t.Parallel()

	m := New(nil)
	for i := 0; i < 6; i++ {
		m.SubmitVideo(frame(byte(i), 4), false)
		m.SubmitAudio(frame(byte(0x80+i), 4))
	}

	got := m.Drain()
	want := []wire.Kind{wire.KindVideo, wire.KindAudio, wire.KindVideo, wire.KindAudio}
	if len(got) != len(want) {
		t.Fatalf("drained %d packets, want %d", len(got), len(want))
	}
	for i, k := range want {
		if got[i].Kind != k {
			t.Errorf("packet #%d: got %v, want %v", i, got[i].Kind, k)
		}
	}
}

func TestDrainContinuesWhenOneQueueStarves(t *testing.T) {
	t.Parallel()

	m := New(nil)
	for i := 0; i < 4; i++ {
		m.SubmitAudio(frame(byte(i), 4))
	}

	got := m.Drain()
	if len(got) != interleaveBatch {
		t.Fatalf("drained %d packets, want %d", len(got), interleaveBatch)
	}
	for i, p := range got {
		if p.Kind != wire.KindAudio {
			t.Errorf("packet #%d: got %v, want Audio", i, p.Kind)
		}
	}
}

func TestAudioOverflowDropsOldest(t *testing.T) {
	t.Parallel()

	m := New(nil)
	total := media.AudioQueueSize + 10
	for i := 0; i < total; i++ {
		m.SubmitAudio([]byte{byte(i)})
	}

	snap := m.Snapshot()
	if snap.AudioDropped != 10 {
		t.Errorf("AudioDropped: got %d, want 10", snap.AudioDropped)
	}
	if snap.AudioQueueLen != media.AudioQueueSize {
		t.Errorf("AudioQueueLen: got %d, want %d", snap.AudioQueueLen, media.AudioQueueSize)
	}

	// The survivors are the freshest frames, in order.
	p := m.Drain()
	if p[0].Payload[0] != 10 {
		t.Errorf("oldest surviving audio frame: got %d, want 10", p[0].Payload[0])
	}
}

func TestVideoOverflowEvictsOldestNonKey(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SubmitVideo([]byte{0xAA}, true)
	for i := 0; i < media.VideoQueueSize+20; i++ {
		m.SubmitVideo([]byte{byte(i)}, false)
	}

	// The key frame entered first; every eviction must have chosen a
	// non-key victim, so it is still at the queue head.
	got := m.Drain()
	if got[0].Payload[0] != 0xAA {
		t.Errorf("queue head: got %#x, want the key frame 0xAA", got[0].Payload[0])
	}

	// 80 non-key frames offered, 59 slots beside the key frame.
	snap := m.Snapshot()
	if snap.VideoDropped != 21 {
		t.Errorf("VideoDropped: got %d, want 21", snap.VideoDropped)
	}
}

func TestVideoOverflowIncomingKeyEvictsNonKey(t *testing.T) {
	t.Parallel()

	m := New(nil)
	for i := 0; i < media.VideoQueueSize; i++ {
		m.SubmitVideo([]byte{byte(i)}, false)
	}
	m.SubmitVideo([]byte{0xAB}, true)

	all := drainAll(m)
	if len(all) != media.VideoQueueSize {
		t.Fatalf("queue length changed: got %d", len(all))
	}
	last := all[len(all)-1]
	if last.Payload[0] != 0xAB {
		t.Errorf("incoming key frame was not enqueued")
	}
	if all[0].Payload[0] != 1 {
		t.Errorf("oldest non-key was not the eviction victim: head is %#x", all[0].Payload[0])
	}
}

func TestVideoOverflowNewKeySupersedesOldKey(t *testing.T) {
	t.Parallel()

	m := New(nil)
	// Fill the queue entirely with key frames.
	for i := 0; i < media.VideoQueueSize; i++ {
		m.SubmitVideo([]byte{byte(i)}, true)
	}
	m.SubmitVideo([]byte{0xCC}, true)

	all := drainAll(m)
	if all[0].Payload[0] != 1 {
		t.Errorf("oldest key frame should have been superseded: head is %#x", all[0].Payload[0])
	}
	if all[len(all)-1].Payload[0] != 0xCC {
		t.Errorf("new key frame missing from queue tail")
	}
}

func TestVideoOverflowAllKeysDropsIncomingNonKey(t *testing.T) {
	t.Parallel()

	m := New(nil)
	for i := 0; i < media.VideoQueueSize; i++ {
		m.SubmitVideo([]byte{byte(i)}, true)
	}
	m.SubmitVideo([]byte{0xDD}, false)

	all := drainAll(m)
	if len(all) != media.VideoQueueSize {
		t.Fatalf("queue length changed: got %d", len(all))
	}
	for _, p := range all {
		if p.Payload[0] == 0xDD {
			t.Fatal("non-key frame displaced a queued key frame")
		}
	}
}

func TestKeyFrameCacheSurvivesOverflow(t *testing.T) {
	t.Parallel()

	m := New(nil)
	key := frame(0x65, 768)
	m.SubmitVideo(key, true)
	for i := 0; i < media.VideoQueueSize*3; i++ {
		m.SubmitVideo([]byte{byte(i)}, false)
	}

	replay := m.Replay()
	if len(replay) != 1 {
		t.Fatalf("replay: got %d packets, want 1", len(replay))
	}
	if replay[0].Kind != wire.KindVideo || !bytes.Equal(replay[0].Payload, key) {
		t.Error("cached key frame was lost under queue overflow")
	}
}

func TestReplayOrderAndPendingConsumption(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SetVideoConfig([]byte{0x67, 0x42, 0x00, 0x1E})
	m.SetAudioConfig([]byte{0x11, 0x90})
	m.SubmitVideo(frame(0x65, 768), true)
	m.SetDimension(media.Dimension{Width: 1280, Height: 720})

	// Drop the frames queued before the session, as the server does at
	// accept time.
	m.ResetSession()

	replay := m.Replay()
	wantKinds := []wire.Kind{wire.KindVideoConfig, wire.KindAudioConfig, wire.KindVideo}
	if len(replay) != len(wantKinds) {
		t.Fatalf("replay: got %d packets, want %d", len(replay), len(wantKinds))
	}
	for i, k := range wantKinds {
		if replay[i].Kind != k {
			t.Errorf("replay #%d: got %v, want %v", i, replay[i].Kind, k)
		}
	}

	// Configs were covered by the replay; Drain must not send them again.
	if got := m.Drain(); len(got) != 0 {
		t.Errorf("post-replay drain: got %d packets, want 0 (kinds %v)", len(got), got[0].Kind)
	}
}

func TestResetSessionIsolation(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SubmitVideo([]byte{0x01}, false)
	m.SubmitAudio([]byte{0x02})
	m.SetDimension(media.Dimension{Width: 640, Height: 480})

	m.ResetSession()

	if got := m.Drain(); len(got) != 0 {
		t.Fatalf("drained %d packets after reset, want 0", len(got))
	}

	// Caches survive the reset.
	if _, ok := m.Dimension(); !ok {
		t.Error("dimension cache cleared by session reset")
	}
}

func TestAcceptDimensionConsumesPendingMarker(t *testing.T) {
	t.Parallel()

	m := New(nil)
	m.SetDimension(media.Dimension{Width: 1280, Height: 720})
	m.ResetSession()

	// A dimension change lands between the session reset and the
	// accept-time fresh Dimension write.
	m.SetDimension(media.Dimension{Width: 720, Height: 1280})

	d, ok := m.AcceptDimension()
	if !ok || d.Width != 720 || d.Height != 1280 {
		t.Fatalf("AcceptDimension: got %dx%d/%v", d.Width, d.Height, ok)
	}

	// The accept-time packet covered the update; Drain must not emit a
	// duplicate.
	if got := m.Drain(); len(got) != 0 {
		t.Errorf("drained %d packets after accept, want 0 (first kind %v)", len(got), got[0].Kind)
	}

	// A plain Dimension read does not consume the marker.
	m.SetDimension(media.Dimension{Width: 640, Height: 480})
	if _, ok := m.Dimension(); !ok {
		t.Fatal("Dimension lost")
	}
	got := m.Drain()
	if len(got) != 1 || got[0].Kind != wire.KindDimension {
		t.Errorf("mid-session dimension update not drained: %v", got)
	}
}

func TestSubmitNeverBlocksWithoutDrain(t *testing.T) {
	t.Parallel()

	m := New(nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far beyond every queue capacity; no one is draining.
		for i := 0; i < media.VideoQueueSize*50; i++ {
			m.SubmitVideo([]byte{byte(i)}, i%30 == 0)
			m.SubmitAudio([]byte{byte(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("submit blocked with no active drain")
	}
}

func TestWaitWakesOnSubmit(t *testing.T) {
	t.Parallel()

	m := New(nil)
	// Consume any buffered wake-up first.
	m.Wait(nil, time.Millisecond)

	start := time.Now()
	go func() {
		time.Sleep(10 * time.Millisecond)
		m.SubmitAudio([]byte{0x01})
	}()
	m.Wait(nil, 5*time.Second)
	if time.Since(start) >= 5*time.Second {
		t.Error("Wait did not wake on submit")
	}
}
