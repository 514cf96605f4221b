package mux

import "github.com/screenreflect/screenreflect/media"

// videoQueue is a bounded FIFO of encoded video frames with a non-blocking
// offer. On overflow it evicts the oldest non-key frame so that key frames
// already queued stay available as recovery points. Not safe for concurrent
// use; the Multiplexer guards it with its own mutex.
type videoQueue struct {
	frames  []media.VideoFrame
	cap     int
	dropped uint64
}

func newVideoQueue(capacity int) *videoQueue {
	return &videoQueue{frames: make([]media.VideoFrame, 0, capacity), cap: capacity}
}

// offer enqueues f, evicting per the overflow policy if the queue is full.
// It never blocks. Returns false when f itself was dropped.
func (q *videoQueue) offer(f media.VideoFrame) bool {
	if len(q.frames) < q.cap {
		q.frames = append(q.frames, f)
		return true
	}

	victim := q.oldestNonKey()
	if victim >= 0 {
		q.evict(victim)
		q.frames = append(q.frames, f)
		return true
	}

	// Queue holds only key frames. A newer key supersedes the oldest one
	// as the recovery point; a non-key frame loses to every queued key.
	if f.IsKeyframe {
		q.evict(0)
		q.frames = append(q.frames, f)
		return true
	}
	q.dropped++
	return false
}

// oldestNonKey returns the index of the oldest non-key frame, or -1.
func (q *videoQueue) oldestNonKey() int {
	for i, f := range q.frames {
		if !f.IsKeyframe {
			return i
		}
	}
	return -1
}

func (q *videoQueue) evict(i int) {
	copy(q.frames[i:], q.frames[i+1:])
	q.frames = q.frames[:len(q.frames)-1]
	q.dropped++
}

// poll removes and returns the oldest frame.
func (q *videoQueue) poll() (media.VideoFrame, bool) {
	if len(q.frames) == 0 {
		return media.VideoFrame{}, false
	}
	f := q.frames[0]
	n := copy(q.frames, q.frames[1:])
	q.frames[n] = media.VideoFrame{}
	q.frames = q.frames[:n]
	return f, true
}

func (q *videoQueue) len() int { return len(q.frames) }

func (q *videoQueue) clear() { q.frames = q.frames[:0] }

// audioQueue is a bounded FIFO of encoded audio frames. On overflow the
// oldest frame is dropped: audio has no inter-frame dependency at this
// layer, so freshness wins.
type audioQueue struct {
	frames  []media.AudioFrame
	cap     int
	dropped uint64
}

func newAudioQueue(capacity int) *audioQueue {
	return &audioQueue{frames: make([]media.AudioFrame, 0, capacity), cap: capacity}
}

func (q *audioQueue) offer(f media.AudioFrame) {
	if len(q.frames) >= q.cap {
		q.frames = q.frames[:copy(q.frames, q.frames[1:])]
		q.dropped++
	}
	q.frames = append(q.frames, f)
}

func (q *audioQueue) poll() (media.AudioFrame, bool) {
	if len(q.frames) == 0 {
		return media.AudioFrame{}, false
	}
	f := q.frames[0]
	n := copy(q.frames, q.frames[1:])
	q.frames[n] = media.AudioFrame{}
	q.frames = q.frames[:n]
	return f, true
}

func (q *audioQueue) len() int { return len(q.frames) }

func (q *audioQueue) clear() { q.frames = q.frames[:0] }
