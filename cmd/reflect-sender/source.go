package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/screenreflect/screenreflect/aac"
	"github.com/screenreflect/screenreflect/h264"
	"github.com/screenreflect/screenreflect/pipeline"
)

// fileSource plays pre-encoded elementary streams as if it were a live
// capture/encoder pair: video access units are paced at the configured
// frame rate and looped, audio frames ride the same clock. It satisfies
// the pipeline's KeyFrameRequester by jumping to the next key access unit
// and refreshing the config, which is what a live encoder does when asked
// for an immediate key frame.
type fileSource struct {
	log      *slog.Logger
	producer *pipeline.Producer

	aus      []h264.AccessUnit
	config   []byte
	width    uint32
	height   uint32
	interval time.Duration

	audioFrames []aac.Frame
	audioConfig []byte

	keyRequested atomic.Bool
}

func newFileSource(videoPath, audioPath string, fps int) (*fileSource, error) {
	if fps <= 0 {
		return nil, fmt.Errorf("fps must be positive, got %d", fps)
	}

	videoData, err := os.ReadFile(videoPath)
	if err != nil {
		return nil, fmt.Errorf("read video: %w", err)
	}

	aus := h264.SplitAccessUnits(videoData)
	if len(aus) == 0 {
		return nil, fmt.Errorf("no access units in %s", videoPath)
	}

	s := &fileSource{
		log:      slog.With("component", "file-source"),
		aus:      aus,
		interval: time.Second / time.Duration(fps),
	}

	for _, au := range aus {
		if au.SPS != nil && au.PPS != nil {
			s.config = annexBConfig(au.SPS, au.PPS)
			info, err := h264.ParseSPS(au.SPS)
			if err != nil {
				return nil, fmt.Errorf("parse SPS: %w", err)
			}
			s.width, s.height = info.Width, info.Height
			break
		}
	}
	if s.config == nil {
		return nil, fmt.Errorf("no SPS/PPS in %s", videoPath)
	}

	if audioPath != "" {
		audioData, err := os.ReadFile(audioPath)
		if err != nil {
			return nil, fmt.Errorf("read audio: %w", err)
		}
		frames, err := aac.SplitFrames(audioData)
		if err != nil {
			return nil, fmt.Errorf("parse ADTS: %w", err)
		}
		if len(frames) == 0 {
			return nil, fmt.Errorf("no ADTS frames in %s", audioPath)
		}
		s.audioFrames = frames
		s.audioConfig = frames[0].AudioSpecificConfig()
	}

	return s, nil
}

// attach binds the producer after construction; the pipeline and the
// source reference each other.
func (s *fileSource) attach(p *pipeline.Producer) {
	s.producer = p
}

// RequestKeyFrame implements pipeline.KeyFrameRequester. The next emitted
// access unit will be a key frame preceded by a config refresh.
func (s *fileSource) RequestKeyFrame() {
	s.keyRequested.Store(true)
}

func (s *fileSource) run(ctx context.Context) error {
	s.producer.SubmitVideoConfig(s.config)
	if s.audioConfig != nil {
		s.producer.SubmitAudioConfig(s.audioConfig)
	}
	s.producer.HandleDimensionChange(s.width, s.height)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	vi, ai := 0, 0
	// Audio frames per video tick, so both streams track the same clock.
	// The fractional remainder carries over to the next tick.
	audioPerTick, audioDue := 0.0, 0.0
	if len(s.audioFrames) > 0 {
		frameDur := 1024.0 / 48000.0 // AAC frame duration at 48 kHz
		audioPerTick = s.interval.Seconds() / frameDur
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if s.keyRequested.CompareAndSwap(true, false) {
			vi = s.nextKeyIndex(vi)
			s.producer.SubmitVideoConfig(s.config)
			s.log.Debug("key frame requested, jumping to key access unit", "index", vi)
		}

		au := s.aus[vi]
		s.producer.SubmitVideo(au.Data, au.IsKeyframe)
		vi = (vi + 1) % len(s.aus)

		for audioDue += audioPerTick; audioDue >= 1; audioDue-- {
			s.producer.SubmitAudio(s.audioFrames[ai].Data)
			ai = (ai + 1) % len(s.audioFrames)
		}
	}
}

// nextKeyIndex returns the index of the first key access unit at or after
// from, wrapping around.
func (s *fileSource) nextKeyIndex(from int) int {
	for i := 0; i < len(s.aus); i++ {
		idx := (from + i) % len(s.aus)
		if s.aus[idx].IsKeyframe {
			return idx
		}
	}
	return from
}

// annexBConfig assembles SPS and PPS into a single Annex B blob, the
// VideoConfig payload convention for this codec.
func annexBConfig(sps, pps []byte) []byte {
	startCode := []byte{0x00, 0x00, 0x00, 0x01}
	out := make([]byte, 0, 8+len(sps)+len(pps))
	out = append(out, startCode...)
	out = append(out, sps...)
	out = append(out, startCode...)
	out = append(out, pps...)
	return out
}
