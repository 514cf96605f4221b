package main

import (
	"fmt"
	"os"
	"sync"
)

// fileSink is a decoder façade that persists payloads instead of decoding
// them. Reset rewinds the file so each session's output starts with the
// stream's init bytes; Configure and Decode append payloads as delivered.
type fileSink struct {
	mu         sync.Mutex
	path       string
	f          *os.File
	configured bool
}

// newFileSink creates a sink writing to path. An empty path yields a
// discard sink.
func newFileSink(path string) (*fileSink, error) {
	s := &fileSink{path: path}
	if path == "" {
		return s, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	s.f = f
	return s, nil
}

func (s *fileSink) Configure(config []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = true
	if s.f == nil {
		return nil
	}
	_, err := s.f.Write(config)
	return err
}

func (s *fileSink) Decode(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.configured {
		return fmt.Errorf("no config received yet")
	}
	if s.f == nil {
		return nil
	}
	_, err := s.f.Write(payload)
	return err
}

func (s *fileSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = false
	if s.f != nil {
		s.f.Truncate(0)
		s.f.Seek(0, 0)
	}
}

func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}
