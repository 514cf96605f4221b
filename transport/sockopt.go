package transport

import (
	"net"
	"time"
)

// Socket policy shared by both peers. Nagle is disabled because a packet is
// already a complete access unit; coalescing only adds latency. Keepalive is
// tuned for LAN-speed detection of a dead peer. The producer's send buffer
// must absorb a single-frame burst at peak bitrate.
const (
	keepAliveIdle     = 5 * time.Second
	keepAliveInterval = 3 * time.Second
	keepAliveCount    = 3

	sendBufferSize = 4 << 20
)

func tuneConn(conn *net.TCPConn, producer bool) {
	// Best effort: a socket that rejects an option still carries the stream.
	_ = conn.SetNoDelay(true)
	_ = conn.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepAliveIdle,
		Interval: keepAliveInterval,
		Count:    keepAliveCount,
	})
	if producer {
		_ = conn.SetWriteBuffer(sendBufferSize)
	}
}
