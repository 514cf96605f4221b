// Command reflect-sender is the producer: it ingests H.264 (Annex B) and
// optionally AAC (ADTS) elementary streams, acting as the capture/encoder
// façade, and serves them to one consumer over the framed TCP transport
// with mDNS advertisement.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/screenreflect/screenreflect/discovery"
	"github.com/screenreflect/screenreflect/metrics"
	"github.com/screenreflect/screenreflect/mux"
	"github.com/screenreflect/screenreflect/pipeline"
	"github.com/screenreflect/screenreflect/transport"
)

var version = "dev"

func main() {
	var (
		listenAddr  = flag.String("listen", envOr("LISTEN_ADDR", ":7466"), "transport listen address")
		metricsAddr = flag.String("metrics", envOr("METRICS_ADDR", ":7467"), "metrics/debug HTTP address, empty to disable")
		instance    = flag.String("name", envOr("INSTANCE_NAME", defaultInstance()), "mDNS service instance name")
		videoPath   = flag.String("video", "", "H.264 Annex B elementary stream file (required)")
		audioPath   = flag.String("audio", "", "AAC ADTS elementary stream file (optional)")
		fps         = flag.Int("fps", 30, "video frame pacing")
		noMDNS      = flag.Bool("no-mdns", false, "disable mDNS advertisement")
	)
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *videoPath == "" {
		fmt.Fprintln(os.Stderr, "usage: reflect-sender -video stream.h264 [-audio stream.aac]")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	m := mux.New(nil)

	source, err := newFileSource(*videoPath, *audioPath, *fps)
	if err != nil {
		slog.Error("failed to open source", "error", err)
		os.Exit(1)
	}

	producer := pipeline.NewProducer(m, source, nil)
	source.attach(producer)

	server := transport.NewServer(*listenAddr, m, producer.HandleClientConnected, nil)

	slog.Info("reflect-sender starting",
		"version", version,
		"listen", *listenAddr,
		"video", *videoPath,
		"audio", *audioPath,
		"fps", *fps,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start(ctx)
	})

	g.Go(func() error {
		return source.run(ctx)
	})

	if !*noMDNS {
		g.Go(func() error {
			return advertise(ctx, server, *instance)
		})
	}

	if *metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, *metricsAddr, m, producer, server)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("sender error", "error", err)
		os.Exit(1)
	}
}

// advertise waits for the transport server to bind, then registers the
// service with the bound port.
func advertise(ctx context.Context, server *transport.Server, instance string) error {
	for server.Port() == 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}

	adv, err := discovery.Advertise(instance, server.Port(), nil)
	if err != nil {
		return err
	}
	defer adv.Shutdown()

	<-ctx.Done()
	return nil
}

func serveMetrics(ctx context.Context, addr string, m *mux.Multiplexer, p *pipeline.Producer, s *transport.Server) error {
	reg := metrics.New()
	reg.Counter("screenreflect_video_submitted_total", "Video access units submitted by the encoder",
		func() float64 { return float64(m.Snapshot().VideoSubmitted) })
	reg.Counter("screenreflect_audio_submitted_total", "Audio frames submitted by the encoder",
		func() float64 { return float64(m.Snapshot().AudioSubmitted) })
	reg.Counter("screenreflect_video_dropped_total", "Video frames dropped on queue overflow",
		func() float64 { return float64(m.Snapshot().VideoDropped) })
	reg.Counter("screenreflect_audio_dropped_total", "Audio frames dropped on queue overflow",
		func() float64 { return float64(m.Snapshot().AudioDropped) })
	reg.Gauge("screenreflect_video_queue_depth", "Video frames waiting for the transport writer",
		func() float64 { return float64(m.Snapshot().VideoQueueLen) })
	reg.Gauge("screenreflect_audio_queue_depth", "Audio frames waiting for the transport writer",
		func() float64 { return float64(m.Snapshot().AudioQueueLen) })
	reg.Counter("screenreflect_sessions_accepted_total", "Consumer sessions accepted",
		func() float64 { return float64(s.Snapshot().SessionsAccepted) })
	reg.Counter("screenreflect_packets_sent_total", "Packets written to the transport",
		func() float64 { return float64(s.Snapshot().PacketsSent) })
	reg.Counter("screenreflect_bytes_sent_total", "Bytes written to the transport",
		func() float64 { return float64(s.Snapshot().BytesSent) })
	reg.Counter("screenreflect_keyframe_timeouts_total", "Connects not followed by a key frame in time",
		func() float64 { return float64(p.Snapshot().KeyFrameTimeouts) })

	mh := http.NewServeMux()
	mh.Handle("/metrics", reg.Handler())
	mh.Handle("/debug/stats", metrics.DebugHandler(func() any {
		return struct {
			Pipeline pipeline.Snapshot        `json:"pipeline"`
			Server   transport.ServerSnapshot `json:"server"`
		}{p.Snapshot(), s.Snapshot()}
	}))

	srv := &http.Server{Addr: addr, Handler: mh}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultInstance() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "screenreflect"
	}
	return host
}
