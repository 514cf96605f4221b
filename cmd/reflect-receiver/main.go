// Command reflect-receiver is the consumer: it locates a producer via mDNS
// (or a -connect override), receives the framed stream, and hands payloads
// to file-sink decoder façades. Dimension changes and connection state are
// logged as they would drive a rendering surface.
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
	"github.com/screenreflect/screenreflect/player"
	"github.com/screenreflect/screenreflect/transport"
)

var version = "dev"

func main() {
	var (
		connectAddr = flag.String("connect", envOr("CONNECT_ADDR", ""), "producer host:port, empty to discover via mDNS")
		videoOut    = flag.String("video-out", "received.h264", "file for received video access units, empty to discard")
		audioOut    = flag.String("audio-out", "", "file for received audio frames, empty to discard")
		metricsAddr = flag.String("metrics", envOr("METRICS_ADDR", ""), "metrics/debug HTTP address, empty to disable")
		timeout     = flag.Duration("discover-timeout", 10*time.Second, "how long to browse for a producer")
	)
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	addr := *connectAddr
	if addr == "" {
		browseCtx, browseCancel := context.WithTimeout(ctx, *timeout)
		ep, err := discovery.First(browseCtx, nil)
		browseCancel()
		if err != nil {
			slog.Error("no producer discovered", "error", err)
			os.Exit(1)
		}
		slog.Info("discovered producer", "endpoint", ep.String())
		addr = ep.Addr()
	}

	vdec, err := newFileSink(*videoOut)
	if err != nil {
		slog.Error("failed to open video sink", "error", err)
		os.Exit(1)
	}
	defer vdec.Close()

	adec, err := newFileSink(*audioOut)
	if err != nil {
		slog.Error("failed to open audio sink", "error", err)
		os.Exit(1)
	}
	defer adec.Close()

	pl := player.New(vdec, adec, nil)
	client := transport.NewClient(transport.ClientConfig{
		Handler:        pl,
		OnSessionStart: pl.ResetSession,
	})

	slog.Info("reflect-receiver starting", "version", version, "producer", addr)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dims, cancelSub := pl.Dimensions().Subscribe()
		defer cancelSub()
		for {
			select {
			case <-ctx.Done():
				return nil
			case d := <-dims:
				slog.Info("stream dimension", "width", d.Width, "height", d.Height)
			}
		}
	})

	if *metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, *metricsAddr, client, pl)
		})
	}

	g.Go(func() error {
		defer cancel()
		err := client.Run(ctx, addr)
		if err != nil {
			slog.Error("session failed", "error", err, "lastError", client.LastError())
			return err
		}
		snap := pl.Snapshot()
		slog.Info("session ended",
			"videoFrames", snap.VideoFrames,
			"audioFrames", snap.AudioFrames,
			"decodeErrors", snap.VideoDecodeErrors+snap.AudioDecodeErrors,
		)
		return nil
	})

	if err := g.Wait(); err != nil {
		os.Exit(1)
	}
}

func serveMetrics(ctx context.Context, addr string, c *transport.Client, pl *player.Player) error {
	reg := metrics.New()
	reg.Counter("screenreflect_packets_received_total", "Packets parsed from the transport",
		func() float64 { return float64(c.Snapshot().Packets) })
	reg.Counter("screenreflect_bytes_received_total", "Bytes parsed from the transport",
		func() float64 { return float64(c.Snapshot().Bytes) })
	reg.Counter("screenreflect_unknown_kinds_total", "Reserved packet kinds skipped",
		func() float64 { return float64(c.Snapshot().UnknownKinds) })
	reg.Counter("screenreflect_video_frames_total", "Video frames handed to the decoder",
		func() float64 { return float64(pl.Snapshot().VideoFrames) })
	reg.Counter("screenreflect_decode_errors_total", "Decoder façade failures (recoverable)",
		func() float64 {
			s := pl.Snapshot()
			return float64(s.VideoDecodeErrors + s.AudioDecodeErrors)
		})

	mh := http.NewServeMux()
	mh.Handle("/metrics", reg.Handler())
	mh.Handle("/debug/stats", metrics.DebugHandler(func() any {
		return struct {
			Parser any `json:"parser"`
			Player any `json:"player"`
		}{c.Snapshot(), pl.Snapshot()}
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
