// ABOUTME: Prometheus metrics for the player
// ABOUTME: Exposes session, demultiplexer and audio buffer counters over HTTP
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/kantera-live/kantera-player/pkg/kantera"
	"github.com/kantera-live/kantera-player/pkg/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsSource is polled on every scrape
type StatsSource interface {
	Stats() kantera.PlayerStats
}

// Register adds the player metrics to reg
func Register(reg prometheus.Registerer, src StatsSource) {
	f := promauto.With(reg)

	counter := func(name, help string, get func(kantera.PlayerStats) int64) {
		f.NewCounterFunc(prometheus.CounterOpts{
			Name: "kantera_" + name,
			Help: help,
		}, func() float64 { return float64(get(src.Stats())) })
	}
	gauge := func(name, help string, get func(kantera.PlayerStats) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "kantera_" + name,
			Help: help,
		}, func() float64 { return get(src.Stats()) })
	}

	// Demultiplexer
	counter("messages_total", "Total number of inbound messages handled",
		func(s kantera.PlayerStats) int64 { return s.Demux.Messages })
	counter("frames_total", "Total number of video frames routed to the frame sink",
		func(s kantera.PlayerStats) int64 { return s.Demux.Frames })
	counter("frame_errors_total", "Total number of frames the frame sink rejected",
		func(s kantera.PlayerStats) int64 { return s.Demux.FrameErrors })
	counter("unexpected_binary_total", "Total number of binary messages with no announced type",
		func(s kantera.PlayerStats) int64 { return s.Demux.Unexpected })
	counter("parse_errors_total", "Total number of control messages that failed to parse",
		func(s kantera.PlayerStats) int64 { return s.Demux.ParseErrors })
	counter("out_of_order_total", "Total number of messages dropped for a stale sequence number",
		func(s kantera.PlayerStats) int64 { return s.Demux.OutOfOrder })
	gauge("sync_frame", "Frame number from the latest sync message",
		func(s kantera.PlayerStats) float64 { return float64(s.Demux.LastSync) })

	// Audio buffer
	counter("audio_chunks_pushed_total", "Total number of audio chunks queued",
		func(s kantera.PlayerStats) int64 { return s.Buffer.Pushed })
	counter("audio_chunks_evicted_total", "Total number of audio chunks dropped on overflow",
		func(s kantera.PlayerStats) int64 { return s.Buffer.Evicted })
	counter("audio_chunks_consumed_total", "Total number of audio chunks played out",
		func(s kantera.PlayerStats) int64 { return s.Buffer.Consumed })
	counter("audio_underruns_total", "Total number of render callbacks that ran out of audio",
		func(s kantera.PlayerStats) int64 { return s.Buffer.Underruns })
	counter("audio_contended_total", "Total number of render callbacks that yielded to the network",
		func(s kantera.PlayerStats) int64 { return s.Buffer.Contended })
	gauge("audio_queue_length", "Current number of queued audio chunks",
		func(s kantera.PlayerStats) float64 { return float64(s.Buffer.Queued) })

	// Session
	gauge("session_open", "1 while a renderer session is open",
		func(s kantera.PlayerStats) float64 {
			if s.State == protocol.Open {
				return 1
			}
			return 0
		})
}

// Server serves /metrics and /health
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// NewServer builds the HTTP handler for a registry
func NewServer(addr string, reg *prometheus.Registry, src StatsSource) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "ok %s\n", src.Stats().State)
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", "error", err)
		}
	}()

	log.Info("Metrics server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.srv.Addr
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
