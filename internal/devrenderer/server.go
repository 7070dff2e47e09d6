// ABOUTME: Development renderer speaking the Kantera live stream protocol
// ABOUTME: Manages WebSocket sessions, scene scripts and paced frame/audio streaming
package devrenderer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kantera-live/kantera-player/internal/discovery"
	"github.com/kantera-live/kantera-player/pkg/audio"
	"github.com/kantera-live/kantera-player/pkg/protocol"
	"golang.org/x/time/rate"
)

const (
	DefaultPath          = "/ws/"
	DefaultPingInterval  = 5 * time.Second
	DefaultClientTimeout = 10 * time.Second

	sendBuffer   = 32
	writeTimeout = 10 * time.Second
)

// Config holds renderer configuration
type Config struct {
	Addr       string // Listen address (default ":8080")
	Path       string // WebSocket path (default "/ws/")
	Name       string // mDNS instance name
	EnableMDNS bool

	// Script is evaluated for every new session; empty waits for the player
	Script string

	// RenderDir receives files written by "render: " (default "./tmp")
	RenderDir string

	PingInterval  time.Duration
	ClientTimeout time.Duration
}

// Server is a development renderer
type Server struct {
	config   Config
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	logger   *log.Logger

	httpServer *http.Server
	mdns       *discovery.Manager

	sessions   map[string]*session
	sessionsMu sync.RWMutex

	framesSent atomic.Int64

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a renderer
func New(config Config) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Name == "" {
		config.Name = "kantera-devrenderer"
	}
	if config.RenderDir == "" {
		config.RenderDir = "tmp"
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.ClientTimeout <= 0 {
		config.ClientTimeout = DefaultClientTimeout
	}

	s := &Server{
		config: config,
		upgrader: websocket.Upgrader{
			// Local development tool; browsers and players alike may connect
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		mux:      http.NewServeMux(),
		logger:   log.Default().WithPrefix("devrenderer"),
		sessions: make(map[string]*session),
		stopChan: make(chan struct{}),
	}
	s.mux.HandleFunc(config.Path, s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler serving the WebSocket endpoint
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if s.config.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        port,
			Path:        s.config.Path,
		})
		if err := s.mdns.Advertise(); err != nil {
			s.logger.Warn("Failed to start mDNS advertisement", "error", err)
		}
	}

	s.httpServer = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.logger.Info("Renderer listening", "addr", ln.Addr().String(), "path", s.config.Path)

	var serverErr error
	select {
	case <-s.stopChan:
		s.logger.Info("Renderer shutting down")
	case serverErr = <-errChan:
		s.logger.Error("HTTP server error", "error", serverErr)
	}

	if s.mdns != nil {
		s.mdns.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown error", "error", err)
	}

	// Hijacked connections are not closed by Shutdown
	s.sessionsMu.RLock()
	for _, sess := range s.sessions {
		sess.closeConn()
	}
	s.sessionsMu.RUnlock()

	s.wg.Wait()
	s.logger.Info("Renderer stopped")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the renderer
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Sessions returns the number of connected players
func (s *Server) Sessions() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

// FramesSent returns the number of frames streamed across all sessions
func (s *Server) FramesSent() int64 {
	return s.framesSent.Load()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade error", "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	s.handleConnection(conn, r.RemoteAddr)
}

// wsMessage is one WebSocket frame queued for the writer
type wsMessage struct {
	kind int
	data []byte
}

// session is one connected player
type session struct {
	id     string
	server *Server
	conn   *websocket.Conn
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// Batches keep an announcement and its payload adjacent
	send chan []wsMessage

	limiter *rate.Limiter
	wake    chan struct{}

	mu     sync.Mutex
	scene  *Scene
	source Source
	frame  int64
	active bool

	closeOnce sync.Once
}

func (s *Server) handleConnection(conn *websocket.Conn, remote string) {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	sess := &session{
		id:      id,
		server:  s,
		conn:    conn,
		logger:  s.logger.With("session", id[:8]),
		ctx:     ctx,
		cancel:  cancel,
		send:    make(chan []wsMessage, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(DefaultFramerate), 1),
		wake:    make(chan struct{}, 1),
	}

	s.sessionsMu.Lock()
	s.sessions[id] = sess
	s.sessionsMu.Unlock()

	sess.logger.Info("Player connected", "remote", remote)

	defer func() {
		cancel()
		sess.closeConn()

		s.sessionsMu.Lock()
		delete(s.sessions, id)
		s.sessionsMu.Unlock()

		sess.mu.Lock()
		if sess.source != nil {
			sess.source.Close()
		}
		sess.mu.Unlock()

		sess.logger.Info("Player disconnected")
	}()

	sess.sendText(protocol.Log{Text: "ready."})
	if s.config.Script != "" {
		sess.runScript(s.config.Script)
	}

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		sess.writer()
	}()
	go func() {
		defer workers.Done()
		sess.renderLoop()
	}()

	sess.reader()
	cancel()
	workers.Wait()
}

func (sess *session) closeConn() {
	sess.closeOnce.Do(func() {
		sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(time.Second))
		sess.conn.Close()
	})
}

// reader handles commands until the connection fails
func (sess *session) reader() {
	timeout := sess.server.config.ClientTimeout
	refresh := func() {
		sess.conn.SetReadDeadline(time.Now().Add(timeout))
	}
	refresh()
	sess.conn.SetPongHandler(func(string) error {
		refresh()
		return nil
	})

	for {
		kind, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sess.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		refresh()

		if kind != websocket.TextMessage {
			sess.logger.Debug("Ignoring binary message", "bytes", len(data))
			continue
		}
		sess.handleCommand(string(data))
	}
}

func (sess *session) handleCommand(text string) {
	cmd, err := protocol.ParseCommand(text)
	if err != nil {
		sess.logger.Warn("Unknown command", "error", err)
		return
	}
	sess.logger.Debug("Command", "name", cmd.Name, "bytes", len(cmd.Arg))

	switch cmd.Name {
	case protocol.CommandScript:
		sess.runScript(cmd.Arg)
	case protocol.CommandRender:
		sess.render(cmd.Arg)
	case protocol.CommandMount:
		sess.mount(cmd.Arg)
	}
}

// runScript replaces the scene and restarts streaming from its first frame
func (sess *session) runScript(src string) {
	scene, err := ParseScene(src)
	if err != nil {
		sess.sendText(protocol.ParseFailed{Error: err.Error()})
		return
	}
	source, err := NewSource(scene.Audio)
	if err != nil {
		sess.sendText(protocol.ParseFailed{Error: err.Error()})
		return
	}

	sess.mu.Lock()
	if sess.source != nil {
		sess.source.Close()
	}
	sess.scene = &scene
	sess.source = source
	sess.frame = scene.StartFrame
	sess.active = true
	sess.limiter.SetLimit(rate.Limit(scene.Framerate))

	// Announced under the lock so no chunk of the new scene precedes it
	sess.sendText(protocol.StreamInfo{
		SampleRate:  scene.SampleRate,
		ChannelMode: scene.ChannelMode(),
		Framerate:   scene.Framerate,
	})
	sess.mu.Unlock()

	sess.logger.Info("Scene loaded", "framerate", scene.Framerate, "samplerate", scene.SampleRate,
		"size", fmt.Sprintf("%dx%d", scene.Width, scene.Height), "audio", scene.Audio)

	select {
	case sess.wake <- struct{}{}:
	default:
	}
}

func (sess *session) render(file string) {
	sess.mu.Lock()
	var scene *Scene
	if sess.scene != nil {
		sc := *sess.scene
		scene = &sc
	}
	sess.mu.Unlock()

	path, err := export(scene, sess.server.config.RenderDir, file)
	if err != nil {
		sess.sendText(protocol.RenderFailed{Error: err.Error()})
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sess.logger.Info("Rendering done", "path", path)
	sess.sendText(protocol.RenderSucceeded{Path: path})
}

func (sess *session) mount(desc string) {
	v, err := protocol.ParseLiteral(desc)
	if err != nil {
		sess.sendText(protocol.ParseFailed{Error: err.Error()})
		return
	}
	obj, ok := v.(map[string]any)
	if !ok {
		sess.sendText(protocol.ParseFailed{Error: "mount description must be an object"})
		return
	}
	sess.sendText(protocol.Log{Text: fmt.Sprintf("mounted %d entries", len(obj))})
}

// renderLoop streams frames at the scene's framerate while a scene is active
func (sess *session) renderLoop() {
	for {
		if err := sess.limiter.Wait(sess.ctx); err != nil {
			return
		}

		sess.mu.Lock()
		if !sess.active {
			sess.mu.Unlock()
			select {
			case <-sess.wake:
				continue
			case <-sess.ctx.Done():
				return
			}
		}

		batch, err := sess.renderFrame()
		if err != nil {
			sess.logger.Error("Frame render failed", "error", err)
			sess.active = false
			sess.mu.Unlock()
			continue
		}
		ok := sess.enqueue(batch)
		sess.mu.Unlock()

		if !ok {
			return
		}
		sess.server.framesSent.Add(1)
	}
}

// renderFrame builds the messages for the current frame and advances it.
// Caller holds mu.
func (sess *session) renderFrame() ([]wsMessage, error) {
	scene := sess.scene
	frame := sess.frame
	var batch []wsMessage

	if scene.Video != "none" && scene.Width > 0 && scene.Height > 0 {
		img, err := encodeFrame(scene.Width, scene.Height, frame, scene.Framerate)
		if err != nil {
			return nil, err
		}
		batch = append(batch, textMessage(protocol.FrameAnnounce{}), wsMessage{websocket.BinaryMessage, img})
	}

	if sess.source != nil {
		sr, fps := int64(scene.SampleRate), int64(scene.Framerate)
		n := int((frame+1)*sr/fps - frame*sr/fps)
		left := make([]float64, n)
		right := make([]float64, n)
		sess.source.Read(left, right, scene.SampleRate)

		batch = append(batch, textMessage(protocol.AudioAnnounce{}),
			wsMessage{websocket.BinaryMessage, audio.EncodeChunk(blockChunk(left, right, scene.Channels))})
	}

	batch = append(batch, textMessage(protocol.Sync{Frame: frame}))

	sess.frame++
	if scene.Finite() && sess.frame >= scene.EndFrame {
		if scene.Loop {
			sess.frame = scene.StartFrame
		} else {
			sess.active = false
		}
	}
	return batch, nil
}

// blockChunk lays out stereo as all left samples followed by all right samples
func blockChunk(left, right []float64, channels int) audio.Chunk {
	chunk := make(audio.Chunk, 0, len(left)*channels)
	for _, v := range left {
		chunk = append(chunk, audio.SampleFromFloat(v))
	}
	if channels == 2 {
		for _, v := range right {
			chunk = append(chunk, audio.SampleFromFloat(v))
		}
	}
	return chunk
}

func textMessage(m protocol.Message) wsMessage {
	data, err := protocol.Marshal(m)
	if err != nil {
		// Every message type this renderer sends is marshalable
		panic(err)
	}
	return wsMessage{websocket.TextMessage, data}
}

func (sess *session) sendText(m protocol.Message) {
	sess.enqueue([]wsMessage{textMessage(m)})
}

// enqueue blocks until the writer accepts the batch or the session ends
func (sess *session) enqueue(batch []wsMessage) bool {
	select {
	case sess.send <- batch:
		return true
	case <-sess.ctx.Done():
		return false
	}
}

// writer owns all writes to the connection
func (sess *session) writer() {
	ticker := time.NewTicker(sess.server.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case batch := <-sess.send:
			for _, m := range batch {
				sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := sess.conn.WriteMessage(m.kind, m.data); err != nil {
					sess.logger.Warn("Write failed", "error", err)
					sess.cancel()
					sess.conn.Close()
					return
				}
			}
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				sess.cancel()
				sess.conn.Close()
				return
			}
		case <-sess.ctx.Done():
			return
		}
	}
}
