// Package server accepts controller clients over TCP and drives the wheel
// from their packets.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Versifine/hoverwheel/internal/event"
	"github.com/Versifine/hoverwheel/internal/hook"
	"github.com/Versifine/hoverwheel/internal/protocol"
	"github.com/Versifine/hoverwheel/internal/record"
	"github.com/Versifine/hoverwheel/internal/wheel"
)

const (
	defaultClientTimeout = 10 * time.Second
	defaultMaxClients    = 4
)

const (
	ReasonExpectedHello   = "expected hello"
	ReasonMalformedPacket = "malformed packet"
	ReasonServerFull      = "server full"
	ReasonTimedOut        = "timed out"
	ReasonShutdown        = "server shutting down"
	ReasonUnexpectedHello = "unexpected hello"
)

// Recorder stores session frames. *record.Recorder satisfies it.
type Recorder interface {
	Begin(ctx context.Context, info record.SessionInfo) error
	Append(sessionID string, f record.Frame) error
	End(ctx context.Context, sessionID string) error
}

type Options struct {
	ClientTimeout time.Duration
	MaxClients    int
	// CenterOnIdle sends a centered sample when the last client leaves.
	CenterOnIdle bool
	Bus          *event.Bus
	Recorder     Recorder
	// Hook sees every packet after the handshake; returning nil drops it.
	Hook hook.Hook
}

type ClientInfo struct {
	SessionID   string    `json:"session_id"`
	ClientName  string    `json:"client_name"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	Frames      uint64    `json:"frames"`
}

type Server struct {
	listenerAddr string
	wheel        *wheel.Wheel
	opts         Options

	mu      sync.Mutex
	clients map[string]*session
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

type session struct {
	id         string
	name       string
	remoteAddr string
	startedAt  time.Time
	conn       net.Conn
	state      *protocol.ConnState
	recording  bool
	frames     atomic.Uint64

	writeMu sync.Mutex
}

func (s *session) send(p *protocol.Packet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.WritePacket(s.conn, p)
}

func NewServer(listenerAddr string, w *wheel.Wheel, opts Options) *Server {
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = defaultClientTimeout
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = defaultMaxClients
	}
	return &Server{
		listenerAddr: listenerAddr,
		wheel:        w,
		opts:         opts,
		clients:      make(map[string]*session),
		conns:        make(map[net.Conn]struct{}),
	}
}

func (s *Server) Start(ctx context.Context) error {
	netListener, err := net.Listen("tcp", s.listenerAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, netListener)
}

// Serve accepts clients on l until ctx is cancelled, then disconnects every
// client and waits for their handlers to return.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	slog.Info("Starting wheel server", "addr", l.Addr().String(), "maxClients", s.opts.MaxClients)
	defer l.Close()
	go func() {
		<-ctx.Done()
		slog.Info("Shutting down wheel server")
		_ = l.Close()
	}()
	defer s.wg.Wait()
	defer s.dropAll(ReasonShutdown)

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("Wheel server stopped")
				return nil
			}
			slog.Error("Error accepting connection", "error", err)
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
			}()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) Clients() []ClientInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, sess := range s.clients {
		out = append(out, ClientInfo{
			SessionID:   sess.id,
			ClientName:  sess.name,
			RemoteAddr:  sess.remoteAddr,
			ConnectedAt: sess.startedAt,
			Frames:      sess.frames.Load(),
		})
	}
	return out
}

// dropAll tells every active client why it is being dropped, then closes all
// accepted connections including those still handshaking.
func (s *Server) dropAll(reason string) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.clients))
	for _, sess := range s.clients {
		sessions = append(sessions, sess)
	}
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = sess.send(protocol.CreateDisconnectPacket(reason))
	}
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	sess := &session{
		remoteAddr: conn.RemoteAddr().String(),
		conn:       conn,
		state:      protocol.NewConnState(),
	}
	hello, reason := s.handshake(sess)
	if reason != "" {
		slog.Info("Rejecting client", "client", sess.remoteAddr, "reason", reason)
		_ = sess.send(protocol.CreateDisconnectPacket(reason))
		return
	}

	sess.id = uuid.NewString()
	sess.name = hello.ClientName
	sess.startedAt = time.Now()
	sess.state.SetClientName(sess.name)
	sess.state.SetSessionID(sess.id)

	if !s.register(sess) {
		slog.Info("Rejecting client", "client", sess.remoteAddr, "reason", ReasonServerFull)
		_ = sess.send(protocol.CreateDisconnectPacket(ReasonServerFull))
		return
	}
	sess.state.Set(protocol.Active)

	if err := sess.send(protocol.CreateWelcomePacket(sess.id, deviceState(s.wheel.State()))); err != nil {
		s.unregister(sess)
		slog.Warn("Sending welcome failed", "client", sess.remoteAddr, "error", err)
		return
	}
	slog.Info("Client joined", "session", sess.id, "name", sess.name, "client", sess.remoteAddr)
	s.beginRecording(ctx, sess)
	s.publishClient(event.EventClientJoined, sess, "")

	reason = s.serveSession(ctx, sess)

	sess.state.Set(protocol.Closed)
	remaining := s.unregister(sess)
	if remaining == 0 && s.opts.CenterOnIdle {
		if err := s.wheel.Send(context.Background(), wheel.Axes{}); err != nil && !errors.Is(err, wheel.ErrNotConnected) {
			slog.Warn("Centering idle wheel failed", "error", err)
		}
	}
	s.endRecording(sess)
	slog.Info("Client left", "session", sess.id, "name", sess.name, "reason", reason, "frames", sess.frames.Load())
	s.publishClient(event.EventClientLeft, sess, reason)
}

// handshake reads the first packet, which must be a Hello with the current
// protocol version. A non-empty reason rejects the client.
func (s *Server) handshake(sess *session) (*protocol.Hello, string) {
	sess.state.Set(protocol.Handshaking)
	_ = sess.conn.SetReadDeadline(time.Now().Add(s.opts.ClientTimeout))
	packet, err := protocol.ReadPacket(sess.conn)
	if err != nil {
		if isTimeout(err) {
			return nil, ReasonTimedOut
		}
		return nil, ReasonMalformedPacket
	}
	if packet.ID != protocol.C2SHello {
		return nil, ReasonExpectedHello
	}
	hello, err := protocol.ParseHello(bytes.NewReader(packet.Payload))
	if err != nil {
		return nil, ReasonMalformedPacket
	}
	if hello.ProtocolVersion != protocol.CurrentProtocolVersion {
		return nil, fmt.Sprintf("unsupported protocol version %d, server speaks %d",
			hello.ProtocolVersion, protocol.CurrentProtocolVersion)
	}
	return hello, ""
}

// serveSession handles packets until the client leaves and returns why.
func (s *Server) serveSession(ctx context.Context, sess *session) string {
	for {
		_ = sess.conn.SetReadDeadline(time.Now().Add(s.opts.ClientTimeout))
		packet, err := protocol.ReadPacket(sess.conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed):
				return "closed"
			case isTimeout(err):
				_ = sess.send(protocol.CreateDisconnectPacket(ReasonTimedOut))
				return ReasonTimedOut
			case ctx.Err() != nil:
				return ReasonShutdown
			default:
				slog.Debug("Read packet failed", "session", sess.id, "error", err)
				_ = sess.send(protocol.CreateDisconnectPacket(ReasonMalformedPacket))
				return ReasonMalformedPacket
			}
		}
		if s.opts.Hook != nil {
			if packet = s.opts.Hook.OnPacket(sess.id, packet); packet == nil {
				continue
			}
		}
		if reason := s.handlePacket(ctx, sess, packet); reason != "" {
			_ = sess.send(protocol.CreateDisconnectPacket(reason))
			return reason
		}
	}
}

func (s *Server) handlePacket(ctx context.Context, sess *session, packet *protocol.Packet) string {
	switch packet.ID {
	case protocol.C2SAxes:
		in, err := protocol.ParseAxes(packet.Payload)
		if err != nil {
			return ReasonMalformedPacket
		}
		axes := wheel.Axes{LeftX: in.LeftX, LeftY: in.LeftY, RightX: in.RightX, RightY: in.RightY}
		if err := s.wheel.Send(ctx, axes); err != nil && !errors.Is(err, wheel.ErrNotConnected) {
			slog.Debug("Send axes failed", "session", sess.id, "error", err)
		}
		s.recordFrame(sess, record.Frame{Kind: record.FrameAxes, Axes: axes})

	case protocol.C2SConnectDevice:
		ok := s.wheel.ConnectDevice()
		if ok {
			s.recordFrame(sess, record.Frame{Kind: record.FrameConnect})
		}
		if err := sess.send(protocol.CreateDeviceResultPacket(ok, deviceState(s.wheel.State()))); err != nil {
			return "closed"
		}

	case protocol.C2SDisconnectDevice:
		ok := s.wheel.DisconnectDevice()
		if ok {
			s.recordFrame(sess, record.Frame{Kind: record.FrameDisconnect})
		}
		if err := sess.send(protocol.CreateDeviceResultPacket(ok, deviceState(s.wheel.State()))); err != nil {
			return "closed"
		}

	case protocol.C2SKeepAlive:
		ka, err := protocol.ParseKeepAlive(bytes.NewReader(packet.Payload))
		if err != nil {
			return ReasonMalformedPacket
		}
		if err := sess.send(protocol.CreateKeepAlivePacket(ka.KeepAliveID, protocol.S2CKeepAlive)); err != nil {
			return "closed"
		}

	case protocol.C2SHello:
		return ReasonUnexpectedHello

	default:
		slog.Debug("Ignoring unknown packet", "session", sess.id, "packetID", packet.ID)
	}
	return ""
}

func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) >= s.opts.MaxClients {
		return false
	}
	s.clients[sess.id] = sess
	return true
}

func (s *Server) unregister(sess *session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, sess.id)
	return len(s.clients)
}

func (s *Server) beginRecording(ctx context.Context, sess *session) {
	if s.opts.Recorder == nil {
		return
	}
	err := s.opts.Recorder.Begin(ctx, record.SessionInfo{
		ID:         sess.id,
		ClientName: sess.name,
		RemoteAddr: sess.remoteAddr,
		StartedAt:  sess.startedAt,
	})
	if err != nil {
		slog.Warn("Recording disabled for session", "session", sess.id, "error", err)
		return
	}
	sess.recording = true
}

func (s *Server) recordFrame(sess *session, f record.Frame) {
	sess.frames.Add(1)
	if !sess.recording {
		return
	}
	f.Offset = time.Since(sess.startedAt)
	if err := s.opts.Recorder.Append(sess.id, f); err != nil {
		slog.Debug("Dropping recorded frame", "session", sess.id, "error", err)
	}
}

func (s *Server) endRecording(sess *session) {
	if !sess.recording {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Recorder.End(ctx, sess.id); err != nil {
		slog.Warn("Ending recorded session failed", "session", sess.id, "error", err)
	}
}

func (s *Server) publishClient(name string, sess *session, reason string) {
	if s.opts.Bus == nil {
		return
	}
	s.opts.Bus.Publish(name, &event.ClientEvent{
		SessionID:  sess.id,
		ClientName: sess.name,
		RemoteAddr: sess.remoteAddr,
		Reason:     reason,
		At:         time.Now(),
	})
}

func deviceState(st wheel.State) protocol.DeviceState {
	switch st {
	case wheel.Connecting:
		return protocol.DeviceConnecting
	case wheel.Connected:
		return protocol.DeviceConnected
	case wheel.Disconnecting:
		return protocol.DeviceDisconnecting
	default:
		return protocol.DeviceDisconnected
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
