// Package transport runs the TCP messaging endpoint: one persistent
// framed connection per client, authenticated at handshake, carrying
// the full event vocabulary of the protocol package.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/protocol"
	"github.com/hirewire/messaging/internal/server/auth"
	"github.com/hirewire/messaging/internal/server/buffer"
	"github.com/hirewire/messaging/internal/server/hub"
	"github.com/hirewire/messaging/internal/server/repositories/users"
	"github.com/hirewire/messaging/internal/server/services"
)

// Server accepts inbound TCP sessions, authenticates them and runs one
// event loop per connection until the client leaves or the link drops.
type Server struct {
	messages *services.MessageService
	users    users.Repository
	hub      *hub.Hub
	buffer   buffer.Buffer
	secret   []byte
	logger   logging.Logger

	listener  net.Listener
	baseCtx   context.Context
	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

func NewServer(messages *services.MessageService, userRepo users.Repository, h *hub.Hub, buf buffer.Buffer, secret []byte, logger logging.Logger) *Server {
	return &Server{
		messages: messages,
		users:    userRepo,
		hub:      h,
		buffer:   buf,
		secret:   secret,
		logger:   logger,
		closed:   make(chan struct{}),
	}
}

// Listen binds the address and starts the accept loop. The context is
// the base for all session handlers; cancelling it stops the server.
func (s *Server) Listen(ctx context.Context, address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %q: %w", address, err)
	}

	s.listener = listener
	s.baseCtx = ctx

	s.wg.Add(1)
	go s.acceptLoop()

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	s.logger.Info(ctx, "messaging endpoint listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close stops accepting and waits for active sessions to wind down.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			closeErr = s.listener.Close()
		}
		s.wg.Wait()
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.logger.Warn(s.baseCtx, "accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	sess, err := s.handshake(conn)
	if err != nil {
		s.logger.Debug(s.baseCtx, "handshake rejected", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}

	sess.run()
}

// handshake reads the opening frame, verifies the token against the
// claimed identity and confirms the session. The connection stays
// anonymous until this succeeds.
func (s *Server) handshake(conn net.Conn) (*session, error) {
	payload, err := protocol.ReadFrameWithTimeout(conn, protocol.DefaultHandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}

	eventType, err := protocol.DecodeEventType(payload)
	if err != nil {
		return nil, err
	}
	if eventType != protocol.TypeHandshake {
		_ = writeError(conn, protocol.CodeValidation, fmt.Sprintf("expected %q, got %q", protocol.TypeHandshake, eventType))
		return nil, protocol.ErrInvalidEventType
	}

	var hs protocol.HandshakeEvent
	if err := json.Unmarshal(payload, &hs); err != nil {
		return nil, fmt.Errorf("decode handshake: %w", err)
	}

	if hs.ProtocolVersion != protocol.ProtocolVersion {
		_ = writeError(conn, protocol.CodeValidation, "unsupported protocol version")
		return nil, protocol.ErrUnsupportedVersion
	}

	userID, err := auth.GetUserIDFromToken(hs.Token, s.secret)
	if err != nil || userID != hs.UserID {
		_ = writeError(conn, protocol.CodeUnauthorized, "token does not match claimed identity")
		return nil, common.ErrUnauthorized
	}

	sess := newSession(s, conn, userID)
	if err := sess.send(&protocol.HandshakeAckEvent{
		Type:      protocol.TypeHandshakeAck,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
	}); err != nil {
		return nil, fmt.Errorf("write handshake ack: %w", err)
	}

	return sess, nil
}

func writeError(conn net.Conn, code, message string) error {
	return protocol.WriteEvent(conn, &protocol.ErrorEvent{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
	})
}
