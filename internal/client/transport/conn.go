// Package transport maintains the client's persistent connection to the
// messaging endpoint: handshake, the inbound read pump, ack correlation
// for sends, and keep-alive.
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
)

// EventHandler receives every inbound event that is not an ack, a ping
// or a pong. It runs on the read pump goroutine, so it must not block.
type EventHandler func(eventType string, payload []byte)

// Conn is one authenticated connection to the server.
type Conn struct {
	conn   net.Conn
	userID string
	logger logging.Logger

	sendMu sync.Mutex

	ackMu   sync.Mutex
	pending map[string]chan *protocol.AckEvent

	handler    EventHandler
	ackTimeout time.Duration

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects, performs the handshake and starts the read pump. The
// handler may be nil when the caller only sends.
func Dial(ctx context.Context, address, userID, token string, ackTimeout time.Duration, handler EventHandler, logger logging.Logger) (*Conn, error) {
	dialer := &net.Dialer{}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}

	if err := protocol.WriteEvent(netConn, &protocol.HandshakeEvent{
		Type:            protocol.TypeHandshake,
		UserID:          userID,
		Token:           token,
		ProtocolVersion: protocol.ProtocolVersion,
	}); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	payload, err := protocol.ReadFrameWithTimeout(netConn, protocol.DefaultHandshakeTimeout)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("read handshake ack: %w", err)
	}

	eventType, err := protocol.DecodeEventType(payload)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	if eventType == protocol.TypeError {
		netConn.Close()
		var errEvent protocol.ErrorEvent
		if jsonErr := json.Unmarshal(payload, &errEvent); jsonErr == nil {
			return nil, fmt.Errorf("%w: %s", common.ErrUnauthorized, errEvent.Message)
		}
		return nil, common.ErrUnauthorized
	}
	if eventType != protocol.TypeHandshakeAck {
		netConn.Close()
		return nil, fmt.Errorf("%w: expected handshake ack, got %q", protocol.ErrInvalidEventType, eventType)
	}

	c := &Conn{
		conn:       netConn,
		userID:     userID,
		logger:     logger,
		pending:    make(map[string]chan *protocol.AckEvent),
		handler:    handler,
		ackTimeout: ackTimeout,
		closed:     make(chan struct{}),
	}

	go c.readLoop()
	go c.keepAliveLoop()

	return c, nil
}

// Join announces the session for routing. Buffered offline events start
// arriving right after the server processes it.
func (c *Conn) Join() error {
	return c.SendEvent(&protocol.JoinEvent{Type: protocol.TypeJoin, UserID: c.userID})
}

// Leave detaches from routing without closing the connection.
func (c *Conn) Leave() error {
	return c.SendEvent(&protocol.LeaveEvent{Type: protocol.TypeLeave, UserID: c.userID})
}

// SendEvent writes one event frame.
func (c *Conn) SendEvent(event any) error {
	payload, err := protocol.EncodeJSON(event)
	if err != nil {
		return err
	}
	return c.send(payload)
}

func (c *Conn) send(payload []byte) error {
	select {
	case <-c.closed:
		return common.ErrConnectionClosed
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return protocol.WriteFrame(c.conn, payload)
}

// SendMessage transmits an encoded message event and waits for the
// server's ack, correlated by clientMessageId. Waiting longer than the
// ack timeout yields common.ErrAckTimeout; the send may still land, so
// callers retry with the same clientMessageId.
func (c *Conn) SendMessage(ctx context.Context, clientMessageID string, payload []byte) (*protocol.AckEvent, error) {
	ackCh := make(chan *protocol.AckEvent, 1)

	c.ackMu.Lock()
	c.pending[clientMessageID] = ackCh
	c.ackMu.Unlock()

	defer func() {
		c.ackMu.Lock()
		delete(c.pending, clientMessageID)
		c.ackMu.Unlock()
	}()

	if err := c.send(payload); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		return ack, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: message %s", common.ErrAckTimeout, clientMessageID)
	case <-c.closed:
		return nil, common.ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) readLoop() {
	defer c.Close()

	for {
		payload, err := protocol.ReadFrame(c.conn)
		if err != nil {
			select {
			case <-c.closed:
			default:
				c.logger.Debug(context.Background(), "connection read failed", "error", err)
			}
			return
		}

		eventType, err := protocol.DecodeEventType(payload)
		if err != nil {
			c.logger.Warn(context.Background(), "undecodable frame", "error", err)
			continue
		}

		switch eventType {
		case protocol.TypeAck:
			var ack protocol.AckEvent
			if err := json.Unmarshal(payload, &ack); err != nil {
				continue
			}
			c.ackMu.Lock()
			ch, ok := c.pending[ack.ClientMessageID]
			c.ackMu.Unlock()
			if ok {
				ch <- &ack
			}

		case protocol.TypePing:
			_ = c.SendEvent(&protocol.PongEvent{Type: protocol.TypePong, Timestamp: time.Now().UnixMilli()})

		case protocol.TypePong:
			// Keep-alive answered, nothing to do.

		default:
			if c.handler != nil {
				c.handler(eventType, payload)
			}
		}
	}
}

func (c *Conn) keepAliveLoop() {
	ticker := time.NewTicker(protocol.DefaultKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.SendEvent(&protocol.PingEvent{Type: protocol.TypePing, Timestamp: time.Now().UnixMilli()}); err != nil {
				return
			}
		}
	}
}

// Done is closed when the connection is gone.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
