// Package cli is the interactive terminal client: it unlocks the local
// identity, connects to the messaging endpoint and drives conversations
// through a small REPL.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hirewire/messaging/internal/client/config"
	"github.com/hirewire/messaging/internal/client/keydir"
	"github.com/hirewire/messaging/internal/client/keystore"
	"github.com/hirewire/messaging/internal/client/outbox"
	"github.com/hirewire/messaging/internal/client/rest"
	"github.com/hirewire/messaging/internal/client/session"
	"github.com/hirewire/messaging/internal/client/store"
	"github.com/hirewire/messaging/internal/client/transport"
	"github.com/hirewire/messaging/internal/common"
	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/status"
)

// App wires the client pieces together for one interactive run.
type App struct {
	config  *config.Config
	logger  logging.Logger
	store   *store.Store
	rest    *rest.Client
	keys    *keydir.Directory
	conn    *transport.Conn
	outbox  *outbox.Manager
	session *session.Session
	privPEM []byte

	peerMu sync.Mutex
	peer   string
}

func (a *App) focusedPeer() string {
	a.peerMu.Lock()
	defer a.peerMu.Unlock()
	return a.peer
}

func (a *App) setPeer(peer string) {
	a.peerMu.Lock()
	a.peer = peer
	a.peerMu.Unlock()
	a.session.Focus(peer)
}

// deferredSender lets the session be constructed before the connection
// exists. Events only start flowing after join, which happens last.
type deferredSender struct {
	mu   sync.Mutex
	conn *transport.Conn
}

func (d *deferredSender) set(c *transport.Conn) {
	d.mu.Lock()
	d.conn = c
	d.mu.Unlock()
}

func (d *deferredSender) SendEvent(event any) error {
	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()
	if c == nil {
		return common.ErrConnectionClosed
	}
	return c.SendEvent(event)
}

// NewApp unlocks the identity key, opens the local store and connects.
// A missing key file generates a fresh identity on the spot; the printed
// public key must then be registered with the server.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	if cfg.UserID == "" || cfg.Token == "" {
		return nil, fmt.Errorf("%w: user id and token are required", common.ErrValidation)
	}

	privPEM, err := unlockIdentity(ctx, cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:  cfg,
		logger:  logger,
		store:   st,
		rest:    rest.New(cfg.ServerEndpointHTTP, cfg.Token),
		keys:    keydir.New(cfg.ServerEndpointHTTP, cfg.Token),
		privPEM: privPEM,
	}

	sender := &deferredSender{}
	a.session = session.New(st, sender, privPEM, cfg.UserID, a.callbacks(), logger)

	conn, err := transport.Dial(ctx, cfg.ServerEndpointAddr, cfg.UserID, cfg.Token, cfg.AckTimeout, a.session.HandleEvent, logger)
	if err != nil {
		st.Close()
		return nil, err
	}
	sender.set(conn)
	a.conn = conn
	a.outbox = outbox.NewManager(st, a.keys, conn, cfg.UserID, logger)

	if err := conn.Join(); err != nil {
		a.Close()
		return nil, err
	}

	// Anything stuck from a previous run goes out now.
	if err := a.outbox.FlushPending(ctx); err != nil {
		logger.Warn(ctx, "outbox flush failed", "error", err)
	}

	return a, nil
}

func unlockIdentity(ctx context.Context, path string) ([]byte, error) {
	if !keystore.Exists(path) {
		passphrase, err := keystore.PromptPassphrase(ctx, "New identity. Choose a passphrase: ")
		if err != nil {
			return nil, err
		}
		pubPEM, err := keystore.Generate(path, passphrase)
		if err != nil {
			return nil, err
		}
		printlnFn("Generated a new identity key. Register this public key with the server:")
		printlnFn(string(pubPEM))
		priv, _, err := keystore.Open(path, passphrase)
		return priv, err
	}

	passphrase, err := keystore.PromptPassphrase(ctx, "Passphrase: ")
	if err != nil {
		return nil, err
	}
	priv, _, err := keystore.Open(path, passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlock identity: %w", err)
	}
	return priv, nil
}

// callbacks builds the inbound notification hooks for the REPL.
func (a *App) callbacks() session.Callbacks {
	return session.Callbacks{
		OnMessage: func(m *store.Message) {
			if m.SenderID == a.focusedPeer() {
				printlnFn(fmt.Sprintf("%s: %s", m.SenderID, m.Content))
			} else {
				printlnFn(fmt.Sprintf("(new message from %s)", m.SenderID))
			}
		},
		OnStatus: func(serverID int64, st status.Status) {
			printlnFn(fmt.Sprintf("message %d is %s", serverID, st))
		},
		OnTyping: func(userID string, typing bool) {
			if typing && userID == a.focusedPeer() {
				printlnFn(fmt.Sprintf("%s is typing...", userID))
			}
		},
		OnEdit: func(serverID int64, content string) {
			printlnFn(fmt.Sprintf("message %d edited: %s", serverID, content))
		},
		OnDelete: func(serverID int64) {
			printlnFn(fmt.Sprintf("message %d deleted", serverID))
		},
	}
}

// outboxFlushInterval is how often stuck sends are retried in the
// background while the client runs.
const outboxFlushInterval = time.Minute

// Run starts the REPL and blocks until exit or disconnect.
func (a *App) Run(ctx context.Context) {
	printlnFn("Connected as " + a.config.UserID + " (type 'help' for commands)")

	go func() {
		<-a.conn.Done()
		printlnFn("Connection lost. Press Enter to exit.")
	}()
	go a.periodicFlush(ctx)

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(os.Stdin))
}

func (a *App) periodicFlush(ctx context.Context) {
	ticker := time.NewTicker(outboxFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.conn.Done():
			return
		case <-ticker.C:
			if err := a.outbox.FlushPending(ctx); err != nil {
				a.logger.Warn(ctx, "periodic outbox flush failed", "error", err)
			}
		}
	}
}

func (a *App) getStatus() string {
	peer := a.focusedPeer()
	if peer == "" {
		return a.config.UserID
	}
	return a.config.UserID + " -> " + peer
}

// Close flushes pending read receipts and tears everything down.
func (a *App) Close() {
	a.session.FlushReadReceipts()
	if a.conn != nil {
		_ = a.conn.Leave()
		_ = a.conn.Close()
	}
	_ = a.store.Close()
}
