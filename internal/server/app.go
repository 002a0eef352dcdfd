// Package server initializes and runs the messaging server: database and
// migrations, the offline buffer, the lifecycle event publisher, the TCP
// messaging endpoint and the HTTP collaborators, with graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/hirewire/messaging/internal/logging"
	"github.com/hirewire/messaging/internal/server/buffer"
	"github.com/hirewire/messaging/internal/server/chatlist"
	"github.com/hirewire/messaging/internal/server/config"
	"github.com/hirewire/messaging/internal/server/events"
	"github.com/hirewire/messaging/internal/server/httpapi"
	"github.com/hirewire/messaging/internal/server/hub"
	"github.com/hirewire/messaging/internal/server/repositories/repomanager"
	"github.com/hirewire/messaging/internal/server/services"
	"github.com/hirewire/messaging/internal/server/transport"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repomanager repomanager.RepositoryManager
	buffer      buffer.Buffer
	publisher   events.Publisher
	transport   *transport.Server
	httpServer  *http.Server
}

func NewApp(c *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	rm, err := repomanager.NewPostgresRepositoryManager(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	var buf buffer.Buffer
	if c.RedisAddr != "" {
		buf = buffer.NewRedisBuffer(c.RedisAddr, int64(c.BufferMaxLen))
	} else {
		logger.Warn(context.Background(), "no redis configured, buffering in memory")
		buf = buffer.NewMemoryBuffer(c.BufferMaxLen)
	}

	var publisher events.Publisher
	if c.AMQPURL != "" {
		publisher, err = events.NewAMQPPublisher(c.AMQPURL, c.ExchangeName)
		if err != nil {
			return nil, fmt.Errorf("amqp init error: %w", err)
		}
	} else {
		publisher = events.NewFallbackPublisher(logger)
	}

	messageService := services.NewMessageService(rm, publisher, logger)
	mediaService := services.NewMediaService(c)
	chatListService := chatlist.NewService(rm)

	secret := []byte(c.SecretKey)

	tcpServer := transport.NewServer(messageService, rm.Users(), hub.New(), buf, secret, logger)
	api := httpapi.New(messageService, mediaService, chatListService, rm.Users(), secret, logger)

	return &App{
		config:      c,
		logger:      logger,
		repomanager: rm,
		buffer:      buf,
		publisher:   publisher,
		transport:   tcpServer,
		httpServer:  api.NewHTTPServer(c.EndpointAddrHTTP),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting messaging server")

	app.initSignalHandler(cancelFunc)

	if err := app.repomanager.RunMigrations(ctx); err != nil {
		app.logger.Error(ctx, "migrations failed", "error", err)
		return
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.transport.Listen(ctx, app.config.EndpointAddr); err != nil {
			app.logger.Error(ctx, "transport failed", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.logger.Info(ctx, "http endpoint listening", "addr", app.config.EndpointAddrHTTP)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error(ctx, "http server failed", "error", err)
			cancelFunc()
		}
	}()

	<-ctx.Done()
	app.shutdown()
	wg.Wait()
}

func (app *App) shutdown() {
	ctx := context.Background()
	app.logger.Info(ctx, "shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn(ctx, "http shutdown error", "error", err)
	}
	if err := app.transport.Close(); err != nil {
		app.logger.Warn(ctx, "transport shutdown error", "error", err)
	}
	if err := app.publisher.Close(); err != nil {
		app.logger.Warn(ctx, "publisher close error", "error", err)
	}
	if err := app.buffer.Close(); err != nil {
		app.logger.Warn(ctx, "buffer close error", "error", err)
	}
	if err := app.repomanager.Close(); err != nil {
		app.logger.Warn(ctx, "db close error", "error", err)
	}
}
