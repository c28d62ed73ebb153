package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/putto11262002/chatsync/ws"
)

// App is the fan-out server: it issues handshake tokens and runs the hub
// behind the websocket endpoint.
type App struct {
	config  *Config
	context context.Context
	logger  *slog.Logger
	server  *http.Server
	hub     *ws.Hub

	authHandler *AuthHandler
}

func New(ctx context.Context, config *Config) (*App, error) {
	app := &App{}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	credentials := NewCredentialStore(config.Users)
	app.authHandler = NewAuthHandler(credentials, config.Auth.Secret, config.Auth.TokenExpiration)

	authenticator := NewTokenAuthenticator(config.Auth.Secret)
	app.hub = ws.NewHub(authenticator, ws.WithLogger(app.logger))

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Post("/api/auth/signin", app.authHandler.SigninHandler)
	r.Get("/ws", app.hub.ServeHTTP)

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Hostname, config.Port),
		Handler: r,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app, nil
}

// Start runs the hub and the HTTP server until the context is canceled,
// then shuts both down gracefully.
func (app *App) Start() error {
	app.hub.Start()

	go func() {
		<-app.context.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		app.server.Shutdown(closeCtx)
		app.hub.Close()
	}()

	app.logger.Info(fmt.Sprintf("listening on %s:%d", app.config.Hostname, app.config.Port))
	if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
