package console

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/auth"
	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/database"
	"github.com/dimspell/tavern/internal/directory"
	"github.com/dimspell/tavern/internal/model"
	"github.com/dimspell/tavern/internal/router"
	"github.com/dimspell/tavern/internal/wire"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

type Console struct {
	Config      *Config
	DB          *database.SQLite
	Users       *directory.SQLite
	Tokens      *auth.Tokens
	Connections *connection.Manager
	Router      *router.Router
}

func NewConsole(db *database.SQLite, users *directory.SQLite, tokens *auth.Tokens, conns *connection.Manager, r *router.Router, opts ...Option) *Console {
	config := DefaultConfig()
	for _, fn := range opts {
		if err := fn(config); err != nil {
			panic("failed to initialize config: " + err.Error())
		}
	}

	return &Console{
		Config:      config,
		DB:          db,
		Users:       users,
		Tokens:      tokens,
		Connections: conns,
		Router:      r,
	}
}

type Option func(*Config) error

type Config struct {
	ConsoleBindAddr    string
	ConsolePublicAddr  string
	CORSAllowedOrigins []string
	Version            string
}

const (
	websocketPath = "/ws"
	tokenPath     = "/auth/token"
)

func DefaultConfig() *Config {
	return &Config{
		ConsoleBindAddr:    "localhost:2137",
		ConsolePublicAddr:  "http://localhost:2137",
		CORSAllowedOrigins: []string{"*"},
		Version:            "dev",
	}
}

func WithCORSAllowedOrigins(allowedOrigins []string) Option {
	return func(c *Config) error {
		if len(allowedOrigins) == 0 {
			return errors.New("at least one allowed origin is required")
		}
		c.CORSAllowedOrigins = allowedOrigins
		return nil
	}
}

func WithConsoleAddr(bindAddr, publicAddr string) Option {
	return func(c *Config) error {
		if _, _, err := net.SplitHostPort(bindAddr); err != nil {
			return err
		}
		c.ConsoleBindAddr = bindAddr
		c.ConsolePublicAddr = publicAddr
		return nil
	}
}

func WithVersion(version string) Option {
	return func(c *Config) error {
		c.Version = version
		return nil
	}
}

func (c *Console) HttpRouter() http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recoverer)

	mux.Group(func(r chi.Router) {
		r.Use(middleware.Throttle(100))

		{ // Set up meta routes (readiness, liveness, metrics etc.)
			r.Get("/_health", c.Health)
			r.Get("/_metrics", promhttp.Handler().ServeHTTP)
		}

		{ // Set up routes used by clients to discover the server and log in
			r.Group(func(public chi.Router) {
				public.Use(middleware.Timeout(5 * time.Second))
				public.Use(cors.New(cors.Options{
					AllowedOrigins:   c.Config.CORSAllowedOrigins,
					AllowCredentials: false,
					Debug:            false,
					AllowedMethods:   []string{http.MethodGet, http.MethodPost},
					AllowedHeaders:   []string{"Content-Type"},
					MaxAge:           7200,
				}).Handler)

				public.Get("/.well-known/tavern.json", c.WellKnownInfo())
				public.Post(tokenPath, c.IssueToken)
			})
		}
	})

	// A websocket handler lives as long as its connection, so it stays out of
	// the throttled group.
	mux.Get(websocketPath, c.HandleWebSocket)

	return mux
}

func (c *Console) Health(w http.ResponseWriter, r *http.Request) {
	if c.DB != nil {
		if err := c.DB.Ping(r.Context()); err != nil {
			withStatus(r, http.StatusServiceUnavailable)
			renderJSON(w, r, map[string]string{
				"status":    "ERROR",
				"component": "database",
				"error":     err.Error(),
			})
			return
		}
	}

	renderJSON(w, r, map[string]any{
		"status":      "OK",
		"connections": c.Connections.Count(),
	})
}

func (c *Console) Handlers() (start GracefulFunc, shutdown GracefulFunc) {
	httpServer := &http.Server{
		Addr:        c.Config.ConsoleBindAddr,
		Handler:     h2c.NewHandler(c.HttpRouter(), &http2.Server{}),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	start = func(ctx context.Context) error {
		slog.Info("Configured console server", "addr", c.Config.ConsoleBindAddr)
		return httpServer.ListenAndServe()
	}

	shutdown = func(ctx context.Context) error {
		slog.Info("Started shutting down the console server")

		// Hijacked websocket connections are not tracked by the server.
		c.Connections.Close()

		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("Failed shutting down the console server", logging.Error(err))
			return err
		}
		slog.Info("Successfully shut down the console server")
		return nil
	}

	return start, shutdown
}

type GracefulFunc func(context.Context) error

// Graceful runs start until ctx is cancelled, then calls shutdown with a
// fresh deadline.
func (c *Console) Graceful(ctx context.Context, start GracefulFunc, shutdown GracefulFunc) error {
	errChan := make(chan error, 1)

	go func() {
		<-ctx.Done()

		timer, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		errChan <- shutdown(timer)
	}()

	if err := start(ctx); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return <-errChan
}

func (c *Console) WellKnownInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		renderJSON(w, r, model.WellKnown{
			Version:       c.Config.Version,
			Addr:          c.Config.ConsolePublicAddr,
			WebsocketPath: websocketPath,
			Subprotocols:  wire.Subprotocols,
			TokenPath:     tokenPath,
		})
	}
}
