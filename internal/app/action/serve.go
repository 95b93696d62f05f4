package action

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/connection"
	"github.com/dimspell/tavern/internal/console"
	"github.com/dimspell/tavern/internal/directory"
	"github.com/dimspell/tavern/internal/events"
	"github.com/dimspell/tavern/internal/handler"
	"github.com/dimspell/tavern/internal/metrics"
	"github.com/dimspell/tavern/internal/router"
	"github.com/dimspell/tavern/internal/session"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func ServeCommand(version string) *cli.Command {
	connDefaults := connection.DefaultConfig()

	cmd := &cli.Command{
		Name:        "serve",
		Usage:       "Start the session server",
		Description: "Serves the websocket endpoint, token exchange, health and metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "console-addr",
				Value:   defaultConsoleAddr,
				Usage:   "Address the server listens on",
				Sources: cli.EnvVars("TAVERN_CONSOLE_ADDR"),
			},
			&cli.StringFlag{
				Name:    "console-public-addr",
				Usage:   "Address advertised to clients (defaults to http://<console-addr>)",
				Sources: cli.EnvVars("TAVERN_CONSOLE_PUBLIC_ADDR"),
			},
			&cli.StringSliceFlag{
				Name:    "cors-allowed-origins",
				Usage:   "Origins allowed to call the HTTP endpoints",
				Sources: cli.EnvVars("TAVERN_CORS_ALLOWED_ORIGINS"),
			},
			&cli.IntFlag{
				Name:    "max-connections-per-user",
				Value:   defaultMaxConnectionsPerUser,
				Usage:   "Open connections allowed per user",
				Sources: cli.EnvVars("TAVERN_MAX_CONNECTIONS_PER_USER"),
			},
			&cli.DurationFlag{
				Name:    "heartbeat-timeout",
				Value:   connDefaults.HeartbeatTimeout,
				Usage:   "Idle time after which a connection is closed",
				Sources: cli.EnvVars("TAVERN_HEARTBEAT_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "sweep-interval",
				Value:   connDefaults.SweepInterval,
				Usage:   "How often idle connections are looked for",
				Sources: cli.EnvVars("TAVERN_SWEEP_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "send-queue-size",
				Value:   defaultSendQueueSize,
				Usage:   "Outbound frames buffered per connection",
				Sources: cli.EnvVars("TAVERN_SEND_QUEUE_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "write-timeout",
				Value:   connDefaults.WriteTimeout,
				Usage:   "Deadline for writing a single frame",
				Sources: cli.EnvVars("TAVERN_WRITE_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "reconnect-grace",
				Value:   handler.DefaultReconnectGrace,
				Usage:   "How long a disconnected player keeps their seat",
				Sources: cli.EnvVars("TAVERN_RECONNECT_GRACE"),
			},
			&cli.IntFlag{
				Name:    "min-players",
				Value:   defaultMinPlayers,
				Usage:   "Players required to start a game",
				Sources: cli.EnvVars("TAVERN_MIN_PLAYERS"),
			},
			&cli.IntFlag{
				Name:    "default-max-players",
				Value:   defaultMaxPlayers,
				Usage:   "Table size used when the host does not pick one",
				Sources: cli.EnvVars("TAVERN_DEFAULT_MAX_PLAYERS"),
			},
		},
	}
	cmd.Flags = append(cmd.Flags, databaseFlags()...)
	cmd.Flags = append(cmd.Flags, tokenFlags()...)

	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		db, err := selectDatabaseType(ctx, c)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("Failed to close database", logging.Error(err))
			}
		}()

		bus := events.NewBus()
		defer func() {
			if err := bus.Close(); err != nil {
				slog.Warn("Failed to close the event bus", logging.Error(err))
			}
		}()

		metrics.Register()
		defer metrics.Subscribe(bus)()

		conns := connection.NewManager(
			connection.WithBus(bus),
			connection.WithConfig(connection.Config{
				MaxConnectionsPerUser: int(c.Int("max-connections-per-user")),
				HeartbeatTimeout:      c.Duration("heartbeat-timeout"),
				SweepInterval:         c.Duration("sweep-interval"),
				SendQueueSize:         int(c.Int("send-queue-size")),
				WriteTimeout:          c.Duration("write-timeout"),
			}),
		)
		sessions := session.NewManager(conns,
			session.WithBus(bus),
			session.WithConfig(session.Config{
				MinPlayers:        int(c.Int("min-players")),
				DefaultMaxPlayers: int(c.Int("default-max-players")),
			}),
		)

		users := directory.NewSQLite(db)
		tokens := selectTokens(c)

		handlers := handler.New(conns, sessions, tokens, users,
			handler.WithReconnectGrace(c.Duration("reconnect-grace")),
		)
		defer handlers.Close()
		defer handlers.Subscribe(bus)()

		r := router.New(conns)
		handlers.Register(r)

		co, err := selectConsoleOptions(c, version)
		if err != nil {
			return err
		}
		con := console.NewConsole(db, users, tokens, conns, r, co...)
		startConsole, stopConsole := con.Handlers()

		group, groupContext := errgroup.WithContext(ctx)
		group.Go(func() error {
			return con.Graceful(groupContext, startConsole, stopConsole)
		})
		group.Go(func() error {
			return conns.RunSweeper(groupContext)
		})
		return group.Wait()
	}

	return cmd
}
