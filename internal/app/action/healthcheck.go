package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dimspell/tavern/internal/client"
	"github.com/dimspell/tavern/internal/wire"
	"github.com/urfave/cli/v3"
)

func HealthcheckCommand() *cli.Command {
	cmd := &cli.Command{
		Name:        "healthcheck",
		Usage:       "Check that a running server is healthy",
		Description: "Polls /_health and, given a token, authenticates over the websocket and measures a ping",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   "http://" + defaultConsoleAddr,
				Usage:   "Base URL of the server",
				Sources: cli.EnvVars("TAVERN_HEALTHCHECK_ADDR"),
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Access token used for the websocket check",
				Sources: cli.EnvVars("TAVERN_HEALTHCHECK_TOKEN"),
			},
			&cli.StringFlag{
				Name:  "subprotocol",
				Value: wire.SubprotocolJSON,
				Usage: fmt.Sprintf("Websocket subprotocol (%s)", strings.Join(wire.Subprotocols, ", ")),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 10 * time.Second,
				Usage: "How long to keep retrying",
			},
		},
	}

	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		base := strings.TrimSuffix(c.String("addr"), "/")
		checker := client.NewHTTPHealthChecker(base + "/_health")

		if err := retryUntil(ctx, func() error { return checker.Check(ctx) }, c.Duration("timeout")); err != nil {
			return fmt.Errorf("server is not healthy: %w", err)
		}
		if c.String("token") == "" {
			_, err := fmt.Fprintln(c.Root().Writer, "OK")
			return err
		}

		ctx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
		defer cancel()

		conn, err := client.Dial(ctx, base+"/ws", c.String("subprotocol"))
		if err != nil {
			return err
		}
		defer conn.Close()

		user, err := conn.Authenticate(ctx, c.String("token"))
		if err != nil {
			return err
		}
		rtt, err := conn.Ping(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(c.Root().Writer, "OK %s as %s in %s\n", conn.Subprotocol(), user.Username, rtt.Round(time.Microsecond))
		return err
	}

	return cmd
}
