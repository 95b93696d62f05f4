package action

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/auth"
	"github.com/dimspell/tavern/internal/console"
	"github.com/dimspell/tavern/internal/database"
	"github.com/urfave/cli/v3"
)

func databaseFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "database-type",
			Value:   defaultDatabaseType,
			Usage:   "Database type (memory, sqlite)",
			Sources: cli.EnvVars("TAVERN_DATABASE_TYPE"),
		},
		&cli.StringFlag{
			Name:    "sqlite-path",
			Value:   defaultDatabasePath,
			Usage:   "Path to sqlite database file",
			Sources: cli.EnvVars("TAVERN_SQLITE_PATH"),
		},
	}
}

func tokenFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "jwt-secret",
			Usage:   "Secret used to sign and verify access tokens",
			Sources: cli.EnvVars("TAVERN_JWT_SECRET"),
		},
		&cli.DurationFlag{
			Name:    "jwt-expiry",
			Value:   defaultTokenExpiry,
			Usage:   "Lifetime of issued access tokens (0 never expires)",
			Sources: cli.EnvVars("TAVERN_JWT_EXPIRY"),
		},
	}
}

func selectDatabaseType(ctx context.Context, c *cli.Command) (db *database.SQLite, err error) {
	switch c.String("database-type") {
	case "memory":
		db, err = database.NewMemory()
		if err != nil {
			return nil, err
		}
	case "sqlite":
		db, err = database.NewLocal(c.String("sqlite-path"))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown database type: %q", c.String("database-type"))
	}

	if err := retryUntil(ctx, func() error { return db.Ping(ctx) }, 10*time.Second); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database is not reachable: %w", err)
	}
	return db, nil
}

func selectTokens(c *cli.Command) *auth.Tokens {
	secret := c.String("jwt-secret")
	if secret == "" {
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		secret = hex.EncodeToString(buf)
		slog.Warn("No jwt-secret given, using a random one; tokens will not survive a restart")
	}
	return auth.NewTokens(secret, c.Duration("jwt-expiry"))
}

func selectConsoleOptions(c *cli.Command, version string) ([]console.Option, error) {
	var options []console.Option

	options = append(options, console.WithVersion(version))

	consoleBindAddr := c.String("console-addr")
	consolePublicAddr := fallbackString(c.String("console-public-addr"), fmt.Sprintf("http://%s", consoleBindAddr))
	options = append(options, console.WithConsoleAddr(consoleBindAddr, consolePublicAddr))

	if origins := c.StringSlice("cors-allowed-origins"); len(origins) > 0 {
		options = append(options, console.WithCORSAllowedOrigins(origins))
	}

	return options, nil
}

func retryUntil(ctx context.Context, operation func() error, maxElapsedTime time.Duration) error {
	exponentialBackOff := backoff.NewExponentialBackOff()
	exponentialBackOff.MaxElapsedTime = maxElapsedTime

	return backoff.RetryNotify(
		operation,
		backoff.WithContext(exponentialBackOff, ctx),
		func(err error, duration time.Duration) {
			slog.Warn("Retrying operation",
				"duration", duration.String(),
				logging.Error(err))
		},
	)
}

func fallbackString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
