package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/auth"
	"github.com/dimspell/tavern/internal/directory"
	"github.com/urfave/cli/v3"
)

func TokenCommand() *cli.Command {
	cmd := &cli.Command{
		Name:        "token",
		Usage:       "Issue an access token for a user",
		Description: "Prints a token to pass in AUTHENTICATE, signed with the same secret the server uses",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Usage:    "User to issue the token for",
				Required: true,
			},
		}, append(databaseFlags(), tokenFlags()...)...),
	}

	cmd.Action = func(ctx context.Context, c *cli.Command) error {
		if c.String("jwt-secret") == "" {
			return auth.ErrAuthDisabled
		}

		db, err := selectDatabaseType(ctx, c)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				slog.Error("Failed to close database", logging.Error(err))
			}
		}()

		user, err := directory.NewSQLite(db).ByUsername(ctx, c.String("username"))
		if errors.Is(err, directory.ErrUnknownUser) {
			return fmt.Errorf("%w: %s", err, c.String("username"))
		}
		if err != nil {
			return err
		}

		token, err := selectTokens(c).Issue(user)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.Root().Writer, token)
		return err
	}

	return cmd
}
