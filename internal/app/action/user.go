package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dimspell/tavern/internal/app/logger/logging"
	"github.com/dimspell/tavern/internal/directory"
	"github.com/urfave/cli/v3"
)

func UserCommand() *cli.Command {
	add := &cli.Command{
		Name:  "add",
		Usage: "Create a user that can log in",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "username",
				Usage:    "Name used to log in",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "display-name",
				Usage: "Name shown to other players (defaults to the username)",
			},
			&cli.StringFlag{
				Name:     "password",
				Usage:    "Password used to log in",
				Required: true,
				Sources:  cli.EnvVars("TAVERN_USER_PASSWORD"),
			},
		}, databaseFlags()...),
	}
	add.Action = func(ctx context.Context, c *cli.Command) error {
		if c.String("database-type") == "memory" {
			return errors.New("users added to the memory database are lost on exit, use --database-type=sqlite")
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

		user, err := directory.NewSQLite(db).Register(ctx,
			c.String("username"),
			c.String("display-name"),
			c.String("password"),
		)
		if err != nil {
			return err
		}

		slog.Info("User created", logging.UserID(user.ID), "username", user.Username)
		_, err = fmt.Fprintln(c.Root().Writer, user.ID)
		return err
	}

	list := &cli.Command{
		Name:  "list",
		Usage: "List registered users",
		Flags: databaseFlags(),
	}
	list.Action = func(ctx context.Context, c *cli.Command) error {
		db, err := selectDatabaseType(ctx, c)
		if err != nil {
			return err
		}
		defer db.Close()

		users, err := directory.NewSQLite(db).List(ctx)
		if err != nil {
			return err
		}
		for _, user := range users {
			fmt.Fprintf(c.Root().Writer, "%s\t%s\t%s\n", user.ID, user.Username, user.Name())
		}
		return nil
	}

	return &cli.Command{
		Name:     "user",
		Usage:    "Manage the user directory",
		Commands: []*cli.Command{add, list},
	}
}
