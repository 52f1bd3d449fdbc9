package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/studyhub/internal/bootstrap"
	"github.com/target/studyhub/internal/data"
	domainauth "github.com/target/studyhub/internal/domain/auth"
)

const defaultMigrationTimeout = 5 * time.Minute

type migrateOptions struct {
	Timeout time.Duration
}

type setRoleOptions struct {
	IdentityID string
	Role       domainauth.Role
	Timeout    time.Duration
}

type listUsersOptions struct {
	Page    int
	PerPage int
	JSON    bool
	Timeout time.Duration
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	return withDatabase(ctx, cmdCtx, func(db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return migrateErr
		}
		return writef(cmdCtx.Out, "migrations completed\n")
	})
}

func runSetRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseSetRoleFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	return withDatabase(ctx, cmdCtx, func(db *sql.DB) error {
		repo := data.NewUserRoleRepository(db)
		if setErr := repo.SetRole(ctx, opts.IdentityID, opts.Role); setErr != nil {
			return fmt.Errorf("set role: %w", setErr)
		}
		return writef(cmdCtx.Out, "%s is now %s\n", opts.IdentityID, opts.Role)
	})
}

func runListUsers(cmdCtx *commandContext, args []string) error {
	opts, err := parseListUsersFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, opts.Timeout)
	defer cancel()

	return withDatabase(ctx, cmdCtx, func(db *sql.DB) error {
		page, listErr := data.NewUserRoleRepository(db).ListUsers(ctx, opts.Page, opts.PerPage)
		if listErr != nil {
			return listErr
		}
		if opts.JSON {
			enc := json.NewEncoder(cmdCtx.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}
		return printUsers(cmdCtx, page)
	})
}

func printUsers(cmdCtx *commandContext, page data.UserPage) error {
	tw := tabwriter.NewWriter(cmdCtx.Out, 0, 4, 2, ' ', 0)
	if err := writef(tw, "ID\tEMAIL\tROLE\tCREATED\n"); err != nil {
		return err
	}
	for _, u := range page.Users {
		if err := writef(tw, "%s\t%s\t%s\t%s\n", u.ID, u.Email, u.Role, u.CreatedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return writef(cmdCtx.Out, "%d of %d users\n", len(page.Users), page.Total)
}

func withDatabase(ctx context.Context, cmdCtx *commandContext, fn func(db *sql.DB) error) error {
	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()
	return fn(db)
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{Timeout: defaultMigrationTimeout}
	fs.DurationVar(
		&opts.Timeout,
		"timeout",
		defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete",
	)
	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseSetRoleFlags(args []string) (setRoleOptions, error) {
	fs := flag.NewFlagSet("set-role", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts setRoleOptions
		role string
	)
	fs.StringVar(&opts.IdentityID, "user", "", "Identity id to update")
	fs.StringVar(&role, "role", "", "Role to assign: student or admin")
	fs.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Maximum duration for the update")
	if err := fs.Parse(args); err != nil {
		return setRoleOptions{}, err
	}

	opts.IdentityID = strings.TrimSpace(opts.IdentityID)
	if opts.IdentityID == "" {
		return setRoleOptions{}, errors.New("--user is required")
	}
	parsed, err := domainauth.ParseRoleStrict(role)
	if err != nil {
		return setRoleOptions{}, fmt.Errorf("--role: %w", err)
	}
	opts.Role = parsed
	if opts.Timeout <= 0 {
		return setRoleOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseListUsersFlags(args []string) (listUsersOptions, error) {
	fs := flag.NewFlagSet("list-users", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts listUsersOptions
	fs.IntVar(&opts.Page, "page", 1, "Page number, starting at 1")
	fs.IntVar(&opts.PerPage, "per-page", data.DefaultUsersPerPage, fmt.Sprintf("Users per page (1-%d)", data.MaxUsersPerPage))
	fs.BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")
	fs.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Maximum duration for the query")
	if err := fs.Parse(args); err != nil {
		return listUsersOptions{}, err
	}

	if opts.Page < 1 {
		return listUsersOptions{}, errors.New("--page must be at least 1")
	}
	if opts.PerPage < 1 || opts.PerPage > data.MaxUsersPerPage {
		return listUsersOptions{}, fmt.Errorf("--per-page must be between 1 and %d", data.MaxUsersPerPage)
	}
	if opts.Timeout <= 0 {
		return listUsersOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}
