package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/target/studyhub/config"
	"github.com/target/studyhub/internal/bootstrap"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Out    io.Writer
	In     io.Reader
}

func main() {
	logger := bootstrap.InitCLILogger()

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	if lvlErr := bootstrap.SetLogLevel(cfg.Observability.LogLevel); lvlErr != nil {
		logger.Warn("invalid log level, keeping info", "error", lvlErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmdCtx := &commandContext{
		Ctx:    ctx,
		Logger: logger,
		Config: cfg,
		Out:    os.Stdout,
		In:     os.Stdin,
	}
	runErr := cmd.run(cmdCtx, os.Args[2:])
	stop()
	if runErr != nil {
		logger.Error("command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"login": {
			name:        "login",
			description: "Sign in with email and password and store the session locally",
			run:         runLogin,
		},
		"whoami": {
			name:        "whoami",
			description: "Show the signed-in identity and resolved role",
			run:         runWhoami,
		},
		"token": {
			name:        "token",
			description: "Print the mirrored access token for use with other REST clients",
			run:         runToken,
		},
		"logout": {
			name:        "logout",
			description: "Sign out and clear the local session",
			run:         runLogout,
		},
		"watch": {
			name:        "watch",
			description: "Keep the session fresh and print auth state changes as JSON lines",
			run:         runWatch,
		},
		"migrate": {
			name:        "migrate",
			description: "Run database migrations for the users table",
			run:         runMigrations,
		},
		"list-users": {
			name:        "list-users",
			description: "List users and their stored roles (db role source)",
			run:         runListUsers,
		},
		"set-role": {
			name:        "set-role",
			description: "Set the stored role for an identity (db role source)",
			run:         runSetRole,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: studyhub-cli <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := writef(w, "  %-10s %s\n", name, cmds[name].description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}
