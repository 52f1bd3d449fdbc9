package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/studyhub/internal/bootstrap"
	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// errSignedOut is returned by commands that need a stored session.
var errSignedOut = errors.New("not signed in; run studyhub-cli login")

type loginOptions struct {
	Email    string
	Password string
}

func parseLoginFlags(args []string, in io.Reader) (loginOptions, error) {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts loginOptions
	fs.StringVar(&opts.Email, "email", "", "Account email")
	fs.StringVar(&opts.Password, "password", "", "Account password (read from stdin when omitted)")
	if err := fs.Parse(args); err != nil {
		return loginOptions{}, err
	}

	opts.Email = strings.TrimSpace(opts.Email)
	if opts.Email == "" {
		return loginOptions{}, errors.New("--email is required")
	}
	if opts.Password == "" {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return loginOptions{}, fmt.Errorf("read password: %w", err)
		}
		opts.Password = strings.TrimRight(line, "\r\n")
	}
	if opts.Password == "" {
		return loginOptions{}, errors.New("password is required")
	}
	return opts, nil
}

// withRuntime opens local stores and wires the client auth stack for fn.
func withRuntime(cmdCtx *commandContext, fn func(rt *bootstrap.ClientRuntime) error) error {
	cfg := &cmdCtx.Config
	sealer, err := bootstrap.BuildSealer(cfg.SessionEncryptionKey, cfg.IsDev, cmdCtx.Logger)
	if err != nil {
		return err
	}
	issuer, err := bootstrap.BuildIssuer(cfg.Auth, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("build issuer: %w", err)
	}
	stores, err := bootstrap.OpenClientStores(cmdCtx.Ctx, cfg, sealer, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("open client stores: %w", err)
	}
	defer func() {
		if closeErr := stores.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("close client stores failed", "error", closeErr)
		}
	}()

	metrics := bootstrap.BuildMetrics(cfg.Observability.Metrics, cmdCtx.Logger)
	defer func() {
		if closeErr := metrics.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("close metrics failed", "error", closeErr)
		}
	}()

	rt, err := bootstrap.BuildClientRuntime(bootstrap.ClientDeps{
		Config:    cfg,
		Issuer:    issuer,
		Stores:    stores,
		Navigator: printNavigator(cmdCtx),
		Metrics:   metrics,
		Logger:    cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	return fn(rt)
}

// printNavigator reports navigations on stderr; the CLI has no routes.
func printNavigator(cmdCtx *commandContext) ports.Navigator {
	return ports.NavigatorFunc(func(_ context.Context, path string) {
		cmdCtx.Logger.Info("navigate", "path", path)
	})
}

// settledState mounts the controller, waits for the initial session read and
// role lookup, and returns the resulting state.
func settledState(cmdCtx *commandContext, rt *bootstrap.ClientRuntime) domainauth.State {
	m := rt.Controller.Mount(cmdCtx.Ctx, nil)
	m.Wait()
	st := rt.Store.State()
	m.Unmount()
	return st
}

func runLogin(cmdCtx *commandContext, args []string) error {
	opts, err := parseLoginFlags(args, cmdCtx.In)
	if err != nil {
		return err
	}
	return withRuntime(cmdCtx, func(rt *bootstrap.ClientRuntime) error {
		m := rt.Controller.Mount(cmdCtx.Ctx, nil)
		defer m.Unmount()
		m.Wait()

		if _, signInErr := rt.Auth.SignInWithPassword(cmdCtx.Ctx, opts.Email, opts.Password); signInErr != nil {
			return signInErr
		}
		m.Wait()

		st := rt.Store.State()
		if !st.SignedIn() {
			return errSignedOut
		}
		return writef(cmdCtx.Out, "signed in as %s (%s)\n", st.Identity.Email, st.Role)
	})
}

type whoamiOutput struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Role      domainauth.Role `json:"role"`
	ExpiresAt time.Time       `json:"expires_at"`
	// BackendRole is the Backend API's view when a backend is configured.
	BackendRole domainauth.Role `json:"backend_role,omitempty"`
}

func runWhoami(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	asJSON := fs.Bool("json", false, "Print JSON instead of text")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return withRuntime(cmdCtx, func(rt *bootstrap.ClientRuntime) error {
		st := settledState(cmdCtx, rt)
		if !st.SignedIn() {
			return errSignedOut
		}
		out := whoamiOutput{
			ID:    st.Identity.ID,
			Email: st.Identity.Email,
			Role:  st.Role,
		}
		if st.Session != nil {
			out.ExpiresAt = st.Session.ExpiresAt
		}
		if rt.Backend != nil {
			me, meErr := rt.Backend.Me(cmdCtx.Ctx)
			if meErr != nil {
				cmdCtx.Logger.Warn("backend identity unavailable", "error", meErr)
			} else {
				out.BackendRole = me.Role
			}
		}

		if *asJSON {
			enc := json.NewEncoder(cmdCtx.Out)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}
		if err := writef(cmdCtx.Out, "id:      %s\nemail:   %s\nrole:    %s\nexpires: %s\n",
			out.ID, out.Email, out.Role, out.ExpiresAt.Format(time.RFC3339)); err != nil {
			return err
		}
		if out.BackendRole != "" {
			return writef(cmdCtx.Out, "backend: %s\n", out.BackendRole)
		}
		return nil
	})
}

func runToken(cmdCtx *commandContext, _ []string) error {
	return withRuntime(cmdCtx, func(rt *bootstrap.ClientRuntime) error {
		// Mounting refreshes a stale session and re-syncs the mirror.
		settledState(cmdCtx, rt)
		tok, ok := rt.Mirror.Token(cmdCtx.Ctx)
		if !ok {
			return errSignedOut
		}
		return writef(cmdCtx.Out, "%s\n", tok)
	})
}

func runLogout(cmdCtx *commandContext, _ []string) error {
	return withRuntime(cmdCtx, func(rt *bootstrap.ClientRuntime) error {
		rt.Controller.SignOut(cmdCtx.Ctx)
		return writef(cmdCtx.Out, "signed out\n")
	})
}

func runWatch(cmdCtx *commandContext, _ []string) error {
	return withRuntime(cmdCtx, func(rt *bootstrap.ClientRuntime) error {
		enc := json.NewEncoder(cmdCtx.Out)
		unsub := rt.Store.Subscribe(func(st domainauth.State) {
			if err := enc.Encode(st); err != nil {
				cmdCtx.Logger.Warn("write state failed", "error", err)
			}
		})
		defer unsub()

		m := rt.Controller.Mount(cmdCtx.Ctx, nil)
		defer m.Unmount()

		g, gctx := errgroup.WithContext(cmdCtx.Ctx)
		g.Go(func() error { return rt.Auth.Run(gctx) })
		g.Go(func() error {
			<-gctx.Done()
			m.Unmount()
			m.Wait()
			return nil
		})
		return g.Wait()
	})
}
