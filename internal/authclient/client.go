// Package authclient implements the client-side auth provider: it keeps the
// user's session in a local vault, refreshes it through the hosted issuer and
// streams changes to subscribers.
package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/observability/metrics"
	"github.com/target/studyhub/internal/observability/statsd"
	"github.com/target/studyhub/internal/ports"
)

const (
	// DefaultDeviceKey is the vault key used when none is configured.
	DefaultDeviceKey = "default"
	// DefaultRefreshLeeway is how long before expiry a session is refreshed.
	DefaultRefreshLeeway = time.Minute
	// defaultIdlePoll is how often Run re-checks the vault while signed out.
	defaultIdlePoll = 30 * time.Second
	// refreshTimeout bounds one refresh exchange with the issuer.
	refreshTimeout = 30 * time.Second
	// retryBackoff delays the next check after a failed refresh.
	retryBackoff = 5 * time.Second
)

// ErrIssuerRequired and ErrVaultRequired are returned by New.
var (
	ErrIssuerRequired = errors.New("session issuer is required")
	ErrVaultRequired  = errors.New("session vault is required")
)

var errNoRefreshToken = errors.New("session has no refresh token")

// Options configures a Client.
type Options struct {
	Issuer        ports.SessionIssuer
	Vault         ports.SessionVault
	DeviceKey     string
	RefreshLeeway time.Duration
	Logger        *slog.Logger
	Metrics       statsd.Sink
	// Now is injectable for tests.
	Now func() time.Time
}

// Client implements ports.AuthProvider.
type Client struct {
	issuer  ports.SessionIssuer
	vault   ports.SessionVault
	key     string
	leeway  time.Duration
	logger  *slog.Logger
	metrics statsd.Sink
	now     func() time.Time

	refreshes     singleflight.Group
	refreshFailed atomic.Bool
	wake          chan struct{}

	mu        sync.Mutex
	listeners map[int]ports.SessionListener
	nextID    int
}

var _ ports.AuthProvider = (*Client)(nil)

// New creates a Client.
func New(opts Options) (*Client, error) {
	if err := validateOptions(&opts); err != nil {
		return nil, err
	}
	return &Client{
		issuer:    opts.Issuer,
		vault:     opts.Vault,
		key:       opts.DeviceKey,
		leeway:    opts.RefreshLeeway,
		logger:    opts.Logger.With("component", "auth_client"),
		metrics:   opts.Metrics,
		now:       opts.Now,
		wake:      make(chan struct{}, 1),
		listeners: make(map[int]ports.SessionListener),
	}, nil
}

func validateOptions(opts *Options) error {
	if opts.Issuer == nil {
		return ErrIssuerRequired
	}
	if opts.Vault == nil {
		return ErrVaultRequired
	}
	if opts.DeviceKey == "" {
		opts.DeviceKey = DefaultDeviceKey
	}
	if opts.RefreshLeeway <= 0 {
		opts.RefreshLeeway = DefaultRefreshLeeway
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return nil
}

// CurrentSession returns the stored session, refreshing it first when it is
// expired or about to expire. A refresh that fails on an expired session, or
// that the issuer rejects, signs the user out.
func (c *Client) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	sess, err := c.load(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	if !sess.ExpiresWithin(c.now(), c.leeway) {
		return sess, nil
	}
	return c.refresh(ctx, *sess)
}

// Subscribe registers fn for session changes.
func (c *Client) Subscribe(_ context.Context, fn ports.SessionListener) (func(), error) {
	if fn == nil {
		return nil, errors.New("listener is required")
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}, nil
}

// SignOut revokes the session at the provider, clears the vault and emits nil.
// The local steps run even when revocation fails; the revocation error is
// still returned.
func (c *Client) SignOut(ctx context.Context) error {
	var revokeErr error
	sess, err := c.load(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "load session for sign-out failed", "error", err)
	}
	if sess != nil {
		if revokeErr = c.issuer.Revoke(ctx, *sess); revokeErr != nil {
			revokeErr = fmt.Errorf("revoke session: %w", revokeErr)
		}
	}
	clearErr := c.vault.Clear(ctx, c.key)
	if clearErr != nil {
		clearErr = fmt.Errorf("clear vault: %w", clearErr)
	}
	c.emit(nil)
	metrics.EmitSessionTransition(c.metrics, metrics.SessionTransitionMetric{Transition: "sign_out", Err: revokeErr})
	return errors.Join(revokeErr, clearErr)
}

// ExchangeCode completes an authorization-code sign-in.
func (c *Client) ExchangeCode(ctx context.Context, in ports.ExchangeInput) (*domainauth.Session, error) {
	if in.Code == "" {
		return nil, errors.New("authorization code is required")
	}
	sess, err := c.issuer.Exchange(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	return c.adopt(ctx, sess, "exchange")
}

// SignInWithPassword signs in with email and password.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*domainauth.Session, error) {
	sess, err := c.issuer.PasswordLogin(ctx, ports.PasswordInput{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("password sign-in: %w", err)
	}
	return c.adopt(ctx, sess, "password")
}

// Run refreshes the session shortly before it expires until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "starting session refresh loop", "leeway", c.leeway)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "session refresh loop stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-c.wake:
		case <-timer.C:
			if _, err := c.CurrentSession(ctx); err != nil {
				c.logger.WarnContext(ctx, "scheduled session check failed", "error", err)
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.nextCheck(ctx))
	}
}

func (c *Client) nextCheck(ctx context.Context) time.Duration {
	sess, err := c.load(ctx)
	if err != nil || sess == nil || sess.ExpiresAt.IsZero() {
		return defaultIdlePoll
	}
	d := sess.ExpiresAt.Sub(c.now()) - c.leeway
	if d <= 0 {
		if c.refreshFailed.Load() {
			return retryBackoff
		}
		return 0
	}
	return d
}

func (c *Client) load(ctx context.Context) (*domainauth.Session, error) {
	sess, err := c.vault.Load(ctx, c.key)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

// refresh exchanges the stale session's refresh token. Concurrent callers
// share one exchange and its side effects. The exchange is detached from the
// caller's ctx and bounded by refreshTimeout.
//
// A failure signs the user out only when the session has already expired or
// the issuer rejected the refresh token. Otherwise the current session is
// kept and a later check retries.
func (c *Client) refresh(ctx context.Context, stale domainauth.Session) (*domainauth.Session, error) {
	ch := c.refreshes.DoChan(c.key, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		var fresh domainauth.Session
		err := errNoRefreshToken
		if stale.RefreshToken != "" {
			fresh, err = c.issuer.Refresh(rctx, stale.RefreshToken)
		}
		c.refreshFailed.Store(err != nil)
		if err == nil {
			return c.adopt(rctx, fresh, "refresh")
		}
		metrics.EmitSessionTransition(c.metrics, metrics.SessionTransitionMetric{Transition: "refresh", Err: err})

		if !stale.Expired(c.now()) && !errors.Is(err, ports.ErrRefreshRejected) {
			c.logger.WarnContext(rctx, "session refresh failed; keeping current session", "error", err)
			cp := stale
			return &cp, nil
		}
		c.logger.WarnContext(rctx, "session refresh failed; signing out locally", "error", err)
		if clearErr := c.vault.Clear(rctx, c.key); clearErr != nil {
			c.logger.WarnContext(rctx, "clear vault after failed refresh", "error", clearErr)
		}
		c.emit(nil)
		return (*domainauth.Session)(nil), nil
	})

	select {
	case <-ctx.Done():
		if stale.Expired(c.now()) {
			return nil, ctx.Err()
		}
		cp := stale
		return &cp, nil
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sess, _ := res.Val.(*domainauth.Session)
		return sess, nil
	}
}

func (c *Client) adopt(ctx context.Context, sess domainauth.Session, transition string) (*domainauth.Session, error) {
	if err := c.vault.Store(ctx, c.key, sess); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	c.emit(&sess)
	metrics.EmitSessionTransition(c.metrics, metrics.SessionTransitionMetric{Transition: transition, SignedIn: true})
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return &sess, nil
}

func (c *Client) emit(sess *domainauth.Session) {
	c.mu.Lock()
	ls := make([]ports.SessionListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.Unlock()

	for _, l := range ls {
		var cp *domainauth.Session
		if sess != nil {
			s := *sess
			cp = &s
		}
		l(cp)
	}
}
