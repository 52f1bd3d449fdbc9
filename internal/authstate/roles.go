package authstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/observability/metrics"
	"github.com/target/studyhub/internal/observability/statsd"
	"github.com/target/studyhub/internal/ports"
)

// ErrNoIdentity is the fallback reason when resolution is asked for an empty id.
var ErrNoIdentity = errors.New("no identity")

// ErrNoLookup is the fallback reason when no role lookup is configured.
var ErrNoLookup = errors.New("role lookup not configured")

// DefaultLookupTimeout bounds a lookup when RoleResolverOptions.Timeout is zero.
const DefaultLookupTimeout = 10 * time.Second

// RoleResolverOptions configures a RoleResolver.
type RoleResolverOptions struct {
	Lookup ports.RoleLookup
	Logger *slog.Logger
	// Metrics is optional.
	Metrics statsd.Sink
	// Source tags metrics with the lookup's origin (db, backend, claims).
	Source string
	// Timeout bounds a single lookup. Defaults to DefaultLookupTimeout.
	Timeout time.Duration
}

// RoleResolver turns an identity id into a role. It never fails: every
// error path yields a student fallback carrying the reason.
type RoleResolver struct {
	lookup  ports.RoleLookup
	logger  *slog.Logger
	metrics statsd.Sink
	source  string
	timeout time.Duration
	group   singleflight.Group
}

// NewRoleResolver creates a RoleResolver.
func NewRoleResolver(opts RoleResolverOptions) *RoleResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &RoleResolver{
		lookup:  opts.Lookup,
		logger:  logger.With("component", "role_resolver"),
		metrics: opts.Metrics,
		source:  opts.Source,
		timeout: timeout,
	}
}

// Resolve looks up the role for identityID. Concurrent calls for the same id
// share one lookup. A cancelled ctx returns a fallback for that caller only;
// the shared lookup keeps running for the others.
func (r *RoleResolver) Resolve(ctx context.Context, identityID string) domainauth.RoleResult {
	if identityID == "" {
		return r.finish(ctx, identityID, domainauth.FallbackRole(ErrNoIdentity), 0)
	}
	if r.lookup == nil {
		return r.finish(ctx, identityID, domainauth.FallbackRole(ErrNoLookup), 0)
	}

	if err := ctx.Err(); err != nil {
		return r.finish(ctx, identityID, domainauth.FallbackRole(err), 0)
	}

	start := time.Now()
	// The shared lookup outlives any single caller; each caller's own ctx
	// only ends its wait.
	ch := r.group.DoChan(identityID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.lookup.LookupRole(lctx, identityID)
	})

	select {
	case <-ctx.Done():
		return r.finish(ctx, identityID, domainauth.FallbackRole(ctx.Err()), time.Since(start))
	case res := <-ch:
		if res.Err != nil {
			return r.finish(ctx, identityID, domainauth.FallbackRole(res.Err), time.Since(start))
		}
		role, ok := res.Val.(domainauth.Role)
		if !ok {
			return r.finish(ctx, identityID, domainauth.FallbackRole(fmt.Errorf("unexpected role type %T", res.Val)), time.Since(start))
		}
		parsed, err := domainauth.ParseRoleStrict(string(role))
		if err != nil {
			return r.finish(ctx, identityID, domainauth.FallbackRole(err), time.Since(start))
		}
		return r.finish(ctx, identityID, domainauth.ResolvedRole(parsed), time.Since(start))
	}
}

func (r *RoleResolver) finish(ctx context.Context, identityID string, res domainauth.RoleResult, took time.Duration) domainauth.RoleResult {
	m := metrics.RoleResolutionMetric{Source: r.source, Result: metrics.ResultOK, Duration: took}
	if res.Fallback {
		m.Result = metrics.ResultFallback
		m.Err = res.Reason
		if !errors.Is(res.Reason, ErrNoIdentity) {
			r.logger.WarnContext(ctx, "role lookup failed; defaulting to student",
				"identity_id", identityID, "error", res.Reason)
		}
	} else {
		r.logger.DebugContext(ctx, "role resolved", "identity_id", identityID, "role", res.Role)
	}
	metrics.EmitRoleResolution(r.metrics, m)
	return res
}
