package authstate

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/observability/metrics"
	"github.com/target/studyhub/internal/observability/statsd"
	"github.com/target/studyhub/internal/ports"
)

// DefaultLandingPath is where SignOut navigates.
const DefaultLandingPath = "/"

// ErrProviderRequired is returned by NewController without a provider.
var ErrProviderRequired = errors.New("auth provider is required")

// ControllerOptions wires a Controller.
type ControllerOptions struct {
	Provider  ports.AuthProvider
	Store     Writer
	Mirror    *Mirror
	Resolver  *RoleResolver
	Navigator ports.Navigator
	Logger    *slog.Logger
	Metrics   statsd.Sink
	// LandingPath defaults to DefaultLandingPath.
	LandingPath string
}

// Controller reconciles the server snapshot, the provider stream and role
// lookups into the Store. All store writes happen under mu so that snapshot
// application, emissions and role results are applied in a single order.
//
// Store subscribers run while mu is held and must not call back into the
// controller synchronously.
type Controller struct {
	provider  ports.AuthProvider
	store     Writer
	mirror    *Mirror
	resolver  *RoleResolver
	navigator ports.Navigator
	logger    *slog.Logger
	metrics   statsd.Sink
	landing   string

	mu         sync.Mutex
	ready      bool
	identityID string
	// roleFor is the identity whose role result has been applied.
	roleFor string
	// resolving is set while the active mount has a lookup for identityID.
	resolving  bool
	session    *domainauth.Session
	generation uint64
	active     *Mount
}

// NewController creates a Controller. Store, Mirror and Resolver default to
// in-memory or no-op instances when nil.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Provider == nil {
		return nil, ErrProviderRequired
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = NewStore()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewRoleResolver(RoleResolverOptions{Logger: logger, Metrics: opts.Metrics})
	}
	landing := opts.LandingPath
	if landing == "" {
		landing = DefaultLandingPath
	}
	c := &Controller{
		provider:  opts.Provider,
		store:     store,
		mirror:    opts.Mirror,
		resolver:  resolver,
		navigator: opts.Navigator,
		logger:    logger.With("component", "auth_controller"),
		metrics:   opts.Metrics,
		landing:   landing,
	}
	if r, ok := store.(Reader); ok {
		st := r.State()
		c.ready = st.Ready
		c.identityID = st.IdentityID()
		c.session = st.Session
		if st.Ready {
			c.roleFor = c.identityID
		}
	}
	return c, nil
}

// Mount is one live attachment of the controller to the provider stream.
type Mount struct {
	c      *Controller
	ctx    context.Context
	cancel context.CancelFunc

	// guarded by c.mu
	mounted bool
	emitted bool
	unsub   func()
	pending int
	idle    chan struct{}
}

// Mount applies snap synchronously when the store is not yet ready, then
// attaches to the provider stream. A previously active mount is unmounted.
// When Mount returns with a non-nil snap, the state reflects it.
func (c *Controller) Mount(ctx context.Context, snap *domainauth.Snapshot) *Mount {
	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()
	if prev != nil {
		prev.Unmount()
	}

	mctx, cancel := context.WithCancel(ctx)
	m := &Mount{c: c, ctx: mctx, cancel: cancel, mounted: true}

	c.mu.Lock()
	c.active = m
	m.beginLocked()
	if snap != nil && !c.ready {
		c.applyLocked(m, snap.Session, "snapshot")
		c.setReadyLocked()
	}
	c.mu.Unlock()

	unsub, err := c.provider.Subscribe(mctx, m.onEmission)
	if err != nil {
		c.logger.WarnContext(mctx, "auth provider subscribe failed", "error", err)
	} else {
		m.setUnsubscribe(unsub)
	}

	go func() {
		defer m.end()
		sess, err := c.provider.CurrentSession(mctx)
		if err != nil {
			c.logger.WarnContext(mctx, "current session unavailable; treating as signed out", "error", err)
			sess = nil
		}
		m.onCurrentSession(sess)
	}()

	return m
}

// ApplySnapshot applies a server snapshot to a live mount. Re-applying the
// snapshot already reflected in the store changes nothing and starts no lookup.
func (m *Mount) ApplySnapshot(snap *domainauth.Snapshot) {
	if snap == nil {
		return
	}
	c := m.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !m.mounted {
		return
	}
	c.applyLocked(m, snap.Session, "snapshot")
	c.setReadyLocked()
}

// Unmount detaches from the provider and cancels in-flight lookups. No store
// write happens after Unmount returns.
func (m *Mount) Unmount() {
	c := m.c
	c.mu.Lock()
	if !m.mounted {
		c.mu.Unlock()
		return
	}
	m.mounted = false
	if c.active == m {
		c.active = nil
		// A lookup cut short by unmount never applied; the next mount redoes it.
		c.resolving = false
	}
	unsub := m.unsub
	m.unsub = nil
	c.mu.Unlock()

	m.cancel()
	if unsub != nil {
		unsub()
	}
}

// Wait blocks until the initial session read and every role lookup started
// by this mount have settled, including lookups started while waiting.
func (m *Mount) Wait() {
	for {
		m.c.mu.Lock()
		if m.pending == 0 {
			m.c.mu.Unlock()
			return
		}
		idle := m.idle
		m.c.mu.Unlock()
		<-idle
	}
}

// beginLocked registers one unit of in-flight work. c.mu must be held.
func (m *Mount) beginLocked() {
	if m.pending == 0 {
		m.idle = make(chan struct{})
	}
	m.pending++
}

func (m *Mount) end() {
	m.c.mu.Lock()
	m.pending--
	if m.pending == 0 {
		close(m.idle)
	}
	m.c.mu.Unlock()
}

// Mounted reports whether the mount is still attached.
func (m *Mount) Mounted() bool {
	m.c.mu.Lock()
	defer m.c.mu.Unlock()
	return m.mounted
}

func (m *Mount) setUnsubscribe(unsub func()) {
	m.c.mu.Lock()
	if !m.mounted {
		m.c.mu.Unlock()
		unsub()
		return
	}
	m.unsub = unsub
	m.c.mu.Unlock()
}

func (m *Mount) onEmission(sess *domainauth.Session) {
	c := m.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !m.mounted {
		return
	}
	m.emitted = true
	c.applyLocked(m, sess, "emission")
}

func (m *Mount) onCurrentSession(sess *domainauth.Session) {
	c := m.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !m.mounted {
		return
	}
	if m.emitted {
		c.logger.DebugContext(m.ctx, "discarding current session; stream already emitted")
		return
	}
	c.applyLocked(m, sess, "current_session")
}

// applyLocked writes identity and session, mirrors the token, and starts a
// role lookup when the identity's role is neither applied nor pending.
// c.mu must be held.
func (c *Controller) applyLocked(m *Mount, sess *domainauth.Session, transition string) {
	if sessionsEqual(c.session, sess) && c.ready && !c.needsLookupLocked() {
		return
	}
	if sess != nil {
		cp := *sess
		c.session = &cp
	} else {
		c.session = nil
	}
	c.store.SetIdentitySession(sess)
	c.mirror.Sync(m.ctx, sess)
	metrics.EmitSessionTransition(c.metrics, metrics.SessionTransitionMetric{Transition: transition, SignedIn: sess != nil})

	newID := ""
	if sess != nil {
		newID = sess.Identity.ID
	}
	if newID != c.identityID {
		c.identityID = newID
		c.roleFor = ""
		c.resolving = false
		c.generation++
	}
	if c.needsLookupLocked() {
		c.startLookupLocked(m, c.generation, newID)
	}
	if newID == "" {
		c.setReadyLocked()
	}
}

func (c *Controller) needsLookupLocked() bool {
	return c.identityID != "" && c.roleFor != c.identityID && !c.resolving
}

func (c *Controller) startLookupLocked(m *Mount, gen uint64, identityID string) {
	c.resolving = true
	m.beginLocked()
	go func() {
		defer m.end()
		res := c.resolver.Resolve(m.ctx, identityID)
		c.applyRole(m, gen, identityID, res)
	}()
}

func (c *Controller) applyRole(m *Mount, gen uint64, identityID string, res domainauth.RoleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !m.mounted || gen != c.generation {
		c.logger.DebugContext(m.ctx, "discarding stale role result",
			"identity_id", identityID, "role", res.Role, "mounted", m.mounted)
		metrics.EmitRoleResolution(c.metrics, metrics.RoleResolutionMetric{Result: metrics.ResultStale})
		return
	}
	c.roleFor = identityID
	c.resolving = false
	c.store.SetRole(res.Role)
	c.setReadyLocked()
}

func (c *Controller) setReadyLocked() {
	if c.ready {
		return
	}
	c.ready = true
	c.store.SetReady()
}

// SignOut ends the session at the provider, clears the mirror, resets the
// store and navigates to the landing route. A provider failure is logged and
// the local steps still run.
func (c *Controller) SignOut(ctx context.Context) {
	err := c.provider.SignOut(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "provider sign-out failed; clearing local state anyway", "error", err)
	}

	c.mu.Lock()
	c.mirror.Sync(ctx, nil)
	c.store.Reset()
	c.session = nil
	c.identityID = ""
	c.roleFor = ""
	c.resolving = false
	c.generation++
	c.ready = true
	c.mu.Unlock()

	metrics.EmitSessionTransition(c.metrics, metrics.SessionTransitionMetric{Transition: "sign_out", Err: err})
	if c.navigator != nil {
		c.navigator.Navigate(ctx, c.landing)
	}
}
