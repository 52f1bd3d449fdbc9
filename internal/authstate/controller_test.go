package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	mockauth "github.com/target/studyhub/internal/mocks/auth"
	"github.com/target/studyhub/internal/ports"
)

type harness struct {
	provider *mockauth.FakeAuthProvider
	store    *Store
	storage  *mockauth.MemoryMirrorStorage
	nav      *mockauth.RecordingNavigator
	ctrl     *Controller
}

func newHarness(t *testing.T, lookup ports.RoleLookup, current *domainauth.Session) *harness {
	t.Helper()
	h := &harness{
		provider: mockauth.NewFakeAuthProvider(current),
		store:    NewStore(),
		storage:  mockauth.NewMemoryMirrorStorage(),
		nav:      &mockauth.RecordingNavigator{},
	}
	ctrl, err := NewController(ControllerOptions{
		Provider:  h.provider,
		Store:     h.store,
		Mirror:    NewMirror(h.storage, "", nil),
		Resolver:  NewRoleResolver(RoleResolverOptions{Lookup: lookup}),
		Navigator: h.nav,
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func (h *harness) mirrored() (string, bool) {
	return h.storage.Lookup(DefaultMirrorKey)
}

// blockingLookup hands out a release channel per identity id.
type blockingLookup struct {
	mu      sync.Mutex
	gates   map[string]chan domainauth.Role
	started chan string
}

func newBlockingLookup() *blockingLookup {
	return &blockingLookup{gates: make(map[string]chan domainauth.Role), started: make(chan string, 16)}
}

func (b *blockingLookup) gate(id string) chan domainauth.Role {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.gates[id]
	if !ok {
		g = make(chan domainauth.Role, 1)
		b.gates[id] = g
	}
	return g
}

func (b *blockingLookup) LookupRole(ctx context.Context, id string) (domainauth.Role, error) {
	g := b.gate(id)
	b.started <- id
	select {
	case r := <-g:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// latchLookup blocks every lookup until release is closed, then answers role.
type latchLookup struct {
	role    domainauth.Role
	release chan struct{}
	started chan string
}

func newLatchLookup(role domainauth.Role) *latchLookup {
	return &latchLookup{role: role, release: make(chan struct{}), started: make(chan string, 16)}
}

func (l *latchLookup) LookupRole(ctx context.Context, id string) (domainauth.Role, error) {
	l.started <- id
	select {
	case <-l.release:
		return l.role, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// spyWriter records every write and the time it happened.
type spyWriter struct {
	mu     sync.Mutex
	inner  *Store
	writes []string
}

func (s *spyWriter) record(op string) {
	s.mu.Lock()
	s.writes = append(s.writes, op)
	s.mu.Unlock()
}

func (s *spyWriter) SetIdentitySession(sess *domainauth.Session) {
	s.record("session")
	s.inner.SetIdentitySession(sess)
}

func (s *spyWriter) SetRole(role domainauth.Role) {
	s.record("role:" + string(role))
	s.inner.SetRole(role)
}

func (s *spyWriter) SetReady() {
	s.record("ready")
	s.inner.SetReady()
}

func (s *spyWriter) Reset() {
	s.record("reset")
	s.inner.Reset()
}

func (s *spyWriter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestNewController_RequiresProvider(t *testing.T) {
	_, err := NewController(ControllerOptions{})
	assert.ErrorIs(t, err, ErrProviderRequired)
}

func TestController_NoFlashSnapshot(t *testing.T) {
	lookup := newBlockingLookup()
	sess := mockauth.NewSession("u1", "tok-1")
	h := newHarness(t, lookup, sess)

	var seen []domainauth.State
	h.store.Subscribe(func(st domainauth.State) { seen = append(seen, st) })

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{Session: sess})
	defer m.Unmount()

	st := h.store.State()
	require.True(t, st.Ready, "ready before any provider callback")
	assert.Equal(t, "u1", st.IdentityID())
	assert.Equal(t, domainauth.RoleStudent, st.Role)
	tok, ok := h.mirrored()
	assert.True(t, ok)
	assert.Equal(t, "tok-1", tok)
	for _, s := range seen {
		if s.Ready {
			assert.Equal(t, "u1", s.IdentityID(), "never ready with a signed-out view")
		}
	}

	assert.Equal(t, "u1", <-lookup.started)
	lookup.gate("u1") <- domainauth.RoleAdmin
	m.Wait()
	assert.Equal(t, domainauth.RoleAdmin, h.store.State().Role)
}

func TestController_WithoutSnapshotReadyAfterFirstRoleAttempt(t *testing.T) {
	lookup := newBlockingLookup()
	h := newHarness(t, lookup, mockauth.NewSession("u1", "tok-1"))

	m := h.ctrl.Mount(context.Background(), nil)
	defer m.Unmount()

	assert.Equal(t, "u1", <-lookup.started)
	assert.False(t, h.store.State().Ready, "not ready while the first role attempt is pending")

	lookup.gate("u1") <- domainauth.RoleStudent
	m.Wait()
	st := h.store.State()
	assert.True(t, st.Ready)
	assert.Equal(t, "u1", st.IdentityID())
}

func TestController_WithoutSnapshotSignedOutReadyImmediately(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{}
	h := newHarness(t, lookup, nil)

	m := h.ctrl.Mount(context.Background(), nil)
	defer m.Unmount()
	m.Wait()

	st := h.store.State()
	assert.True(t, st.Ready)
	assert.Nil(t, st.Identity)
	assert.Zero(t, lookup.TotalCalls())
}

func TestController_CurrentSessionErrorTreatedAsSignedOut(t *testing.T) {
	h := newHarness(t, &mockauth.StaticRoleLookup{}, nil)
	h.provider.CurrentSessionFunc = func(context.Context) (*domainauth.Session, error) {
		return nil, errors.New("storage unavailable")
	}

	m := h.ctrl.Mount(context.Background(), nil)
	defer m.Unmount()
	m.Wait()

	assert.True(t, h.store.State().Ready)
	assert.False(t, h.store.State().SignedIn())
}

func TestController_DefaultRoleOnLookupFailure(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{Err: errors.New("status 503")}
	sess := mockauth.NewSession("u1", "tok-1")
	h := newHarness(t, lookup, sess)

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{Session: sess})
	defer m.Unmount()
	m.Wait()

	st := h.store.State()
	assert.True(t, st.Ready)
	assert.Equal(t, domainauth.RoleStudent, st.Role)
	assert.Equal(t, 1, lookup.Calls("u1"))
}

func TestController_StaleRoleDoesNotOverwrite(t *testing.T) {
	lookup := newBlockingLookup()
	h := newHarness(t, lookup, nil)

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{})
	defer m.Unmount()

	h.provider.Emit(mockauth.NewSession("x", "tok-x"))
	assert.Equal(t, "x", <-lookup.started)

	h.provider.Emit(mockauth.NewSession("y", "tok-y"))
	assert.Equal(t, "y", <-lookup.started)

	lookup.gate("y") <- domainauth.RoleStudent
	require.Eventually(t, func() bool {
		return h.store.State().IdentityID() == "y"
	}, time.Second, 5*time.Millisecond)

	lookup.gate("x") <- domainauth.RoleAdmin
	m.Wait()

	st := h.store.State()
	assert.Equal(t, "y", st.IdentityID())
	assert.Equal(t, domainauth.RoleStudent, st.Role, "stale admin result for x must be discarded")
}

func TestController_MirrorTracksEveryTransition(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{Roles: map[string]domainauth.Role{"u1": domainauth.RoleAdmin}}
	h := newHarness(t, lookup, nil)

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{})
	defer m.Unmount()

	check := func() {
		t.Helper()
		st := h.store.State()
		tok, ok := h.mirrored()
		if st.Session == nil {
			assert.False(t, ok)
			return
		}
		assert.True(t, ok)
		assert.Equal(t, st.Session.AccessToken, tok)
	}

	check()
	h.provider.Emit(mockauth.NewSession("u1", "tok-1"))
	check()
	h.provider.Emit(mockauth.NewSession("u1", "tok-2"))
	check()
	h.provider.Emit(nil)
	check()
	h.provider.Emit(mockauth.NewSession("u1", "tok-3"))
	check()
	m.Wait()
	h.ctrl.SignOut(context.Background())
	check()
}

func TestController_RefreshedTokenDoesNotRefetchRole(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{Roles: map[string]domainauth.Role{"u1": domainauth.RoleAdmin}}
	h := newHarness(t, lookup, nil)

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{})
	defer m.Unmount()

	h.provider.Emit(mockauth.NewSession("u1", "tok-1"))
	h.provider.Emit(mockauth.NewSession("u1", "tok-2"))
	m.Wait()

	assert.Equal(t, 1, lookup.Calls("u1"))
	assert.Equal(t, domainauth.RoleAdmin, h.store.State().Role)
	assert.Equal(t, "tok-2", h.store.State().Session.AccessToken)
}

func TestController_SignOutCompletesWhenProviderFails(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{Roles: map[string]domainauth.Role{"u1": domainauth.RoleAdmin}}
	sess := mockauth.NewSession("u1", "tok-1")
	h := newHarness(t, lookup, sess)
	h.provider.SignOutErr = errors.New("network down")

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{Session: sess})
	defer m.Unmount()
	m.Wait()
	require.Equal(t, domainauth.RoleAdmin, h.store.State().Role)

	h.ctrl.SignOut(context.Background())

	st := h.store.State()
	assert.Nil(t, st.Identity)
	assert.Nil(t, st.Session)
	assert.Equal(t, domainauth.RoleStudent, st.Role)
	assert.True(t, st.Ready)
	_, ok := h.mirrored()
	assert.False(t, ok)
	assert.Equal(t, []string{"/"}, h.nav.Paths())
	assert.Equal(t, 1, h.provider.SignOutCalls())
}

func TestController_IdenticalSnapshotIsIdempotent(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{Roles: map[string]domainauth.Role{"u1": domainauth.RoleAdmin}}
	sess := mockauth.NewSession("u1", "tok-1")
	h := newHarness(t, lookup, sess)

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{Session: sess})
	defer m.Unmount()
	m.Wait()

	before := h.store.State()
	changes := 0
	h.store.Subscribe(func(domainauth.State) { changes++ })

	m.ApplySnapshot(&domainauth.Snapshot{Session: sess})
	m.Wait()

	assert.Equal(t, before, h.store.State())
	assert.Zero(t, changes)
	assert.Equal(t, 1, lookup.Calls("u1"))
}

func TestController_NoWritesAfterUnmount(t *testing.T) {
	lookup := newBlockingLookup()
	sess := mockauth.NewSession("u1", "tok-1")
	provider := mockauth.NewFakeAuthProvider(sess)
	spy := &spyWriter{inner: NewStore()}
	ctrl, err := NewController(ControllerOptions{
		Provider: provider,
		Store:    spy,
		Resolver: NewRoleResolver(RoleResolverOptions{Lookup: lookup}),
	})
	require.NoError(t, err)

	m := ctrl.Mount(context.Background(), &domainauth.Snapshot{Session: sess})
	assert.Equal(t, "u1", <-lookup.started)

	m.Unmount()
	writes := spy.count()

	lookup.gate("u1") <- domainauth.RoleAdmin
	provider.Emit(mockauth.NewSession("u2", "tok-2"))
	m.Wait()

	assert.Equal(t, writes, spy.count())
	assert.Equal(t, domainauth.RoleStudent, spy.inner.State().Role)
	assert.Zero(t, provider.Listeners())
	assert.False(t, m.Mounted())
}

func TestController_SnapshotSignedOutThenEmission(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{Roles: map[string]domainauth.Role{"u1": domainauth.RoleStudent}}
	h := newHarness(t, lookup, nil)

	var identities []string
	h.store.Subscribe(func(st domainauth.State) {
		if len(identities) == 0 || identities[len(identities)-1] != st.IdentityID() {
			identities = append(identities, st.IdentityID())
		}
	})

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{Session: nil})
	defer m.Unmount()

	_, ok := h.mirrored()
	assert.False(t, ok)
	assert.True(t, h.store.State().Ready)

	h.provider.Emit(mockauth.NewSession("u1", "tok-abc"))
	m.Wait()

	assert.Equal(t, []string{"", "u1"}, identities)
	tok, ok := h.mirrored()
	assert.True(t, ok)
	assert.Equal(t, "tok-abc", tok)
	assert.Equal(t, 1, lookup.Calls("u1"))
	assert.Equal(t, 1, lookup.TotalCalls())
}

func TestController_StreamWinsOverLateCurrentSession(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{}
	h := newHarness(t, lookup, nil)
	release := make(chan struct{})
	h.provider.CurrentSessionFunc = func(context.Context) (*domainauth.Session, error) {
		<-release
		return mockauth.NewSession("old", "tok-old"), nil
	}

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{})
	defer m.Unmount()

	h.provider.Emit(mockauth.NewSession("u1", "tok-new"))
	close(release)
	m.Wait()

	assert.Equal(t, "u1", h.store.State().IdentityID())
	tok, _ := h.mirrored()
	assert.Equal(t, "tok-new", tok)
	assert.Zero(t, lookup.Calls("old"))
}

func TestController_RemountReplacesPreviousMount(t *testing.T) {
	h := newHarness(t, &mockauth.StaticRoleLookup{}, nil)

	first := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{})
	second := h.ctrl.Mount(context.Background(), nil)
	defer second.Unmount()

	assert.False(t, first.Mounted())
	assert.True(t, second.Mounted())
	assert.Equal(t, 1, h.provider.Listeners())
}

func TestController_RemountWithLookupInFlight(t *testing.T) {
	tests := []struct {
		name string
		snap bool
	}{
		{name: "without snapshot"},
		{name: "with snapshot", snap: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := newLatchLookup(domainauth.RoleAdmin)
			sess := mockauth.NewSession("u1", "tok-1")
			h := newHarness(t, lookup, sess)
			snapshot := func() *domainauth.Snapshot {
				if tt.snap {
					return &domainauth.Snapshot{Session: sess}
				}
				return nil
			}

			first := h.ctrl.Mount(context.Background(), snapshot())
			assert.Equal(t, "u1", <-lookup.started)
			first.Unmount()
			first.Wait()

			second := h.ctrl.Mount(context.Background(), snapshot())
			defer second.Unmount()
			close(lookup.release)
			second.Wait()

			st := h.store.State()
			assert.True(t, st.Ready)
			assert.Equal(t, "u1", st.IdentityID())
			assert.Equal(t, domainauth.RoleAdmin, st.Role)
		})
	}
}

func TestController_IdentitySwitchDropsPreviousRole(t *testing.T) {
	lookup := newBlockingLookup()
	h := newHarness(t, lookup, nil)

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{})
	defer m.Unmount()

	h.provider.Emit(mockauth.NewSession("admin-x", "tok-x"))
	assert.Equal(t, "admin-x", <-lookup.started)
	lookup.gate("admin-x") <- domainauth.RoleAdmin
	require.Eventually(t, func() bool {
		return h.store.State().Role == domainauth.RoleAdmin
	}, time.Second, 5*time.Millisecond)

	h.provider.Emit(mockauth.NewSession("student-y", "tok-y"))
	assert.Equal(t, "student-y", <-lookup.started)

	st := h.store.State()
	assert.Equal(t, "student-y", st.IdentityID())
	assert.Equal(t, domainauth.RoleStudent, st.Role, "previous identity's role must not carry over")

	lookup.gate("student-y") <- domainauth.RoleStudent
	m.Wait()
	assert.Equal(t, domainauth.RoleStudent, h.store.State().Role)
}

func TestController_WaitCoversLookupsStartedWhileWaiting(t *testing.T) {
	lookup := &mockauth.StaticRoleLookup{Roles: map[string]domainauth.Role{"u19": domainauth.RoleAdmin}}
	h := newHarness(t, lookup, nil)

	m := h.ctrl.Mount(context.Background(), &domainauth.Snapshot{})
	defer m.Unmount()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			h.provider.Emit(mockauth.NewSession(fmt.Sprintf("u%d", i), "tok"))
		}
	}()
	for waiting := true; waiting; {
		select {
		case <-done:
			waiting = false
		default:
			m.Wait()
		}
	}
	m.Wait()

	st := h.store.State()
	assert.Equal(t, "u19", st.IdentityID())
	assert.Equal(t, domainauth.RoleAdmin, st.Role)
}
