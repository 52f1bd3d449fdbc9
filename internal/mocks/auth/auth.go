package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthProvider  = (*FakeAuthProvider)(nil)
	_ ports.SessionIssuer = (*MockIssuer)(nil)
	_ ports.SessionStore  = (*MemorySessionStore)(nil)
	_ ports.SessionVault  = (*MemoryVault)(nil)
	_ ports.MirrorStorage = (*MemoryMirrorStorage)(nil)
	_ ports.RoleLookup    = (*StaticRoleLookup)(nil)
	_ ports.Navigator     = (*RecordingNavigator)(nil)
)

// ErrNotFound is returned by mocks when an entity is not present.
var ErrNotFound = ports.ErrNotFound

// NewSession builds a session for id with token tok expiring in an hour.
func NewSession(id, tok string) *domainauth.Session {
	return &domainauth.Session{
		AccessToken:  tok,
		RefreshToken: "refresh-" + tok,
		ExpiresAt:    time.Now().Add(time.Hour),
		Identity:     domainauth.Identity{ID: id, Email: id + "@example.com"},
	}
}

// FakeAuthProvider is a client-side auth provider whose stream is driven by Emit.
type FakeAuthProvider struct {
	// CurrentSessionFunc overrides CurrentSession when set.
	CurrentSessionFunc func(ctx context.Context) (*domainauth.Session, error)
	// SignOutErr is returned from SignOut.
	SignOutErr error

	mu           sync.Mutex
	current      *domainauth.Session
	listeners    map[int]ports.SessionListener
	nextID       int
	signOutCalls int
}

// NewFakeAuthProvider creates a provider whose current session is sess.
func NewFakeAuthProvider(sess *domainauth.Session) *FakeAuthProvider {
	return &FakeAuthProvider{current: sess, listeners: make(map[int]ports.SessionListener)}
}

func (f *FakeAuthProvider) CurrentSession(ctx context.Context) (*domainauth.Session, error) {
	if f.CurrentSessionFunc != nil {
		return f.CurrentSessionFunc(ctx)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *FakeAuthProvider) Subscribe(_ context.Context, fn ports.SessionListener) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listeners == nil {
		f.listeners = make(map[int]ports.SessionListener)
	}
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}, nil
}

// Emit sets the current session and notifies listeners synchronously.
func (f *FakeAuthProvider) Emit(sess *domainauth.Session) {
	f.mu.Lock()
	f.current = sess
	ls := make([]ports.SessionListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(sess)
	}
}

// Listeners returns the number of active subscriptions.
func (f *FakeAuthProvider) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *FakeAuthProvider) SignOut(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	if f.SignOutErr != nil {
		return f.SignOutErr
	}
	f.current = nil
	return nil
}

// SignOutCalls returns how many times SignOut was invoked.
func (f *FakeAuthProvider) SignOutCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

func (f *FakeAuthProvider) ExchangeCode(_ context.Context, in ports.ExchangeInput) (*domainauth.Session, error) {
	if in.Code == "" {
		return nil, errors.New("authorization code is required")
	}
	sess := NewSession("mock-user-1", "tok-"+in.Code)
	f.Emit(sess)
	return sess, nil
}

// MockIssuer simulates a hosted provider for tests with deterministic state/nonce handling.
type MockIssuer struct {
	BeginFunc    func(ctx context.Context, in ports.BeginInput) (authURL, state, nonce string, err error)
	ExchangeFunc func(ctx context.Context, in ports.ExchangeInput) (domainauth.Session, error)
	PasswordFunc func(ctx context.Context, in ports.PasswordInput) (domainauth.Session, error)
	RefreshFunc  func(ctx context.Context, refreshToken string) (domainauth.Session, error)
	RevokeFunc   func(ctx context.Context, sess domainauth.Session) error

	// DefaultIdentity is used for sessions issued without an override.
	DefaultIdentity domainauth.Identity

	mu           sync.Mutex
	callCount    int
	refreshCalls int
	revokeCalls  int
}

// NewMockIssuer creates a MockIssuer with sensible defaults.
func NewMockIssuer() *MockIssuer {
	return &MockIssuer{
		DefaultIdentity: domainauth.Identity{ID: "mock-user-1", Email: "mock.user@example.com"},
	}
}

func (m *MockIssuer) Begin(ctx context.Context, in ports.BeginInput) (string, string, string, error) {
	if m.BeginFunc != nil {
		return m.BeginFunc(ctx, in)
	}
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	m.mu.Unlock()
	return "https://mock-idp/auth", fmt.Sprintf("state-%d", n), fmt.Sprintf("nonce-%d", n), nil
}

func (m *MockIssuer) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Session, error) {
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, in)
	}
	return m.issue("access-" + in.Code), nil
}

func (m *MockIssuer) PasswordLogin(ctx context.Context, in ports.PasswordInput) (domainauth.Session, error) {
	if m.PasswordFunc != nil {
		return m.PasswordFunc(ctx, in)
	}
	if in.Password == "" {
		return domainauth.Session{}, errors.New("invalid email or password")
	}
	sess := m.issue("access-password")
	sess.Identity.Email = in.Email
	return sess, nil
}

func (m *MockIssuer) Refresh(ctx context.Context, refreshToken string) (domainauth.Session, error) {
	m.mu.Lock()
	m.refreshCalls++
	n := m.refreshCalls
	m.mu.Unlock()
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, refreshToken)
	}
	return m.issue(fmt.Sprintf("access-refreshed-%d", n)), nil
}

func (m *MockIssuer) Revoke(ctx context.Context, sess domainauth.Session) error {
	m.mu.Lock()
	m.revokeCalls++
	m.mu.Unlock()
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, sess)
	}
	return nil
}

// RefreshCalls returns how many refreshes were requested.
func (m *MockIssuer) RefreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

// RevokeCalls returns how many revocations were requested.
func (m *MockIssuer) RevokeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeCalls
}

func (m *MockIssuer) issue(access string) domainauth.Session {
	id := m.DefaultIdentity
	if id.ID == "" {
		id = domainauth.Identity{ID: "mock-user-1", Email: "mock.user@example.com"}
	}
	return domainauth.Session{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		ExpiresAt:    time.Now().Add(time.Hour),
		Identity:     id,
	}
}

// MemorySessionStore is an in-memory gateway session store for unit tests.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.StoredSession
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]domainauth.StoredSession)}
}

func (m *MemorySessionStore) Save(_ context.Context, sess domainauth.StoredSession) error {
	if sess.ID == "" {
		return errors.New("session ID cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sess.ID] = sess
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (domainauth.StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok || id == "" {
		return domainauth.StoredSession{}, ErrNotFound
	}
	return sess, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// MemoryVault is an in-memory client session vault.
type MemoryVault struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session
}

// NewMemoryVault creates an empty vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{sessions: make(map[string]domainauth.Session)}
}

func (v *MemoryVault) Load(_ context.Context, key string) (domainauth.Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	sess, ok := v.sessions[key]
	if !ok {
		return domainauth.Session{}, ErrNotFound
	}
	return sess, nil
}

func (v *MemoryVault) Store(_ context.Context, key string, sess domainauth.Session) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sessions[key] = sess
	return nil
}

func (v *MemoryVault) Clear(_ context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.sessions, key)
	return nil
}

// MemoryMirrorStorage is an in-memory MirrorStorage. Set SetErr to simulate a
// full or disabled storage.
type MemoryMirrorStorage struct {
	SetErr    error
	DeleteErr error

	mu     sync.Mutex
	values map[string]string
}

// NewMemoryMirrorStorage creates an empty storage.
func NewMemoryMirrorStorage() *MemoryMirrorStorage {
	return &MemoryMirrorStorage{values: make(map[string]string)}
}

func (m *MemoryMirrorStorage) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryMirrorStorage) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func (m *MemoryMirrorStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.values, key)
	return nil
}

// Lookup returns the raw value and presence for key.
func (m *MemoryMirrorStorage) Lookup(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok
}

// StaticRoleLookup resolves roles from a fixed map and counts calls per id.
type StaticRoleLookup struct {
	Roles map[string]domainauth.Role
	Err   error

	mu    sync.Mutex
	calls map[string]int
}

func (s *StaticRoleLookup) LookupRole(_ context.Context, identityID string) (domainauth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[identityID]++
	if s.Err != nil {
		return "", s.Err
	}
	r, ok := s.Roles[identityID]
	if !ok {
		return "", ErrNotFound
	}
	return r, nil
}

// Calls returns the number of lookups made for id.
func (s *StaticRoleLookup) Calls(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

// TotalCalls returns the number of lookups made for all ids.
func (s *StaticRoleLookup) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// RecordingNavigator records navigation targets.
type RecordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *RecordingNavigator) Navigate(_ context.Context, path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
}

// Paths returns the recorded navigation targets.
func (n *RecordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}
