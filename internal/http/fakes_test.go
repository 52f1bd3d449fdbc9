package httpx

import (
	"context"
	"sync"
	"time"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	apperrors "github.com/target/studyhub/internal/errors"
	"github.com/target/studyhub/internal/service"
)

// fakeAuthService is a test double for AuthServiceInterface. Unset funcs fall
// back to a single signed-in session "sess-1" for identity "u1".
type fakeAuthService struct {
	beginLoginFunc    func(ctx context.Context, redirectURL string) (*service.BeginLoginResult, error)
	completeLoginFunc func(ctx context.Context, input service.CompleteLoginInput) (*service.CompleteLoginResult, error)
	passwordLoginFunc func(ctx context.Context, email, password string) (*service.CompleteLoginResult, error)
	getSessionFunc    func(ctx context.Context, sessionID string) (*domainauth.StoredSession, error)
	role              domainauth.Role

	mu         sync.Mutex
	completed  []service.CompleteLoginInput
	loggedOut  []string
	redirectTo string
}

func testStoredSession(id string) *domainauth.StoredSession {
	return &domainauth.StoredSession{
		ID: id,
		Session: domainauth.Session{
			AccessToken:  "tok-abc",
			RefreshToken: "refresh-abc",
			ExpiresAt:    time.Now().Add(time.Hour),
			Identity:     domainauth.Identity{ID: "u1", Email: "u1@example.com"},
		},
		CreatedAt: time.Now(),
	}
}

func (f *fakeAuthService) BeginLogin(ctx context.Context, redirectURL string) (*service.BeginLoginResult, error) {
	if f.beginLoginFunc != nil {
		return f.beginLoginFunc(ctx, redirectURL)
	}
	f.mu.Lock()
	f.redirectTo = redirectURL
	f.mu.Unlock()
	return &service.BeginLoginResult{
		AuthURL: "https://idp.example.com/authorize?state=test-state",
		State:   "test-state",
		Nonce:   "test-nonce",
	}, nil
}

func (f *fakeAuthService) CompleteLogin(ctx context.Context, input service.CompleteLoginInput) (*service.CompleteLoginResult, error) {
	f.mu.Lock()
	f.completed = append(f.completed, input)
	f.mu.Unlock()
	if f.completeLoginFunc != nil {
		return f.completeLoginFunc(ctx, input)
	}
	return &service.CompleteLoginResult{Session: *testStoredSession("sess-1")}, nil
}

func (f *fakeAuthService) PasswordLogin(ctx context.Context, email, password string) (*service.CompleteLoginResult, error) {
	if f.passwordLoginFunc != nil {
		return f.passwordLoginFunc(ctx, email, password)
	}
	return &service.CompleteLoginResult{Session: *testStoredSession("sess-1")}, nil
}

func (f *fakeAuthService) GetSession(ctx context.Context, sessionID string) (*domainauth.StoredSession, error) {
	if f.getSessionFunc != nil {
		return f.getSessionFunc(ctx, sessionID)
	}
	if sessionID != "sess-1" {
		return nil, apperrors.Wrap(service.ErrSessionNotFound, apperrors.ErrCodeUnauthorized, "not authenticated")
	}
	return testStoredSession(sessionID), nil
}

func (f *fakeAuthService) Snapshot(ctx context.Context, sessionID string) domainauth.Snapshot {
	stored, err := f.GetSession(ctx, sessionID)
	if err != nil {
		return domainauth.Snapshot{}
	}
	return domainauth.Snapshot{Session: &stored.Session}
}

func (f *fakeAuthService) Me(ctx context.Context, sessionID string) (*service.MeResult, error) {
	stored, err := f.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	res := f.ResolveRole(ctx, &stored.Session)
	return &service.MeResult{
		Identity:  stored.Session.Identity,
		Role:      res.Role,
		Fallback:  res.Fallback,
		ExpiresAt: stored.Session.ExpiresAt,
	}, nil
}

func (f *fakeAuthService) ResolveRole(_ context.Context, _ *domainauth.Session) domainauth.RoleResult {
	if f.role == "" {
		return domainauth.FallbackRole(nil)
	}
	return domainauth.ResolvedRole(f.role)
}

func (f *fakeAuthService) Logout(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = append(f.loggedOut, sessionID)
	return nil
}

func (f *fakeAuthService) loggedOutIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loggedOut...)
}
