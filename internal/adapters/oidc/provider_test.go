package oidc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

const testNonce = "nonce-1"

// fakeIDP serves discovery, JWKS, token, userinfo and logout endpoints.
type fakeIDP struct {
	server      *httptest.Server
	key         *rsa.PrivateKey
	logoutCalls atomic.Int32
	lastBearer  atomic.Value
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	idp := &fakeIDP{key: key}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, _ *http.Request) {
		base := idp.server.URL
		_ = json.NewEncoder(w).Encode(DiscoveryDocument{
			Issuer:                base,
			AuthorizationEndpoint: base + "/authorize",
			TokenEndpoint:         base + "/token",
			UserinfoEndpoint:      base + "/userinfo",
			JwksURI:               base + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, _ *http.Request) {
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key: &key.PublicKey, KeyID: "k1", Algorithm: string(jose.RS256), Use: "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := map[string]any{"token_type": "Bearer", "expires_in": 3600}
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			resp["access_token"] = "access-code"
			resp["refresh_token"] = "refresh-code"
			resp["id_token"] = idp.sign("user-1", "student@example.com")
		case "password":
			if r.Form.Get("password") != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			resp["access_token"] = "access-password"
			resp["refresh_token"] = "refresh-password"
		case "refresh_token":
			if r.Form.Get("refresh_token") == "revoked" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
				return
			}
			resp["access_token"] = "access-refreshed"
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":           "user-2",
			"email":         "pw@example.com",
			"user_metadata": map[string]any{"role": "student"},
		})
	})
	mux.HandleFunc("/logout", func(w http.ResponseWriter, r *http.Request) {
		idp.logoutCalls.Add(1)
		idp.lastBearer.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

// sign runs on the server goroutine, so failures surface as verification errors.
func (idp *fakeIDP) sign(sub, email string) string {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: idp.key, KeyID: "k1"}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return ""
	}
	claims := map[string]any{
		"iss":          idp.server.URL,
		"sub":          sub,
		"aud":          "test-client",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"iat":          time.Now().Unix(),
		"nonce":        testNonce,
		"email":        email,
		"app_metadata": map[string]any{"role": "admin"},
	}
	raw, err := jwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		return ""
	}
	return raw
}

func (idp *fakeIDP) provider(t *testing.T) *Provider {
	t.Helper()
	p, err := NewProvider(ProviderConfig{
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		RedirectURL:  "http://localhost:8080/auth/callback",
		DiscoveryURL: idp.server.URL + "/.well-known/openid-configuration",
		LogoutURL:    idp.server.URL + "/logout",
	})
	require.NoError(t, err)
	return p
}

func TestNewProvider_Success(t *testing.T) {
	idp := newFakeIDP(t)
	p := idp.provider(t)
	assert.Equal(t, idp.server.URL+"/authorize", p.config.Endpoint.AuthURL)
	assert.Equal(t, idp.server.URL+"/token", p.config.Endpoint.TokenURL)
	assert.Equal(t, []string{"openid", "email", "profile"}, p.config.Scopes)
}

func TestNewProvider_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		config ProviderConfig
		errMsg string
	}{
		{
			name:   "missing client ID",
			config: ProviderConfig{RedirectURL: "http://localhost/callback", DiscoveryURL: "http://example.com"},
			errMsg: "client ID is required",
		},
		{
			name:   "missing redirect URL",
			config: ProviderConfig{ClientID: "client", DiscoveryURL: "http://example.com"},
			errMsg: "redirect URL is required",
		},
		{
			name:   "missing discovery URL",
			config: ProviderConfig{ClientID: "client", RedirectURL: "http://localhost/callback"},
			errMsg: "discovery URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProvider_Begin(t *testing.T) {
	p := newFakeIDP(t).provider(t)

	authURL, state, nonce, err := p.Begin(context.Background(), ports.BeginInput{RedirectURL: "http://localhost:8080/auth/callback"})
	require.NoError(t, err)
	assert.Len(t, state, 32)
	assert.Len(t, nonce, 32)
	assert.Contains(t, authURL, "client_id=test-client")
	assert.Contains(t, authURL, "state="+state)
	assert.Contains(t, authURL, "nonce="+nonce)

	_, _, _, err = p.Begin(context.Background(), ports.BeginInput{})
	require.Error(t, err)
}

func TestProvider_Exchange(t *testing.T) {
	p := newFakeIDP(t).provider(t)

	sess, err := p.Exchange(context.Background(), ports.ExchangeInput{Code: "good-code", State: "s", Nonce: testNonce})
	require.NoError(t, err)
	assert.Equal(t, "access-code", sess.AccessToken)
	assert.Equal(t, "refresh-code", sess.RefreshToken)
	assert.Equal(t, "user-1", sess.Identity.ID)
	assert.Equal(t, "student@example.com", sess.Identity.Email)
	assert.Equal(t, map[string]any{"role": "admin"}, sess.Identity.Metadata["app_metadata"])
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)
}

func TestProvider_Exchange_Errors(t *testing.T) {
	p := newFakeIDP(t).provider(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		input  ports.ExchangeInput
		errMsg string
	}{
		{name: "missing code", input: ports.ExchangeInput{State: "s", Nonce: "n"}, errMsg: "authorization code is required"},
		{name: "missing state", input: ports.ExchangeInput{Code: "c", Nonce: "n"}, errMsg: "state is required"},
		{name: "missing nonce", input: ports.ExchangeInput{Code: "c", State: "s"}, errMsg: "nonce is required"},
		{name: "rejected code", input: ports.ExchangeInput{Code: "bad", State: "s", Nonce: testNonce}, errMsg: "exchange code for token"},
		{name: "nonce mismatch", input: ports.ExchangeInput{Code: "good-code", State: "s", Nonce: "other"}, errMsg: "invalid nonce"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Exchange(ctx, tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestProvider_PasswordLoginUsesUserInfo(t *testing.T) {
	p := newFakeIDP(t).provider(t)

	sess, err := p.PasswordLogin(context.Background(), ports.PasswordInput{Email: "pw@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "access-password", sess.AccessToken)
	assert.Equal(t, "user-2", sess.Identity.ID)
	assert.Equal(t, map[string]any{"role": "student"}, sess.Identity.Metadata["user_metadata"])

	_, err = p.PasswordLogin(context.Background(), ports.PasswordInput{Email: "pw@example.com", Password: "wrong"})
	require.Error(t, err)
	_, err = p.PasswordLogin(context.Background(), ports.PasswordInput{})
	require.Error(t, err)
}

func TestProvider_RefreshKeepsPriorRefreshToken(t *testing.T) {
	p := newFakeIDP(t).provider(t)

	sess, err := p.Refresh(context.Background(), "refresh-code")
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", sess.AccessToken)
	assert.Equal(t, "refresh-code", sess.RefreshToken)
	assert.Equal(t, "user-2", sess.Identity.ID)

	_, err = p.Refresh(context.Background(), "")
	require.Error(t, err)
}

func TestProvider_RefreshRejectedIsMarked(t *testing.T) {
	p := newFakeIDP(t).provider(t)

	_, err := p.Refresh(context.Background(), "revoked")
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrRefreshRejected)
}

func TestRefreshRejected_TransportErrorIsNotRejection(t *testing.T) {
	assert.False(t, refreshRejected(context.DeadlineExceeded))
	assert.True(t, refreshRejected(&oauth2.RetrieveError{ErrorCode: "invalid_grant"}))
	assert.True(t, refreshRejected(&oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusUnauthorized}}))
	assert.False(t, refreshRejected(&oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadGateway}}))
}

func TestProvider_Revoke(t *testing.T) {
	idp := newFakeIDP(t)
	p := idp.provider(t)

	require.NoError(t, p.Revoke(context.Background(), domainauth.Session{AccessToken: "tok"}))
	assert.Equal(t, int32(1), idp.logoutCalls.Load())
	assert.Equal(t, "Bearer tok", idp.lastBearer.Load())

	require.NoError(t, p.Revoke(context.Background(), domainauth.Session{}))
	assert.Equal(t, int32(1), idp.logoutCalls.Load())
}

func TestGenerateRandomString(t *testing.T) {
	a, err := generateRandomString(16)
	require.NoError(t, err)
	assert.Len(t, a, 16)
	b, err := generateRandomString(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestGetIDTokenFromToken(t *testing.T) {
	tok := (&oauth2.Token{}).WithExtra(map[string]any{"id_token": "abc.def.ghi"})
	raw, err := getIDTokenFromToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", raw)

	_, err = getIDTokenFromToken((&oauth2.Token{}).WithExtra(map[string]any{"x": "y"}))
	assert.ErrorContains(t, err, "missing id_token")
	_, err = getIDTokenFromToken(nil)
	assert.ErrorContains(t, err, "nil token")
}

func TestFillFromUserInfoClaims_KeepsExisting(t *testing.T) {
	c := idClaims{Sub: "keep", Email: "keep@example.com"}
	fillFromUserInfoClaims(&c, idClaims{Sub: "other", Email: "other@example.com", Name: "Ada"})
	assert.Equal(t, "keep", c.Sub)
	assert.Equal(t, "keep@example.com", c.Email)
	assert.Equal(t, "Ada", c.Name)

	id := c.identity()
	assert.Equal(t, "Ada", id.Metadata["name"])
}
