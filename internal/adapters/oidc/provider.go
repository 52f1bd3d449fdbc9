package oidc

// Package oidc issues studyhub sessions from a hosted OIDC/OAuth2 provider.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

// Provider implements ports.SessionIssuer using OIDC/OAuth2.
type Provider struct {
	config     *oauth2.Config
	logoutURL  string
	httpClient *http.Client

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier
}

var _ ports.SessionIssuer = (*Provider)(nil)

// ProviderConfig holds configuration for the OIDC provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	// LogoutURL receives a bearer POST on Revoke. Optional.
	LogoutURL  string
	HTTPClient *http.Client // Optional, defaults to a 30s client
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// NewProvider creates a new OIDC provider. It performs one discovery fetch.
func NewProvider(config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	p := &Provider{
		logoutURL:  config.LogoutURL,
		httpClient: httpClient,
	}

	ctx := p.clientContext(context.Background())
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID})

	scope := config.Scope
	if strings.TrimSpace(scope) == "" {
		scope = "openid email profile"
	}
	p.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes:       strings.Fields(scope),
		Endpoint:     op.Endpoint(),
	}

	return p, nil
}

// Begin builds the authorization URL with a fresh state and nonce.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, string, string, error) {
	if in.RedirectURL == "" {
		return "", "", "", errors.New("redirect URL is required")
	}

	state, err := generateRandomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := generateRandomString(32)
	if err != nil {
		return "", "", "", fmt.Errorf("generate nonce: %w", err)
	}

	// redirect_uri must match the configured RedirectURL exactly, so it is not overridden here.
	authURL := p.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("response_type", "code"),
	)
	return authURL, state, nonce, nil
}

// Exchange trades an authorization code for a verified session.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Session, error) {
	if in.Code == "" {
		return domainauth.Session{}, errors.New("authorization code is required")
	}
	if in.State == "" {
		return domainauth.Session{}, errors.New("state is required")
	}
	if in.Nonce == "" {
		return domainauth.Session{}, errors.New("nonce is required")
	}

	ctx = p.clientContext(ctx)
	token, err := p.config.Exchange(ctx, in.Code)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("exchange code for token: %w", err)
	}
	return p.sessionFromToken(ctx, token, in.Nonce, "")
}

// PasswordLogin performs a resource-owner password credentials grant.
func (p *Provider) PasswordLogin(ctx context.Context, in ports.PasswordInput) (domainauth.Session, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return domainauth.Session{}, errors.New("email and password are required")
	}
	ctx = p.clientContext(ctx)
	token, err := p.config.PasswordCredentialsToken(ctx, in.Email, in.Password)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("password grant: %w", err)
	}
	return p.sessionFromToken(ctx, token, "", "")
}

// Refresh exchanges a refresh token for a new session.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (domainauth.Session, error) {
	if refreshToken == "" {
		return domainauth.Session{}, errors.New("refresh token is required")
	}
	ctx = p.clientContext(ctx)
	token, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		if refreshRejected(err) {
			return domainauth.Session{}, fmt.Errorf("refresh token: %w: %w", ports.ErrRefreshRejected, err)
		}
		return domainauth.Session{}, fmt.Errorf("refresh token: %w", err)
	}
	return p.sessionFromToken(ctx, token, "", refreshToken)
}

// Revoke notifies the provider's logout endpoint. Without a configured
// endpoint it does nothing.
func (p *Provider) Revoke(ctx context.Context, sess domainauth.Session) error {
	if p.logoutURL == "" || sess.AccessToken == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.logoutURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("build logout request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("logout request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("logout returned status %d", resp.StatusCode)
	}
	return nil
}

// refreshRejected reports whether the token endpoint refused the grant
// itself rather than failing to answer.
func refreshRejected(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	switch re.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client":
		return true
	}
	return re.Response != nil && (re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized)
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// sessionFromToken maps a token response into a Session. Identity comes from
// the verified ID token when present, then from UserInfo.
func (p *Provider) sessionFromToken(ctx context.Context, tok *oauth2.Token, nonce, priorRefresh string) (domainauth.Session, error) {
	claims, err := p.extractFromIDToken(ctx, tok, nonce)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("extract id_token: %w", err)
	}
	if claims.Sub == "" {
		if fillErr := p.fillFromUserInfo(ctx, tok.AccessToken, &claims); fillErr != nil {
			return domainauth.Session{}, fmt.Errorf("get user info: %w", fillErr)
		}
	}
	if claims.Sub == "" {
		return domainauth.Session{}, errors.New("provider returned no subject")
	}

	expiresAt := time.Now().Add(time.Hour)
	if !tok.Expiry.IsZero() {
		expiresAt = tok.Expiry
	}
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = priorRefresh
	}

	return domainauth.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		Identity:     claims.identity(),
	}, nil
}

func (p *Provider) extractFromIDToken(ctx context.Context, tok *oauth2.Token, expectedNonce string) (idClaims, error) {
	var c idClaims
	rawID, err := getIDTokenFromToken(tok)
	if err != nil {
		// Refresh and password grants may omit the id_token.
		if expectedNonce == "" {
			return c, nil
		}
		return c, err
	}
	idTok, err := p.verifier.Verify(ctx, rawID)
	if err != nil {
		return c, fmt.Errorf("verify id_token: %w", err)
	}
	if claimsErr := idTok.Claims(&c); claimsErr != nil {
		return c, fmt.Errorf("parse id_token claims: %w", claimsErr)
	}
	if expectedNonce != "" && c.Nonce != expectedNonce {
		return c, errors.New("invalid nonce")
	}
	return c, nil
}

func (p *Provider) fillFromUserInfo(ctx context.Context, accessToken string, c *idClaims) error {
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	if err != nil {
		return fmt.Errorf("fetch user info: %w", err)
	}
	var info idClaims
	if claimsErr := ui.Claims(&info); claimsErr != nil {
		return fmt.Errorf("decode user info: %w", claimsErr)
	}
	fillFromUserInfoClaims(c, info)
	return nil
}

// idClaims is the subset of ID token / UserInfo claims studyhub consumes.
type idClaims struct {
	Sub          string         `json:"sub"`
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	Nonce        string         `json:"nonce"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (c idClaims) identity() domainauth.Identity {
	meta := map[string]any{}
	if c.Name != "" {
		meta["name"] = c.Name
	}
	if len(c.AppMetadata) > 0 {
		meta["app_metadata"] = c.AppMetadata
	}
	if len(c.UserMetadata) > 0 {
		meta["user_metadata"] = c.UserMetadata
	}
	if len(meta) == 0 {
		meta = nil
	}
	return domainauth.Identity{ID: c.Sub, Email: c.Email, Metadata: meta}
}

// fillFromUserInfoClaims fills missing fields without overwriting ID token values.
func fillFromUserInfoClaims(c *idClaims, ui idClaims) {
	if c.Sub == "" {
		c.Sub = ui.Sub
	}
	if c.Email == "" {
		c.Email = ui.Email
	}
	if c.Name == "" {
		c.Name = ui.Name
	}
	if len(c.AppMetadata) == 0 {
		c.AppMetadata = ui.AppMetadata
	}
	if len(c.UserMetadata) == 0 {
		c.UserMetadata = ui.UserMetadata
	}
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	s, ok := tok.Extra("id_token").(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
