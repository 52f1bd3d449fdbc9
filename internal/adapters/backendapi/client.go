// Package backendapi is the REST client for the studyhub Backend API.
package backendapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	domainauth "github.com/target/studyhub/internal/domain/auth"
	"github.com/target/studyhub/internal/ports"
)

var (
	// ErrUnauthenticated is returned in demo mode when no token is mirrored.
	ErrUnauthenticated = errors.New("backend api: not signed in")

	errDecode = errors.New("decode backend response")
)

// Authorizer attaches credentials to outgoing requests and reports whether
// it did. *authstate.Mirror satisfies it.
type Authorizer interface {
	AuthorizeRequest(req *http.Request) bool
}

// StaticToken authorizes every request with a fixed bearer token, for
// server-to-server calls made outside any user's session.
type StaticToken string

// AuthorizeRequest implements Authorizer.
func (t StaticToken) AuthorizeRequest(req *http.Request) bool {
	if t == "" {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+string(t))
	return true
}

// Config configures the client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration // default 10s
	RetryLimit int           // retries for idempotent calls on 5xx/transport errors
	Client     *http.Client
	// Demo serves canned responses without touching the network.
	Demo bool
	// DemoRoles seeds LookupRole in demo mode. Unlisted ids are students.
	DemoRoles map[string]domainauth.Role
}

// Client calls the Backend API with the mirrored bearer token.
type Client struct {
	base       *url.URL
	client     *http.Client
	auth       Authorizer
	retryLimit int
	demo       bool
	demoRoles  map[string]domainauth.Role
}

var _ ports.RoleLookup = (*Client)(nil)

// Me is the Backend API's view of the signed-in user.
type Me struct {
	ID    string          `json:"id"`
	Email string          `json:"email"`
	Role  domainauth.Role `json:"role"`
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend api %s %s: status %d", e.Method, e.Path, e.Code)
}

// NewClient builds a client. BaseURL is required unless Demo is set.
func NewClient(cfg Config, auth Authorizer) (*Client, error) {
	c := &Client{
		auth:       auth,
		retryLimit: max(cfg.RetryLimit, 0),
		demo:       cfg.Demo,
		demoRoles:  cfg.DemoRoles,
	}
	if cfg.Demo {
		return c, nil
	}

	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("backend api base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend api base url %q", raw)
	}
	c.base = base

	c.client = cfg.Client
	if c.client == nil {
		jar, jarErr := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if jarErr != nil {
			return nil, fmt.Errorf("create cookie jar: %w", jarErr)
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.client = &http.Client{Timeout: timeout, Jar: jar}
	}
	return c, nil
}

// Demo reports whether the client serves canned responses.
func (c *Client) Demo() bool { return c.demo }

// LookupRole fetches GET /users/{id}/role. Any non-2xx status is an error;
// 404 also matches ports.ErrNotFound.
func (c *Client) LookupRole(ctx context.Context, identityID string) (domainauth.Role, error) {
	if identityID == "" {
		return "", errors.New("identity id is required")
	}
	if c.demo {
		if r, ok := c.demoRoles[identityID]; ok {
			return r, nil
		}
		return domainauth.RoleStudent, nil
	}

	var body struct {
		Role string `json:"role"`
	}
	if err := c.getJSON(ctx, "/users/"+url.PathEscape(identityID)+"/role", &body); err != nil {
		return "", err
	}
	return domainauth.ParseRoleStrict(body.Role)
}

// Me fetches GET /auth/me.
func (c *Client) Me(ctx context.Context) (Me, error) {
	if c.demo {
		if c.auth == nil || !c.auth.AuthorizeRequest(demoRequest(ctx)) {
			return Me{}, ErrUnauthenticated
		}
		return Me{ID: "demo-user", Email: "demo@example.com", Role: domainauth.RoleStudent}, nil
	}
	var me Me
	if err := c.getJSON(ctx, "/auth/me", &me); err != nil {
		return Me{}, err
	}
	me.Role = domainauth.ParseRole(string(me.Role))
	return me, nil
}

// demoRequest is a throwaway request used to ask the authorizer for a token.
func demoRequest(ctx context.Context) *http.Request {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "http://demo.invalid/", http.NoBody)
	return req
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	attempts := c.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err := c.get(ctx, path, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts-1 {
			break
		}
		delay := time.Duration(attempt+1) * 200 * time.Millisecond
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("create backend request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth.AuthorizeRequest(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend api GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		se := &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: string(snippet)}
		if resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %w", se, ports.ErrNotFound)
		}
		return se
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", errDecode, err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return !errors.Is(err, errDecode)
}
