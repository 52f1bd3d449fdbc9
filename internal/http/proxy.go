package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	apperrors "github.com/target/studyhub/internal/errors"
)

// APIProxyOptions configures NewAPIProxy.
type APIProxyOptions struct {
	// Target is the Backend API base URL.
	Target *url.URL
	// Prefix is stripped from the request path before forwarding.
	Prefix    string
	Auth      AuthServiceInterface
	Logger    *slog.Logger
	Transport http.RoundTripper
}

// NewAPIProxy forwards requests to the Backend API. The browser's cookies
// never leave the gateway; a live session's access token is sent as a bearer
// token instead. Requests without a session are forwarded anonymously.
func NewAPIProxy(opts APIProxyOptions) (http.Handler, error) {
	if opts.Target == nil || opts.Target.Scheme == "" || opts.Target.Host == "" {
		return nil, errors.New("api proxy: absolute target URL is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("api proxy: auth service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api_proxy")
	prefix := strings.TrimSuffix(opts.Prefix, "/")
	target := opts.Target

	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			path := strings.TrimPrefix(pr.In.URL.Path, prefix)
			if !strings.HasPrefix(path, "/") {
				path = "/" + path
			}
			pr.Out.URL.Path = path
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()

			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del(DefaultCSRFHeaderName)
			if stored, ok := GetSessionFromContext(pr.In.Context()); ok && stored.Session.AccessToken != "" {
				pr.Out.Header.Set("Authorization", "Bearer "+stored.Session.AccessToken)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del("Set-Cookie")
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.ErrorContext(r.Context(), "backend request failed", "path", r.URL.Path, "error", err)
			WriteError(w, ErrorParams{
				Code:    http.StatusBadGateway,
				ErrCode: "backend_unavailable",
				Err:     fmt.Errorf("backend unavailable"),
			})
		},
		Transport: opts.Transport,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := sessionIDFromRequest(r); id != "" {
			stored, err := opts.Auth.GetSession(r.Context(), id)
			switch {
			case err == nil:
				r = r.WithContext(SetSessionInContext(r.Context(), stored))
			case apperrors.IsUnauthorized(err):
				// Signed out or expired: forward anonymously.
			default:
				logger.ErrorContext(r.Context(), "load session for proxy failed", "error", err)
				WriteAppError(w, err)
				return
			}
		}
		rp.ServeHTTP(w, r)
	}), nil
}
