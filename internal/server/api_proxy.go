package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dgellow/admin-console/internal/gate"
	jsonwriter "github.com/dgellow/admin-console/internal/json"
	"github.com/dgellow/admin-console/internal/log"
	"github.com/dgellow/admin-console/internal/urlutil"
)

// APIPrefix is the path under which internal API calls are forwarded
const APIPrefix = "/api/"

const defaultUpstreamTimeout = 30 * time.Second

// APIProxy forwards requests under /api/ to the internal API with the
// operator's bearer token. It must sit behind the gate.
type APIProxy struct {
	upstream *url.URL
	client   *http.Client
}

// NewAPIProxy creates a proxy to upstream, an absolute base URL. A nil
// client gets an instrumented default.
func NewAPIProxy(upstream string, client *http.Client) (*APIProxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("parsing api upstream: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api upstream must be an absolute URL, got %q", upstream)
	}
	if client == nil {
		client = &http.Client{
			Timeout:   defaultUpstreamTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &APIProxy{upstream: u, client: client}, nil
}

// target maps /api/<rest> onto the upstream base URL
func (p *APIProxy) target(r *http.Request) *url.URL {
	u := urlutil.JoinPath(p.upstream, strings.TrimPrefix(r.URL.Path, APIPrefix))
	u.RawQuery = r.URL.RawQuery
	return u
}

func (p *APIProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := gate.IdentityFromContext(r.Context())
	if !ok {
		// only reachable when mounted without the gate
		log.LogErrorWithFields("api_proxy", "Request reached API proxy without identity", map[string]any{
			"path": r.URL.Path,
		})
		jsonwriter.WriteInternalServerError(w, "missing identity")
		return
	}

	target := p.target(r)
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		log.LogErrorWithFields("api_proxy", "Failed to create upstream request", map[string]any{
			"error": err.Error(),
		})
		jsonwriter.WriteInternalServerError(w, "failed to create request")
		return
	}
	req.ContentLength = r.ContentLength
	copyRequestHeaders(req.Header, r.Header)
	req.Header.Set("Authorization", identity.AuthorizationHeader())

	log.LogDebugWithFields("api_proxy", "Forwarding to internal API", map[string]any{
		"method":  r.Method,
		"target":  target.Path,
		"subject": identity.Claims.Subject,
	})

	resp, err := p.client.Do(req)
	if err != nil {
		log.LogErrorWithFields("api_proxy", "Upstream request failed", map[string]any{
			"error":  err.Error(),
			"target": target.Path,
		})
		jsonwriter.WriteBadGateway(w, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(w, resp.Body); err != nil {
		log.LogDebugWithFields("api_proxy", "Failed to copy upstream response", map[string]any{
			"error": err.Error(),
		})
	}
}
