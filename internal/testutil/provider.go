package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// MintToken signs claims with a throwaway key. The console never verifies
// provider signatures, so any key will do.
func MintToken(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("fake-provider-key"))
	require.NoError(t, err)
	return raw
}

// OperatorToken mints a typical operator token expiring at exp
func OperatorToken(t testing.TB, subject string, exp time.Time) string {
	t.Helper()
	return MintToken(t, jwt.MapClaims{
		"sub":    subject,
		"scope":  "console:read console:write",
		"origin": "https://bank.example.com",
		"iss":    "https://idp.example.com",
		"iat":    exp.Add(-time.Hour).Unix(),
		"exp":    exp.Unix(),
	})
}

// Provider is a fake OAuth2/OIDC identity provider
type Provider struct {
	Server *httptest.Server

	mu           sync.Mutex
	accessToken  string
	tokenHandler http.HandlerFunc
	lastForm     url.Values

	TokenRequests atomic.Int32
}

// NewProvider starts a fake provider that is shut down with the test
func NewProvider(t testing.TB) *Provider {
	t.Helper()
	p := &Provider{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                p.Server.URL,
			"authorization_endpoint":                p.Server.URL + "/authorize",
			"token_endpoint":                        p.Server.URL + "/token",
			"jwks_uri":                              p.Server.URL + "/jwks",
			"response_types_supported":              []string{"code"},
			"subject_types_supported":               []string{"public"},
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		p.TokenRequests.Add(1)
		_ = r.ParseForm()

		p.mu.Lock()
		p.lastForm = r.PostForm
		handler := p.tokenHandler
		accessToken := p.accessToken
		p.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		WriteTokenResponse(w, accessToken)
	})

	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Server.Close)
	return p
}

// URL returns the provider base URL, which is also its issuer
func (p *Provider) URL() string {
	return p.Server.URL
}

// AuthorizationURL returns the provider authorization endpoint
func (p *Provider) AuthorizationURL() string {
	return p.Server.URL + "/authorize"
}

// TokenURL returns the provider token endpoint
func (p *Provider) TokenURL() string {
	return p.Server.URL + "/token"
}

// IssueToken makes the token endpoint answer with raw as access token
func (p *Provider) IssueToken(raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessToken = raw
	p.tokenHandler = nil
}

// RespondWith overrides the token endpoint
func (p *Provider) RespondWith(h http.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenHandler = h
}

// LastTokenForm returns the form of the last token request
func (p *Provider) LastTokenForm() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastForm
}

// WriteTokenResponse writes a successful token endpoint response
func WriteTokenResponse(w http.ResponseWriter, accessToken string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   3600,
	})
}

// WriteTokenError writes an RFC 6749 error response
func WriteTokenError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             code,
		"error_description": "rejected by fake provider",
	})
}
