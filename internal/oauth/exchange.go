// Package oauth implements the OAuth2 authorization-code login against the
// console's identity provider and the /auth HTTP endpoints.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/dgellow/admin-console/internal/cookie"
	"github.com/dgellow/admin-console/internal/crypto"
	jsonwriter "github.com/dgellow/admin-console/internal/json"
	"github.com/dgellow/admin-console/internal/log"
	"github.com/dgellow/admin-console/internal/metrics"
	"github.com/dgellow/admin-console/internal/token"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultRetryInterval = 250 * time.Millisecond
	// one initial attempt plus one retry
	maxExchangeTries = 2
)

// Config is the static client configuration for the identity provider
type Config struct {
	// Issuer enables OIDC discovery for whichever endpoint is left empty
	Issuer           string
	AuthorizationURL string
	TokenURL         string
	ClientID         string
	ClientSecret     string
	RedirectURL      string
	Scopes           []string
	// StateSecret signs the state parameter
	StateSecret []byte
	// Timeout bounds each token endpoint attempt
	Timeout       time.Duration
	RetryInterval time.Duration
	HTTPClient    *http.Client
}

// Exchange runs the authorization-code flow. It keeps no per-login state on
// the server: the state parameter is signed and bound to a nonce cookie.
type Exchange struct {
	oauth2        *oauth2.Config
	signer        crypto.TokenSigner
	client        *http.Client
	timeout       time.Duration
	retryInterval time.Duration
	metrics       *metrics.Metrics
	now           func() time.Time
}

type stateClaims struct {
	Nonce string `json:"nonce"`
}

// NewExchange builds an Exchange, resolving endpoints through OIDC discovery
// when an issuer is configured and an endpoint is missing.
func NewExchange(ctx context.Context, cfg Config, m *metrics.Metrics) (*Exchange, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	if cfg.RedirectURL == "" {
		return nil, fmt.Errorf("redirect url is required")
	}
	if len(cfg.StateSecret) < 32 {
		return nil, fmt.Errorf("state secret must be at least 32 bytes, got %d", len(cfg.StateSecret))
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   cfg.AuthorizationURL,
		TokenURL:  cfg.TokenURL,
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if endpoint.AuthURL == "" || endpoint.TokenURL == "" {
		if cfg.Issuer == "" {
			return nil, fmt.Errorf("authorization and token urls are required without an issuer")
		}
		discovered, err := Discover(ctx, cfg.Issuer, client)
		if err != nil {
			return nil, err
		}
		if endpoint.AuthURL == "" {
			endpoint.AuthURL = discovered.AuthURL
		}
		if endpoint.TokenURL == "" {
			endpoint.TokenURL = discovered.TokenURL
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}

	log.LogInfoWithFields("oauth", "Configured identity provider", map[string]any{
		"authorizationUrl": endpoint.AuthURL,
		"tokenUrl":         endpoint.TokenURL,
		"clientId":         cfg.ClientID,
		"timeout":          timeout.String(),
	})

	return &Exchange{
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
		},
		signer:        crypto.NewTokenSigner(cfg.StateSecret, cookie.StateMaxAge),
		client:        client,
		timeout:       timeout,
		retryInterval: retryInterval,
		metrics:       m,
		now:           time.Now,
	}, nil
}

// Discover reads the provider's OpenID configuration
func Discover(ctx context.Context, issuer string, client *http.Client) (oauth2.Endpoint, error) {
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return oauth2.Endpoint{}, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}
	return provider.Endpoint(), nil
}

// AuthCodeURL returns the provider URL for the given state
func (e *Exchange) AuthCodeURL(state string) string {
	return e.oauth2.AuthCodeURL(state)
}

// BeginLogin redirects the browser to the provider's authorization endpoint
func (e *Exchange) BeginLogin(w http.ResponseWriter, r *http.Request) {
	nonce, err := crypto.GenerateSecureToken()
	if err != nil {
		log.LogError("Failed to generate login nonce: %v", err)
		jsonwriter.WriteInternalServerError(w, "failed to start login")
		return
	}
	state, err := e.signer.Sign(stateClaims{Nonce: nonce})
	if err != nil {
		log.LogError("Failed to sign login state: %v", err)
		jsonwriter.WriteInternalServerError(w, "failed to start login")
		return
	}

	cookie.SetState(w, nonce)
	log.LogDebugWithFields("oauth", "Redirecting to identity provider", map[string]any{
		"remote_addr": r.RemoteAddr,
	})
	Redirect(w, e.AuthCodeURL(state))
}

// CompleteLogin validates the callback and trades the code for a bearer
// token. Every failure is an *ExchangeError.
func (e *Exchange) CompleteLogin(ctx context.Context, code, state, nonceCookie string) (string, error) {
	start := e.now()
	raw, err := e.completeLogin(ctx, code, state, nonceCookie)

	result := "success"
	if err != nil {
		var exErr *ExchangeError
		if errors.As(err, &exErr) {
			result = string(exErr.Kind)
		}
	}
	e.metrics.RecordExchange(result, e.now().Sub(start))
	return raw, err
}

func (e *Exchange) completeLogin(ctx context.Context, code, state, nonceCookie string) (string, error) {
	if code == "" {
		return "", newExchangeError(KindInvalidRequest, "missing authorization code", nil)
	}
	if err := e.verifyState(state, nonceCookie); err != nil {
		return "", err
	}

	tok, err := e.exchangeWithRetry(ctx, code)
	if err != nil {
		return "", err
	}

	if tok.AccessToken == "" {
		return "", newExchangeError(KindMalformed, "empty access token", nil)
	}
	claims, err := token.Decode(tok.AccessToken)
	if err != nil {
		return "", newExchangeError(KindMalformed, "access token is not decodable", err)
	}
	if err := token.Check(claims, nil, e.now()); err != nil {
		return "", newExchangeError(KindMalformed, "access token is not within its validity window", err)
	}

	log.LogInfoWithFields("oauth", "Operator authenticated", map[string]any{
		"subject": claims.Subject,
		"origin":  claims.Origin,
		"expires": claims.ExpiresAt().UTC(),
	})
	return tok.AccessToken, nil
}

func (e *Exchange) verifyState(state, nonceCookie string) error {
	if state == "" {
		return newExchangeError(KindInvalidState, "missing state", nil)
	}
	var claims stateClaims
	if err := e.signer.Verify(state, &claims); err != nil {
		return newExchangeError(KindInvalidState, "state verification failed", err)
	}
	if nonceCookie == "" || subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(nonceCookie)) != 1 {
		return newExchangeError(KindInvalidState, "state is not bound to this browser", nil)
	}
	return nil
}

// exchangeWithRetry calls the token endpoint under a per-attempt timeout.
// Transport failures and provider 5xx responses get one retry; any other
// provider answer is final.
func (e *Exchange) exchangeWithRetry(ctx context.Context, code string) (*oauth2.Token, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = e.retryInterval
	expBackoff.Reset()

	attempt := 0
	operation := func() (*oauth2.Token, error) {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		attemptCtx = context.WithValue(attemptCtx, oauth2.HTTPClient, e.client)

		tok, err := e.oauth2.Exchange(attemptCtx, code)
		if err == nil {
			return tok, nil
		}

		exErr := classify(err)
		log.LogWarnWithFields("oauth", "Token exchange attempt failed", map[string]any{
			"attempt": attempt,
			"kind":    string(exErr.Kind),
			"error":   err.Error(),
		})
		if exErr.Kind != KindNetwork || ctx.Err() != nil {
			return nil, backoff.Permanent(exErr)
		}
		return nil, exErr
	}

	tok, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(maxExchangeTries),
		backoff.WithNotify(func(_ error, d time.Duration) {
			log.LogDebugWithFields("oauth", "Retrying token exchange", map[string]any{
				"after": d.String(),
			})
		}),
	)
	if err != nil {
		var exErr *ExchangeError
		if errors.As(err, &exErr) {
			return nil, exErr
		}
		// context cancelled while waiting to retry
		return nil, newExchangeError(KindNetwork, "token endpoint unavailable", err)
	}
	return tok, nil
}

func classify(err error) *ExchangeError {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
			return newExchangeError(KindNetwork, "token endpoint unavailable", err)
		}
		desc := "token endpoint rejected the code"
		if retrieveErr.ErrorCode != "" {
			desc += ": " + retrieveErr.ErrorCode
		}
		return newExchangeError(KindRejected, desc, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newExchangeError(KindNetwork, "token endpoint unreachable", err)
	}

	return newExchangeError(KindMalformed, "unusable token response", err)
}
