// Package gate admits requests that carry a session with a currently valid
// bearer token and sends everything else back to the login entry point.
package gate

import (
	"net/http"
	"time"

	"github.com/dgellow/admin-console/internal/log"
	"github.com/dgellow/admin-console/internal/metrics"
	"github.com/dgellow/admin-console/internal/oauth"
	"github.com/dgellow/admin-console/internal/session"
)

// HealthPath is served without a session
const HealthPath = "/health"

// DefaultExemptPaths are reachable without a session
var DefaultExemptPaths = []string{
	oauth.LoginPath,
	oauth.CallbackPath,
	oauth.LogoutPath,
	HealthPath,
}

// Gate is the request gate middleware
type Gate struct {
	store    session.Store
	metrics  *metrics.Metrics
	now      func() time.Time
	exempt   map[string]bool
	loginURL string
}

// Option configures a Gate
type Option func(*Gate)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithExemptPaths adds paths that bypass the gate
func WithExemptPaths(paths ...string) Option {
	return func(g *Gate) {
		for _, p := range paths {
			g.exempt[p] = true
		}
	}
}

// New creates a Gate over store
func New(store session.Store, m *metrics.Metrics, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		metrics:  m,
		now:      time.Now,
		exempt:   make(map[string]bool, len(DefaultExemptPaths)),
		loginURL: oauth.LoginPath,
	}
	for _, p := range DefaultExemptPaths {
		g.exempt[p] = true
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Middleware wraps next behind the gate
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()

		st, rej := loadSession(ctx, r, g.store)
		if rej != nil {
			g.reject(w, r, st, rej)
			return
		}

		st = decodeToken(st)
		mirrorExpiry(ctx, w, g.store, st)

		if rej := checkExpiry(st, g.now()); rej != nil {
			g.reject(w, r, st, rej)
			return
		}

		g.metrics.RecordGateDecision(metrics.OutcomeAllowed)
		log.LogTraceWithFields("gate", "Request admitted", map[string]any{
			"path":    r.URL.Path,
			"subject": st.claims.Subject,
		})
		ctx = WithIdentity(ctx, Identity{Token: st.token, Claims: st.claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// reject is the single failure path: no identity, no error body, a redirect
// to the login entry point.
func (g *Gate) reject(w http.ResponseWriter, r *http.Request, st state, rej *rejection) {
	g.metrics.RecordGateDecision(rej.outcome)

	fields := rej.fields()
	fields["path"] = r.URL.Path
	if rej.outcome == metrics.OutcomeError {
		log.LogErrorWithFields("gate", "Session lookup failed", fields)
	} else {
		log.LogDebugWithFields("gate", "Request rejected", fields)
	}

	if rej.destroy {
		if err := session.Destroy(r.Context(), w, g.store, st.sessionID); err != nil {
			log.LogErrorWithFields("gate", "Failed to destroy session", map[string]any{
				"error": err.Error(),
			})
		}
		if rej.reason != "" {
			g.metrics.RecordSessionsDestroyed(rej.reason, 1)
		}
	}

	oauth.Redirect(w, g.loginURL)
}
