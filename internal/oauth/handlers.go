package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/dgellow/admin-console/internal/cookie"
	"github.com/dgellow/admin-console/internal/log"
	"github.com/dgellow/admin-console/internal/metrics"
	"github.com/dgellow/admin-console/internal/session"
	"github.com/dgellow/admin-console/internal/token"
)

// Routes served by Handlers. They are exempt from the request gate.
const (
	LoginPath    = "/auth/login"
	CallbackPath = "/auth/login/callback"
	LogoutPath   = "/auth/logout"
)

// HomePath is where the browser lands after login and logout
const HomePath = "/"

// Exchanger is the part of Exchange used by the HTTP handlers
type Exchanger interface {
	BeginLogin(w http.ResponseWriter, r *http.Request)
	CompleteLogin(ctx context.Context, code, state, nonceCookie string) (string, error)
}

// Handlers serves the login, callback and logout endpoints
type Handlers struct {
	exchange Exchanger
	store    session.Store
	metrics  *metrics.Metrics
}

// NewHandlers creates the /auth handlers
func NewHandlers(exchange Exchanger, store session.Store, m *metrics.Metrics) *Handlers {
	return &Handlers{
		exchange: exchange,
		store:    store,
		metrics:  m,
	}
}

// Register mounts the handlers on mux
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+LoginPath, h.Login)
	mux.HandleFunc("GET "+CallbackPath, h.Callback)
	mux.HandleFunc("GET "+LogoutPath, h.Logout)
}

// Login starts the authorization-code flow
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	h.exchange.BeginLogin(w, r)
}

// Callback completes the flow. On success a new session replaces any
// existing one; on failure no session survives and the browser is sent back
// to the login endpoint.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	previousID, _ := cookie.GetSession(r)
	if !session.ValidID(previousID) {
		previousID = ""
	}
	nonce, _ := cookie.GetState(r)
	cookie.ClearState(w)

	raw, err := h.complete(ctx, q.Get("code"), q.Get("state"), nonce, q)
	if err != nil {
		h.fail(w, r, previousID, err)
		return
	}

	// The exchange only returns tokens that decode and carry exp.
	claims, err := token.Decode(raw)
	if err != nil {
		h.fail(w, r, previousID, newExchangeError(KindMalformed, "access token is not decodable", err))
		return
	}

	id, err := session.NewID()
	if err != nil {
		h.fail(w, r, previousID, err)
		return
	}
	if err := h.store.Save(ctx, session.NewRecord(id, session.Session{Token: raw}, claims.ExpiresAt())); err != nil {
		h.fail(w, r, previousID, err)
		return
	}

	if previousID != "" {
		if err := h.store.Delete(ctx, previousID); err != nil {
			log.LogWarnWithFields("oauth", "Failed to delete replaced session", map[string]any{
				"error": err.Error(),
			})
		}
		h.metrics.RecordSessionsDestroyed(metrics.ReasonReplaced, 1)
	}

	cookie.SetSession(w, id, claims.ExpiresAt())
	Redirect(w, HomePath)
}

func (h *Handlers) complete(ctx context.Context, code, state, nonce string, q url.Values) (string, error) {
	if cbErr := CallbackError(q); cbErr != nil {
		return "", cbErr
	}
	return h.exchange.CompleteLogin(ctx, code, state, nonce)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, previousID string, err error) {
	fields := map[string]any{"error": err.Error()}
	var exErr *ExchangeError
	if errors.As(err, &exErr) {
		fields["kind"] = string(exErr.Kind)
	}
	log.LogWarnWithFields("oauth", "Login failed", fields)

	if err := session.Destroy(r.Context(), w, h.store, previousID); err != nil {
		log.LogErrorWithFields("oauth", "Failed to delete stale session", map[string]any{
			"error": err.Error(),
		})
	}
	if previousID != "" {
		h.metrics.RecordSessionsDestroyed(metrics.ReasonRejected, 1)
	}
	Redirect(w, LoginPath)
}

// Logout destroys the session, if any, and returns to the home page.
// Calling it without a session is not an error.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := cookie.GetSession(r)
	if !session.ValidID(id) {
		id = ""
	}
	if err := session.Destroy(r.Context(), w, h.store, id); err != nil {
		log.LogErrorWithFields("oauth", "Failed to delete session on logout", map[string]any{
			"error": err.Error(),
		})
	}
	if id != "" {
		h.metrics.RecordSessionsDestroyed(metrics.ReasonLogout, 1)
		log.LogInfoWithFields("oauth", "Operator logged out", nil)
	}
	Redirect(w, HomePath)
}

// Redirect sends a 302 to location with no body.
func Redirect(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}
