package cookie

import (
	"net/http"
	"time"

	"github.com/dgellow/admin-console/internal/envutil"
	"github.com/dgellow/admin-console/internal/log"
)

// Cookie names used by the console
const (
	SessionCookie = "console_session"
	StateCookie   = "console_oauth_state"
)

// StateMaxAge bounds how long a login round trip through the provider may take.
const StateMaxAge = 10 * time.Minute

// SetSession sets the session cookie. A zero expires produces a browser
// session cookie; otherwise the cookie expires together with the token.
func SetSession(w http.ResponseWriter, value string, expires time.Time) {
	secure := !envutil.IsDev()
	c := &http.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if !expires.IsZero() {
		c.Expires = expires.UTC()
	}
	http.SetCookie(w, c)

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"expires": expires,
		"secure":  secure,
	})
}

// SetState sets the short-lived nonce cookie bound to the OAuth state parameter
func SetState(w http.ResponseWriter, nonce string) {
	http.SetCookie(w, &http.Cookie{
		Name:     StateCookie,
		Value:    nonce,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(StateMaxAge.Seconds()),
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HttpOnly: true,
		Secure:   !envutil.IsDev(),
		MaxAge:   -1,
	})
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter) {
	Clear(w, SessionCookie, "/")
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// ClearState removes the OAuth state nonce cookie
func ClearState(w http.ResponseWriter) {
	Clear(w, StateCookie, "/auth")
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return c.Value, nil
}

// GetSession retrieves the session cookie value
func GetSession(r *http.Request) (string, error) {
	return Get(r, SessionCookie)
}

// GetState retrieves the OAuth state nonce cookie value
func GetState(r *http.Request) (string, error) {
	return Get(r, StateCookie)
}
