package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/admin-console/internal/cookie"
	"github.com/dgellow/admin-console/internal/metrics"
	"github.com/dgellow/admin-console/internal/session"
	"github.com/dgellow/admin-console/internal/testutil"
)

type handlerFixture struct {
	provider *testutil.Provider
	exchange *Exchange
	store    *session.MemoryStore
	metrics  *metrics.Metrics
	mux      *http.ServeMux
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	p := testutil.NewProvider(t)
	m := metrics.New(prometheus.NewRegistry())
	ex, err := NewExchange(context.Background(), testConfig(p), m)
	require.NoError(t, err)

	store := session.NewMemoryStore()
	mux := http.NewServeMux()
	NewHandlers(ex, store, m).Register(mux)

	return &handlerFixture{provider: p, exchange: ex, store: store, metrics: m, mux: mux}
}

func (f *handlerFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

// callback builds the browser's return from the provider
func (f *handlerFixture) callback(t *testing.T, code string, cookies ...*http.Cookie) *http.Request {
	t.Helper()
	state, nonce := beginLogin(t, f.exchange)
	q := url.Values{"state": {state}}
	if code != "" {
		q.Set("code", code)
	}
	req := httptest.NewRequest(http.MethodGet, CallbackPath+"?"+q.Encode(), nil)
	req.AddCookie(nonce)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func sessionCookie(id string) *http.Cookie {
	return &http.Cookie{Name: cookie.SessionCookie, Value: id}
}

func seedSession(t *testing.T, store session.Store, raw string, exp time.Time) string {
	t.Helper()
	id, err := session.NewID()
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), session.NewRecord(id, session.Session{Token: raw}, exp)))
	return id
}

func TestLogin_Redirects(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, LoginPath, nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), f.provider.AuthorizationURL())
	assert.Empty(t, rec.Body.String())
	state := findCookie(rec, cookie.StateCookie)
	require.NotNil(t, state)
	assert.Equal(t, "/auth", state.Path)
	assert.True(t, state.HttpOnly)
}

func TestCallback_CreatesSession(t *testing.T) {
	f := newHandlerFixture(t)
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := testutil.OperatorToken(t, "operator-1", exp)
	f.provider.IssueToken(raw)

	rec := f.do(f.callback(t, "auth-code"))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, HomePath, rec.Header().Get("Location"))
	assert.Empty(t, rec.Body.String())

	sc := findCookie(rec, cookie.SessionCookie)
	require.NotNil(t, sc)
	assert.NotEmpty(t, sc.Value)
	assert.True(t, sc.HttpOnly)
	assert.Equal(t, "/", sc.Path)
	assert.Equal(t, exp.Unix(), sc.Expires.Unix(), "cookie expires with the token")

	stored, err := f.store.Load(context.Background(), sc.Value)
	require.NoError(t, err)
	assert.Equal(t, raw, stored.Session().Token)
	assert.Equal(t, exp.Unix(), stored.ExpiresAt.Unix())

	state := findCookie(rec, cookie.StateCookie)
	require.NotNil(t, state)
	assert.Equal(t, -1, state.MaxAge, "state cookie is consumed")
}

func TestCallback_ReplacesExistingSession(t *testing.T) {
	f := newHandlerFixture(t)
	exp := time.Now().Add(time.Hour)
	oldID := seedSession(t, f.store, testutil.OperatorToken(t, "operator-1", exp), exp)

	raw := testutil.OperatorToken(t, "operator-1", exp.Add(time.Hour))
	f.provider.IssueToken(raw)

	rec := f.do(f.callback(t, "auth-code", sessionCookie(oldID)))
	require.Equal(t, http.StatusFound, rec.Code)

	sc := findCookie(rec, cookie.SessionCookie)
	require.NotNil(t, sc)
	assert.NotEqual(t, oldID, sc.Value, "session id is rotated on login")

	_, err := f.store.Load(context.Background(), oldID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, float64(1), promtestutil.ToFloat64(f.metrics.SessionsDestroyed.WithLabelValues(metrics.ReasonReplaced)))
}

func TestCallback_FailureLeavesNoSession(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *handlerFixture) *http.Request
	}{
		{
			name: "provider error parameter",
			prepare: func(t *testing.T, f *handlerFixture) *http.Request {
				req := f.callback(t, "")
				q := req.URL.Query()
				q.Set("error", "access_denied")
				req.URL.RawQuery = q.Encode()
				return req
			},
		},
		{
			name: "missing code",
			prepare: func(t *testing.T, f *handlerFixture) *http.Request {
				return f.callback(t, "")
			},
		},
		{
			name: "missing nonce cookie",
			prepare: func(t *testing.T, f *handlerFixture) *http.Request {
				state, _ := beginLogin(t, f.exchange)
				return httptest.NewRequest(http.MethodGet, CallbackPath+"?code=c&state="+url.QueryEscape(state), nil)
			},
		},
		{
			name: "code rejected",
			prepare: func(t *testing.T, f *handlerFixture) *http.Request {
				f.provider.RespondWith(func(w http.ResponseWriter, r *http.Request) {
					testutil.WriteTokenError(w, http.StatusBadRequest, "invalid_grant")
				})
				return f.callback(t, "auth-code")
			},
		},
		{
			name: "expired token issued",
			prepare: func(t *testing.T, f *handlerFixture) *http.Request {
				f.provider.IssueToken(testutil.OperatorToken(t, "operator-1", time.Now().Add(-time.Minute)))
				return f.callback(t, "auth-code")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)
			exp := time.Now().Add(time.Hour)
			staleID := seedSession(t, f.store, testutil.OperatorToken(t, "operator-1", exp), exp)

			req := tt.prepare(t, f)
			req.AddCookie(sessionCookie(staleID))
			rec := f.do(req)

			require.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, LoginPath, rec.Header().Get("Location"))
			assert.Empty(t, rec.Body.String(), "failed logins redirect without a body")

			sc := findCookie(rec, cookie.SessionCookie)
			require.NotNil(t, sc)
			assert.Equal(t, -1, sc.MaxAge, "session cookie is cleared")
			assert.Equal(t, 0, f.store.Len(), "no session survives a failed login")
			assert.Equal(t, float64(1), promtestutil.ToFloat64(f.metrics.SessionsDestroyed.WithLabelValues(metrics.ReasonRejected)))
		})
	}
}

func TestCallback_StoreFailure(t *testing.T) {
	p := testutil.NewProvider(t)
	p.IssueToken(testutil.OperatorToken(t, "operator-1", time.Now().Add(time.Hour)))
	ex, err := NewExchange(context.Background(), testConfig(p), nil)
	require.NoError(t, err)

	store := &testutil.MockStore{}
	store.On("Save", mock.Anything, mock.AnythingOfType("session.Record")).Return(errors.New("store down"))

	mux := http.NewServeMux()
	NewHandlers(ex, store, nil).Register(mux)

	state, nonce := beginLogin(t, ex)
	req := httptest.NewRequest(http.MethodGet, CallbackPath+"?code=c&state="+url.QueryEscape(state), nil)
	req.AddCookie(nonce)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))
	sc := findCookie(rec, cookie.SessionCookie)
	require.NotNil(t, sc)
	assert.Equal(t, -1, sc.MaxAge)
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestLogout(t *testing.T) {
	f := newHandlerFixture(t)
	exp := time.Now().Add(time.Hour)
	id := seedSession(t, f.store, testutil.OperatorToken(t, "operator-1", exp), exp)

	for i := range 2 {
		req := httptest.NewRequest(http.MethodGet, LogoutPath, nil)
		req.AddCookie(sessionCookie(id))
		rec := f.do(req)

		require.Equal(t, http.StatusFound, rec.Code, "call %d", i)
		assert.Equal(t, HomePath, rec.Header().Get("Location"))
		sc := findCookie(rec, cookie.SessionCookie)
		require.NotNil(t, sc)
		assert.Equal(t, -1, sc.MaxAge)
		assert.Equal(t, 0, f.store.Len())
	}
}

func TestLogout_WithoutSession(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, LogoutPath, nil))

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, HomePath, rec.Header().Get("Location"))
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, float64(0), promtestutil.ToFloat64(f.metrics.SessionsDestroyed.WithLabelValues(metrics.ReasonLogout)))
}

func TestHandlers_MethodNotAllowed(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodPost, LoginPath, nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRedirect_HasNoBody(t *testing.T) {
	rec := httptest.NewRecorder()

	Redirect(rec, LoginPath)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, LoginPath, rec.Header().Get("Location"))
	assert.Empty(t, rec.Header().Get("Content-Type"))
	assert.Zero(t, rec.Body.Len())
}

func TestHandlers_MalformedSessionCookieSkipsStore(t *testing.T) {
	p := testutil.NewProvider(t)
	p.IssueToken(testutil.OperatorToken(t, "operator-1", time.Now().Add(time.Hour)))
	ex, err := NewExchange(context.Background(), testConfig(p), nil)
	require.NoError(t, err)

	store := &testutil.MockStore{}
	store.On("Save", mock.Anything, mock.AnythingOfType("session.Record")).Return(nil)
	mux := http.NewServeMux()
	NewHandlers(ex, store, nil).Register(mux)
	forged := sessionCookie("projects/other/documents/x")

	t.Run("logout", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, LogoutPath, nil)
		req.AddCookie(forged)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		sc := findCookie(rec, cookie.SessionCookie)
		require.NotNil(t, sc)
		assert.Equal(t, -1, sc.MaxAge)
	})

	t.Run("callback", func(t *testing.T) {
		state, nonce := beginLogin(t, ex)
		req := httptest.NewRequest(http.MethodGet, CallbackPath+"?code=c&state="+url.QueryEscape(state), nil)
		req.AddCookie(nonce)
		req.AddCookie(forged)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, HomePath, rec.Header().Get("Location"))
	})

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}
