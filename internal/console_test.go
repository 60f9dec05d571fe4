package internal

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgellow/admin-console/internal/config"
	"github.com/dgellow/admin-console/internal/cookie"
	"github.com/dgellow/admin-console/internal/oauth"
	"github.com/dgellow/admin-console/internal/server"
	"github.com/dgellow/admin-console/internal/testutil"
)

func testConsoleConfig(p *testutil.Provider) config.Config {
	return config.Config{
		Version: config.ConfigVersion,
		Server: config.ServerConfig{
			Addr:    "127.0.0.1:0",
			BaseURL: "http://console.test",
		},
		Auth: config.AuthConfig{
			AuthorizationURL: p.AuthorizationURL(),
			TokenURL:         p.TokenURL(),
			ClientID:         "console",
			ClientSecret:     config.Secret("console-secret"),
			RedirectURI:      "http://console.test" + oauth.CallbackPath,
			Scopes:           []string{"openid"},
			StateSecret:      config.Secret(strings.Repeat("s", 32)),
			ExchangeTimeout:  time.Second,
		},
		Session: config.SessionConfig{
			Store:           config.StoreMemory,
			CleanupInterval: time.Minute,
		},
	}
}

// browser replays the console's cookies the way a user agent would
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, h http.Handler) *browser {
	return &browser{t: t, handler: h, cookies: map[string]*http.Cookie{}}
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	b.t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return rec
}

// login walks through /auth/login, the provider and the callback
func (b *browser) login() *httptest.ResponseRecorder {
	b.t.Helper()
	rec := b.get(oauth.LoginPath)
	require.Equal(b.t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(b.t, err)
	q := url.Values{"code": {"auth-code"}, "state": {loc.Query().Get("state")}}
	return b.get(oauth.CallbackPath + "?" + q.Encode())
}

func newTestConsole(t *testing.T, cfg config.Config) *Console {
	t.Helper()
	c, err := NewConsole(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(c.close)
	return c
}

func TestConsole_LoginLifecycle(t *testing.T) {
	p := testutil.NewProvider(t)
	raw := testutil.OperatorToken(t, "operator-1", time.Now().Add(24*time.Hour))
	p.IssueToken(raw)

	c := newTestConsole(t, testConsoleConfig(p))
	b := newBrowser(t, c.Handler())

	// unauthenticated
	rec := b.get("/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.LoginPath, rec.Header().Get("Location"))

	// login
	rec = b.login()
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.HomePath, rec.Header().Get("Location"))
	require.Contains(t, b.cookies, cookie.SessionCookie)

	// authenticated
	rec = b.get("/")
	require.Equal(t, http.StatusOK, rec.Code)
	var who server.Whoami
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &who))
	assert.Equal(t, "operator-1", who.Subject)
	assert.NotEmpty(t, rec.Header().Get(server.RequestIDHeader))

	// logout, then back to unauthenticated
	oldSession := b.cookies[cookie.SessionCookie]
	rec = b.get(oauth.LogoutPath)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.HomePath, rec.Header().Get("Location"))
	assert.NotContains(t, b.cookies, cookie.SessionCookie)

	rec = b.get("/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.LoginPath, rec.Header().Get("Location"))

	// a replayed cookie from before logout is not accepted
	b.cookies[cookie.SessionCookie] = oldSession
	rec = b.get("/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.LoginPath, rec.Header().Get("Location"))
}

func TestConsole_ExchangeNetworkFailure(t *testing.T) {
	p := testutil.NewProvider(t)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	cfg := testConsoleConfig(p)
	cfg.Auth.TokenURL = deadURL + "/token"
	c := newTestConsole(t, cfg)
	b := newBrowser(t, c.Handler())

	var rec *httptest.ResponseRecorder
	require.NotPanics(t, func() { rec = b.login() })
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.LoginPath, rec.Header().Get("Location"))
	assert.NotContains(t, b.cookies, cookie.SessionCookie)

	rec = b.get("/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.LoginPath, rec.Header().Get("Location"))
}

func TestConsole_ExemptRoutes(t *testing.T) {
	c := newTestConsole(t, testConsoleConfig(testutil.NewProvider(t)))
	b := newBrowser(t, c.Handler())

	rec := b.get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = b.get(oauth.LogoutPath)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.HomePath, rec.Header().Get("Location"))
}

func TestConsole_APIProxy(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	defer upstream.Close()

	p := testutil.NewProvider(t)
	raw := testutil.OperatorToken(t, "operator-1", time.Now().Add(time.Hour))
	p.IssueToken(raw)

	cfg := testConsoleConfig(p)
	cfg.Server.APIUpstream = upstream.URL
	c := newTestConsole(t, cfg)
	b := newBrowser(t, c.Handler())

	// unauthenticated API calls never reach the upstream
	rec := b.get("/api/statements")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Empty(t, gotAuth)

	b.login()
	rec = b.get("/api/statements")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"path":"/statements"}`, rec.Body.String())
	assert.Equal(t, "Bearer "+raw, gotAuth)
}

func TestConsole_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	p := testutil.NewProvider(t)
	exp := time.Now().Add(time.Hour)
	p.IssueToken(testutil.OperatorToken(t, "operator-1", exp))

	cfg := testConsoleConfig(p)
	cfg.Session = config.SessionConfig{
		Store:         config.StoreRedis,
		EncryptionKey: config.Secret(strings.Repeat("k", 32)),
		Redis: &config.RedisConfig{
			Addr:      mr.Addr(),
			KeyPrefix: config.DefaultRedisKeyPrefix,
		},
	}
	c := newTestConsole(t, cfg)
	assert.Nil(t, c.cleanup, "redis expires keys itself")

	b := newBrowser(t, c.Handler())
	b.login()
	sid := b.cookies[cookie.SessionCookie].Value

	key := config.DefaultRedisKeyPrefix + sid
	require.True(t, mr.Exists(key))
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	rec := b.get("/")
	assert.Equal(t, http.StatusOK, rec.Code)

	// once redis expires the key the session is gone
	mr.FastForward(2 * time.Hour)
	rec = b.get("/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, oauth.LoginPath, rec.Header().Get("Location"))
}

func TestNewConsole_Errors(t *testing.T) {
	p := testutil.NewProvider(t)

	t.Run("redis unreachable", func(t *testing.T) {
		cfg := testConsoleConfig(p)
		cfg.Session = config.SessionConfig{
			Store:         config.StoreRedis,
			EncryptionKey: config.Secret(strings.Repeat("k", 32)),
			Redis:         &config.RedisConfig{Addr: "127.0.0.1:1"},
		}
		_, err := NewConsole(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connecting to redis")
	})

	t.Run("bad encryption key", func(t *testing.T) {
		cfg := testConsoleConfig(p)
		cfg.Session = config.SessionConfig{
			Store:         config.StoreRedis,
			EncryptionKey: config.Secret("short"),
			Redis:         &config.RedisConfig{Addr: "127.0.0.1:1"},
		}
		_, err := NewConsole(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session encryption key")
	})

	t.Run("unknown store", func(t *testing.T) {
		cfg := testConsoleConfig(p)
		cfg.Session.Store = "etcd"
		_, err := NewConsole(context.Background(), cfg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown session store")
	})

	t.Run("bad api upstream", func(t *testing.T) {
		cfg := testConsoleConfig(p)
		cfg.Server.APIUpstream = "api.internal"
		_, err := NewConsole(context.Background(), cfg)
		require.Error(t, err)
	})
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestConsole_Run(t *testing.T) {
	cfg := testConsoleConfig(testutil.NewProvider(t))
	cfg.Server.Addr = freeAddr(t)
	cfg.Server.MetricsAddr = freeAddr(t)
	c := newTestConsole(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.Addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + cfg.Server.MetricsAddr + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "console_http_requests_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("console did not shut down")
	}
}
