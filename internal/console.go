package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dgellow/admin-console/internal/config"
	"github.com/dgellow/admin-console/internal/crypto"
	"github.com/dgellow/admin-console/internal/gate"
	"github.com/dgellow/admin-console/internal/log"
	"github.com/dgellow/admin-console/internal/metrics"
	"github.com/dgellow/admin-console/internal/oauth"
	"github.com/dgellow/admin-console/internal/server"
	"github.com/dgellow/admin-console/internal/session"
)

const (
	shutdownTimeout  = 30 * time.Second
	redisPingTimeout = 5 * time.Second
)

// Console is the complete admin console application
type Console struct {
	config        config.Config
	handler       http.Handler
	httpServer    *server.HTTPServer
	metricsServer *server.HTTPServer
	store         session.Store
	cleanup       *session.CleanupManager
	closers       []io.Closer
}

// NewConsole builds the application and connects to the session backend
func NewConsole(ctx context.Context, cfg config.Config) (*Console, error) {
	log.LogInfoWithFields("console", "Building admin console", map[string]any{
		"baseURL": cfg.Server.BaseURL,
		"store":   string(cfg.Session.Store),
	})

	m := metrics.New(nil)

	c := &Console{config: cfg}

	store, err := c.setupStore(ctx, cfg.Session)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to setup session store: %w", err)
	}
	c.store = store

	if cleaner, ok := store.(session.Cleaner); ok {
		c.cleanup = session.NewCleanupManager(cleaner, cfg.Session.CleanupInterval, func(count int) {
			m.RecordSessionsDestroyed(metrics.ReasonSwept, count)
		})
	}

	exchange, err := oauth.NewExchange(ctx, oauth.Config{
		Issuer:           cfg.Auth.Issuer,
		AuthorizationURL: cfg.Auth.AuthorizationURL,
		TokenURL:         cfg.Auth.TokenURL,
		ClientID:         cfg.Auth.ClientID,
		ClientSecret:     string(cfg.Auth.ClientSecret),
		RedirectURL:      cfg.Auth.RedirectURI,
		Scopes:           cfg.Auth.Scopes,
		StateSecret:      []byte(cfg.Auth.StateSecret),
		Timeout:          cfg.Auth.ExchangeTimeout,
	}, m)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to setup oauth exchange: %w", err)
	}

	handler, err := buildHTTPHandler(cfg, exchange, store, m)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to build HTTP handler: %w", err)
	}
	c.handler = handler
	c.httpServer = server.NewHTTPServer("console", handler, cfg.Server.Addr)

	if cfg.Server.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", m.Handler())
		c.metricsServer = server.NewHTTPServer("metrics", metricsMux, cfg.Server.MetricsAddr)
	}

	return c, nil
}

// Handler returns the console's root HTTP handler
func (c *Console) Handler() http.Handler {
	return c.handler
}

// Run serves until ctx is cancelled, SIGINT or SIGTERM is received, or a
// component fails. It then shuts everything down gracefully.
func (c *Console) Run(ctx context.Context) error {
	log.LogInfoWithFields("console", "Starting admin console", map[string]any{
		"addr":        c.config.Server.Addr,
		"metricsAddr": c.config.Server.MetricsAddr,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := c.httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	if c.metricsServer != nil {
		g.Go(func() error {
			if err := c.metricsServer.Start(); err != nil {
				return fmt.Errorf("metrics server error: %w", err)
			}
			return nil
		})
	}
	if c.cleanup != nil {
		g.Go(func() error {
			return c.cleanup.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.LogInfoWithFields("console", "Starting graceful shutdown", map[string]any{
			"timeout": shutdownTimeout.String(),
		})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := c.httpServer.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
		if c.metricsServer != nil {
			if err := c.metricsServer.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	c.close()
	if err != nil {
		log.LogErrorWithFields("console", "Shutdown after error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	log.LogInfoWithFields("console", "Application shutdown complete", nil)
	return nil
}

func (c *Console) close() {
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			log.LogWarnWithFields("console", "Failed to close resource", map[string]any{
				"error": err.Error(),
			})
		}
	}
	c.closers = nil
}

// setupStore creates the session store selected by configuration
func (c *Console) setupStore(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	switch cfg.Store {
	case config.StoreMemory, "":
		log.LogWarnWithFields("console", "Using in-memory session store; sessions are lost on restart", nil)
		return session.NewMemoryStore(), nil

	case config.StoreRedis:
		encryptor, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("session encryption key: %w", err)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: string(cfg.Redis.Password),
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, client)

		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.LogInfoWithFields("console", "Connected to redis session store", map[string]any{
			"addr":   cfg.Redis.Addr,
			"db":     cfg.Redis.DB,
			"prefix": cfg.Redis.KeyPrefix,
		})
		return session.NewRedisStore(client, cfg.Redis.KeyPrefix, encryptor)

	case config.StoreFirestore:
		encryptor, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
		if err != nil {
			return nil, fmt.Errorf("session encryption key: %w", err)
		}
		store, err := session.NewFirestoreStore(ctx, cfg.Firestore.Project, cfg.Firestore.Database, cfg.Firestore.Collection, encryptor)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Store)
	}
}

// buildHTTPHandler wires the routes behind the request gate
func buildHTTPHandler(cfg config.Config, exchange *oauth.Exchange, store session.Store, m *metrics.Metrics) (http.Handler, error) {
	mux := http.NewServeMux()

	oauth.NewHandlers(exchange, store, m).Register(mux)
	mux.Handle("GET "+gate.HealthPath, server.NewHealthHandler())
	mux.HandleFunc("GET /{$}", server.WhoamiHandler)

	if cfg.Server.APIUpstream != "" {
		proxy, err := server.NewAPIProxy(cfg.Server.APIUpstream, nil)
		if err != nil {
			return nil, err
		}
		mux.Handle(server.APIPrefix, proxy)
		log.LogInfoWithFields("console", "Forwarding API calls", map[string]any{
			"prefix":   server.APIPrefix,
			"upstream": cfg.Server.APIUpstream,
		})
	}

	g := gate.New(store, m)
	return server.ChainMiddleware(mux,
		g.Middleware,
		server.NewLoggerMiddleware("http", m),
		server.NewRecoverMiddleware("console"),
		server.NewRequestIDMiddleware(),
	), nil
}
