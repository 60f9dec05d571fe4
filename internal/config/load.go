package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/admin-console/internal/log"
)

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse processes raw config bytes the same way Load does
func Parse(data []byte) (Config, error) {
	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, ConfigVersion) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig rejects plain-text secrets before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	auth, _ := rawConfig["auth"].(map[string]any)
	for _, name := range []string{"clientSecret", "stateSecret"} {
		if err := requireEnvRef(auth, name, "auth"); err != nil {
			return err
		}
	}

	sessionCfg, _ := rawConfig["session"].(map[string]any)
	if _, exists := sessionCfg["encryptionKey"]; exists {
		if err := requireEnvRef(sessionCfg, "encryptionKey", "session"); err != nil {
			return err
		}
	}
	if redis, ok := sessionCfg["redis"].(map[string]any); ok {
		if _, exists := redis["password"]; exists {
			if err := requireEnvRef(redis, "password", "session.redis"); err != nil {
				return err
			}
		}
	}
	return nil
}

func requireEnvRef(section map[string]any, name, prefix string) error {
	value, exists := section[name]
	if !exists {
		return nil
	}
	if _, isString := value.(string); isString {
		return fmt.Errorf("%s.%s must use environment variable reference for security", prefix, name)
	}
	if refMap, isMap := value.(map[string]any); isMap {
		if _, hasEnv := refMap["$env"]; !hasEnv {
			return fmt.Errorf("%s.%s must use {\"$env\": \"VAR_NAME\"} format", prefix, name)
		}
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if config.Server.MetricsAddr != "" && config.Server.MetricsAddr == config.Server.Addr {
		return fmt.Errorf("server.metricsAddr must differ from server.addr")
	}
	if config.Server.APIUpstream != "" {
		u, err := url.Parse(config.Server.APIUpstream)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("server.apiUpstream must be an absolute URL")
		}
	}

	if err := validateAuthConfig(&config.Auth); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}
	if err := validateSessionConfig(&config.Session); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	return nil
}

func validateAuthConfig(auth *AuthConfig) error {
	if auth.Issuer == "" && (auth.AuthorizationURL == "" || auth.TokenURL == "") {
		return fmt.Errorf("either issuer or both authorizationUrl and tokenUrl are required")
	}
	if auth.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if auth.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	if auth.RedirectURI == "" {
		return fmt.Errorf("redirectUri is required")
	}
	if len(auth.StateSecret) < 32 {
		return fmt.Errorf("stateSecret must be at least 32 characters (got %d). Generate with: openssl rand -base64 32", len(auth.StateSecret))
	}
	if auth.ExchangeTimeout < 0 {
		return fmt.Errorf("exchangeTimeout cannot be negative")
	}
	return nil
}

func validateSessionConfig(s *SessionConfig) error {
	if s.CleanupInterval < 0 {
		return fmt.Errorf("cleanupInterval cannot be negative")
	}

	switch s.Store {
	case StoreMemory:
		if s.EncryptionKey != "" {
			log.LogWarn("session.encryptionKey is ignored by the memory store")
		}
		return nil
	case StoreRedis:
		if s.Redis == nil || s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when using redis storage")
		}
	case StoreFirestore:
		if s.Firestore == nil || s.Firestore.Project == "" {
			return fmt.Errorf("firestore.project is required when using firestore storage")
		}
	default:
		return fmt.Errorf("unknown store %q (memory, redis or firestore)", s.Store)
	}

	if len(s.EncryptionKey) != 32 {
		return fmt.Errorf("encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(s.EncryptionKey))
	}
	return nil
}
