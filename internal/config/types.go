package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ConfigVersion is the only supported config version prefix
const ConfigVersion = "v0.0.1-DEV_EDITION"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// StoreKind selects the session backend
type StoreKind string

const (
	StoreMemory    StoreKind = "memory"
	StoreRedis     StoreKind = "redis"
	StoreFirestore StoreKind = "firestore"
)

// Defaults applied after parsing
const (
	DefaultExchangeTimeout     = 10 * time.Second
	DefaultCleanupInterval     = time.Minute
	DefaultRedisKeyPrefix      = "console:session:"
	DefaultFirestoreDatabase   = "(default)"
	DefaultFirestoreCollection = "console_sessions"
)

// ServerConfig configures the HTTP listeners
type ServerConfig struct {
	Addr        string `json:"addr"`
	BaseURL     string `json:"baseURL"`
	MetricsAddr string `json:"metricsAddr,omitempty"`
	APIUpstream string `json:"apiUpstream,omitempty"`
}

// AuthConfig configures the OAuth2 client against the identity provider.
//
// Secrets are given as {"$env": "VAR_NAME"} references and resolved when the
// config is loaded.
type AuthConfig struct {
	Issuer           string        `json:"issuer,omitempty"`
	AuthorizationURL string        `json:"authorizationUrl,omitempty"`
	TokenURL         string        `json:"tokenUrl,omitempty"`
	ClientID         string        `json:"clientId"`
	ClientSecret     Secret        `json:"clientSecret"`
	RedirectURI      string        `json:"redirectUri"`
	Scopes           []string      `json:"scopes,omitempty"`
	StateSecret      Secret        `json:"stateSecret"`
	ExchangeTimeout  time.Duration `json:"exchangeTimeout,omitempty"`
}

// RedisConfig configures the redis session backend
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  Secret `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"keyPrefix,omitempty"`
}

// FirestoreConfig configures the firestore session backend
type FirestoreConfig struct {
	Project    string `json:"project"`
	Database   string `json:"database,omitempty"`
	Collection string `json:"collection,omitempty"`
}

// SessionConfig configures session storage
type SessionConfig struct {
	Store           StoreKind        `json:"store"`
	EncryptionKey   Secret           `json:"encryptionKey,omitempty"`
	CleanupInterval time.Duration    `json:"cleanupInterval,omitempty"`
	Redis           *RedisConfig     `json:"redis,omitempty"`
	Firestore       *FirestoreConfig `json:"firestore,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version string        `json:"version"`
	Server  ServerConfig  `json:"server"`
	Auth    AuthConfig    `json:"auth"`
	Session SessionConfig `json:"session"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference, resolving the reference immediately.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

func parseDuration(s, field string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", field, err)
	}
	return d, nil
}
