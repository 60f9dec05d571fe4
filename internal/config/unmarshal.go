package config

import (
	"encoding/json"
	"fmt"
)

// UnmarshalJSON resolves env references and durations for AuthConfig
func (a *AuthConfig) UnmarshalJSON(data []byte) error {
	type rawAuth struct {
		Issuer           json.RawMessage `json:"issuer"`
		AuthorizationURL string          `json:"authorizationUrl"`
		TokenURL         string          `json:"tokenUrl"`
		ClientID         json.RawMessage `json:"clientId"`
		ClientSecret     json.RawMessage `json:"clientSecret"`
		RedirectURI      json.RawMessage `json:"redirectUri"`
		Scopes           []string        `json:"scopes"`
		StateSecret      json.RawMessage `json:"stateSecret"`
		ExchangeTimeout  string          `json:"exchangeTimeout"`
	}

	var raw rawAuth
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	a.AuthorizationURL = raw.AuthorizationURL
	a.TokenURL = raw.TokenURL
	a.Scopes = raw.Scopes

	timeout, err := parseDuration(raw.ExchangeTimeout, "exchangeTimeout")
	if err != nil {
		return err
	}
	a.ExchangeTimeout = timeout

	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"issuer", raw.Issuer, &a.Issuer},
		{"clientId", raw.ClientID, &a.ClientID},
		{"redirectUri", raw.RedirectURI, &a.RedirectURI},
	}
	for _, f := range fields {
		if f.raw == nil {
			continue
		}
		value, err := ParseConfigValue(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s: %w", f.name, err)
		}
		*f.dst = value
	}

	if raw.ClientSecret != nil {
		value, err := ParseConfigValue(raw.ClientSecret)
		if err != nil {
			return fmt.Errorf("parsing clientSecret: %w", err)
		}
		a.ClientSecret = Secret(value)
	}
	if raw.StateSecret != nil {
		value, err := ParseConfigValue(raw.StateSecret)
		if err != nil {
			return fmt.Errorf("parsing stateSecret: %w", err)
		}
		a.StateSecret = Secret(value)
	}

	return nil
}

// UnmarshalJSON resolves the encryption key and cleanup interval
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	type rawSession struct {
		Store           StoreKind        `json:"store"`
		EncryptionKey   json.RawMessage  `json:"encryptionKey"`
		CleanupInterval string           `json:"cleanupInterval"`
		Redis           *RedisConfig     `json:"redis"`
		Firestore       *FirestoreConfig `json:"firestore"`
	}

	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Store = raw.Store
	s.Redis = raw.Redis
	s.Firestore = raw.Firestore

	interval, err := parseDuration(raw.CleanupInterval, "cleanupInterval")
	if err != nil {
		return err
	}
	s.CleanupInterval = interval

	if raw.EncryptionKey != nil {
		value, err := ParseConfigValue(raw.EncryptionKey)
		if err != nil {
			return fmt.Errorf("parsing encryptionKey: %w", err)
		}
		s.EncryptionKey = Secret(value)
	}
	return nil
}

// UnmarshalJSON resolves the redis password reference
func (r *RedisConfig) UnmarshalJSON(data []byte) error {
	type rawRedis struct {
		Addr      json.RawMessage `json:"addr"`
		Password  json.RawMessage `json:"password"`
		DB        int             `json:"db"`
		KeyPrefix string          `json:"keyPrefix"`
	}

	var raw rawRedis
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	r.DB = raw.DB
	r.KeyPrefix = raw.KeyPrefix

	if raw.Addr != nil {
		value, err := ParseConfigValue(raw.Addr)
		if err != nil {
			return fmt.Errorf("parsing redis.addr: %w", err)
		}
		r.Addr = value
	}
	if raw.Password != nil {
		value, err := ParseConfigValue(raw.Password)
		if err != nil {
			return fmt.Errorf("parsing redis.password: %w", err)
		}
		r.Password = Secret(value)
	}
	return nil
}

// applyDefaults fills the optional fields left empty by the config file
func applyDefaults(cfg *Config) {
	if cfg.Auth.ExchangeTimeout == 0 {
		cfg.Auth.ExchangeTimeout = DefaultExchangeTimeout
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = StoreMemory
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = DefaultCleanupInterval
	}
	if r := cfg.Session.Redis; r != nil && r.KeyPrefix == "" {
		r.KeyPrefix = DefaultRedisKeyPrefix
	}
	if f := cfg.Session.Firestore; f != nil {
		if f.Database == "" {
			f.Database = DefaultFirestoreDatabase
		}
		if f.Collection == "" {
			f.Collection = DefaultFirestoreCollection
		}
	}
}
