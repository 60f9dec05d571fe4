package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
)

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ValidateBytes(data), nil
}

// ValidateBytes validates raw config bytes without resolving env vars
func ValidateBytes(data []byte) *ValidationResult {
	result := &ValidationResult{}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": \"%s\"", ConfigVersion)
	} else if !strings.HasPrefix(version, ConfigVersion) {
		result.addError("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, ConfigVersion, ConfigVersion)
	}

	validateServerStructure(rawConfig, result)
	validateAuthStructure(rawConfig, result)
	validateSessionStructure(rawConfig, result)

	return result
}

func validateServerStructure(rawConfig map[string]any, result *ValidationResult) {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		result.addError("server", "server field is required and must be an object")
		return
	}

	if _, ok := server["baseURL"]; !ok {
		result.addError("server.baseURL", "baseURL is required. Example: \"https://console.example.com\"")
	}
	if _, ok := server["addr"]; !ok {
		result.addError("server.addr", "addr is required. Example: \":8080\" or \"0.0.0.0:8080\"")
	}
	if upstream, ok := server["apiUpstream"].(string); ok {
		if u, err := url.Parse(upstream); err != nil || u.Scheme == "" || u.Host == "" {
			result.addError("server.apiUpstream", "apiUpstream must be an absolute URL, got '%s'", upstream)
		}
	}
}

func validateAuthStructure(rawConfig map[string]any, result *ValidationResult) {
	auth, ok := rawConfig["auth"].(map[string]any)
	if !ok {
		result.addError("auth", "auth field is required and must be an object")
		return
	}

	_, hasIssuer := auth["issuer"]
	_, hasAuthzURL := auth["authorizationUrl"]
	_, hasTokenURL := auth["tokenUrl"]
	if !hasIssuer && !(hasAuthzURL && hasTokenURL) {
		result.addError("auth", "either issuer (OIDC discovery) or both authorizationUrl and tokenUrl are required")
	}

	for _, name := range []string{"clientId", "redirectUri"} {
		if _, ok := auth[name]; !ok {
			result.addError("auth."+name, "%s is required", name)
		}
	}

	secrets := []struct {
		name string
		hint string
	}{
		{"clientSecret", ""},
		{"stateSecret", "Hint: Must be at least 32 bytes long for HMAC-SHA256"},
	}
	for _, secret := range secrets {
		value, ok := auth[secret.name]
		if !ok {
			msg := fmt.Sprintf("%s is required", secret.name)
			if secret.hint != "" {
				msg += ". " + secret.hint
			}
			result.addError("auth."+secret.name, "%s", msg)
			continue
		}
		if err := validateEnvVarReference(value, secret.name, "auth."+secret.name); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}

	if timeout, ok := auth["exchangeTimeout"].(string); ok {
		if _, err := time.ParseDuration(timeout); err != nil {
			result.addError("auth.exchangeTimeout", "invalid duration '%s'. Example: \"10s\"", timeout)
		}
	}
}

func validateSessionStructure(rawConfig map[string]any, result *ValidationResult) {
	sessionCfg, ok := rawConfig["session"].(map[string]any)
	if !ok {
		// memory store with defaults
		return
	}

	store, _ := sessionCfg["store"].(string)
	switch StoreKind(store) {
	case "", StoreMemory:
	case StoreRedis:
		redis, ok := sessionCfg["redis"].(map[string]any)
		if !ok {
			result.addError("session.redis", "redis configuration is required when store is 'redis'")
		} else {
			if _, ok := redis["addr"]; !ok {
				result.addError("session.redis.addr", "addr is required. Example: \"localhost:6379\"")
			}
			if password, ok := redis["password"]; ok {
				if err := validateEnvVarReference(password, "password", "session.redis.password"); err != nil {
					result.Errors = append(result.Errors, *err)
				}
			}
		}
	case StoreFirestore:
		fs, ok := sessionCfg["firestore"].(map[string]any)
		if !ok || fs["project"] == nil {
			result.addError("session.firestore.project", "project is required when store is 'firestore'")
		}
	default:
		result.addError("session.store", "unknown store '%s' - use 'memory', 'redis' or 'firestore'", store)
	}

	if store != "" && StoreKind(store) != StoreMemory {
		key, ok := sessionCfg["encryptionKey"]
		if !ok {
			result.addError("session.encryptionKey", "encryptionKey is required for %s storage. Hint: Must be exactly 32 bytes for XChaCha20-Poly1305", store)
		} else if err := validateEnvVarReference(key, "encryptionKey", "session.encryptionKey"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}

	if interval, ok := sessionCfg["cleanupInterval"].(string); ok {
		d, err := time.ParseDuration(interval)
		if err != nil {
			result.addError("session.cleanupInterval", "invalid duration '%s'. Example: \"1m\"", interval)
		} else if d < time.Second {
			result.addWarning("session.cleanupInterval", "cleanupInterval (%s) is very short. Expired sessions are scanned on every tick.", interval)
		}
	}
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead. Hint: JSON syntax prevents accidental shell expansion in scripts/CI", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
