package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ledgerview/ledgerview/internal/envutil"
	"github.com/ledgerview/ledgerview/internal/log"
)

// rawConfig mirrors the config file. String fields are RawMessage so
// they can be either a literal or a {"$env": "NAME"} reference.
type rawConfig struct {
	SignInURL           json.RawMessage `json:"signInUrl"`
	APIBaseURL          json.RawMessage `json:"apiBaseUrl,omitempty"`
	BrowserIdentifier   json.RawMessage `json:"browserIdentifier"`
	StateDir            json.RawMessage `json:"stateDir,omitempty"`
	Headless            bool            `json:"headless,omitempty"`
	Ephemeral           bool            `json:"ephemeral,omitempty"`
	AllowInsecureSignIn bool            `json:"allowInsecureSignIn,omitempty"`
	EncryptionKey       json.RawMessage `json:"encryptionKey,omitempty"`
	ExtractionTimeout   string          `json:"extractionTimeout,omitempty"`
}

// resolveString parses a config value that is either a JSON string or
// an environment reference of the form {"$env": "VAR_NAME"}.
func resolveString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var ref struct {
		Env string `json:"$env"`
	}
	if err := json.Unmarshal(raw, &ref); err != nil || ref.Env == "" {
		return "", fmt.Errorf("expected string or {\"$env\": \"VAR_NAME\"}, got %s", raw)
	}

	value, ok := os.LookupEnv(ref.Env)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", ref.Env)
	}
	return value, nil
}

// Load reads and validates the config file at path, resolving
// environment references immediately.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, resolves, and validates config data.
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	var config Config
	fields := []struct {
		name string
		raw  json.RawMessage
		dst  *string
	}{
		{"signInUrl", raw.SignInURL, &config.SignInURL},
		{"apiBaseUrl", raw.APIBaseURL, &config.APIBaseURL},
		{"browserIdentifier", raw.BrowserIdentifier, &config.BrowserIdentifier},
		{"stateDir", raw.StateDir, &config.StateDir},
	}
	for _, f := range fields {
		value, err := resolveString(f.raw)
		if err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", f.name, err)
		}
		*f.dst = value
	}

	key, err := resolveString(raw.EncryptionKey)
	if err != nil {
		return Config{}, fmt.Errorf("parsing encryptionKey: %w", err)
	}
	config.EncryptionKey = Secret(key)

	config.Headless = raw.Headless
	config.Ephemeral = raw.Ephemeral
	config.AllowInsecureSignIn = raw.AllowInsecureSignIn

	if raw.ExtractionTimeout != "" {
		timeout, err := time.ParseDuration(raw.ExtractionTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parsing extractionTimeout: %w", err)
		}
		config.ExtractionTimeout = timeout
	}

	if config.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolving state dir: %w", err)
		}
		config.StateDir = filepath.Join(home, ".ledgerview")
	}

	if err := Validate(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate checks the resolved configuration.
func Validate(config *Config) error {
	if config.SignInURL == "" {
		return fmt.Errorf("signInUrl is required")
	}
	u, err := url.Parse(config.SignInURL)
	if err != nil {
		return fmt.Errorf("signInUrl is not a valid URL: %w", err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !config.AllowInsecureSignIn || !envutil.IsDev() {
			return fmt.Errorf("signInUrl must use https (set allowInsecureSignIn and LEDGERVIEW_ENV=development to override for local testing)")
		}
		log.LogWarn("sign-in URL %s is plaintext; credentials cross the network unencrypted", config.SignInURL)
	default:
		return fmt.Errorf("signInUrl has unsupported scheme %q", u.Scheme)
	}

	if config.APIBaseURL != "" {
		if _, err := url.Parse(config.APIBaseURL); err != nil {
			return fmt.Errorf("apiBaseUrl is not a valid URL: %w", err)
		}
	}

	if config.BrowserIdentifier == "" {
		return fmt.Errorf("browserIdentifier is required; the sign-in provider rejects the default embedded identifier")
	}

	if key := string(config.EncryptionKey); key != "" && len(key) != 32 {
		return fmt.Errorf("encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(key))
	}

	if config.ExtractionTimeout < 0 {
		return fmt.Errorf("extractionTimeout cannot be negative")
	}

	return nil
}
