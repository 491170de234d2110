package config

import (
	"encoding/json"
	"time"
)

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

// Config is the resolved client configuration.
type Config struct {
	// SignInURL is the hosted sign-in page loaded into the embedded
	// browser. Must be https outside development mode.
	SignInURL string

	// APIBaseURL is the dashboard API base. Empty means the api
	// package's documented fallback.
	APIBaseURL string

	// BrowserIdentifier is the User-Agent presented by the embedded
	// browser. The sign-in provider rejects default embedded-browser
	// identifiers, so this must look like a regular desktop or mobile
	// browser.
	BrowserIdentifier string

	// StateDir holds the credential record and the browser profile.
	StateDir string

	// Headless runs the embedded browser without a window. Sign-in is
	// interactive, so this is only useful with a pre-warmed profile.
	Headless bool

	// Ephemeral keeps the credential in memory only.
	Ephemeral bool

	// AllowInsecureSignIn permits a plaintext sign-in URL. Honored
	// only in development mode.
	AllowInsecureSignIn bool

	// EncryptionKey, when set, seals the credential record at rest.
	// Must be exactly 32 bytes.
	EncryptionKey Secret

	// ExtractionTimeout bounds one sign-in attempt. Zero disables the
	// timeout; the user can always abandon the shell instead.
	ExtractionTimeout time.Duration
}
