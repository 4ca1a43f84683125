package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/reddit-broker/internal/crypto"
	apperrors "github.com/alexjbarnes/reddit-broker/internal/errors"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for reddit-broker.
// Load returns it fully validated; nothing mutates it afterwards.
type Config struct {
	// Reddit application credentials.
	ClientID     string `env:"REDDIT_CLIENT_ID"`
	ClientSecret string `env:"REDDIT_CLIENT_SECRET"`
	CallbackURI  string `env:"REDDIT_CALLBACK_URI"`
	Scope        string `env:"REDDIT_SCOPE" envDefault:"identity read mysubreddits vote submit save history subscribe"`
	UserAgent    string `env:"REDDIT_USER_AGENT" envDefault:"reddit-broker/dev"`
	OAuthBaseURL string `env:"REDDIT_OAUTH_URL" envDefault:"https://www.reddit.com"`

	// Session encryption. Salt is used directly as the cipher key, so its
	// byte length must equal the algorithm's key size.
	Algorithm string `env:"ENCRYPTION_ALGORITHM" envDefault:"aes-256-cbc"`
	Salt      string `env:"ENCRYPTION_SALT"`
	IVLength  int    `env:"ENCRYPTION_IV_LENGTH" envDefault:"16"`

	// Session and token lifetimes, in seconds.
	SessionLengthSecs int `env:"SESSION_LENGTH_SECS" envDefault:"2592000"`
	ExpiryPaddingSecs int `env:"TOKEN_EXPIRY_PADDING_SECS" envDefault:"300"`

	// Deadline and retry budget for calls to the token endpoint.
	AcquireTimeout time.Duration `env:"TOKEN_ACQUIRE_TIMEOUT" envDefault:"10s"`
	AcquireRetries int           `env:"TOKEN_ACQUIRE_RETRIES" envDefault:"2"`

	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	ClientURL   string `env:"CLIENT_URL" envDefault:"/"`
	StateDBPath string `env:"STATE_DB_PATH"`

	// Environment controls log format and cookie security.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the client secret and session key.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
// On failure the error is a *errors.ConfigurationError listing every
// violated rule.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}

	var problems []string

	if err := env.Parse(cfg); err != nil {
		problems = append(problems, parseProblems(err)...)
	}

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, &apperrors.ConfigurationError{Problems: problems}
	}

	if cfg.StateDBPath == "" {
		path, err := DefaultStateDBPath()
		if err != nil {
			return nil, &apperrors.ConfigurationError{Problems: []string{err.Error()}}
		}

		cfg.StateDBPath = path
	}

	return cfg, nil
}

// parseProblems splits an env.Parse failure into one line per field.
func parseProblems(err error) []string {
	var agg env.AggregateError
	if errors.As(err, &agg) {
		out := make([]string, 0, len(agg.Errors))
		for _, e := range agg.Errors {
			out = append(out, e.Error())
		}

		return out
	}

	return []string{err.Error()}
}

// validate returns one diagnostic per violated rule, or nil.
func (c *Config) validate() []string {
	var problems []string

	if c.ClientID == "" {
		problems = append(problems, "REDDIT_CLIENT_ID is required")
	}

	if c.ClientSecret == "" {
		problems = append(problems, "REDDIT_CLIENT_SECRET is required")
	}

	if c.CallbackURI == "" {
		problems = append(problems, "REDDIT_CALLBACK_URI is required")
	} else if !isAbsoluteURL(c.CallbackURI) {
		problems = append(problems, "REDDIT_CALLBACK_URI must be an absolute URL")
	}

	if !isAbsoluteURL(c.OAuthBaseURL) {
		problems = append(problems, "REDDIT_OAUTH_URL must be an absolute URL")
	}

	if c.UserAgent == "" {
		problems = append(problems, "REDDIT_USER_AGENT must not be empty")
	}

	if c.SessionLengthSecs <= 0 {
		problems = append(problems, "SESSION_LENGTH_SECS must be a positive integer")
	}

	if c.ExpiryPaddingSecs < 0 {
		problems = append(problems, "TOKEN_EXPIRY_PADDING_SECS must be a non-negative integer")
	}

	if c.AcquireTimeout <= 0 {
		problems = append(problems, "TOKEN_ACQUIRE_TIMEOUT must be a positive duration")
	}

	if c.AcquireRetries < 0 {
		problems = append(problems, "TOKEN_ACQUIRE_RETRIES must be a non-negative integer")
	}

	return append(problems, c.validateEncryption()...)
}

func (c *Config) validateEncryption() []string {
	var problems []string

	if c.IVLength <= 0 {
		problems = append(problems, "ENCRYPTION_IV_LENGTH must be a positive integer")
	}

	if c.Algorithm == "" {
		problems = append(problems, "ENCRYPTION_ALGORITHM is required")

		if c.Salt == "" {
			problems = append(problems, "ENCRYPTION_SALT is required")
		}

		return problems
	}

	alg, ok := crypto.Lookup(c.Algorithm)
	if !ok {
		problems = append(problems, fmt.Sprintf("ENCRYPTION_ALGORITHM %q is not supported (supported: %s)",
			c.Algorithm, strings.Join(crypto.Algorithms(), ", ")))

		if c.Salt == "" {
			problems = append(problems, "ENCRYPTION_SALT is required")
		}

		return problems
	}

	// Only the length is reported, never the key itself.
	if len(c.Salt) != alg.KeySize {
		problems = append(problems, fmt.Sprintf("ENCRYPTION_SALT must be exactly %d bytes for %s (got %d)",
			alg.KeySize, alg.Name, len(c.Salt)))
	}

	if c.IVLength > 0 && c.IVLength != alg.IVSize {
		problems = append(problems, fmt.Sprintf("ENCRYPTION_IV_LENGTH must be %d for %s (got %d)",
			alg.IVSize, alg.Name, c.IVLength))
	}

	return problems
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// DefaultStateDBPath returns ~/.reddit-broker/state.db.
func DefaultStateDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".reddit-broker", "state.db"), nil
}

// TestDefaults returns a fixed, valid configuration for tests. Production
// code never calls it; the loader has no test-mode path.
func TestDefaults() *Config {
	return &Config{
		ClientID:          "test-client-id",
		ClientSecret:      "test-client-secret",
		CallbackURI:       "http://localhost:8080/authorize_callback",
		Scope:             "identity read",
		UserAgent:         "reddit-broker/test",
		OAuthBaseURL:      "https://www.reddit.com",
		Algorithm:         "aes-256-cbc",
		Salt:              "0123456789abcdef0123456789abcdef",
		IVLength:          16,
		SessionLengthSecs: 3600,
		ExpiryPaddingSecs: 300,
		AcquireTimeout:    5 * time.Second,
		AcquireRetries:    0,
		ListenAddr:        "127.0.0.1:0",
		ClientURL:         "/",
		Environment:       "test",
		LogLevel:          "debug",
	}
}

// Key returns the session encryption key.
func (c *Config) Key() []byte {
	return []byte(c.Salt)
}

// Scopes splits Scope on whitespace.
func (c *Config) Scopes() []string {
	return strings.Fields(c.Scope)
}

// SessionLength is how long the session cookie lives.
func (c *Config) SessionLength() time.Duration {
	return time.Duration(c.SessionLengthSecs) * time.Second
}

// ExpiryPadding is how long before its real expiry a token is replaced.
func (c *Config) ExpiryPadding() time.Duration {
	return time.Duration(c.ExpiryPaddingSecs) * time.Second
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
