// Package config assembles Ami's runtime configuration from the
// environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/thriveai/ami/common/crypto"
	"github.com/thriveai/ami/common/environment"
	"github.com/thriveai/ami/common/redact"
	"github.com/thriveai/ami/internal/ami/session"
	"github.com/thriveai/ami/internal/ami/transcript"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Generator modes.
const (
	GeneratorLocal  = "local"
	GeneratorRemote = "remote"
)

// Remote configures the OpenAI-compatible generator used when Generator
// is GeneratorRemote.
type Remote struct {
	BaseURL      string
	Model        string
	APIKey       string
	Timeout      time.Duration
	MaxTokens    int
	HistoryTurns int
	RateLimit    int
	RateWindow   time.Duration
}

// Transcripts selects where conversations are archived.
type Transcripts struct {
	Backend  string
	RedisURL string
	RedisTTL time.Duration
	// Key is a hex AES-256 key. When set, archived text is encrypted.
	Key string
}

// Matrix configures the optional Matrix bridge. It is enabled as soon as
// a homeserver is set.
type Matrix struct {
	Homeserver  string
	UserID      string
	AccessToken string
	Rooms       []string
	// Engagement enables idle nudges in Matrix rooms.
	Engagement bool
}

// Enabled reports whether any Matrix setting was given.
func (m Matrix) Enabled() bool {
	return m.Homeserver != "" || m.UserID != "" || m.AccessToken != "" || len(m.Rooms) > 0
}

// Config is the complete runtime configuration of the ami binary. Load
// fills it from the environment; Validate reports every problem at once.
type Config struct {
	HTTPAddr     string
	LogLevel     string
	LogFormat    string
	PersonaFile  string
	DatabasePath string

	Timing      session.Timing
	Generator   string
	Remote      Remote
	Transcripts Transcripts
	Matrix      Matrix

	// SessionIdleTTL closes sessions nobody has open after this long. Zero
	// keeps them forever.
	SessionIdleTTL time.Duration
	ReapInterval   time.Duration
}

// EnvFiles are merged into the environment by Load when they exist.
var EnvFiles = []string{".env"}

// Load reads the environment (after any EnvFiles) and validates it.
func Load() (*Config, error) {
	if err := environment.LoadFiles(EnvFiles...); err != nil {
		return nil, err
	}
	def := session.DefaultTiming()
	cfg := &Config{
		HTTPAddr:     environment.StringOr("AMI_HTTP_ADDR", ":8080"),
		LogLevel:     environment.StringOr("AMI_LOG_LEVEL", "info"),
		LogFormat:    environment.StringOr("AMI_LOG_FORMAT", "text"),
		PersonaFile:  environment.StringOr("AMI_PERSONA_FILE", ""),
		DatabasePath: environment.StringOr("AMI_DATABASE_PATH", "./ami.db"),
		Timing: session.Timing{
			ThinkDelay:          environment.DurationOr("AMI_THINK_DELAY", def.ThinkDelay),
			GenerationTimeout:   environment.DurationOr("AMI_GENERATION_TIMEOUT", def.GenerationTimeout),
			VocalizePerRune:     environment.DurationOr("AMI_VOCALIZE_PER_RUNE", def.VocalizePerRune),
			VocalizeMax:         environment.DurationOr("AMI_VOCALIZE_MAX", def.VocalizeMax),
			InactivityThreshold: environment.DurationOr("AMI_INACTIVITY_THRESHOLD", def.InactivityThreshold),
			InactivityInterval:  environment.DurationOr("AMI_INACTIVITY_INTERVAL", def.InactivityInterval),
		},
		Generator: strings.ToLower(environment.StringOr("AMI_GENERATOR", GeneratorLocal)),
		Remote: Remote{
			BaseURL:      environment.StringOr("AMI_REMOTE_BASE_URL", "https://api.openai.com/v1"),
			Model:        environment.StringOr("AMI_REMOTE_MODEL", "gpt-4o-mini"),
			APIKey:       environment.StringOr("AMI_REMOTE_API_KEY", ""),
			Timeout:      environment.DurationOr("AMI_REMOTE_TIMEOUT", 20*time.Second),
			MaxTokens:    environment.IntOr("AMI_REMOTE_MAX_TOKENS", 400),
			HistoryTurns: environment.IntOr("AMI_REMOTE_HISTORY_TURNS", 8),
			RateLimit:    environment.IntOr("AMI_RATE_LIMIT", 10),
			RateWindow:   environment.DurationOr("AMI_RATE_WINDOW", time.Minute),
		},
		Transcripts: Transcripts{
			Backend:  strings.ToLower(environment.StringOr("AMI_TRANSCRIPTS", transcript.BackendNone)),
			RedisURL: environment.StringOr("AMI_REDIS_URL", "redis://localhost:6379/0"),
			RedisTTL: environment.DurationOr("AMI_REDIS_TTL", transcript.DefaultRedisTTL),
			Key:      environment.StringOr("AMI_TRANSCRIPT_KEY", ""),
		},
		Matrix: Matrix{
			Homeserver:  environment.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      environment.StringOr("MATRIX_USER_ID", ""),
			AccessToken: environment.StringOr("MATRIX_ACCESS_TOKEN", ""),
			Rooms:       environment.ListOr("MATRIX_ROOMS", nil),
			Engagement:  environment.BoolOr("AMI_MATRIX_ENGAGEMENT", false),
		},
		SessionIdleTTL: environment.DurationOr("AMI_SESSION_IDLE_TTL", 30*time.Minute),
		ReapInterval:   environment.DurationOr("AMI_REAP_INTERVAL", time.Minute),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Generator {
	case GeneratorLocal:
	case GeneratorRemote:
		if c.Remote.APIKey == "" {
			bad("AMI_REMOTE_API_KEY is required when AMI_GENERATOR=remote")
		}
	default:
		bad("AMI_GENERATOR must be %q or %q, got %q", GeneratorLocal, GeneratorRemote, c.Generator)
	}

	switch c.Transcripts.Backend {
	case transcript.BackendNone, transcript.BackendSQLite:
	case transcript.BackendRedis:
		if c.Transcripts.RedisURL == "" {
			bad("AMI_REDIS_URL is required for redis transcripts")
		}
	default:
		bad("AMI_TRANSCRIPTS must be none, sqlite or redis, got %q", c.Transcripts.Backend)
	}
	if c.Transcripts.Key != "" {
		if _, err := crypto.ParseKey(c.Transcripts.Key); err != nil {
			bad("AMI_TRANSCRIPT_KEY: %v", err)
		}
	}

	if c.Matrix.Enabled() {
		if c.Matrix.Homeserver == "" {
			bad("MATRIX_HOMESERVER is required")
		}
		if c.Matrix.UserID == "" {
			bad("MATRIX_USER_ID is required")
		}
		if c.Matrix.AccessToken == "" {
			bad("MATRIX_ACCESS_TOKEN is required")
		}
		if len(c.Matrix.Rooms) == 0 {
			bad("MATRIX_ROOMS is required")
		}
	}

	if c.Timing.ThinkDelay < 0 {
		bad("AMI_THINK_DELAY must not be negative")
	}
	if c.Timing.InactivityInterval > c.Timing.InactivityThreshold && c.Timing.InactivityThreshold > 0 {
		bad("AMI_INACTIVITY_INTERVAL (%s) exceeds AMI_INACTIVITY_THRESHOLD (%s)",
			c.Timing.InactivityInterval, c.Timing.InactivityThreshold)
	}
	if c.SessionIdleTTL > 0 && c.ReapInterval <= 0 {
		bad("AMI_REAP_INTERVAL must be positive when AMI_SESSION_IDLE_TTL is set")
	}
	return errors.Join(errs...)
}

// NeedsDatabase reports whether a SQLite database must be opened.
func (c *Config) NeedsDatabase() bool {
	return c.Transcripts.Backend == transcript.BackendSQLite || c.Matrix.Enabled()
}

// Summary renders the configuration for a startup log line with secrets
// masked.
func (c *Config) Summary() map[string]string {
	return redact.Fields(map[string]string{
		"http_addr":           c.HTTPAddr,
		"log_level":           c.LogLevel,
		"persona_file":        c.PersonaFile,
		"database_path":       c.DatabasePath,
		"generator":           c.Generator,
		"remote_base_url":     c.Remote.BaseURL,
		"remote_model":        c.Remote.Model,
		"remote_api_key":      c.Remote.APIKey,
		"transcripts":         c.Transcripts.Backend,
		"redis_url":           redactURL(c.Transcripts.RedisURL),
		"transcript_key":      c.Transcripts.Key,
		"matrix_homeserver":   c.Matrix.Homeserver,
		"matrix_user_id":      c.Matrix.UserID,
		"matrix_access_token": c.Matrix.AccessToken,
		"matrix_rooms":        strings.Join(c.Matrix.Rooms, ","),
		"think_delay":         c.Timing.ThinkDelay.String(),
		"session_idle_ttl":    c.SessionIdleTTL.String(),
	})
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return redact.Secret(raw)
	}
	return u.Redacted()
}
