package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	stagehanderrors "stagehand/internal/errors"
)

// Config holds everything the service needs to talk to the LiveKit control
// plane. It is passed explicitly into constructors; nothing below the HTTP
// layer reads the environment.
type Config struct {
	// APIKey and APISecret authenticate against the LiveKit project.
	APIKey    string
	APISecret string
	// ServerURL is the LiveKit base URL, usually wss://<project>.livekit.cloud.
	ServerURL string
	// AgentName is the logical name of the server-side agent this service
	// manages, compared case-insensitively against dispatch records.
	AgentName string

	// Port the HTTP surface listens on.
	Port string
	// AllowedOrigins restricts CORS; empty means allow all.
	AllowedOrigins []string
	// UpstreamTimeout bounds each control-plane call.
	UpstreamTimeout time.Duration
	// Verbose lowers the log level to debug.
	Verbose bool
}

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// DefaultEnvAliases returns the alias precedence list used to resolve legacy
// environment variable names. This is a compatibility shim for deployments
// configured before the variable names settled, not long-term behavior.
func DefaultEnvAliases() map[string][]string {
	aliases := map[string][]string{
		"LIVEKIT_API_KEY":      {"STAGEHAND_API_KEY", "LK_API_KEY"},
		"LIVEKIT_API_SECRET":   {"STAGEHAND_API_SECRET", "LK_API_SECRET"},
		"LIVEKIT_URL":          {"STAGEHAND_SERVER_URL", "LIVEKIT_WS_URL", "NEXT_PUBLIC_LIVEKIT_URL"},
		"LIVEKIT_AGENT_NAME":   {"STAGEHAND_AGENT_NAME", "AGENT_NAME"},
		"PORT":                 {"STAGEHAND_PORT"},
		"CORS_ALLOWED_ORIGINS": {"STAGEHAND_ALLOWED_ORIGINS"},
		"UPSTREAM_TIMEOUT":     {"STAGEHAND_UPSTREAM_TIMEOUT"},
		"STAGEHAND_VERBOSE":    {"VERBOSE"},
	}

	copied := make(map[string][]string, len(aliases))
	for key, list := range aliases {
		copied[key] = append([]string(nil), list...)
	}
	return copied
}

// AliasEnvLookup wraps an EnvLookup with additional alias keys.
func AliasEnvLookup(base EnvLookup, aliases map[string][]string) EnvLookup {
	return func(key string) (string, bool) {
		if base == nil {
			base = DefaultEnvLookup
		}
		if value, ok := base(key); ok && value != "" {
			return value, true
		}
		if list, ok := aliases[key]; ok {
			for _, alias := range list {
				if value, ok := base(alias); ok && value != "" {
					return value, true
				}
			}
		}
		return "", false
	}
}

// DefaultEnvLookupWithAliases composes DefaultEnvLookup with DefaultEnvAliases.
func DefaultEnvLookupWithAliases() EnvLookup {
	return AliasEnvLookup(DefaultEnvLookup, DefaultEnvAliases())
}

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup EnvLookup
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// Load constructs the configuration by merging defaults with environment
// values. Missing credentials are not an error here; Validate reports them
// when a request actually needs them.
func Load(opts ...Option) Config {
	options := loadOptions{envLookup: DefaultEnvLookupWithAliases()}
	for _, opt := range opts {
		opt(&options)
	}
	lookup := options.envLookup
	if lookup == nil {
		lookup = DefaultEnvLookupWithAliases()
	}

	cfg := Config{
		Port:            "8080",
		UpstreamTimeout: 10 * time.Second,
	}

	if value, ok := lookup("LIVEKIT_API_KEY"); ok {
		cfg.APIKey = strings.TrimSpace(value)
	}
	if value, ok := lookup("LIVEKIT_API_SECRET"); ok {
		cfg.APISecret = strings.TrimSpace(value)
	}
	if value, ok := lookup("LIVEKIT_URL"); ok {
		cfg.ServerURL = strings.TrimSpace(value)
	}
	if value, ok := lookup("LIVEKIT_AGENT_NAME"); ok {
		cfg.AgentName = strings.TrimSpace(value)
	}
	if value, ok := lookup("PORT"); ok {
		cfg.Port = strings.TrimSpace(value)
	}
	if value, ok := lookup("CORS_ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitOrigins(value)
	}
	if value, ok := lookup("UPSTREAM_TIMEOUT"); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && parsed > 0 {
			cfg.UpstreamTimeout = parsed
		}
	}
	if value, ok := lookup("STAGEHAND_VERBOSE"); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			cfg.Verbose = parsed
		}
	}

	return cfg
}

// Validate reports the first missing piece of configuration the dispatch
// endpoints cannot work without.
func (c Config) Validate() error {
	switch {
	case c.APIKey == "":
		return stagehanderrors.NewConfigError("LIVEKIT_API_KEY is not configured")
	case c.APISecret == "":
		return stagehanderrors.NewConfigError("LIVEKIT_API_SECRET is not configured")
	case c.ServerURL == "":
		return stagehanderrors.NewConfigError("LIVEKIT_URL is not configured")
	case c.AgentName == "":
		return stagehanderrors.NewConfigError("LIVEKIT_AGENT_NAME is not configured")
	}
	return nil
}

// ValidateForToken checks only what token minting needs; the agent name is
// not required to hand out participant tokens.
func (c Config) ValidateForToken() error {
	switch {
	case c.APIKey == "":
		return stagehanderrors.NewConfigError("LIVEKIT_API_KEY is not configured")
	case c.APISecret == "":
		return stagehanderrors.NewConfigError("LIVEKIT_API_SECRET is not configured")
	case c.ServerURL == "":
		return stagehanderrors.NewConfigError("LIVEKIT_URL is not configured")
	}
	return nil
}

func splitOrigins(value string) []string {
	parts := strings.Split(value, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
