// ABOUTME: Configuration loading and parsing for glimpse-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete glimpse-gateway configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale"`
	Auth          AuthConfig          `yaml:"auth"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Speech        SpeechConfig        `yaml:"speech"`
	Conversations ConversationsConfig `yaml:"conversations"`
	Limits        LimitsConfig        `yaml:"limits"`
	Audio         AudioConfig         `yaml:"audio"`
	Images        ImagesConfig        `yaml:"images"`
	Usage         UsageConfig         `yaml:"usage"`
	MCP           MCPConfig           `yaml:"mcp"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// PublicBaseURL is the external URL callers reach the gateway at.
	// Used to mint audio locators. Defaults to http://localhost<http_addr>.
	PublicBaseURL string `yaml:"public_base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	// HTTPS serves on :443 with Tailscale-provisioned certificates.
	HTTPS bool `yaml:"https"`
	// Funnel exposes the gateway to the public internet via Tailscale Funnel.
	Funnel bool `yaml:"funnel"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// Enabled gates all credential checks. Disable only for local development.
	Enabled   bool           `yaml:"enabled"`
	JWTSecret string         `yaml:"jwt_secret"`
	APIKeys   []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is one static credential: a caller name plus the bcrypt hash
// of the key. Plaintext keys never appear in the config file.
type APIKeyConfig struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// ProvidersConfig holds per-vendor upstream credentials and the shared
// model-call timeout.
type ProvidersConfig struct {
	OpenAI    ProviderCredentials `yaml:"openai"`
	Gemini    ProviderCredentials `yaml:"gemini"`
	Anthropic ProviderCredentials `yaml:"anthropic"`
	Doubao    ProviderCredentials `yaml:"doubao"`
	Qwen      ProviderCredentials `yaml:"qwen"`
	GLM       ProviderCredentials `yaml:"glm"`

	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`

	// CatalogPath optionally points at a TOML file extending the built-in
	// model catalog served by GET /api/v1/models.
	CatalogPath string `yaml:"catalog_path"`
}

// ProviderCredentials holds one vendor's API key and model selection.
// BaseURL overrides the vendor default endpoint when set.
type ProviderCredentials struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// SpeechConfig holds text-to-speech configuration
type SpeechConfig struct {
	Provider      string  `yaml:"provider"`
	APIKey        string  `yaml:"api_key"`
	Voice         string  `yaml:"voice"`
	Speed         float64 `yaml:"speed"`
	Format        string  `yaml:"format"`
	MaxTextLength int     `yaml:"max_text_length"`

	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// ConversationsConfig holds conversation store configuration
type ConversationsConfig struct {
	// Store selects the backend: "memory" (default) or "redis".
	Store    string      `yaml:"store"`
	MaxTurns int         `yaml:"max_turns"`
	Redis    RedisConfig `yaml:"redis"`

	TTL           time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	TTLRaw           string `yaml:"ttl"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// RedisConfig holds connection settings for the redis conversation backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LimitsConfig holds rate limiter quotas
type LimitsConfig struct {
	PerAddress    int `yaml:"per_address"`
	PerCredential int `yaml:"per_credential"`

	Window        time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	WindowRaw        string `yaml:"window"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// AudioConfig holds generated-audio storage configuration
type AudioConfig struct {
	Dir string `yaml:"dir"`
	// BaseURL overrides server.public_base_url for audio locators.
	BaseURL string `yaml:"base_url"`

	Expiration    time.Duration `yaml:"-"`
	SweepInterval time.Duration `yaml:"-"`

	ExpirationRaw    string `yaml:"expiration"`
	SweepIntervalRaw string `yaml:"sweep_interval"`
}

// ImagesConfig holds inbound image validation limits
type ImagesConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// UsageConfig holds the usage ledger configuration.
// An empty path disables the ledger.
type UsageConfig struct {
	Path string `yaml:"path"`
}

// MCPConfig holds the MCP surface configuration
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are
// applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config with every default applied, suitable for running
// without a config file in development.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in every unset field that has a documented default.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = "http://localhost" + c.Server.HTTPAddr
	}

	if c.Providers.Timeout == 0 {
		c.Providers.Timeout = 30 * time.Second
	}

	if c.Speech.Provider == "" {
		c.Speech.Provider = "openai"
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = "alloy"
	}
	if c.Speech.Speed == 0 {
		c.Speech.Speed = 1.0
	}
	if c.Speech.Format == "" {
		c.Speech.Format = "mp3"
	}
	if c.Speech.MaxTextLength == 0 {
		c.Speech.MaxTextLength = 4096
	}
	if c.Speech.Timeout == 0 {
		c.Speech.Timeout = 10 * time.Second
	}

	if c.Conversations.Store == "" {
		c.Conversations.Store = "memory"
	}
	if c.Conversations.MaxTurns == 0 {
		c.Conversations.MaxTurns = 10
	}
	if c.Conversations.TTL == 0 {
		c.Conversations.TTL = 30 * time.Minute
	}
	if c.Conversations.SweepInterval == 0 {
		c.Conversations.SweepInterval = 5 * time.Minute
	}

	if c.Limits.PerAddress == 0 {
		c.Limits.PerAddress = 60
	}
	if c.Limits.PerCredential == 0 {
		c.Limits.PerCredential = 100
	}
	if c.Limits.Window == 0 {
		c.Limits.Window = time.Minute
	}
	if c.Limits.SweepInterval == 0 {
		c.Limits.SweepInterval = 5 * time.Minute
	}

	if c.Audio.Dir == "" {
		c.Audio.Dir = "./data/audio"
	}
	if c.Audio.BaseURL == "" {
		c.Audio.BaseURL = c.Server.PublicBaseURL
	}
	if c.Audio.Expiration == 0 {
		c.Audio.Expiration = 24 * time.Hour
	}
	if c.Audio.SweepInterval == 0 {
		c.Audio.SweepInterval = time.Hour
	}

	if c.Images.MaxBytes == 0 {
		c.Images.MaxBytes = 1 << 20
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Server.PublicBaseURL != "" {
		u, err := url.Parse(c.Server.PublicBaseURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("server.public_base_url must be an absolute URL, got %q", c.Server.PublicBaseURL)
		}
	}

	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
			return fmt.Errorf("auth.jwt_secret or auth.api_keys is required when auth is enabled")
		}
		for i, k := range c.Auth.APIKeys {
			if k.Name == "" {
				return fmt.Errorf("auth.api_keys[%d].name is required", i)
			}
			if k.Hash == "" {
				return fmt.Errorf("auth.api_keys[%d].hash is required", i)
			}
		}
	}

	switch c.Conversations.Store {
	case "memory":
	case "redis":
		if c.Conversations.Redis.Addr == "" {
			return fmt.Errorf("conversations.redis.addr is required when store is redis")
		}
	default:
		return fmt.Errorf("conversations.store must be \"memory\" or \"redis\", got %q", c.Conversations.Store)
	}

	if c.Conversations.MaxTurns < 1 {
		return fmt.Errorf("conversations.max_turns must be at least 1, got %d", c.Conversations.MaxTurns)
	}

	if c.Limits.PerAddress < 1 {
		return fmt.Errorf("limits.per_address must be at least 1, got %d", c.Limits.PerAddress)
	}
	if c.Limits.PerCredential < 1 {
		return fmt.Errorf("limits.per_credential must be at least 1, got %d", c.Limits.PerCredential)
	}

	switch c.Speech.Format {
	case "mp3", "wav", "ogg":
	default:
		return fmt.Errorf("speech.format must be mp3, wav, or ogg, got %q", c.Speech.Format)
	}
	if c.Speech.Speed < 0.25 || c.Speech.Speed > 4.0 {
		return fmt.Errorf("speech.speed must be between 0.25 and 4.0, got %g", c.Speech.Speed)
	}

	if c.Images.MaxBytes < 1 {
		return fmt.Errorf("images.max_bytes must be positive, got %d", c.Images.MaxBytes)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Providers.TimeoutRaw, &cfg.Providers.Timeout, "providers.timeout"},
		{cfg.Speech.TimeoutRaw, &cfg.Speech.Timeout, "speech.timeout"},
		{cfg.Conversations.TTLRaw, &cfg.Conversations.TTL, "conversations.ttl"},
		{cfg.Conversations.SweepIntervalRaw, &cfg.Conversations.SweepInterval, "conversations.sweep_interval"},
		{cfg.Limits.WindowRaw, &cfg.Limits.Window, "limits.window"},
		{cfg.Limits.SweepIntervalRaw, &cfg.Limits.SweepInterval, "limits.sweep_interval"},
		{cfg.Audio.ExpirationRaw, &cfg.Audio.Expiration, "audio.expiration"},
		{cfg.Audio.SweepIntervalRaw, &cfg.Audio.SweepInterval, "audio.sweep_interval"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
