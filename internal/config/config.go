package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	yaml "gopkg.in/yaml.v3"
)

// AppConfig is the relay server configuration. Values come from the defaults
// below, then the YAML file named by RELAY_CONFIG_FILE, then the environment.
type AppConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"RELAY_LISTEN_ADDR"`
	WSPath          string        `yaml:"ws_path" env:"RELAY_WS_PATH"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"RELAY_ALLOWED_ORIGINS" envSeparator:","`
	SendBuffer      int           `yaml:"send_buffer" env:"RELAY_SEND_BUFFER"`
	ReadLimit       int64         `yaml:"read_limit" env:"RELAY_READ_LIMIT"`
	PingInterval    time.Duration `yaml:"ping_interval" env:"RELAY_PING_INTERVAL"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"RELAY_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"RELAY_SHUTDOWN_TIMEOUT"`
	HubBuffer       int           `yaml:"hub_buffer" env:"RELAY_HUB_BUFFER"`

	RedisURL         string        `yaml:"redis_url" env:"REDIS_URL"`
	MaxConnsPerIP    int           `yaml:"max_conns_per_ip" env:"RELAY_MAX_CONNS_PER_IP"`
	AdmissionTTL     time.Duration `yaml:"admission_ttl" env:"RELAY_ADMISSION_TTL"`
	TrustProxyHeader bool          `yaml:"trust_proxy_header" env:"RELAY_TRUST_PROXY_HEADER"`

	MessagesDir string `yaml:"messages_dir" env:"RELAY_MESSAGES_DIR"`
	Openings    bool   `yaml:"openings" env:"RELAY_OPENINGS"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level   string `yaml:"level" env:"LOG_LEVEL"`
	Format  string `yaml:"format" env:"LOG_FORMAT"`
	Console bool   `yaml:"console" env:"LOG_TO_CONSOLE"`
	ToFile  bool   `yaml:"to_file" env:"LOG_TO_FILE"`
	File    string `yaml:"file" env:"LOG_FILE"`
	Caller  bool   `yaml:"caller" env:"LOG_CALLER"`
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:      ":8080",
		WSPath:          "/ws",
		SendBuffer:      64,
		ReadLimit:       4096,
		PingInterval:    30 * time.Second,
		WriteTimeout:    5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		HubBuffer:       256,
		MaxConnsPerIP:   8,
		AdmissionTTL:    time.Hour,
		Openings:        true,
		Log: LogConfig{
			Level:   "info",
			Format:  "legacy",
			Console: true,
			File:    "logs/relay.log",
		},
	}
}

// Load reads the process environment.
func Load() (*AppConfig, error) {
	return LoadFrom(nil)
}

// LoadFrom is Load with an explicit environment. A nil map means os.Environ.
func LoadFrom(environ map[string]string) (*AppConfig, error) {
	cfg := defaults()

	lookup := os.Getenv
	if environ != nil {
		lookup = func(k string) string { return environ[k] }
	}
	if path := strings.TrimSpace(lookup("RELAY_CONFIG_FILE")); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) normalize() {
	c.ListenAddr = strings.TrimSpace(c.ListenAddr)
	c.WSPath = strings.TrimSpace(c.WSPath)
	if c.WSPath != "" && !strings.HasPrefix(c.WSPath, "/") {
		c.WSPath = "/" + c.WSPath
	}
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if s := strings.TrimSpace(o); s != "" {
			origins = append(origins, s)
		}
	}
	c.AllowedOrigins = origins
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.MessagesDir = strings.TrimSpace(c.MessagesDir)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports the first unusable value.
func (c *AppConfig) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.New("RELAY_LISTEN_ADDR is required")
	case c.WSPath == "" || c.WSPath == "/healthz" || c.WSPath == "/stats":
		return fmt.Errorf("RELAY_WS_PATH %q is not usable", c.WSPath)
	case c.SendBuffer < 1:
		return errors.New("RELAY_SEND_BUFFER must be positive")
	case c.ReadLimit < 64:
		return errors.New("RELAY_READ_LIMIT must be at least 64 bytes")
	case c.PingInterval < 0 || c.WriteTimeout <= 0 || c.ShutdownTimeout <= 0:
		return errors.New("relay timeouts must be positive")
	case c.HubBuffer < 1:
		return errors.New("RELAY_HUB_BUFFER must be positive")
	case c.MaxConnsPerIP < 0:
		return errors.New("RELAY_MAX_CONNS_PER_IP must not be negative")
	case c.RedisURL != "" && c.AdmissionTTL <= 0:
		return errors.New("RELAY_ADMISSION_TTL must be positive when REDIS_URL is set")
	}
	switch c.Log.Format {
	case "legacy", "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT %q is not one of legacy, console, json", c.Log.Format)
	}
	return nil
}
