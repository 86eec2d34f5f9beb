package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default backend locations used when nothing is configured
const (
	DefaultAPIURL      = "http://localhost:5000/api"
	DefaultRealtimeURL = "http://localhost:5000"
)

// Config is the complete client configuration
type Config struct {
	API      *APIConfig      `json:"api"`
	Realtime *RealtimeConfig `json:"realtime"`
	Storage  *StorageConfig  `json:"storage"`
	Log      *LogConfig      `json:"log"`
}

// APIConfig covers the REST resource clients
type APIConfig struct {
	BaseURL       string        `json:"base_url"`
	Timeout       time.Duration `json:"timeout"`
	CacheTTL      time.Duration `json:"cache_ttl"`
	SessionCookie string        `json:"session_cookie"` // "name=value" seeded into the jar
}

// RealtimeConfig covers the notification channel
// FUNCTIONAL DISCOVERY: transports are tried in order, websocket first,
// long-polling as the fallback for proxies that strip upgrades
type RealtimeConfig struct {
	URL          string           `json:"url"`
	Transports   []string         `json:"transports"`
	DialTimeout  time.Duration    `json:"dial_timeout"`
	PingInterval time.Duration    `json:"ping_interval"`
	ReadTimeout  time.Duration    `json:"read_timeout"`
	WriteTimeout time.Duration    `json:"write_timeout"`
	BufferSize   int              `json:"buffer_size"`
	Reconnect    *ReconnectConfig `json:"reconnect"`
}

// ReconnectConfig bounds the exponential backoff used after connection loss
type ReconnectConfig struct {
	Enabled         bool          `json:"enabled"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
	Jitter          float64       `json:"jitter"`
	MaxRetries      int           `json:"max_retries"`
}

// StorageConfig locates the local sqlite store
type StorageConfig struct {
	Path string `json:"path"`
}

// LogConfig selects log sinks
type LogConfig struct {
	FilePath string `json:"file_path"`
	Level    string `json:"level"`
	Console  bool   `json:"console"`
}

// DefaultConfig returns settings for a backend on localhost
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			BaseURL:  DefaultAPIURL,
			Timeout:  15 * time.Second,
			CacheTTL: 30 * time.Second,
		},
		Realtime: &RealtimeConfig{
			URL:          DefaultRealtimeURL,
			Transports:   []string{"websocket", "polling"},
			DialTimeout:  10 * time.Second,
			PingInterval: 25 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
			Reconnect: &ReconnectConfig{
				Enabled:         true,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     30 * time.Second,
				Multiplier:      2,
				Jitter:          0.5,
				MaxRetries:      8,
			},
		},
		Storage: &StorageConfig{
			Path: defaultStoragePath(),
		},
		Log: &LogConfig{
			FilePath: "",
			Level:    "info",
		},
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./doubtdesk.db"
	}
	return home + "/.doubtdesk/doubtdesk.db"
}

// Validate rejects configurations the client cannot run with
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("API configuration is required")
	}

	if err := validateURL(c.API.BaseURL); err != nil {
		return fmt.Errorf("API base URL: %w", err)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}

	if c.API.CacheTTL < 0 {
		return fmt.Errorf("API cache TTL cannot be negative")
	}

	if c.API.SessionCookie != "" && !strings.Contains(c.API.SessionCookie, "=") {
		return fmt.Errorf("session cookie must have the form name=value")
	}

	if c.Realtime == nil {
		return fmt.Errorf("realtime configuration is required")
	}

	if err := validateURL(c.Realtime.URL); err != nil {
		return fmt.Errorf("realtime URL: %w", err)
	}

	if len(c.Realtime.Transports) == 0 {
		return fmt.Errorf("at least one realtime transport is required")
	}

	for _, name := range c.Realtime.Transports {
		if name != "websocket" && name != "polling" {
			return fmt.Errorf("unknown realtime transport %q", name)
		}
	}

	if c.Realtime.DialTimeout <= 0 {
		return fmt.Errorf("realtime dial timeout must be positive")
	}

	if c.Realtime.PingInterval <= 0 {
		return fmt.Errorf("realtime ping interval must be positive")
	}

	if c.Realtime.ReadTimeout <= c.Realtime.PingInterval {
		return fmt.Errorf("realtime read timeout must exceed the ping interval")
	}

	if c.Realtime.WriteTimeout <= 0 {
		return fmt.Errorf("realtime write timeout must be positive")
	}

	if c.Realtime.BufferSize <= 0 {
		return fmt.Errorf("realtime buffer size must be positive")
	}

	if r := c.Realtime.Reconnect; r != nil && r.Enabled {
		if r.InitialInterval <= 0 || r.MaxInterval < r.InitialInterval {
			return fmt.Errorf("reconnect intervals must be positive and max >= initial")
		}
		if r.Multiplier < 1 {
			return fmt.Errorf("reconnect multiplier must be at least 1")
		}
		if r.Jitter < 0 || r.Jitter > 1 {
			return fmt.Errorf("reconnect jitter must be between 0 and 1")
		}
		if r.MaxRetries <= 0 {
			return fmt.Errorf("reconnect max retries must be positive")
		}
	}

	if c.Storage == nil || c.Storage.Path == "" {
		return fmt.Errorf("storage path cannot be empty")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	return nil
}

// LoadDotEnv loads a .env file into the process environment when present.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadFromEnv overlays DOUBTDESK_* environment variables on the defaults
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	if apiURL := os.Getenv("DOUBTDESK_API_URL"); apiURL != "" {
		config.API.BaseURL = apiURL
	}

	if timeout := os.Getenv("DOUBTDESK_API_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.API.Timeout = d
		}
	}

	if ttl := os.Getenv("DOUBTDESK_API_CACHE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.API.CacheTTL = d
		}
	}

	if cookie := os.Getenv("DOUBTDESK_SESSION_COOKIE"); cookie != "" {
		config.API.SessionCookie = cookie
	}

	if rtURL := os.Getenv("DOUBTDESK_REALTIME_URL"); rtURL != "" {
		config.Realtime.URL = rtURL
	}

	if transports := os.Getenv("DOUBTDESK_REALTIME_TRANSPORTS"); transports != "" {
		config.Realtime.Transports = splitList(transports)
	}

	if ping := os.Getenv("DOUBTDESK_REALTIME_PING_INTERVAL"); ping != "" {
		if d, err := time.ParseDuration(ping); err == nil {
			config.Realtime.PingInterval = d
		}
	}

	if readTimeout := os.Getenv("DOUBTDESK_REALTIME_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			config.Realtime.ReadTimeout = d
		}
	}

	if retries := os.Getenv("DOUBTDESK_RECONNECT_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			config.Realtime.Reconnect.MaxRetries = n
		}
	}

	if enabled := os.Getenv("DOUBTDESK_RECONNECT_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Realtime.Reconnect.Enabled = b
		}
	}

	if path := os.Getenv("DOUBTDESK_STORAGE_PATH"); path != "" {
		config.Storage.Path = path
	}

	if logFile := os.Getenv("DOUBTDESK_LOG_FILE"); logFile != "" {
		config.Log.FilePath = logFile
	}

	if level := os.Getenv("DOUBTDESK_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ConfigFile is the JSON file layout; durations are strings like "30s"
type ConfigFile struct {
	API      *APIConfigFile      `json:"api"`
	Realtime *RealtimeConfigFile `json:"realtime"`
	Storage  *StorageConfig      `json:"storage"`
	Log      *LogConfig          `json:"log"`
}

type APIConfigFile struct {
	BaseURL       string `json:"base_url"`
	Timeout       string `json:"timeout"`
	CacheTTL      string `json:"cache_ttl"`
	SessionCookie string `json:"session_cookie"`
}

type RealtimeConfigFile struct {
	URL          string               `json:"url"`
	Transports   []string             `json:"transports"`
	DialTimeout  string               `json:"dial_timeout"`
	PingInterval string               `json:"ping_interval"`
	ReadTimeout  string               `json:"read_timeout"`
	WriteTimeout string               `json:"write_timeout"`
	BufferSize   int                  `json:"buffer_size"`
	Reconnect    *ReconnectConfigFile `json:"reconnect"`
}

type ReconnectConfigFile struct {
	Enabled         *bool    `json:"enabled"`
	InitialInterval string   `json:"initial_interval"`
	MaxInterval     string   `json:"max_interval"`
	Multiplier      float64  `json:"multiplier"`
	Jitter          *float64 `json:"jitter"`
	MaxRetries      int      `json:"max_retries"`
}

// LoadFromFile reads a JSON config file over the defaults and validates it
func LoadFromFile(filepath string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, filepath); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

func applyFile(config *Config, filepath string) error {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	if f := configFile.API; f != nil {
		if f.BaseURL != "" {
			config.API.BaseURL = f.BaseURL
		}
		setDuration(&config.API.Timeout, f.Timeout)
		setDuration(&config.API.CacheTTL, f.CacheTTL)
		if f.SessionCookie != "" {
			config.API.SessionCookie = f.SessionCookie
		}
	}

	if f := configFile.Realtime; f != nil {
		if f.URL != "" {
			config.Realtime.URL = f.URL
		}
		if len(f.Transports) > 0 {
			config.Realtime.Transports = f.Transports
		}
		setDuration(&config.Realtime.DialTimeout, f.DialTimeout)
		setDuration(&config.Realtime.PingInterval, f.PingInterval)
		setDuration(&config.Realtime.ReadTimeout, f.ReadTimeout)
		setDuration(&config.Realtime.WriteTimeout, f.WriteTimeout)
		if f.BufferSize > 0 {
			config.Realtime.BufferSize = f.BufferSize
		}
		if r := f.Reconnect; r != nil {
			rc := config.Realtime.Reconnect
			if r.Enabled != nil {
				rc.Enabled = *r.Enabled
			}
			setDuration(&rc.InitialInterval, r.InitialInterval)
			setDuration(&rc.MaxInterval, r.MaxInterval)
			if r.Multiplier > 0 {
				rc.Multiplier = r.Multiplier
			}
			if r.Jitter != nil {
				rc.Jitter = *r.Jitter
			}
			if r.MaxRetries > 0 {
				rc.MaxRetries = r.MaxRetries
			}
		}
	}

	if f := configFile.Storage; f != nil && f.Path != "" {
		config.Storage.Path = f.Path
	}

	if f := configFile.Log; f != nil {
		if f.FilePath != "" {
			config.Log.FilePath = f.FilePath
		}
		if f.Level != "" {
			config.Log.Level = f.Level
		}
		config.Log.Console = f.Console
	}

	return nil
}

func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// LoadConfigWithPrecedence resolves configuration as
// environment > file > defaults. File errors are returned so the CLI can
// report a broken --config instead of silently running on defaults.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := DefaultConfig()

	if filepath != "" {
		if err := applyFile(config, filepath); err != nil {
			return nil, err
		}
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
