// Package daemon loads the agent server configuration from YAML, the
// environment and defaults.
package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/agentrelay/bus"
	"github.com/petal-labs/agentrelay/server"
	"github.com/petal-labs/agentrelay/tool"
)

const (
	projectConfigName = "agentrelay.yaml"
	homeConfigDir     = ".agentrelay"
	homeConfigName    = "config.yaml"
)

// Defaults.
const (
	DefaultHost     = "0.0.0.0"
	DefaultPort     = 4111
	DefaultLogLevel = "info"
)

// Environment variables read by ApplyEnv. The NOS_ names are accepted as
// fallbacks for older deployments.
const (
	EnvSummarizeEndpoint       = "OLLAMA_API_URL"
	EnvSummarizeEndpointLegacy = "NOS_OLLAMA_API_URL"
	EnvSummarizeModel          = "MODEL_NAME_AT_ENDPOINT"
	EnvSummarizeModelLegacy    = "NOS_MODEL_NAME_AT_ENDPOINT"
	EnvPort                    = "AGENT_PORT"
	EnvLogLevel                = "LOG_LEVEL"
	EnvOTLPEndpoint            = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// Config is the startup config shape of agentrelay.yaml.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Summarize SummarizeConfig `yaml:"summarize"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Events    EventsConfig    `yaml:"events"`
	Server    ServerConfig    `yaml:"server"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

type ListenConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// SummarizeConfig configures the chat-completion endpoint. An empty Endpoint
// is allowed: summarize then fails per call with a configuration error.
type SummarizeConfig struct {
	Endpoint string        `yaml:"endpoint,omitempty"`
	Model    string        `yaml:"model,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}

type FetchConfig struct {
	Timeout  time.Duration `yaml:"timeout,omitempty"`
	MaxBytes int64         `yaml:"max_bytes,omitempty"`
}

type EventsConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval,omitempty"`
}

type ServerConfig struct {
	CORSOrigin string `yaml:"cors_origin,omitempty"`
	MaxBody    int64  `yaml:"max_body,omitempty"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level,omitempty"`
}

// DefaultConfig returns the configuration used when no file or environment
// overrides are present.
func DefaultConfig() Config {
	return Config{
		Listen: ListenConfig{Host: DefaultHost, Port: DefaultPort},
		Summarize: SummarizeConfig{
			Model:   tool.DefaultSummarizeModel,
			Timeout: tool.DefaultSummarizeTimeout,
		},
		Fetch:  FetchConfig{Timeout: tool.DefaultFetchTimeout},
		Events: EventsConfig{HeartbeatInterval: bus.DefaultHeartbeatInterval},
		Server: ServerConfig{CORSOrigin: server.DefaultCORSOrigin, MaxBody: server.DefaultMaxBody},
		Log:    LogConfig{Level: DefaultLogLevel},
	}
}

// Load resolves the config file, decodes it over the defaults and applies
// environment overrides. path is empty when no file was found.
func Load(explicitPath string) (cfg Config, path string, err error) {
	path, found, err := DiscoverConfigPath(explicitPath)
	if err != nil {
		return Config{}, "", err
	}
	cfg = DefaultConfig()
	if found {
		if cfg, err = LoadFile(path); err != nil {
			return Config{}, "", err
		}
	} else {
		path = ""
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, "", err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, path, nil
}

// DiscoverConfigPath resolves the config location with first-match semantics.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		if homeDir != "" {
			candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
		}
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadFile decodes the YAML file at path over DefaultConfig. Unknown keys are
// rejected.
func LoadFile(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML config bytes over DefaultConfig.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides config fields from environment variables read through
// getenv. Empty variables are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := firstEnv(getenv, EnvSummarizeEndpoint, EnvSummarizeEndpointLegacy); v != "" {
		c.Summarize.Endpoint = v
	}
	if v := firstEnv(getenv, EnvSummarizeModel, EnvSummarizeModelLegacy); v != "" {
		c.Summarize.Model = v
	}
	if v := firstEnv(getenv, EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		c.Listen.Port = port
	}
	if v := firstEnv(getenv, EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := firstEnv(getenv, EnvOTLPEndpoint); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	return nil
}

func firstEnv(getenv func(string) string, names ...string) string {
	for _, name := range names {
		if v := strings.TrimSpace(getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Fetch.MaxBytes < 0 {
		return fmt.Errorf("fetch.max_bytes must not be negative")
	}
	if c.Server.MaxBody < 0 {
		return fmt.Errorf("server.max_body must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"summarize.timeout":         c.Summarize.Timeout,
		"fetch.timeout":             c.Fetch.Timeout,
		"events.heartbeat_interval": c.Events.HeartbeatInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	return nil
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.Port))
}

// BuiltinTools maps the config onto the built-in tool settings.
func (c Config) BuiltinTools() tool.BuiltinConfig {
	return tool.BuiltinConfig{
		Fetch: tool.FetchConfig{
			Timeout:  c.Fetch.Timeout,
			MaxBytes: c.Fetch.MaxBytes,
		},
		Summarize: tool.SummarizeConfig{
			Endpoint: c.Summarize.Endpoint,
			Model:    c.Summarize.Model,
			Timeout:  c.Summarize.Timeout,
		},
	}
}
