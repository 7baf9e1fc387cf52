// Package config loads Symposium's runtime configuration from environment
// variables, with an optional YAML file supplying defaults that env vars
// override. This mirrors the teacher's plain struct + getEnv helper style
// rather than reaching for a configuration framework.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds every environment-tunable setting shared across the
// daemon, client, and tool-server subcommands.
type AppConfig struct {
	// EndpointPath overrides the well-known rendezvous socket path (§6).
	EndpointPath string `yaml:"endpointPath"`

	// LogLevel overrides log verbosity (§6): DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"logLevel"`

	// AgentRole selects which guidance bundle is pre-loaded into the
	// reference table (§6).
	AgentRole string `yaml:"agentRole"`

	// QuietInterval is how long the broker waits with zero connected
	// peers before exiting (§4.2 idle shutdown).
	QuietInterval time.Duration `yaml:"quietInterval"`

	// MaxFrameBytes is the maximum accepted length of one newline-delimited
	// JSON line (§4.2 framing).
	MaxFrameBytes int `yaml:"maxFrameBytes"`

	// PeerQueueDepth is the bound on each peer's outbound queue (§5
	// backpressure).
	PeerQueueDepth int `yaml:"peerQueueDepth"`

	// ReplayMaxPerType and ReplayMaxAge bound the replay buffer (§4.2).
	// ReplayMaxTotal is loaded but not passed to the broker, so no bound on
	// the buffer's total entry count across types is enforced.
	ReplayMaxPerType int           `yaml:"replayMaxPerType"`
	ReplayMaxTotal   int           `yaml:"replayMaxTotal"`
	ReplayMaxAge     time.Duration `yaml:"replayMaxAge"`

	// HealthPort serves /health, /ready, /metrics.
	HealthPort string `yaml:"healthPort"`

	// ServiceName and ServiceVersion tag observability output.
	ServiceName    string `yaml:"serviceName"`
	ServiceVersion string `yaml:"serviceVersion"`

	// JaegerEndpoint is the OTLP gRPC trace collector address.
	JaegerEndpoint string `yaml:"jaegerEndpoint"`
	Environment    string `yaml:"environment"`

	// Debug is read from the YAML file and SYMPOSIUM_DEBUG; nothing reads it
	// after Load. The text mirror of logs on stderr is switched on by a
	// LogLevel of DEBUG alone.
	Debug bool `yaml:"debug"`
}

const (
	envEndpointPath   = "SYMPOSIUM_ENDPOINT_PATH"
	envLogLevel       = "SYMPOSIUM_LOG_LEVEL"
	envAgentRole      = "SYMPOSIUM_AGENT_ROLE"
	envQuietInterval  = "SYMPOSIUM_QUIET_INTERVAL_SECONDS"
	envMaxFrameBytes  = "SYMPOSIUM_MAX_FRAME_BYTES"
	envPeerQueueDepth = "SYMPOSIUM_PEER_QUEUE_DEPTH"
	envDebug          = "SYMPOSIUM_DEBUG"
)

func defaultEndpointPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/symposium.sock"
	}
	return "/tmp/symposium-" + strconv.Itoa(os.Getuid()) + ".sock"
}

// Load builds an AppConfig. If configFile is non-empty, it is parsed as
// YAML first and used to seed defaults; environment variables are then
// applied on top and always win, matching the teacher's "env wins" style.
func Load(configFile string) (*AppConfig, error) {
	cfg := &AppConfig{
		EndpointPath:     defaultEndpointPath(),
		LogLevel:         "INFO",
		AgentRole:        "default",
		QuietInterval:    10 * time.Minute,
		MaxFrameBytes:    1 << 20,
		PeerQueueDepth:   256,
		ReplayMaxPerType: 64,
		ReplayMaxTotal:   1024,
		ReplayMaxAge:     1 * time.Hour,
		HealthPort:       "8080",
		ServiceName:      "symposium",
		ServiceVersion:   "0.1.0",
		JaegerEndpoint:   "127.0.0.1:4317",
		Environment:      "development",
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", configFile, err)
		}
	}

	cfg.EndpointPath = getEnv(envEndpointPath, cfg.EndpointPath)
	cfg.LogLevel = getEnv(envLogLevel, cfg.LogLevel)
	cfg.AgentRole = getEnv(envAgentRole, cfg.AgentRole)

	quietSeconds := getEnvAsInt(envQuietInterval, int(cfg.QuietInterval.Seconds()))
	cfg.QuietInterval = time.Duration(quietSeconds) * time.Second
	cfg.MaxFrameBytes = getEnvAsInt(envMaxFrameBytes, cfg.MaxFrameBytes)
	cfg.PeerQueueDepth = getEnvAsInt(envPeerQueueDepth, cfg.PeerQueueDepth)
	cfg.Debug = getEnvAsBool(envDebug, cfg.Debug)

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
