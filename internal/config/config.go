package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the game server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Framework
	GameTimeout int `yaml:"game_timeout"` // seconds, idle-session expiry and admission wait cap

	// TCP connections
	RequestSizeMax    int `yaml:"request_size_max"`   // bytes, per-request body cap
	BufferSize        int `yaml:"buffer_size"`        // bytes, socket read chunk
	ConnectionTimeout int `yaml:"connection_timeout"` // seconds, per-connection read/write deadline

	// Logging
	Log LogConfig `yaml:"log"`
}

// LogConfig toggles individual log categories.
type LogConfig struct {
	ServerInfo        bool `yaml:"server_info"`        // verbose, useful for debugging tcp connections
	ServerErrors      bool `yaml:"server_errors"`      // errors during tcp connections
	FrameworkInfo     bool `yaml:"framework_info"`     // actions performed by the framework
	FrameworkRequest  bool `yaml:"framework_request"`  // client requests
	FrameworkResponse bool `yaml:"framework_response"` // server responses
}

// GameTimeoutDuration returns the game timeout as a time.Duration.
func (s Server) GameTimeoutDuration() time.Duration {
	return time.Duration(s.GameTimeout) * time.Second
}

// ConnectionTimeoutDuration returns the connection timeout as a time.Duration.
func (s Server) ConnectionTimeoutDuration() time.Duration {
	return time.Duration(s.ConnectionTimeout) * time.Second
}

// Default returns Server config with sensible defaults.
func Default() Server {
	return Server{
		BindAddress:       "127.0.0.1",
		Port:              4711,
		GameTimeout:       1000,
		RequestSizeMax:    1_000_000,
		BufferSize:        4096,
		ConnectionTimeout: 60,
		Log: LogConfig{
			ServerInfo:        false,
			ServerErrors:      true,
			FrameworkInfo:     true,
			FrameworkRequest:  true,
			FrameworkResponse: true,
		},
	}
}

// Load loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
