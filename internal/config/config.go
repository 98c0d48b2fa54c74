// Package config provides configuration management for the gateway server.
// It handles loading and parsing the YAML server-topology file, distinct from
// the JSON credential store managed by internal/store.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the gateway's server-level configuration, loaded from a YAML file.
type Config struct {
	// Host is the network interface the HTTP server binds to.
	Host string `yaml:"host"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`
	// Debug enables verbose logging and other debug features.
	Debug bool `yaml:"debug"`
	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxyURL"`
	// APIKeys is the bearer-token allow-list clients must present to this gateway.
	// An empty list disables the check.
	APIKeys []string `yaml:"apiKeys"`
	// LoggingToFile switches the log sink from stdout to a rotating file under logs/.
	LoggingToFile bool `yaml:"loggingToFile"`
	// ConfigDir is the directory holding the JSON credential store (config.json).
	// Defaults to "<home>/.zeroai-gateway" when empty.
	ConfigDir string `yaml:"configDir"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Host: "127.0.0.1",
		Port: 8787,
	}
}

// Load reads a YAML configuration file from the given path, unmarshals it into
// a Config struct, and returns it. A missing file is not an error; Default is
// returned instead.
func Load(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Addr returns the host:port the HTTP server should bind to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
