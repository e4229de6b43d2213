// Package config holds the process-level configuration for mcpbridge: where
// the endpoint store lives, which ports the hub and admin API bind to, and
// how to reach the pub/sub broker that carries control-plane events.
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the global mcpbridge configuration.
type Config struct {
	StoreDir      string `yaml:"store_dir"`      // Where endpoints.db lives
	RunDir        string `yaml:"run_dir"`        // Runtime state (pids, sockets)
	HubPort       int    `yaml:"hub_port"`       // WebSocket hub listen port
	AdminPort     int    `yaml:"admin_port"`     // Admin API listen port
	AuthToken     string `yaml:"auth_token"`     // Admin API bearer token
	WSToken       string `yaml:"ws_token"`       // MCP_WS_TOKEN equivalent, checked on provider connect
	RedisAddr     string `yaml:"redis_addr"`     // go-redis pub/sub address
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	ProviderSpec  string `yaml:"provider_spec"`  // path to the mcpServers JSON document
	HTTPProxyBin  string `yaml:"http_proxy_bin"` // adapter binary for http/sse/streamable-http providers
}

// DefaultConfig returns config with default paths.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".mcpbridge")

	return &Config{
		StoreDir:     filepath.Join(base, "store"),
		RunDir:       filepath.Join(base, "run"),
		HubPort:      9900,
		AdminPort:    9901,
		RedisAddr:    "localhost:6379",
		ProviderSpec: filepath.Join(base, "mcp_config.json"),
	}
}

// BaseDir returns the mcpbridge base directory.
func (c *Config) BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mcpbridge")
}

// ConfigPath returns the path to the config file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.BaseDir(), "config.yaml")
}

// Load reads config from disk, or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(cfg.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// Use defaults, below still subject to env overrides.
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides layers the environment variables consumed by the core
// over whatever config.yaml set, letting deployments inject secrets (the
// Redis password, a bridge→hub token) without writing them to disk.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MCP_CONFIG"); v != "" {
		cfg.ProviderSpec = v
	}
	if v := os.Getenv("MCP_WS_TOKEN"); v != "" {
		cfg.WSToken = v
	}
	if v := os.Getenv("HTTP_PROXY_BIN"); v != "" {
		cfg.HTTPProxyBin = v
	}
	if v := os.Getenv("MCP_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("MCP_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("MCP_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("config: ignoring MCP_REDIS_DB=%q: %v", v, err)
		} else {
			cfg.RedisDB = db
		}
	}
}

// Save writes config to disk.
func (c *Config) Save() error {
	if err := os.MkdirAll(c.BaseDir(), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.ConfigPath(), data, 0644)
}

// EnsureDirs creates all necessary directories.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.StoreDir, c.RunDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
