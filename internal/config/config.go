package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models submitline.yml.
type Config struct {
	Store struct {
		// BusyTimeout bounds how long a save waits for another writer.
		BusyTimeout time.Duration `yaml:"busy_timeout"`
	} `yaml:"store"`
	Callbacks struct {
		Enabled         bool `yaml:"enabled"`
		DeferredWorkers int  `yaml:"deferred_workers"`
		QueueSize       int  `yaml:"queue_size"`
		// Limits are in bytes. Oversize packages and previews are held.
		Limits struct {
			CompressedPackage   int64 `yaml:"compressed_package"`
			UncompressedPackage int64 `yaml:"uncompressed_package"`
			Preview             int64 `yaml:"preview"`
		} `yaml:"limits"`
	} `yaml:"callbacks"`
	Notify struct {
		Log   bool `yaml:"log"`
		Redis struct {
			Addr   string `yaml:"addr"`
			Stream string `yaml:"stream"`
			MaxLen int64  `yaml:"max_len"`
		} `yaml:"redis"`
		Webhooks []Webhook `yaml:"webhooks"`
	} `yaml:"notify"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTIssuer string `yaml:"jwt_issuer"`
		// JWTSecretEnv names the environment variable holding the HS256
		// signing secret.
		JWTSecretEnv string `yaml:"jwt_secret_env"`
		// DevActorHeader accepts X-Actor-Id in place of a token.
		DevActorHeader bool `yaml:"dev_actor_header"`
	} `yaml:"server"`
	Legacy struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"legacy"`
}

type Webhook struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	// Events restricts delivery to these event types or families. Empty
	// delivers everything.
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("config.store.busy_timeout must not be negative")
	}
	if c.Callbacks.DeferredWorkers < 0 {
		return fmt.Errorf("config.callbacks.deferred_workers must not be negative")
	}
	if c.Callbacks.QueueSize < 0 {
		return fmt.Errorf("config.callbacks.queue_size must not be negative")
	}
	limits := c.Callbacks.Limits
	if limits.CompressedPackage < 0 || limits.UncompressedPackage < 0 || limits.Preview < 0 {
		return fmt.Errorf("config.callbacks.limits must not be negative")
	}
	if c.Notify.Redis.Addr != "" && c.Notify.Redis.Stream == "" {
		return fmt.Errorf("config.notify.redis.stream is required when addr is set")
	}
	for i, hook := range c.Notify.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
	}
	if c.Server.BasePath == "" {
		return fmt.Errorf("config.server.base_path is required")
	}
	if c.Server.BasePath[0] != '/' {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "submitline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `store:
  busy_timeout: 5s

callbacks:
  enabled: true
  deferred_workers: 2
  queue_size: 64
  limits:
    compressed_package: 6000000
    uncompressed_package: 18000000
    preview: 15000000

notify:
  log: true
  redis:
    addr: ""
    stream: submitline.events
    max_len: 0
  webhooks: []

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_issuer: submitline
  jwt_secret_env: SUBMITLINE_JWT_SECRET
  dev_actor_header: false

legacy:
  enabled: false
`
