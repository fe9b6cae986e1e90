package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"dashcore/core/registry"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Version is the version of the dashcore core API. A config may pin a
// compatible range with core_version.
const Version = "1.0.0"

// Fetcher kinds.
const (
	FetcherHTTP   = "http"
	FetcherRedis  = "redis"
	FetcherStatic = "static"
)

// Config holds the application's configuration settings.
type Config struct {
	Environment string          `mapstructure:"environment" yaml:"environment"`
	CoreVersion string          `mapstructure:"core_version" yaml:"core_version,omitempty"` // semver constraint, e.g. ">= 1.0, < 2"
	Page        PageConfig      `mapstructure:"page" yaml:"page"`
	Mappings    []MappingConfig `mapstructure:"mappings" yaml:"mappings"`
	Fetcher     FetcherConfig   `mapstructure:"fetcher" yaml:"fetcher"`
	Metrics     MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	MockServer  MockConfig      `mapstructure:"mock_server" yaml:"mock_server"`
}

// PageConfig names the page the mappings belong to.
type PageConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
}

// MappingConfig is one topic → dataset mapping with its refresh period.
// A zero RefreshInterval means manual refresh only.
type MappingConfig struct {
	Topic           string                 `mapstructure:"topic" yaml:"topic"`
	DatasetName     string                 `mapstructure:"dataset_name" yaml:"dataset_name"`
	Param           map[string]interface{} `mapstructure:"param" yaml:"param,omitempty"`
	RefreshInterval time.Duration          `mapstructure:"refresh_interval" yaml:"refresh_interval,omitempty"`
}

// Mapping converts the entry to a registry mapping.
func (m MappingConfig) Mapping() registry.Mapping {
	return registry.Mapping{
		Topic: m.Topic,
		DatasetInfo: registry.DatasetDescriptor{
			DatasetName: m.DatasetName,
			Param:       m.Param,
		},
	}
}

// FetcherConfig selects and configures the data-fetch collaborator.
type FetcherConfig struct {
	Kind        string        `mapstructure:"kind" yaml:"kind"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	RedisAddr   string        `mapstructure:"redis_addr" yaml:"redis_addr,omitempty"`
	RedisPrefix string        `mapstructure:"redis_prefix" yaml:"redis_prefix,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Address string `mapstructure:"address" yaml:"address,omitempty"`
}

// MockConfig configures the mock REST backend.
type MockConfig struct {
	Address string `mapstructure:"address" yaml:"address"`
}

var (
	hooksMu           sync.Mutex
	configChangeHooks []func(*Config)
)

// AddConfigChangeHook registers a function to be called with the new
// configuration whenever the watched config file changes and still validates.
func (c *Config) AddConfigChangeHook(hook func(*Config)) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	configChangeHooks = append(configChangeHooks, hook)
}

func notifyHooks(cfg *Config) {
	hooksMu.Lock()
	hooks := append([]func(*Config){}, configChangeHooks...)
	hooksMu.Unlock()
	for _, hook := range hooks {
		hook(cfg)
	}
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config") // name of config file (without extension)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/dashcore")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("DASHCORE") // e.g. DASHCORE_FETCHER_BASE_URL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("environment", "development")
	v.SetDefault("page.name", "dashboard")
	v.SetDefault("fetcher.kind", FetcherHTTP)
	v.SetDefault("fetcher.base_url", "http://localhost:4004")
	v.SetDefault("fetcher.timeout", "10s")
	v.SetDefault("fetcher.redis_prefix", "dashcore:")
	v.SetDefault("mock_server.address", ":4004")
	return v
}

// LoadConfig reads the configuration from path, or from config.yaml in the
// default search paths when path is empty. Environment variables prefixed
// with DASHCORE_ override file values. The file is watched; valid changes are
// passed to the hooks registered with AddConfigChangeHook.
func LoadConfig(path string) (*Config, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults and environment variables.")
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			next, err := unmarshal(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Ignoring config change from %s: %v\n", e.Name, err)
				return
			}
			notifyHooks(next)
		})
		v.WatchConfig()
	}

	return cfg, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := restoreParamKeys(v.ConfigFileUsed(), cfg.Mappings); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// restoreParamKeys re-reads mapping params from the YAML file itself.
// Viper lowercases map keys, but params are sent to the backend verbatim
// and keys such as roomId are case sensitive.
func restoreParamKeys(path string, mappings []MappingConfig) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var raw struct {
		Mappings []struct {
			Topic string                 `yaml:"topic"`
			Param map[string]interface{} `yaml:"param"`
		} `yaml:"mappings"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse mappings: %w", err)
	}
	params := make(map[string]map[string]interface{}, len(raw.Mappings))
	for _, m := range raw.Mappings {
		params[m.Topic] = m.Param
	}
	for i := range mappings {
		if p, ok := params[mappings[i].Topic]; ok {
			mappings[i].Param = p
		}
	}
	return nil
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production":
		// valid
	default:
		return fmt.Errorf("invalid environment: %q", c.Environment)
	}

	if c.CoreVersion != "" {
		constraint, err := semver.NewConstraint(c.CoreVersion)
		if err != nil {
			return fmt.Errorf("invalid core_version %q: %w", c.CoreVersion, err)
		}
		if !constraint.Check(semver.MustParse(Version)) {
			return fmt.Errorf("core version %s does not satisfy %q", Version, c.CoreVersion)
		}
	}

	seen := make(map[string]bool, len(c.Mappings))
	for i, m := range c.Mappings {
		if m.Topic == "" {
			return fmt.Errorf("mappings[%d]: topic is required", i)
		}
		if seen[m.Topic] {
			return fmt.Errorf("mappings[%d]: duplicate topic %q", i, m.Topic)
		}
		seen[m.Topic] = true
		if m.DatasetName == "" {
			return fmt.Errorf("mappings[%d] (%s): dataset_name is required", i, m.Topic)
		}
		if m.RefreshInterval < 0 {
			return fmt.Errorf("mappings[%d] (%s): negative refresh_interval", i, m.Topic)
		}
	}

	switch c.Fetcher.Kind {
	case FetcherHTTP:
		if c.Fetcher.BaseURL == "" {
			return fmt.Errorf("fetcher.base_url is required for kind %q", FetcherHTTP)
		}
	case FetcherRedis:
		if c.Fetcher.RedisAddr == "" {
			return fmt.Errorf("fetcher.redis_addr is required for kind %q", FetcherRedis)
		}
	case FetcherStatic:
	default:
		return fmt.Errorf("invalid fetcher.kind: %q", c.Fetcher.Kind)
	}
	return nil
}

// GenerateMinimalConfig returns a config with one example mapping, suitable
// as a starting point for a new page.
func GenerateMinimalConfig() *Config {
	m := registry.DefaultMapping()
	return &Config{
		Environment: "development",
		CoreVersion: ">= 1.0, < 2",
		Page:        PageConfig{Name: "dashboard"},
		Mappings: []MappingConfig{{
			Topic:           m.Topic,
			DatasetName:     m.DatasetInfo.DatasetName,
			Param:           m.DatasetInfo.Param,
			RefreshInterval: 10 * time.Second,
		}},
		Fetcher: FetcherConfig{
			Kind:    FetcherHTTP,
			BaseURL: "http://localhost:4004",
			Timeout: 10 * time.Second,
		},
		MockServer: MockConfig{Address: ":4004"},
	}
}

// SaveConfig writes cfg to filename as YAML.
func SaveConfig(cfg *Config, filename string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
