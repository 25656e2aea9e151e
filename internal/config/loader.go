package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix       = "FANEX"
	defaultDirName  = ".fanex"
	defaultFileName = "fanex.yaml"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a loader for path. An empty path means $HOME/.fanex/fanex.yaml.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Path returns the config file path the loader reads and writes.
func (l *Loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultFileName
	}
	return filepath.Join(home, defaultDirName, defaultFileName)
}

// Load reads the config file, overlays FANEX_* environment variables such as
// FANEX_GATEWAY_PORT and returns the result. A missing file yields defaults.
func (l *Loader) Load() (*Config, error) {
	path := l.Path()

	v := newViper(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Integrations == nil {
		cfg.Integrations = map[string]map[string]any{}
	}
	return cfg, nil
}

// Save writes cfg to the loader's path, creating the directory.
func (l *Loader) Save(cfg *Config) error {
	path := l.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	setConfigType(v, path)
	for key, value := range cfg.settings() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	setConfigType(v, path)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults make every scalar key known to viper so env overrides apply on Unmarshal.
	for section, values := range DefaultConfig().settings() {
		m, ok := values.(map[string]any)
		if !ok {
			continue
		}
		for key, value := range m {
			v.SetDefault(section+"."+key, value)
		}
	}
	return v
}

func setConfigType(v *viper.Viper, path string) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		v.SetConfigType("json")
	case ".toml":
		v.SetConfigType("toml")
	default:
		v.SetConfigType("yaml")
	}
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
