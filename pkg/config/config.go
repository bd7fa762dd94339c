// Package config loads configuration for the forum filter.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"forumfilter/pkg/filtering"
)

const (
	defaultConfigPath = "/etc/forumfilter/forumfilter.conf"
	configEnvVar      = "FORUMFILTER_CONFIG"
	envPrefix         = "FORUMFILTER"
)

// Config contains all runtime options.
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Store     StoreConfig         `mapstructure:"store"`
	Selectors filtering.Selectors `mapstructure:"selectors"`
	Filtering FilteringConfig     `mapstructure:"filtering"`
	Watch     []WatchConfig       `mapstructure:"-"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// StoreConfig holds where the synced lists are kept. An empty dir keeps them
// in memory.
type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

// FilteringConfig holds filter engine settings.
type FilteringConfig struct {
	HiddenLog string `mapstructure:"hidden_log"`
}

// WatchConfig pairs a page file with the file its filtered copy is written to.
type WatchConfig struct {
	Input  string `mapstructure:"input"`
	Output string `mapstructure:"output"`
}

// ValidateLogLevel ensures the user-provided log level matches the supported set.
func ValidateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
	return nil
}

// ValidateAddress confirms that an address string has a valid host and TCP port.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if port == "" {
		return errors.New("invalid port")
	}
	if err != nil {
		return fmt.Errorf("invalid address format %s: %w", addr, err)
	}
	if ip := net.ParseIP(host); ip == nil {
		return fmt.Errorf("invalid IP address: %s", host)
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("invalid port: %s", port)
	}
	return nil
}

// Setup loads .env, then the TOML file named by FORUMFILTER_CONFIG or the
// default path. A missing default file is not an error; the defaults apply.
func Setup() (*Config, error) {
	_ = godotenv.Load()

	configPath := defaultConfigPath
	explicit := false
	if fromEnv := strings.TrimSpace(os.Getenv(configEnvVar)); fromEnv != "" {
		configPath = fromEnv
		explicit = true
	}
	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			configPath = ""
		}
	}
	return Load(configPath)
}

// Load reads the configuration at path. An empty path uses defaults and
// environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	watches, err := parseWatchConfigs(v, path)
	if err != nil {
		return nil, err
	}
	cfg.Watch = watches

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := filtering.DefaultSelectors()
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "stdout")
	v.SetDefault("store.dir", "")
	v.SetDefault("filtering.hidden_log", "")
	v.SetDefault("selectors.post", def.Post)
	v.SetDefault("selectors.post_author", def.PostAuthor)
	v.SetDefault("selectors.reply", def.Reply)
	v.SetDefault("selectors.reply_poster", def.ReplyPoster)
	v.SetDefault("selectors.reply_author", def.ReplyAuthor)
}

func validateConfig(cfg *Config) error {
	if err := ValidateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}

	if cfg.Server.Listen == "" {
		return errors.New("server.listen is required")
	}
	if err := ValidateAddress(cfg.Server.Listen); err != nil {
		return fmt.Errorf("invalid server.listen: %w", err)
	}

	if dir := cfg.Store.Dir; dir != "" {
		if info, err := os.Stat(dir); err == nil && !info.IsDir() {
			return fmt.Errorf("store.dir %s is not a directory", dir)
		}
	}

	seen := make(map[string]bool, len(cfg.Watch))
	for i, w := range cfg.Watch {
		if w.Input == "" || w.Output == "" {
			return fmt.Errorf("watch[%d]: input and output are required", i)
		}
		if filepath.Clean(w.Input) == filepath.Clean(w.Output) {
			return fmt.Errorf("watch[%d]: output must differ from input", i)
		}
		if seen[filepath.Clean(w.Input)] {
			return fmt.Errorf("watch[%d]: input %s is watched twice", i, w.Input)
		}
		seen[filepath.Clean(w.Input)] = true
	}

	return nil
}

// parseWatchConfigs decodes the [[watch]] tables. Relative paths are taken
// relative to the config file.
func parseWatchConfigs(v *viper.Viper, configPath string) ([]WatchConfig, error) {
	raw := v.Get("watch")
	if raw == nil {
		return nil, nil
	}
	tables, ok := raw.([]interface{})
	if !ok {
		if typed, isMaps := raw.([]map[string]interface{}); isMaps {
			for _, m := range typed {
				tables = append(tables, m)
			}
		} else {
			return nil, errors.New("watch must be an array of tables")
		}
	}

	base := ""
	if configPath != "" {
		base = filepath.Dir(configPath)
	}

	watches := make([]WatchConfig, 0, len(tables))
	for i, table := range tables {
		subMap, ok := table.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("watch[%d] must be a table", i)
		}
		var w WatchConfig
		if err := mapstructure.Decode(subMap, &w); err != nil {
			return nil, fmt.Errorf("parse watch[%d]: %w", i, err)
		}
		w.Input = resolvePath(base, w.Input)
		w.Output = resolvePath(base, w.Output)
		watches = append(watches, w)
	}
	return watches, nil
}

func resolvePath(base, path string) string {
	if path == "" || base == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
