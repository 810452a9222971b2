// Package config provides configuration loading and management for accord.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Dir is the per-project state directory.
const Dir = ".accord"

// EnvPrefix prefixes environment overrides, e.g. ACCORD_DATABASE_PATH.
const EnvPrefix = "ACCORD"

// Config is the root configuration.
type Config struct {
	Orchestrator Orchestrator               `json:"orchestrator" mapstructure:"orchestrator"`
	Database     Database                   `json:"database"     mapstructure:"database"`
	Retention    RetentionPolicy            `json:"retention"    mapstructure:"retention"`
	Validators   map[string]ValidatorConfig `json:"validators"   mapstructure:"validators"`
	Server       Server                     `json:"server"       mapstructure:"server"`
}

// Orchestrator bounds verification runs.
type Orchestrator struct {
	Concurrency     int           `json:"concurrency,omitempty"      mapstructure:"concurrency"`
	Deadline        time.Duration `json:"deadline,omitempty"         mapstructure:"deadline"`
	TeardownTimeout time.Duration `json:"teardown_timeout,omitempty" mapstructure:"teardown_timeout"`
}

// Database locates the SQLite file.
type Database struct {
	Path string `json:"path" mapstructure:"path"`
}

// RetentionPolicy defines how much verification history to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// Server configures the read-only HTTP API.
type Server struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// ValidatorConfig declares one registered validator. Type selects the implementation; the
// other fields apply to the types that use them.
type ValidatorConfig struct {
	Type     string         `json:"type"               mapstructure:"type"`
	Version  string         `json:"version,omitempty"  mapstructure:"version"`
	Timeout  time.Duration  `json:"timeout,omitempty"  mapstructure:"timeout"`
	Cmd      []string       `json:"cmd,omitempty"      mapstructure:"cmd"`
	Dir      string         `json:"dir,omitempty"      mapstructure:"dir"`
	Expect   string         `json:"expect,omitempty"   mapstructure:"expect"`
	Sandbox  []string       `json:"sandbox,omitempty"  mapstructure:"sandbox"`
	Requires []string       `json:"requires,omitempty" mapstructure:"requires"`
	Network  bool           `json:"network,omitempty"  mapstructure:"network"`
	Model    string         `json:"model,omitempty"    mapstructure:"model"`
	UseTTY   *bool          `json:"use_tty,omitempty"  mapstructure:"use_tty"`
	Params   map[string]any `json:"params,omitempty"   mapstructure:"params"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		Database:  Database{Path: filepath.Join(Dir, "accord.db")},
		Retention: RetentionPolicy{KeepLast: 100},
		Server:    Server{Addr: "127.0.0.1:8474"},
		Validators: map[string]ValidatorConfig{
			"schema": {Type: "schema"},
			"expr":   {Type: "expr"},
			"files":  {Type: "files"},
			"metric": {Type: "metric"},
		},
	}
}

// DefaultPath is the config file looked up under root.
func DefaultPath(root string) string {
	return filepath.Join(root, Dir, "config.yaml")
}

// Load reads the config file at path over the defaults, applies ACCORD_* environment
// overrides, validates the raw settings against the schema and decodes them.
// A missing file is not an error when allowMissing is set.
func Load(path string, allowMissing bool) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext == "json" {
		v.SetConfigType("json")
	} else {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !allowMissing || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := ValidateSettings(v.AllSettings()); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("retention.keep_last", d.Retention.KeepLast)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("orchestrator.concurrency", 0)
	for name, vc := range d.Validators {
		v.SetDefault("validators."+name+".type", vc.Type)
	}
}

// Validate checks cross-field rules the schema cannot express.
func (c Config) Validate() error {
	var errs []string
	if c.Orchestrator.Concurrency < 0 {
		errs = append(errs, "orchestrator.concurrency must be >= 0")
	}
	if c.Orchestrator.Deadline < 0 {
		errs = append(errs, "orchestrator.deadline must be >= 0")
	}
	for name, vc := range c.Validators {
		if vc.Timeout < 0 {
			errs = append(errs, fmt.Sprintf("validators.%s.timeout must be >= 0", name))
		}
		if (vc.Type == "command" || vc.Type == "agentreview") && len(vc.Cmd) == 0 {
			errs = append(errs, fmt.Sprintf("validators.%s.cmd is required for type %s", name, vc.Type))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	sort.Strings(errs)
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
}

// DBPath resolves the database path against root.
func (c Config) DBPath(root string) string {
	if filepath.IsAbs(c.Database.Path) {
		return c.Database.Path
	}
	return filepath.Join(root, c.Database.Path)
}
