// Package config loads livetable settings from defaults, an optional
// livetable.yaml and LIVETABLE_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix    = "LIVETABLE"
	maxWalkDepth = 25
)

var fileNames = []string{"livetable.yaml", "livetable.yml"}

type Config struct {
	Database DatabaseConfig `mapstructure:"database" json:"database"`
	HTTP     HTTPConfig     `mapstructure:"http" json:"http"`
	Live     LiveConfig     `mapstructure:"live" json:"live"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Catalog  CatalogConfig  `mapstructure:"catalog" json:"catalog"`
}

type DatabaseConfig struct {
	URL      string `mapstructure:"url" json:"url"`
	MaxConns int32  `mapstructure:"max_conns" json:"max_conns"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr" json:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout"`
}

// LiveConfig controls the live queries opened for websocket subscribers.
type LiveConfig struct {
	Channel string `mapstructure:"channel" json:"channel"`
	Buffer  int    `mapstructure:"buffer" json:"buffer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// CatalogConfig selects the schemas whose tables may be queried and how often
// their columns are reloaded. A zero Refresh loads them once.
type CatalogConfig struct {
	Schemas []string      `mapstructure:"schemas" json:"schemas"`
	Refresh time.Duration `mapstructure:"refresh" json:"refresh"`
}

// Load discovers and loads configuration with precedence
// env > config file > defaults. It returns the path of the file used, empty
// when none was found.
func Load(explicitPath string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := findConfigFile(explicitPath)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, path, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, path, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, path, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("live.channel", "livetable_changes")
	v.SetDefault("live.buffer", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("catalog.schemas", []string{"public"})
	v.SetDefault("catalog.refresh", time.Duration(0))
}

// Validate reports settings that cannot work, such as a missing database URL.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Live.Channel == "" {
		errs = append(errs, errors.New("live.channel must not be empty"))
	}
	if c.Live.Buffer < 0 {
		errs = append(errs, fmt.Errorf("live.buffer must not be negative, got %d", c.Live.Buffer))
	}
	if len(c.Catalog.Schemas) == 0 {
		errs = append(errs, errors.New("catalog.schemas must name at least one schema"))
	}
	return errors.Join(errs...)
}

// findConfigFile validates explicitPath if given. Otherwise it walks up from
// the working directory looking for livetable.yaml, stopping at a .git
// directory.
func findConfigFile(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	for range maxWalkDepth {
		for _, name := range fileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}
