package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file on top of the defaults.
// Variables from a .env file next to the working directory are loaded first
// so that ${VAR} references in the YAML can resolve to them.
func Load(path string, options ...Option) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	load := func(c *Config) error {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		if c.Cache.Partitions == nil {
			c.Cache.Partitions = DefaultPartitions()
		}
		return nil
	}

	return NewConfig(append([]Option{load}, options...)...)
}
