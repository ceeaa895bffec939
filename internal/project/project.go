// Package project reads the project configuration file and answers the one
// question the serve command asks of it: which base URL does an environment
// use.
//
// The file is looked up in the project directory as devserve.yaml,
// devserve.yml or devserve.toml, first match wins:
//
//	baseURL: /
//	environments:
//	  production:
//	    baseURL: /my-app/
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/devserve/internal/model"
)

// FileNames lists the recognized configuration files in lookup order.
var FileNames = []string{"devserve.yaml", "devserve.yml", "devserve.toml"}

// Environment holds the per-environment settings.
type Environment struct {
	BaseURL string `yaml:"baseURL" toml:"baseURL"`
}

// Config is the parsed project configuration.
type Config struct {
	// DefaultBaseURL applies to environments that do not set their own.
	DefaultBaseURL string `yaml:"baseURL" toml:"baseURL"`

	// Environments maps an environment name to its settings.
	Environments map[string]Environment `yaml:"environments" toml:"environments"`

	// Path is the file the configuration was read from; empty when no
	// file exists.
	Path string `yaml:"-" toml:"-"`
}

// Load reads the first configuration file found in dir. A project without
// one gets an empty Config, which resolves every environment to "/".
func Load(dir string) (*Config, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, model.WrapCLIError(model.ExitConfigError, fmt.Sprintf("failed to read %s", path), err)
		}

		cfg, err := parse(name, data)
		if err != nil {
			return nil, model.WrapCLIError(model.ExitConfigError, fmt.Sprintf("failed to parse %s", path), err)
		}
		cfg.Path = path
		return cfg, nil
	}
	return &Config{}, nil
}

func parse(name string, data []byte) (*Config, error) {
	var cfg Config
	switch filepath.Ext(name) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// BaseURL returns the base URL for env: the environment's own value, else
// the top-level value, else model.DefaultBaseURL.
func (c *Config) BaseURL(env string) string {
	if e, ok := c.Environments[model.NormalizeEnvironment(env)]; ok && e.BaseURL != "" {
		return e.BaseURL
	}
	if c.DefaultBaseURL != "" {
		return c.DefaultBaseURL
	}
	return model.DefaultBaseURL
}
