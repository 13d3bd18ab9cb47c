package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models dochelper.yml.
type Config struct {
	Project struct {
		ID          string `yaml:"id"`
		Description string `yaml:"description,omitempty"`
	} `yaml:"project"`
	Engine struct {
		// MaxExprDepth bounds formula nesting at parse time.
		MaxExprDepth int `yaml:"max_expr_depth"`
		// MaxChainDepth bounds sequential control-rule waves per change.
		MaxChainDepth int `yaml:"max_chain_depth"`
	} `yaml:"engine"`
	Server struct {
		Addr     string `yaml:"addr,omitempty"`
		BasePath string `yaml:"base_path,omitempty"`
	} `yaml:"server"`
}

const (
	defaultMaxExprDepth  = 40
	defaultMaxChainDepth = 8
)

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dochelper.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Engine.MaxExprDepth == 0 {
		c.Engine.MaxExprDepth = defaultMaxExprDepth
	}
	if c.Engine.MaxChainDepth == 0 {
		c.Engine.MaxChainDepth = defaultMaxChainDepth
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Engine.MaxExprDepth < 1 {
		return fmt.Errorf("config.engine.max_expr_depth must be positive")
	}
	if c.Engine.MaxChainDepth < 1 {
		return fmt.Errorf("config.engine.max_chain_depth must be positive")
	}
	return nil
}

// GenerateDefault returns default config YAML for a new workspace.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
}

const defaultTemplate = `project:
  id: %s

engine:
  max_expr_depth: 40
  max_chain_depth: 8

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`
