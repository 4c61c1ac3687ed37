package config

import (
	"os"
	"path/filepath"

	"github.com/m4xw311/conductor/errors"
	"gopkg.in/yaml.v3"
)

const (
	DirName        = ".conductor"
	configFileName = "config.yaml"
)

type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// Role is a named model and persona a conversation can switch to.
type Role struct {
	Model  string `yaml:"model"`
	Prompt string `yaml:"prompt,omitempty"`
}

// RateLimit is the provider policy for one model.
type RateLimit struct {
	MaxContext        int `yaml:"max_context"`
	TokensPerMinute   int `yaml:"tpm"`
	RequestsPerMinute int `yaml:"rpm"`
}

type Settings struct {
	RateLimiterEnabled bool `yaml:"rate_limiter_enabled"`
	SandboxEnabled     bool `yaml:"sandbox_enabled"`
}

// Compression holds the single threshold pair used wherever the transcript
// is compacted. Both values are fractions of the model's max context.
type Compression struct {
	Trigger float64 `yaml:"trigger"`
	Budget  float64 `yaml:"budget"`
}

type Brainstorm struct {
	Model  string `yaml:"model"`
	Rounds int    `yaml:"rounds"`
}

type Log struct {
	File      string `yaml:"file"`
	Verbosity int    `yaml:"verbosity"`
}

type Config struct {
	LLMClient            string               `yaml:"llm"`
	Model                string               `yaml:"model"`
	BaseURL              string               `yaml:"base_url"`
	APIKeyEnv            string               `yaml:"api_key_env"`
	SystemPrompt         string               `yaml:"system_prompt"`
	AdditionalMCPServers []MCPServer          `yaml:"additional_mcp_servers"`
	AllowedCommands      map[string][]string  `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess     `yaml:"filesystem_access"`
	Roles                map[string]Role      `yaml:"roles"`
	RateLimits           map[string]RateLimit `yaml:"rate_limits"`
	Settings             Settings             `yaml:"settings"`
	Compression          Compression          `yaml:"compression"`
	Brainstorm           Brainstorm           `yaml:"brainstorm"`
	Log                  Log                  `yaml:"log"`

	approvalsPath string
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. Both are layered on top
// of Default().
func LoadConfig() (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, DirName, configFileName)
		if err := loadIfExists(userConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading user config")
		}
		cfg.approvalsPath = filepath.Join(home, DirName, approvalsFileName)
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, DirName, configFileName)
	if err := loadIfExists(projectConfigPath, cfg); err != nil {
		return nil, errors.Wrapf(err, "error loading project config")
	}

	if cfg.approvalsPath != "" {
		if err := cfg.loadApprovals(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// LoadFile layers a single YAML file over the defaults. Used by tests and
// by the --config flag.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "could not parse config %s", path)
	}
	return cfg, nil
}

func loadIfExists(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	// Maps merge key by key; scalars present in the file replace earlier values.
	return yaml.Unmarshal(data, cfg)
}

// GetRole returns the named role. Names are matched case-insensitively by
// callers lower-casing directives before lookup.
func (c *Config) GetRole(name string) (Role, bool) {
	r, ok := c.Roles[name]
	return r, ok
}

// GetRateLimit returns the policy for model and whether one is configured.
func (c *Config) GetRateLimit(model string) (RateLimit, bool) {
	rl, ok := c.RateLimits[model]
	return rl, ok
}

// ContextLimit is the model's max context, falling back to 128k tokens for
// models without a configured policy.
func (c *Config) ContextLimit(model string) int {
	if rl, ok := c.RateLimits[model]; ok && rl.MaxContext > 0 {
		return rl.MaxContext
	}
	return defaultContextLimit
}

// SetApprovalsPath points allow-list persistence at path.
func (c *Config) SetApprovalsPath(path string) {
	c.approvalsPath = path
}
