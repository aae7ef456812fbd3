// Package config loads a nation's constitution: the YAML document naming the
// nation, its founder, its root domain and tokens, and the engine tuning it
// runs under. Driver selection stays in environment variables so one
// constitution can move between deployments.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"podium/internal/core"
	"podium/internal/entities"
	"podium/pkg/logging"
)

// Environment variables overriding constitution fields.
const (
	EnvAdminName = "PODIUM_ADMIN_NAME"
	EnvAPIListen = "PODIUM_API_LISTEN"
	EnvLogLevel  = "PODIUM_LOG_LEVEL"
)

// Designation names a nation. Family groups related nations; tags subdivide
// further. Together with the admin name they form the record namespace.
type Designation struct {
	Name   string   `yaml:"name"`
	Family string   `yaml:"family"`
	Tags   []string `yaml:"tags"`
}

// Founder describes the nation's first member, created at launch.
type Founder struct {
	Alias     string         `yaml:"alias"`
	Profile   map[string]any `yaml:"profile"`
	FirstPost string         `yaml:"firstPost"`
}

// Domain describes the nation's root domain and the tokens it issues.
type Domain struct {
	Name    string               `yaml:"name"`
	Profile map[string]any       `yaml:"profile"`
	Tokens  []entities.TokenGrant `yaml:"tokens"`
}

// Affinity tunes the bias fold over reaction history.
type Affinity struct {
	Dimensionality int     `yaml:"dimensionality"`
	StepSize       float64 `yaml:"stepSize"`
	StepNorm       float64 `yaml:"stepNorm"`
}

// Balancing groups the economic tuning knobs.
type Balancing struct {
	Affinity Affinity           `yaml:"affinity"`
	Rewards  map[string]float64 `yaml:"rewards"`
}

// API configures the websocket client channel.
type API struct {
	Listen string `yaml:"listen"`
}

// Logging configures the structured logger.
type Logging struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Engine tunes the entity core.
type Engine struct {
	SyncTimeout Duration `yaml:"syncTimeout"`
}

// Duration decodes YAML scalars like "2s" through time.ParseDuration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Constitution is the full configuration document.
type Constitution struct {
	Admin       string      `yaml:"admin"`
	Designation Designation `yaml:"designation"`
	Services    []string    `yaml:"services"`
	Founder     Founder     `yaml:"founder"`
	Domain      Domain      `yaml:"domain"`
	Balancing   Balancing   `yaml:"balancing"`
	Engine      Engine      `yaml:"engine"`
	API         API         `yaml:"api"`
	Logging     Logging     `yaml:"logging"`
}

// Load reads and validates a constitution file, applying environment
// overrides.
func Load(path string) (Constitution, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Constitution{}, fmt.Errorf("reading constitution %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a constitution document, applying environment overrides.
func Parse(raw []byte) (Constitution, error) {
	var c Constitution
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Constitution{}, fmt.Errorf("parsing constitution: %w", err)
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Constitution{}, err
	}
	return c, nil
}

func (c *Constitution) applyEnv() {
	if v := os.Getenv(EnvAdminName); v != "" {
		c.Admin = v
	}
	if v := os.Getenv(EnvAPIListen); v != "" {
		c.API.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks the fields a nation cannot launch without.
func (c Constitution) Validate() error {
	if c.Admin == "" {
		return fmt.Errorf("constitution: admin name is required")
	}
	if c.Designation.Name == "" {
		return fmt.Errorf("constitution: designation.name is required")
	}
	if c.Founder.Alias == "" {
		return fmt.Errorf("constitution: founder.alias is required")
	}
	if c.Domain.Name == "" {
		return fmt.Errorf("constitution: domain.name is required")
	}
	for i, grant := range c.Domain.Tokens {
		symbol, _ := grant.Designation["symbol"].(string)
		if symbol == "" {
			return fmt.Errorf("constitution: domain.tokens[%d] has no symbol", i)
		}
	}
	return nil
}

// Fullname is the nation's record namespace: admin, family, name, and tags
// joined with pipes. Atoms from other namespaces are rejected during
// ingestion.
func (c Constitution) Fullname() string {
	parts := []string{c.Admin}
	if c.Designation.Family != "" {
		parts = append(parts, c.Designation.Family)
	}
	parts = append(parts, c.Designation.Name)
	parts = append(parts, c.Designation.Tags...)
	return strings.Join(parts, "|")
}

// Filename is the fullname with path separators, used as a blob key prefix.
func (c Constitution) Filename() string {
	return strings.ReplaceAll(c.Fullname(), "|", "/")
}

// EngineConfig maps the constitution's tuning onto the entity core.
func (c Constitution) EngineConfig() core.Config {
	return core.Config{
		SyncTimeout: time.Duration(c.Engine.SyncTimeout),
		Affinity: core.AffinityParams{
			Dimensionality: c.Balancing.Affinity.Dimensionality,
			StepSize:       c.Balancing.Affinity.StepSize,
			StepNorm:       c.Balancing.Affinity.StepNorm,
		}.Normalized(),
		ReactionRewards: c.Balancing.Rewards,
	}
}

// LogLevel maps the configured level name onto the logging package.
func (c Constitution) LogLevel() logging.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// HasService reports whether the constitution enables a named service. An
// empty services list enables everything.
func (c Constitution) HasService(name string) bool {
	if len(c.Services) == 0 {
		return true
	}
	for _, s := range c.Services {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}
