package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"podium/pkg/logging"
)

const validConstitution = `
admin: keeper
designation:
  name: agora
  family: city
  tags: [alpha, test]
services: [api]
founder:
  alias: solon
  profile:
    displayName: Solon
  firstPost: "welcome to the agora"
domain:
  name: forum
  tokens:
    - designation: {symbol: POD, name: Podium}
      seedVolume: 1000
      config:
        pricing: {post: 10, character: 1}
balancing:
  affinity:
    dimensionality: 5
    stepSize: 0.02
    stepNorm: 2.0
  rewards:
    POD: 0.5
engine:
  syncTimeout: 2s
api:
  listen: ":9000"
logging:
  level: debug
  json: true
`

func TestParseValidConstitution(t *testing.T) {
	c, err := Parse([]byte(validConstitution))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if c.Admin != "keeper" || c.Designation.Name != "agora" {
		t.Fatalf("parsed %+v", c)
	}
	if len(c.Domain.Tokens) != 1 {
		t.Fatalf("parsed %d token grants, want 1", len(c.Domain.Tokens))
	}
	grant := c.Domain.Tokens[0]
	if grant.Designation["symbol"] != "POD" || grant.SeedVolume != 1000 {
		t.Fatalf("grant = %+v", grant)
	}
	if time.Duration(c.Engine.SyncTimeout) != 2*time.Second {
		t.Fatalf("sync timeout = %v", c.Engine.SyncTimeout)
	}
	if c.API.Listen != ":9000" {
		t.Fatalf("api listen = %q", c.API.Listen)
	}
}

func TestFullnameAndFilename(t *testing.T) {
	c, err := Parse([]byte(validConstitution))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if got := c.Fullname(); got != "keeper|city|agora|alpha|test" {
		t.Fatalf("fullname = %q", got)
	}
	if got := c.Filename(); got != "keeper/city/agora/alpha/test" {
		t.Fatalf("filename = %q", got)
	}

	// Family and tags are optional parts of the namespace.
	bare := Constitution{Admin: "keeper", Designation: Designation{Name: "agora"}}
	if got := bare.Fullname(); got != "keeper|agora" {
		t.Fatalf("bare fullname = %q", got)
	}
}

func TestValidateRejectsIncompleteDocuments(t *testing.T) {
	cases := map[string]string{
		"missing admin":        "designation: {name: x}\nfounder: {alias: y}\ndomain: {name: z}",
		"missing name":         "admin: a\nfounder: {alias: y}\ndomain: {name: z}",
		"missing founder":      "admin: a\ndesignation: {name: x}\ndomain: {name: z}",
		"missing domain":       "admin: a\ndesignation: {name: x}\nfounder: {alias: y}",
		"token without symbol": "admin: a\ndesignation: {name: x}\nfounder: {alias: y}\ndomain:\n  name: z\n  tokens:\n    - seedVolume: 10",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvAdminName, "override-admin")
	t.Setenv(EnvAPIListen, ":7777")
	t.Setenv(EnvLogLevel, "error")

	c, err := Parse([]byte(validConstitution))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if c.Admin != "override-admin" {
		t.Fatalf("admin = %q", c.Admin)
	}
	if c.API.Listen != ":7777" {
		t.Fatalf("api listen = %q", c.API.Listen)
	}
	if c.LogLevel() != logging.LevelError {
		t.Fatalf("log level = %v", c.LogLevel())
	}
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "constitution.yaml")
	if err := os.WriteFile(path, []byte(validConstitution), 0o644); err != nil {
		t.Fatalf("writing: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if c.Designation.Name != "agora" {
		t.Fatalf("loaded %+v", c.Designation)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("loading a missing file succeeded")
	}
	if _, err := Parse([]byte("admin: [not: a: string")); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}

func TestEngineConfigNormalizesAffinity(t *testing.T) {
	c, err := Parse([]byte(validConstitution))
	if err != nil {
		t.Fatalf("parsing: %v", err)
	}
	cfg := c.EngineConfig()
	if cfg.Affinity.Dimensionality != 5 || cfg.Affinity.StepSize != 0.02 {
		t.Fatalf("affinity = %+v", cfg.Affinity)
	}
	if cfg.ReactionRewards["POD"] != 0.5 {
		t.Fatalf("rewards = %v", cfg.ReactionRewards)
	}

	// Unset affinity fields fall back to engine defaults.
	bare := Constitution{}
	if got := bare.EngineConfig().Affinity.Dimensionality; got <= 0 {
		t.Fatalf("default dimensionality = %d", got)
	}
}

func TestHasService(t *testing.T) {
	c := Constitution{Services: []string{"api", "metrics"}}
	if !c.HasService("API") || !c.HasService("metrics") {
		t.Fatal("listed services not enabled")
	}
	if c.HasService("backup") {
		t.Fatal("unlisted service enabled")
	}
	open := Constitution{}
	if !open.HasService("anything") {
		t.Fatal("empty services list must enable everything")
	}

	levels := map[string]logging.Level{
		"debug": logging.LevelDebug, "warn": logging.LevelWarn,
		"error": logging.LevelError, "": logging.LevelInfo, "bogus": logging.LevelInfo,
	}
	for name, want := range levels {
		if got := (Constitution{Logging: Logging{Level: name}}).LogLevel(); got != want {
			t.Errorf("level %q = %v, want %v", name, got, want)
		}
	}
}
