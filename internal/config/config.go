// Package config loads and resolves the process-wide Wreckit configuration.
// Configuration is loaded once at startup from (highest to lowest priority):
//  1. Command-line flags
//  2. Environment variables (WRECKIT_*)
//  3. Project config (.store/config.json in the repository root)
//  4. Home override (~/.wreckitrc.yaml)
//  5. Defaults
//
// The resolved Config is immutable for the duration of a run — nothing in
// this package mutates a Config after Load returns.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the only config.json schema version this build understands.
const SchemaVersion = 1

// AgentKind discriminates the configured agent backend variant.
type AgentKind string

const (
	AgentClaudeSDK   AgentKind = "claude_sdk"
	AgentAmpSDK      AgentKind = "amp_sdk"
	AgentCodexSDK    AgentKind = "codex_sdk"
	AgentOpencodeSDK AgentKind = "opencode_sdk"
	AgentProcess     AgentKind = "process"
	AgentRLM         AgentKind = "rlm"
	AgentSprite      AgentKind = "sprite"
	AgentMock        AgentKind = "mock"
)

// AgentConfig is the discriminated agent-backend configuration variant.
// Only the fields relevant to Kind are expected to be populated; the rest
// are ignored by the backend constructor.
type AgentConfig struct {
	Kind AgentKind `json:"kind" yaml:"kind"`

	// Model is the model identifier passed to SDK-based backends.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Command is the subprocess command for the process backend (default "claude").
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// CommandArgs are additional arguments passed to Command.
	CommandArgs []string `json:"command_args,omitempty" yaml:"command_args,omitempty"`

	// Endpoint is the HTTP endpoint for amp_sdk/opencode_sdk/rlm backends.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// APIKeyEnv names the environment variable holding the backend credential.
	// The core never reads credentials from anywhere else (see §6 Environment
	// contract): the variable is read by the agent backend each time it runs,
	// not by config.Load.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`

	// SpriteHost is the remote sandbox host for the sprite backend.
	SpriteHost string `json:"sprite_host,omitempty" yaml:"sprite_host,omitempty"`

	// BreakerMaxFailures configures the rlm backend's circuit breaker.
	BreakerMaxFailures uint32 `json:"breaker_max_failures,omitempty" yaml:"breaker_max_failures,omitempty"`
}

// SkillDef is a named capability bundle, as persisted in config.json's
// optional "skills" map.
type SkillDef struct {
	ID              string           `json:"id" yaml:"id"`
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	Tools           []string         `json:"tools" yaml:"tools"`
	MCPServers      map[string]MCP   `json:"mcp_servers,omitempty" yaml:"mcp_servers,omitempty"`
	RequiredContext []ContextRequest `json:"required_context,omitempty" yaml:"required_context,omitempty"`
}

// MCP describes an external capability endpoint.
type MCP struct {
	URL string `json:"url" yaml:"url"`
}

// ContextKind enumerates the four JIT context requirement kinds.
type ContextKind string

const (
	ContextFile     ContextKind = "file"
	ContextGitState ContextKind = "git_status"
	ContextItem     ContextKind = "item_metadata"
	ContextArtifact ContextKind = "phase_artifact"
)

// ContextRequest names one piece of material a skill needs loaded JIT.
type ContextRequest struct {
	Kind ContextKind `json:"kind" yaml:"kind"`
	// Path is the file path (for ContextFile) or artifact name (for ContextArtifact).
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Config is the single process-wide resolved configuration object.
type Config struct {
	SchemaVersion int                 `json:"schema_version" yaml:"schema_version"`
	BaseBranch    string              `json:"base_branch" yaml:"base_branch"`
	BranchPrefix  string              `json:"branch_prefix" yaml:"branch_prefix"`
	Agent         AgentConfig         `json:"agent" yaml:"agent"`
	MaxIterations int                 `json:"max_iterations" yaml:"max_iterations"`
	TimeoutSecs   int                 `json:"timeout_seconds" yaml:"timeout_seconds"`
	PhaseSkills   map[string][]string `json:"phase_skills,omitempty" yaml:"phase_skills,omitempty"`
	Skills        map[string]SkillDef `json:"skills,omitempty" yaml:"skills,omitempty"`
	StoreRoot     string              `json:"-" yaml:"-"` // resolved, not persisted
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		SchemaVersion: SchemaVersion,
		BaseBranch:    "main",
		BranchPrefix:  "wreckit/",
		Agent:         AgentConfig{Kind: AgentMock},
		MaxIterations: 100,
		TimeoutSecs:   1800,
		StoreRoot:     ".store",
	}
}

// Load resolves configuration with precedence: flags > env > project > home
// override > defaults.
// flagOverrides may be nil. cwd is the repository root to search for
// .store/config.json (the on-disk layout in §4.1).
func Load(cwd string, flagOverrides *Config) (*Config, error) {
	cfg := Default()

	homeCfg, err := loadHomeConfig()
	if err != nil {
		return nil, fmt.Errorf("load home config: %w", err)
	}
	if homeCfg != nil {
		cfg = merge(cfg, homeCfg)
	}

	projectCfg, err := loadProjectConfig(cwd)
	if err != nil {
		return nil, fmt.Errorf("load project config: %w", err)
	}
	if projectCfg != nil {
		cfg = merge(cfg, projectCfg)
	}

	cfg = applyEnv(cfg)

	if flagOverrides != nil {
		cfg = merge(cfg, flagOverrides)
	}

	if cfg.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported config schema_version %d (want %d)", cfg.SchemaVersion, SchemaVersion)
	}

	return cfg, nil
}

// projectConfigPath returns the path to the on-disk config.json.
func projectConfigPath(cwd string) string {
	if override := strings.TrimSpace(os.Getenv("WRECKIT_CONFIG")); override != "" {
		return override
	}
	return filepath.Join(cwd, ".store", "config.json")
}

// loadHomeConfig reads an optional per-operator override file, the one
// place YAML is accepted instead of JSON — a human-edited home-directory
// rc file benefits from comments and a looser syntax the way project
// config.json (machine-written, schema-versioned) does not.
func loadHomeConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, nil
	}
	path := filepath.Join(home, ".wreckitrc.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

func loadProjectConfig(cwd string) (*Config, error) {
	path := projectConfigPath(cwd)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv applies WRECKIT_* environment variable overrides.
func applyEnv(cfg *Config) *Config {
	if v := os.Getenv("WRECKIT_BASE_BRANCH"); v != "" {
		cfg.BaseBranch = v
	}
	if v := os.Getenv("WRECKIT_BRANCH_PREFIX"); v != "" {
		cfg.BranchPrefix = v
	}
	if v := os.Getenv("WRECKIT_AGENT_KIND"); v != "" {
		cfg.Agent.Kind = AgentKind(v)
	}
	if v := os.Getenv("WRECKIT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("WRECKIT_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TimeoutSecs = n
		}
	}
	if v := os.Getenv("WRECKIT_STORE_ROOT"); v != "" {
		cfg.StoreRoot = v
	}
	return cfg
}

// merge merges src into dst, with src values taking precedence. Zero values
// in src never override dst — callers that want to explicitly clear a field
// must do so on the returned Config directly.
func merge(dst, src *Config) *Config {
	if src.SchemaVersion != 0 {
		dst.SchemaVersion = src.SchemaVersion
	}
	if src.BaseBranch != "" {
		dst.BaseBranch = src.BaseBranch
	}
	if src.BranchPrefix != "" {
		dst.BranchPrefix = src.BranchPrefix
	}
	if src.Agent.Kind != "" {
		dst.Agent = src.Agent
	}
	if src.MaxIterations != 0 {
		dst.MaxIterations = src.MaxIterations
	}
	if src.TimeoutSecs != 0 {
		dst.TimeoutSecs = src.TimeoutSecs
	}
	if src.StoreRoot != "" {
		dst.StoreRoot = src.StoreRoot
	}
	if src.PhaseSkills != nil {
		dst.PhaseSkills = src.PhaseSkills
	}
	if src.Skills != nil {
		dst.Skills = src.Skills
	}
	return dst
}

// Save writes cfg to path atomically (sibling temp file + rename), mirroring
// the repository store's write discipline so config.json never appears
// half-written to a concurrent reader.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-config-")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename config into place: %w", err)
	}
	success = true
	return nil
}
