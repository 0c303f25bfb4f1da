// Package config handles project configuration and the .tollgate directory
// structure. Every project that uses tollgate gets a .tollgate/ folder in its
// root holding pipelines, run history and logs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/tollgate/internal/release"
)

const (
	// Dir is the name of the directory we create in each project.
	Dir = ".tollgate"

	defaultTagPrefix  = "v"
	defaultJobTimeout = 30 * time.Minute
	defaultKeepRuns   = 20
)

const defaultProjectConfigYAML = `# tollgate project configuration
version: 1

release:
  # Stands in for the previous version until the first release tag exists.
  floor_version: 0.1.0
  tag_prefix: v
  # Minimum bump for a breaking API change while the major version is 0
  # (minor or major).
  pre_stable_breaking: major

runtime:
  # 0 runs every job instance at once.
  max_parallel: 0
  job_timeout: 30m
  keep_runs: 20

pipelines:
  dir: .tollgate/pipelines

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765
`

// ReleaseConfig configures the version arbiter and release gate.
type ReleaseConfig struct {
	FloorVersion      string `yaml:"floor_version"`
	TagPrefix         string `yaml:"tag_prefix"`
	PreStableBreaking string `yaml:"pre_stable_breaking"`
	ChangelogBullet   string `yaml:"changelog_bullet,omitempty"`
}

// RuntimeConfig bounds pipeline execution.
type RuntimeConfig struct {
	MaxParallel int    `yaml:"max_parallel"`
	JobTimeout  string `yaml:"job_timeout"`
	KeepRuns    int    `yaml:"keep_runs"`
}

// PipelinesConfig locates pipeline definitions.
type PipelinesConfig struct {
	Dir string `yaml:"dir"`
}

// BridgeConfig configures the HTTP trigger intake.
type BridgeConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	// Token, when set, must be sent as "Authorization: Bearer <token>".
	Token string `yaml:"token,omitempty"`
}

// ProjectConfig models .tollgate/config.yaml.
type ProjectConfig struct {
	Version   int             `yaml:"version"`
	Release   ReleaseConfig   `yaml:"release"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Pipelines PipelinesConfig `yaml:"pipelines"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// Config holds the runtime configuration for tollgate.
type Config struct {
	// ProjectDir is the repository root tollgate operates on.
	ProjectDir string
	// StateDir is ProjectDir/.tollgate.
	StateDir string

	Project ProjectConfig
}

// InitDir creates the .tollgate directory structure in the given project
// directory and writes a default config when none exists.
//
// Structure created:
// .tollgate/
// ├── config.yaml
// ├── logs/         <- process log
// ├── runs/         <- one directory per pipeline run
// ├── pipelines/    <- pipeline definitions (YAML or JSONC)
// └── tools/        <- project check tools (YAML or Go)
func InitDir(projectDir string) error {
	stateDir := filepath.Join(projectDir, Dir)
	for _, dir := range []string{
		filepath.Join(stateDir, "logs"),
		filepath.Join(stateDir, "runs"),
		filepath.Join(stateDir, "pipelines"),
		filepath.Join(stateDir, "tools"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(stateDir, "config.yaml"))
}

// NewConfig loads the project configuration, applying defaults and
// environment overrides. A missing config file is not an error.
func NewConfig(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{
		ProjectDir: abs,
		StateDir:   filepath.Join(abs, Dir),
		Project:    defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.Project.applyEnvOverrides(os.Getenv); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.StateDir, "logs")
}

// RunsDir returns the directory holding one subdirectory per run.
func (c *Config) RunsDir() string {
	return filepath.Join(c.StateDir, "runs")
}

// PipelinesDir returns the resolved pipeline definition directory.
func (c *Config) PipelinesDir() string {
	return c.Project.Pipelines.Dir
}

// ToolsDir holds project check tool definitions.
func (c *Config) ToolsDir() string {
	return filepath.Join(c.StateDir, "tools")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.StateDir, "config.yaml")
}

// ArbiterPolicy converts the release section into the arbiter's policy.
func (c *Config) ArbiterPolicy() release.Policy {
	policy := release.DefaultPolicy()
	if v, err := semver.ParseTolerant(c.Project.Release.FloorVersion); err == nil {
		policy.Floor = v
	}
	if c.Project.Release.ChangelogBullet != "" {
		policy.Bullet = c.Project.Release.ChangelogBullet
	}
	return policy
}

// GatePolicy converts the release section into the gate's policy.
func (c *Config) GatePolicy() release.GatePolicy {
	policy := release.DefaultGatePolicy()
	if bump, err := release.ParseBump(c.Project.Release.PreStableBreaking); err == nil {
		policy.PreStableBreaking = bump
	}
	return policy
}

// TagPrefix returns the release tag prefix.
func (c *Config) TagPrefix() string {
	return c.Project.Release.TagPrefix
}

// JobTimeout returns the default per-instance deadline.
func (c *Config) JobTimeout() time.Duration {
	d, err := time.ParseDuration(c.Project.Runtime.JobTimeout)
	if err != nil || d <= 0 {
		return defaultJobTimeout
	}
	return d
}

// MaxParallel returns the process-wide concurrency cap; 0 means unlimited.
func (c *Config) MaxParallel() int {
	return c.Project.Runtime.MaxParallel
}

// KeepRuns returns how many run directories survive pruning.
func (c *Config) KeepRuns() int {
	return c.Project.Runtime.KeepRuns
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.Project.normalize(c.ProjectDir)
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version: 1,
		Release: ReleaseConfig{
			FloorVersion:      release.DefaultFloorVersion.String(),
			TagPrefix:         defaultTagPrefix,
			PreStableBreaking: release.BumpMajor.String(),
		},
		Runtime: RuntimeConfig{
			JobTimeout: defaultJobTimeout.String(),
			KeepRuns:   defaultKeepRuns,
		},
		Pipelines: PipelinesConfig{Dir: filepath.Join(Dir, "pipelines")},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	defaults := defaultProjectConfig()
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Release.FloorVersion) == "" {
		pc.Release.FloorVersion = defaults.Release.FloorVersion
	}
	if strings.TrimSpace(pc.Release.PreStableBreaking) == "" {
		pc.Release.PreStableBreaking = defaults.Release.PreStableBreaking
	}
	if strings.TrimSpace(pc.Runtime.JobTimeout) == "" {
		pc.Runtime.JobTimeout = defaults.Runtime.JobTimeout
	}
	if strings.TrimSpace(pc.Pipelines.Dir) == "" {
		pc.Pipelines.Dir = defaults.Pipelines.Dir
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Release.FloorVersion = strings.TrimSpace(pc.Release.FloorVersion)
	pc.Release.TagPrefix = strings.TrimSpace(pc.Release.TagPrefix)
	pc.Release.PreStableBreaking = strings.ToLower(strings.TrimSpace(pc.Release.PreStableBreaking))
	pc.Runtime.JobTimeout = strings.TrimSpace(pc.Runtime.JobTimeout)
	pc.Pipelines.Dir = resolvePath(base, pc.Pipelines.Dir)
	pc.Bridge.Host = strings.TrimSpace(pc.Bridge.Host)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if _, err := semver.ParseTolerant(pc.Release.FloorVersion); err != nil {
		return fmt.Errorf("release.floor_version: %w", err)
	}
	bump, err := release.ParseBump(pc.Release.PreStableBreaking)
	if err != nil {
		return fmt.Errorf("release.pre_stable_breaking: %w", err)
	}
	if bump.Less(release.BumpMinor) {
		return fmt.Errorf("release.pre_stable_breaking must be minor or major")
	}
	if pc.Runtime.MaxParallel < 0 {
		return fmt.Errorf("runtime.max_parallel must be >= 0")
	}
	if d, err := time.ParseDuration(pc.Runtime.JobTimeout); err != nil || d <= 0 {
		return fmt.Errorf("runtime.job_timeout must be a positive duration, got %q", pc.Runtime.JobTimeout)
	}
	if pc.Runtime.KeepRuns < 0 {
		return fmt.Errorf("runtime.keep_runs must be >= 0")
	}
	if pc.Bridge.Port < 0 || pc.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be between 0 and 65535")
	}
	return nil
}

// applyEnvOverrides layers TOLLGATE_* variables over the file values.
func (pc *ProjectConfig) applyEnvOverrides(getenv func(string) string) error {
	if value := strings.TrimSpace(getenv("TOLLGATE_MAX_PARALLEL")); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("TOLLGATE_MAX_PARALLEL: invalid value %q", value)
		}
		pc.Runtime.MaxParallel = n
	}
	if value := strings.TrimSpace(getenv("TOLLGATE_JOB_TIMEOUT")); value != "" {
		if d, err := time.ParseDuration(value); err != nil || d <= 0 {
			return fmt.Errorf("TOLLGATE_JOB_TIMEOUT: invalid duration %q", value)
		}
		pc.Runtime.JobTimeout = value
	}
	if value := strings.TrimSpace(getenv("TOLLGATE_BRIDGE_ENABLED")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("TOLLGATE_BRIDGE_ENABLED: invalid value %q", value)
		}
		pc.Bridge.Enabled = &enabled
	}
	if host := strings.TrimSpace(getenv("TOLLGATE_BRIDGE_HOST")); host != "" {
		pc.Bridge.Host = host
	}
	if token := strings.TrimSpace(getenv("TOLLGATE_BRIDGE_TOKEN")); token != "" {
		pc.Bridge.Token = token
	}
	if value := strings.TrimSpace(getenv("TOLLGATE_BRIDGE_PORT")); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("TOLLGATE_BRIDGE_PORT: invalid port %q", value)
		}
		pc.Bridge.Port = port
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
