package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ErrNoConfig is returned by DiscoverConfigPath when no candidate exists.
var ErrNoConfig = errors.New("no config found")

// Load reads, interpolates and validates the configuration at configPath.
// Fields absent from the file keep their Defaults() value.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", absPath, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}

	sum := blake3.Sum256(data)
	cfg.SourceFile = absPath
	cfg.Checksum = hex.EncodeToString(sum[:])
	cfg.resolvePaths(filepath.Dir(absPath))
	return cfg, nil
}

// Parse decodes YAML config bytes over Defaults() and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// resolvePaths anchors relative file paths at the config file's directory.
// The interpreter is left alone so it can be looked up on $PATH.
func (c *Config) resolvePaths(baseDir string) {
	anchor := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}
	c.Worker.Script = anchor(c.Worker.Script)
	c.Worker.Dir = anchor(c.Worker.Dir)
	c.State.Path = anchor(c.State.Path)
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $ADWORKER_CONFIG, ~/.config/adworker/config.yaml,
// /etc/adworker/config.yaml, ./config.yaml.
func DiscoverConfigPath() (string, error) {
	var candidates []string
	if p := os.Getenv("ADWORKER_CONFIG"); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "adworker", "config.yaml"))
	}
	candidates = append(candidates, "/etc/adworker/config.yaml", "./config.yaml")

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (checked: $ADWORKER_CONFIG, ~/.config/adworker/config.yaml, /etc/adworker/config.yaml, ./config.yaml)", ErrNoConfig)
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place and rejected by validate where it matters.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Worker.Interpreter == "" {
		return fmt.Errorf("worker.interpreter is required")
	}
	if err := unresolved("worker.script", cfg.Worker.Script); err != nil {
		return err
	}
	if cfg.Worker.MaxConcurrency <= 0 {
		return fmt.Errorf("worker.max_concurrency must be positive (got %d)", cfg.Worker.MaxConcurrency)
	}
	if cfg.Worker.Timeout < 0 {
		return fmt.Errorf("worker.timeout must not be negative")
	}
	if cfg.Worker.TerminationGrace < 0 {
		return fmt.Errorf("worker.termination_grace must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if cfg.State.Retention < 0 {
		return fmt.Errorf("state.retention must not be negative")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" {
			return fmt.Errorf("api.auth.api_key is required when the API is enabled")
		}
	}

	return nil
}
