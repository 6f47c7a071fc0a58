package config

import "time"

// Config represents the complete adworker configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Worker  WorkerConfig  `yaml:"worker"`
	State   StateConfig   `yaml:"state"`
	API     APIConfig     `yaml:"api,omitempty"`
	Metrics MetricsConfig `yaml:"metrics"`

	// SourceFile and Checksum describe the file the config was loaded from.
	SourceFile string `yaml:"-"`
	Checksum   string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// WorkerConfig describes how worker processes are launched and how many may
// run at once.
type WorkerConfig struct {
	Interpreter      string        `yaml:"interpreter"`
	Script           string        `yaml:"script"`
	Dir              string        `yaml:"dir"`
	Env              []string      `yaml:"env,omitempty"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
	Timeout          time.Duration `yaml:"timeout"`
	TerminationGrace time.Duration `yaml:"termination_grace"`
}

// StateConfig defines job log storage settings.
type StateConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns a Config with all defaults applied.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "adworker",
			LogLevel: "info",
		},
		Worker: WorkerConfig{
			Interpreter:      "php",
			Script:           "./worker/index.php",
			MaxConcurrency:   30,
			TerminationGrace: 5 * time.Second,
		},
		State: StateConfig{
			Path:      "./data/adworker.db",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8080",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
