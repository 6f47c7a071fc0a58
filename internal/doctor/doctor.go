// Package doctor checks that a loaded configuration can actually run workers:
// interpreter on PATH, script present, state directory writable.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattjoyce/adworker/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

var unresolvedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor validates a configuration against the host it will run on.
type Doctor struct {
	cfg *config.Config

	lookPath func(string) (string, error)
	stat     func(string) (os.FileInfo, error)
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg, lookPath: exec.LookPath, stat: os.Stat}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateInterpreter(r)
	d.validateScript(r)
	d.validateStateDir(r)
	d.validateAPIConfig(r)
	d.warnMissingEnvVars(r)
	d.warnConcurrency(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateInterpreter(r *Result) {
	interp := d.cfg.Worker.Interpreter
	if interp == "" {
		d.addError(r, "worker", "worker.interpreter", "interpreter is required")
		return
	}
	if _, err := d.lookPath(interp); err != nil {
		d.addError(r, "worker", "worker.interpreter", fmt.Sprintf("%q not found: %v", interp, err))
	}
}

func (d *Doctor) validateScript(r *Result) {
	script := d.cfg.Worker.Script
	if script == "" {
		// Interpreter is the worker itself.
		return
	}
	info, err := d.stat(script)
	switch {
	case err != nil:
		d.addError(r, "worker", "worker.script", fmt.Sprintf("cannot stat %s: %v", script, err))
	case info.IsDir():
		d.addError(r, "worker", "worker.script", fmt.Sprintf("%s is a directory", script))
	}

	if dir := d.cfg.Worker.Dir; dir != "" {
		if info, err := d.stat(dir); err != nil || !info.IsDir() {
			d.addError(r, "worker", "worker.dir", fmt.Sprintf("%s is not a directory", dir))
		}
	}
}

func (d *Doctor) validateStateDir(r *Result) {
	dir := filepath.Dir(d.cfg.State.Path)
	info, err := d.stat(dir)
	if err != nil {
		d.addWarning(r, "state", "state.path", fmt.Sprintf("directory %s does not exist yet and will be created", dir))
		return
	}
	if !info.IsDir() {
		d.addError(r, "state", "state.path", fmt.Sprintf("%s is not a directory", dir))
	}
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey == "" {
		d.addError(r, "api", "api.auth.api_key", "api_key is required when the API is enabled")
	} else if len(d.cfg.API.Auth.APIKey) < 16 {
		d.addWarning(r, "api", "api.auth.api_key", "api_key is shorter than 16 characters")
	}
	if strings.HasPrefix(d.cfg.API.Listen, "0.0.0.0") || strings.HasPrefix(d.cfg.API.Listen, ":") {
		d.addWarning(r, "api", "api.listen", "API listens on all interfaces")
	}
}

func (d *Doctor) warnMissingEnvVars(r *Result) {
	for i, kv := range d.cfg.Worker.Env {
		if m := unresolvedVar.FindStringSubmatch(kv); m != nil {
			d.addWarning(r, "worker", fmt.Sprintf("worker.env[%d]", i), fmt.Sprintf("environment variable ${%s} is not set", m[1]))
		}
		if !strings.Contains(kv, "=") {
			d.addError(r, "worker", fmt.Sprintf("worker.env[%d]", i), "entry must be KEY=VALUE")
		}
	}
}

func (d *Doctor) warnConcurrency(r *Result) {
	if d.cfg.Worker.MaxConcurrency > 100 {
		d.addWarning(r, "worker", "worker.max_concurrency",
			fmt.Sprintf("%d concurrent workers may exceed upstream API rate limits", d.cfg.Worker.MaxConcurrency))
	}
	if d.cfg.Worker.Timeout == 0 {
		d.addWarning(r, "worker", "worker.timeout", "no timeout: a hung worker holds its slot forever")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
