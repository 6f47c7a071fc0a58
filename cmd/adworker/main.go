// Command adworker runs ads API operations through a pool of worker
// processes and serves them over HTTP.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/adworker/internal/config"
)

const version = "0.3.0"

// exitError carries a process exit code out of a command. Quiet errors
// have already been reported by the command itself.
type exitError struct {
	code  int
	err   error
	quiet bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := BuildCLI().Execute(); err != nil {
		os.Exit(reportError(os.Stderr, err))
	}
}

// BuildCLI assembles the command tree.
func BuildCLI() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "adworker",
		Short: "Bounded worker pool for ads reporting operations",
		Long: `adworker queues ads API operations and runs each one in its own
worker process, never more than worker.max_concurrency at once.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: discovered)")

	load := func() (*config.Config, error) {
		path := configPath
		if path == "" {
			discovered, err := config.DiscoverConfigPath()
			if err != nil {
				return nil, err
			}
			path = discovered
		}
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		buildStartCommand(load),
		buildCallCommand(load),
		buildJobCommand(load),
		buildConfigCommand(load),
		buildWatchCommand(load),
		buildVersionCommand(),
	)
	return root
}

// reportError prints err unless it is quiet and returns the exit code.
func reportError(w io.Writer, err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.quiet {
			fmt.Fprintln(w, "Error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(w, "Error:", err)
	return 1
}

type configLoader func() (*config.Config, error)

func buildVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "adworker version %s\n", versionString())
		},
	}
}

func versionString() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) >= 7 {
			return version + "+" + s.Value[:7]
		}
	}
	return version
}
