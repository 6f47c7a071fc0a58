package main

import (
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/adworker/internal/tui"
)

func buildWatchCommand(load configLoader) *cobra.Command {
	var apiURL, apiKey string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal monitor for a running adworker",
		Long: `Connects to the HTTP API of a running adworker. --api-url and --api-key
default to the config's api.listen and api.auth.api_key, then to
$ADWORKER_API_URL and $ADWORKER_API_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if apiURL == "" {
				apiURL = os.Getenv("ADWORKER_API_URL")
			}
			if apiKey == "" {
				apiKey = os.Getenv("ADWORKER_API_KEY")
			}
			if apiURL == "" || apiKey == "" {
				if cfg, err := load(); err == nil {
					if apiURL == "" {
						apiURL = listenURL(cfg.API.Listen)
					}
					if apiKey == "" {
						apiKey = cfg.API.Auth.APIKey
					}
				}
			}

			p := tea.NewProgram(tui.NewMonitor(apiURL, apiKey), tea.WithAltScreen())
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "", "base URL of the adworker API")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "bearer key for the adworker API")
	return cmd
}

// listenURL turns a listen address into a URL a local client can dial.
func listenURL(listen string) string {
	if listen == "" {
		return "http://127.0.0.1:8080"
	}
	if strings.HasPrefix(listen, ":") {
		listen = "127.0.0.1" + listen
	}
	listen = strings.Replace(listen, "0.0.0.0", "127.0.0.1", 1)
	return "http://" + listen
}
