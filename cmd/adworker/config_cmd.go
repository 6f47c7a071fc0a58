package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/adworker/internal/doctor"
)

func buildConfigCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration tools",
	}
	cmd.AddCommand(buildConfigCheckCommand(load))
	return cmd
}

func buildConfigCheckCommand(load configLoader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the config against this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			result := doctor.New(cfg).Validate()
			out := cmd.OutOrStdout()
			if asJSON {
				s, err := doctor.FormatJSON(result)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, s)
			} else {
				fmt.Fprintf(out, "Config  : %s\n", cfg.SourceFile)
				fmt.Fprintf(out, "BLAKE3  : %s\n", cfg.Checksum)
				fmt.Fprint(out, doctor.FormatHuman(result))
			}

			if !result.Valid {
				return &exitError{code: 1, err: fmt.Errorf("configuration invalid")}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
