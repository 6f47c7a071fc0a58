package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/adworker/internal/dispatch"
	"github.com/mattjoyce/adworker/internal/log"
	"github.com/mattjoyce/adworker/internal/protocol"
	"github.com/mattjoyce/adworker/internal/service"
)

func buildCallCommand(load configLoader) *cobra.Command {
	var (
		paramsPath string
		maxResults string
	)

	cmd := &cobra.Command{
		Use:   "call <service> <method>",
		Short: "Run one operation in-process and print its result",
		Long: `Runs a single operation through a local dispatcher, records it in the
job log and prints the result records as JSON. Degraded output is printed
verbatim. A failed worker's stderr is copied to stderr and the command exits 2.`,
		Example: `  adworker call CampaignService getCampaignList --params opts.json --max-results 10
  echo '{"clientCustomerId":"123-456-7890"}' | adworker call CustomerService getInfos --params -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			operation, err := service.Lookup(args[0], args[1])
			if err != nil {
				return err
			}

			params, err := readParams(cmd.InOrStdin(), paramsPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-results") {
				params[protocol.KeyNumberResults] = boundValue(maxResults)
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			log.SetupWriter(cfg.Service.LogLevel, cmd.ErrOrStderr())

			st, err := newStack(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			o := service.New(st.dispatch).Call(operation, params).Outcome()
			return printOutcome(cmd.OutOrStdout(), cmd.ErrOrStderr(), o)
		},
	}

	cmd.Flags().StringVarP(&paramsPath, "params", "p", "", "JSON parameter file, or - for stdin")
	cmd.Flags().StringVarP(&maxResults, "max-results", "n", "", "keep only the first N records")
	return cmd
}

// readParams loads the JSON object at path. An empty path is an empty bundle.
func readParams(stdin io.Reader, path string) (map[string]any, error) {
	var raw []byte
	var err error
	switch path {
	case "":
		return map[string]any{}, nil
	case "-":
		raw, err = io.ReadAll(stdin)
	default:
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("params must be a JSON object: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

// boundValue passes numeric flags through as numbers so the worker sees the
// same type a library caller would send.
func boundValue(s string) any {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return json.Number(s)
	}
	return s
}

func printOutcome(stdout, stderr io.Writer, o dispatch.Outcome) error {
	switch o.Status {
	case dispatch.StatusSucceeded:
		if o.Records == nil {
			_, err := io.WriteString(stdout, o.Raw)
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(o.Records)
	case dispatch.StatusDegraded:
		_, err := io.WriteString(stdout, o.Raw)
		return err
	}

	if o.Err != nil {
		fmt.Fprint(stderr, o.Err.Error())
	}
	code := 2
	if o.Status == dispatch.StatusTimedOut {
		code = 3
	}
	return &exitError{code: code, err: fmt.Errorf("%s %s", o.Operation, o.Status), quiet: true}
}
