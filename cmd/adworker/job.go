package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/adworker/internal/inspect"
	"github.com/mattjoyce/adworker/internal/joblog"
	"github.com/mattjoyce/adworker/internal/storage"
)

func buildJobCommand(load configLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect the task log",
	}
	cmd.AddCommand(buildJobInspectCommand(load), buildJobListCommand(load))
	return cmd
}

func openJobLog(cmd *cobra.Command, load configLoader) (*joblog.Store, func(), error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.OpenSQLite(cmd.Context(), cfg.State.Path)
	if err != nil {
		return nil, nil, err
	}
	return joblog.New(db), func() { _ = db.Close() }, nil
}

func buildJobInspectCommand(load configLoader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "inspect <task-id>",
		Short: "Show one task with timings, worker diagnostics and identical submissions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, closeDB, err := openJobLog(cmd, load)
			if err != nil {
				return err
			}
			defer closeDB()

			var out string
			if asJSON {
				out, err = inspect.BuildJSONReport(cmd.Context(), jobs, args[0])
				out += "\n"
			} else {
				out, err = inspect.BuildReport(cmd.Context(), jobs, args[0])
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func buildJobListCommand(load configLoader) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, closeDB, err := openJobLog(cmd, load)
			if err != nil {
				return err
			}
			defer closeDB()

			recs, err := jobs.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), renderTaskTable(recs))
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of tasks")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func renderTaskTable(recs []joblog.Record) string {
	if len(recs) == 0 {
		return "No tasks recorded."
	}

	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		exit, took := "-", "-"
		if r.ExitCode != nil {
			exit = fmt.Sprint(*r.ExitCode)
		}
		if r.DurationMS != nil {
			took = (time.Duration(*r.DurationMS) * time.Millisecond).String()
		}
		rows = append(rows, []string{
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.ID,
			r.Operation,
			string(r.Status),
			exit,
			took,
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CREATED", "ID", "OPERATION", "STATUS", "EXIT", "TOOK").
		Rows(rows...).
		String()
}
