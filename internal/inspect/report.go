// Package inspect renders a single task from the job log for operators.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattjoyce/adworker/internal/joblog"
)

// Source is the slice of the job log a report needs.
type Source interface {
	Get(ctx context.Context, taskID string) (*joblog.Record, error)
	ByFingerprint(ctx context.Context, fingerprint string, limit int) ([]joblog.Record, error)
}

// Report is the structured JSON representation of a task report.
type Report struct {
	Task      joblog.Record `json:"task"`
	QueueWait string        `json:"queue_wait,omitempty"`
	RunTime   string        `json:"run_time,omitempty"`
	// Identical lists other submissions of the same serialized task.
	Identical []Sibling `json:"identical"`
}

type Sibling struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

const maxSiblings = 10

// BuildReport renders a terminal-friendly report for a task.
func BuildReport(ctx context.Context, src Source, taskID string) (string, error) {
	report, err := gatherReportData(ctx, src, taskID)
	if err != nil {
		return "", err
	}
	t := report.Task

	var out strings.Builder
	fmt.Fprintf(&out, "Task Report\n")
	fmt.Fprintf(&out, "Task ID     : %s\n", t.ID)
	fmt.Fprintf(&out, "Operation   : %s\n", t.Operation)
	fmt.Fprintf(&out, "Status      : %s\n", t.Status)
	fmt.Fprintf(&out, "Fingerprint : %s\n", t.Fingerprint)
	fmt.Fprintf(&out, "Created     : %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&out, "Started     : %s\n", renderTime(t.StartedAt))
	fmt.Fprintf(&out, "Completed   : %s\n", renderTime(t.CompletedAt))
	fmt.Fprintf(&out, "Queue wait  : %s\n", renderUnset(report.QueueWait, "-"))
	fmt.Fprintf(&out, "Run time    : %s\n", renderUnset(report.RunTime, "-"))
	if t.ExitCode != nil {
		fmt.Fprintf(&out, "Exit code   : %d\n", *t.ExitCode)
	}
	if t.ResultCount != nil {
		fmt.Fprintf(&out, "Records     : %d\n", *t.ResultCount)
	}
	if t.LastError != nil {
		fmt.Fprintf(&out, "Error       : %s\n", firstLine(*t.LastError))
	}
	if t.Stderr != nil && *t.Stderr != "" {
		fmt.Fprintf(&out, "\nstderr:\n")
		for _, line := range strings.Split(strings.TrimRight(*t.Stderr, "\n"), "\n") {
			fmt.Fprintf(&out, "    %s\n", line)
		}
	}

	if len(report.Identical) > 0 {
		fmt.Fprintf(&out, "\nIdentical submissions (%d)\n", len(report.Identical))
		for _, s := range report.Identical {
			fmt.Fprintf(&out, "  %s  %-10s %s\n", s.CreatedAt.Format(time.RFC3339), s.Status, s.ID)
		}
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Source, taskID string) (string, error) {
	report, err := gatherReportData(ctx, src, taskID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Source, taskID string) (*Report, error) {
	if strings.TrimSpace(taskID) == "" {
		return nil, fmt.Errorf("task_id is required")
	}

	rec, err := src.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", taskID, err)
	}

	report := &Report{Task: *rec, Identical: make([]Sibling, 0)}
	if rec.StartedAt != nil {
		report.QueueWait = rec.StartedAt.Sub(rec.CreatedAt).Round(time.Millisecond).String()
		if rec.CompletedAt != nil {
			report.RunTime = rec.CompletedAt.Sub(*rec.StartedAt).Round(time.Millisecond).String()
		}
	}

	if rec.Fingerprint != "" {
		same, err := src.ByFingerprint(ctx, rec.Fingerprint, maxSiblings+1)
		if err != nil {
			return nil, fmt.Errorf("load identical submissions: %w", err)
		}
		for _, s := range same {
			if s.ID == rec.ID || len(report.Identical) == maxSiblings {
				continue
			}
			report.Identical = append(report.Identical, Sibling{ID: s.ID, Status: string(s.Status), CreatedAt: s.CreatedAt})
		}
	}

	return report, nil
}

func renderTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339Nano)
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
