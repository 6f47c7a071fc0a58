package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/adworker/internal/dispatch"
	"github.com/mattjoyce/adworker/internal/joblog"
	"github.com/mattjoyce/adworker/internal/storage"
)

func seededStore(t *testing.T) *joblog.Store {
	t.Helper()

	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "adworker.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	s := joblog.New(db)
	for _, id := range []string{"first", "second"} {
		if err := s.Queued(ctx, id, "CustomerService-getInfos", "fp-1"); err != nil {
			t.Fatalf("Queued %s: %v", id, err)
		}
		if err := s.Started(ctx, id); err != nil {
			t.Fatalf("Started %s: %v", id, err)
		}
	}
	err = s.Completed(ctx, dispatch.Completion{
		TaskID:   "second",
		Status:   dispatch.StatusFailed,
		ExitCode: 255,
		Error:    "PHP Fatal error: Uncaught AuthorizationError\nStack trace:",
		Stderr:   "PHP Fatal error: Uncaught AuthorizationError\nStack trace:\n#0 index.php(12)",
		Duration: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("Completed: %v", err)
	}
	return s
}

func TestBuildReport(t *testing.T) {
	t.Parallel()
	s := seededStore(t)

	out, err := BuildReport(context.Background(), s, "second")
	if err != nil {
		t.Fatalf("BuildReport: %v", err)
	}

	for _, want := range []string{
		"Task ID     : second",
		"Operation   : CustomerService-getInfos",
		"Status      : failed",
		"Exit code   : 255",
		"Error       : PHP Fatal error: Uncaught AuthorizationError",
		"    #0 index.php(12)",
		"Identical submissions (1)",
		"first",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestBuildJSONReport(t *testing.T) {
	t.Parallel()
	s := seededStore(t)

	out, err := BuildJSONReport(context.Background(), s, "first")
	if err != nil {
		t.Fatalf("BuildJSONReport: %v", err)
	}

	var report Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if report.Task.ID != "first" || report.Task.Status != dispatch.StatusRunning {
		t.Fatalf("unexpected task: %#v", report.Task)
	}
	if report.QueueWait == "" || report.RunTime != "" {
		t.Fatalf("unexpected timings: wait=%q run=%q", report.QueueWait, report.RunTime)
	}
	if len(report.Identical) != 1 || report.Identical[0].ID != "second" {
		t.Fatalf("unexpected identical list: %#v", report.Identical)
	}
}

func TestBuildReportUnknownTask(t *testing.T) {
	t.Parallel()
	s := seededStore(t)

	_, err := BuildReport(context.Background(), s, "nope")
	if !errors.Is(err, joblog.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	if _, err := BuildReport(context.Background(), s, "  "); err == nil {
		t.Fatal("expected error for empty id")
	}
}
