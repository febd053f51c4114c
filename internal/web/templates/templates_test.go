package templates

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

func renderString(t *testing.T, fn func(*bytes.Buffer) error) string {
	t.Helper()
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	return buf.String()
}

func TestErrorAlert_Escapes(t *testing.T) {
	out := renderString(t, func(b *bytes.Buffer) error {
		return ErrorAlert("<b>bad</b>", "retry", "GEN001").Render(context.Background(), b)
	})
	if strings.Contains(out, "<b>") {
		t.Errorf("message not escaped: %s", out)
	}
	if !strings.Contains(out, "Code: GEN001") || !strings.Contains(out, "retry") {
		t.Errorf("output = %s", out)
	}
}

func TestRunProgress(t *testing.T) {
	running := core.GenerationProgress{
		RunID: "run-1", Status: core.StatusGenerating, Percentage: 40,
		CurrentRecord: 4, TotalRecords: 10, ElapsedMs: 4000, EstimatedRemainingMs: 6000,
		GeneratedFiles: []core.GeneratedFile{{Name: "a.png", RecordIndex: 1, Error: "image: not found"}},
	}
	out := renderString(t, func(b *bytes.Buffer) error {
		return RunProgress(running).Render(context.Background(), b)
	})
	for _, want := range []string{`hx-get="/runs/run-1/progress"`, `value="40"`, "4 / 10", "image: not found", "Remaining"} {
		if !strings.Contains(out, want) {
			t.Errorf("running output missing %q", want)
		}
	}

	done := running
	done.Status = core.StatusCompleted
	done.Location = "mem://x.zip"
	out = renderString(t, func(b *bytes.Buffer) error {
		return RunProgress(done).Render(context.Background(), b)
	})
	if strings.Contains(out, "hx-get") {
		t.Error("finished run should not poll")
	}
	if !strings.Contains(out, "/api/runs/run-1/download") {
		t.Error("completed run should link the download")
	}

	cancelled := running
	cancelled.Status = core.StatusPaused
	cancelled.Cancelled = true
	out = renderString(t, func(b *bytes.Buffer) error {
		return RunProgress(cancelled).Render(context.Background(), b)
	})
	if !strings.Contains(out, `data-status="cancelled"`) {
		t.Errorf("cancelled run status: %s", out)
	}
}

func TestRunPageAndHistory(t *testing.T) {
	out := renderString(t, func(b *bytes.Buffer) error {
		return RunPage(core.GenerationProgress{RunID: "0123456789abcdef", Status: core.StatusCompleted}).Render(context.Background(), b)
	})
	if !strings.HasPrefix(out, "<!DOCTYPE html>") || !strings.Contains(out, "<title>Run 01234567</title>") {
		t.Errorf("page = %s", out)
	}

	out = renderString(t, func(b *bytes.Buffer) error {
		return HistoryTable([]core.RunSummary{{
			SourceName: "people.csv", Status: core.StatusPaused, Cancelled: true,
			StartedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		}}).Render(context.Background(), b)
	})
	if !strings.Contains(out, "people.csv") || !strings.Contains(out, "cancelled") || !strings.Contains(out, "2024-05-01 09:00:00") {
		t.Errorf("history = %s", out)
	}

	out = renderString(t, func(b *bytes.Buffer) error {
		return HistoryTable(nil).Render(context.Background(), b)
	})
	if !strings.Contains(out, "No runs yet") {
		t.Errorf("empty history = %s", out)
	}
}
