// Package templates holds the HTML components served by the web layer.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/mailmerge/internal/core"
)

var esc = templ.EscapeString[string]

// ErrorAlert is the HTMX error fragment.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<div class="alert alert-error" role="alert">`)
		fmt.Fprintf(&b, `<p class="alert-message">%s</p>`, esc(message))
		if action != "" {
			fmt.Fprintf(&b, `<p class="alert-action">%s</p>`, esc(action))
		}
		fmt.Fprintf(&b, `<p class="alert-code">Code: %s</p></div>`, esc(code))
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// RunProgress is the progress fragment of a run. Unfinished runs poll
// themselves every second through hx-trigger.
func RunProgress(p core.GenerationProgress) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		if p.Finished() {
			fmt.Fprintf(&b, `<section id="run-progress" data-status="%s">`, esc(statusLabel(p)))
		} else {
			fmt.Fprintf(&b, `<section id="run-progress" data-status="%s" hx-get="/runs/%s/progress" hx-trigger="every 1s" hx-swap="outerHTML">`,
				esc(statusLabel(p)), esc(p.RunID))
		}
		fmt.Fprintf(&b, `<progress max="100" value="%d">%d%%</progress>`, p.Percentage, p.Percentage)
		fmt.Fprintf(&b, `<dl><dt>Status</dt><dd>%s</dd>`, esc(statusLabel(p)))
		fmt.Fprintf(&b, `<dt>Records</dt><dd>%d / %d</dd>`, p.CurrentRecord, p.TotalRecords)
		fmt.Fprintf(&b, `<dt>Succeeded</dt><dd>%d</dd><dt>Errors</dt><dd>%d</dd><dt>Warnings</dt><dd>%d</dd>`,
			p.SuccessCount, p.ErrorCount, p.WarningCount)
		fmt.Fprintf(&b, `<dt>Elapsed</dt><dd>%s</dd>`, esc(duration(p.ElapsedMs)))
		if !p.Finished() && p.EstimatedRemainingMs > 0 {
			fmt.Fprintf(&b, `<dt>Remaining</dt><dd>%s</dd>`, esc(duration(p.EstimatedRemainingMs)))
		}
		b.WriteString(`</dl>`)
		if p.LastError != "" {
			fmt.Fprintf(&b, `<p class="run-error">%s</p>`, esc(p.LastError))
		}
		if p.Status == core.StatusCompleted && p.Location != "" {
			fmt.Fprintf(&b, `<a class="download" href="/api/runs/%s/download">Download</a>`, esc(p.RunID))
		}
		if failed := failedFiles(p.GeneratedFiles); len(failed) > 0 {
			b.WriteString(`<table class="failures"><thead><tr><th>Record</th><th>File</th><th>Problem</th></tr></thead><tbody>`)
			for _, f := range failed {
				problem := f.Error
				if problem == "" {
					problem = f.Warning
				}
				fmt.Fprintf(&b, `<tr><td>%d</td><td>%s</td><td>%s</td></tr>`, f.RecordIndex+1, esc(f.Name), esc(problem))
			}
			b.WriteString(`</tbody></table>`)
		}
		b.WriteString(`</section>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// RunPage is the full status page of a run.
func RunPage(p core.GenerationProgress) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		head := fmt.Sprintf(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>Run %s</title>`+
			`<script src="https://unpkg.com/htmx.org@1.9.12"></script></head><body><main><h1>Generation run</h1><p class="run-id">%s</p>`,
			esc(shortID(p.RunID)), esc(p.RunID))
		if _, err := io.WriteString(w, head); err != nil {
			return err
		}
		if err := RunProgress(p).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

// HistoryTable lists past runs.
func HistoryTable(runs []core.RunSummary) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<table class="history"><thead><tr><th>Started</th><th>Source</th><th>Template</th><th>Format</th><th>Status</th><th>OK</th><th>Errors</th></tr></thead><tbody>`)
		if len(runs) == 0 {
			b.WriteString(`<tr><td colspan="7">No runs yet</td></tr>`)
		}
		for _, r := range runs {
			status := string(r.Status)
			if r.Cancelled {
				status = "cancelled"
			}
			fmt.Fprintf(&b, `<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%d</td><td>%d</td></tr>`,
				esc(r.StartedAt.Format(time.DateTime)), esc(r.SourceName), esc(r.TemplateName),
				esc(string(r.Format)), esc(status), r.SuccessCount, r.ErrorCount)
		}
		b.WriteString(`</tbody></table>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func statusLabel(p core.GenerationProgress) string {
	if p.Cancelled {
		return "cancelled"
	}
	return string(p.Status)
}

func failedFiles(files []core.GeneratedFile) []core.GeneratedFile {
	var out []core.GeneratedFile
	for _, f := range files {
		if f.Error != "" || f.Warning != "" {
			out = append(out, f)
		}
	}
	return out
}

func duration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(time.Second).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
