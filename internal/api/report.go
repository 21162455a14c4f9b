package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"

	"sleepstage/app"
	"sleepstage/domain/stage"
)

// RenderReportMarkdown formats a training report as markdown.
func RenderReportMarkdown(r *app.TrainingReport) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Training report for %s\n\n", r.UserID)
	fmt.Fprintf(&b, "- Run: `%s`\n", r.RunID)
	fmt.Fprintf(&b, "- Window: %s to %s\n", r.RangeStart.Format("2006-01-02 15:04"), r.RangeEnd.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "- Nights: %d found, %d used\n", r.NightsFound, r.NightsUsed)
	fmt.Fprintf(&b, "- Saved: %t\n", r.Saved)
	fmt.Fprintf(&b, "- Duration: %s\n\n", r.Duration.Round(time.Millisecond))

	if v := r.Validation; v != nil {
		b.WriteString("## Cross validation\n\n")
		if v.Skipped {
			fmt.Fprintf(&b, "Skipped: %s\n\n", v.Reason)
		} else {
			best := v.Best
			b.WriteString("| Metric | Value |\n|---|---|\n")
			fmt.Fprintf(&b, "| Score | %.3f |\n", best.Score)
			fmt.Fprintf(&b, "| Accuracy | %.1f%% |\n", 100*best.Accuracy)
			fmt.Fprintf(&b, "| REM sensitivity | %.1f%% |\n", 100*best.RemSensitivity)
			fmt.Fprintf(&b, "| REM specificity | %.1f%% |\n", 100*best.RemSpecificity)
			fmt.Fprintf(&b, "| REM F1 | %.3f |\n", best.RemF1)
			for _, st := range stage.All {
				fmt.Fprintf(&b, "| %s accuracy | %.1f%% |\n", st, 100*best.PerStageAccuracy[st])
			}
			p := best.Params
			fmt.Fprintf(&b, "\nBest of %d grid points: smoothing %.2f, HR weight %.2f, HRV weight %.2f.\n\n",
				len(v.Results), p.TemporalSmoothingStrength, p.HRWeight, p.HRVWeight)
		}
	}

	writeList(&b, "Warnings", r.Warnings)
	writeList(&b, "Errors", r.Errors)
	return b.Bytes()
}

func writeList(b *bytes.Buffer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

// RenderReportHTML converts report markdown to a standalone HTML page.
func RenderReportHTML(md []byte) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: "Training report",
	})
	return markdown.ToHTML(md, p, renderer)
}
