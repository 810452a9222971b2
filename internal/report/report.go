// Package report renders verification results for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/metalagman/accord/internal/model"
)

// Output formats.
const (
	FormatText     = "text"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// Formats lists the accepted --format values.
var Formats = []string{FormatText, FormatMarkdown, FormatJSON}

// Options tune human-readable output.
type Options struct {
	// Color enables terminal styling. Off yields plain text.
	Color bool
	// Width wraps markdown output; 0 means 100 columns.
	Width int
}

// Write renders res to w in the given format.
func Write(w io.Writer, format string, res *model.VerificationResult, opts Options) error {
	switch format {
	case "", FormatText:
		return Text(w, res, opts)
	case FormatMarkdown:
		return RenderMarkdown(w, res, opts)
	case FormatJSON:
		return JSON(w, res)
	default:
		return fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

// JSON writes res as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

type styles struct {
	verified lipgloss.Style
	breached lipgloss.Style
	pass     lipgloss.Style
	fail     lipgloss.Style
	warn     lipgloss.Style
	dim      lipgloss.Style
}

// newStyles detects the color profile of w. Without color every style is a no-op.
func newStyles(w io.Writer, color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{verified: plain, breached: plain, pass: plain, fail: plain, warn: plain, dim: plain}
	}
	r := lipgloss.NewRenderer(w)
	badge := r.NewStyle().Bold(true).Padding(0, 1)
	return styles{
		verified: badge.Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#2E8B57")),
		breached: badge.Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#C0392B")),
		pass:     r.NewStyle().Foreground(lipgloss.Color("42")),
		fail:     r.NewStyle().Foreground(lipgloss.Color("196")),
		warn:     r.NewStyle().Foreground(lipgloss.Color("214")),
		dim:      r.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

// Text writes a compact terminal summary: a verdict badge then one line per criterion.
func Text(w io.Writer, res *model.VerificationResult, opts Options) error {
	st := newStyles(w, opts.Color)
	badge := st.verified.Render(string(res.NewState))
	if !res.OverallPassed {
		badge = st.breached.Render(string(res.NewState))
	}
	passed, failed, incomplete := res.Counts()

	var b strings.Builder
	fmt.Fprintf(&b, "%s contract %s\n", badge, res.ContractID)
	fmt.Fprintf(&b, "%s\n", st.dim.Render(fmt.Sprintf("verification %s, %d passed, %d failed, %d incomplete, %s",
		res.ID, passed, failed, incomplete, res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond))))
	for _, r := range res.Results {
		mark, style := "PASS", st.pass
		switch {
		case r.Outcome == model.OutcomeTimeout:
			mark, style = "TIME", st.fail
		case r.Outcome == model.OutcomeError:
			mark, style = "ERR ", st.fail
		case !r.Passed:
			mark, style = "FAIL", st.fail
		}
		if r.Advisory() {
			style = st.warn
		}
		kind := "critical"
		if !r.Critical {
			kind = "advisory"
		}
		fmt.Fprintf(&b, "  %s %-12s %-8s %s\n", style.Render(mark), r.CriterionID, kind, oneLine(r.Message))
	}
	if len(res.Advisories) > 0 {
		fmt.Fprintf(&b, "%s\n", st.warn.Render("advisories: "+strings.Join(res.Advisories, ", ")))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// Markdown returns the result as a markdown document.
func Markdown(res *model.VerificationResult) string {
	var b strings.Builder
	verdict := "passed"
	if !res.OverallPassed {
		verdict = "failed"
	}
	fmt.Fprintf(&b, "# Contract %s: %s\n\n", res.ContractID, res.NewState)
	fmt.Fprintf(&b, "Verification `%s` %s at %s.\n\n", res.ID, verdict, res.FinishedAt.UTC().Format(time.RFC3339))
	b.WriteString("| Criterion | Critical | Outcome | Passed | Score | Message |\n")
	b.WriteString("|---|---|---|---|---|---|\n")
	for _, r := range res.Results {
		score := "-"
		if r.Score != nil {
			score = fmt.Sprintf("%.2f", *r.Score)
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			cell(r.CriterionID), yesNo(r.Critical), r.Outcome, yesNo(r.Passed), score, cell(r.Message))
	}
	if len(res.Advisories) > 0 {
		b.WriteString("\n## Advisories\n\n")
		for _, id := range res.Advisories {
			fmt.Fprintf(&b, "- %s\n", cell(id))
		}
	}
	return b.String()
}

// RenderMarkdown writes Markdown(res) through glamour.
func RenderMarkdown(w io.Writer, res *model.VerificationResult, opts Options) error {
	width := opts.Width
	if width <= 0 {
		width = 100
	}
	style := glamour.WithStandardStyle("notty")
	if opts.Color {
		style = glamour.WithAutoStyle()
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := r.Render(Markdown(res))
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func cell(s string) string {
	return strings.ReplaceAll(oneLine(s), "|", `\|`)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
