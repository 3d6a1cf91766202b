package grade

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"rulecast/internal/schema"
)

const maxCellWidth = 40

var (
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A")).Bold(true)
	partialStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Faint(true)
)

// Markdown renders the full report as a markdown document: a summary table
// followed by one section per target with its diffs, unsupported fields
// and errors.
func (r *Report) Markdown() string {
	var sb strings.Builder

	sb.WriteString("# Conformance Report\n\n")
	sb.WriteString(fmt.Sprintf("- Run: `%s`\n", r.RunID))
	sb.WriteString(fmt.Sprintf("- Rulebook: `%s`\n", r.Rulebook))
	sb.WriteString(fmt.Sprintf("- Records: %d\n\n", r.Records))

	sb.WriteString("| Target | Score | Passed | Duration | Error |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, tr := range r.Targets {
		errCell := "-"
		if tr.Err != "" {
			errCell = mdCell(tr.Err)
		}
		sb.WriteString(fmt.Sprintf("| %s | %.1f%% | %d/%d | %s | %s |\n",
			tr.Target, tr.Score, tr.Passed, tr.Total,
			tr.Duration.Round(time.Millisecond), errCell))
	}
	sb.WriteString("\n")

	for _, tr := range r.Targets {
		sb.WriteString(fmt.Sprintf("## %s\n\n", tr.Target))
		writeTargetSection(&sb, tr)
	}
	return sb.String()
}

func writeTargetSection(sb *strings.Builder, tr TargetReport) {
	if tr.Err != "" {
		sb.WriteString(fmt.Sprintf("Failed: %s\n\n", tr.Err))
		return
	}
	if tr.CountMismatch != nil {
		sb.WriteString(fmt.Sprintf("Record count mismatch: want %d, got %d.\n\n",
			tr.CountMismatch.Want, tr.CountMismatch.Got))
	}
	if len(tr.Unsupported) > 0 {
		sb.WriteString("Unsupported constructs:\n\n")
		for _, issue := range tr.Unsupported {
			sb.WriteString(fmt.Sprintf("- `%s`: %s\n", issue.Field, issue.Reason))
		}
		sb.WriteString("\n")
	}
	if len(tr.Diffs) == 0 && tr.Truncated == 0 {
		if tr.Passed == tr.Total && len(tr.Unsupported) == 0 {
			sb.WriteString("All cells match the answer key.\n\n")
		} else {
			sb.WriteString(fmt.Sprintf("%d of %d cells match the answer key.\n\n", tr.Passed, tr.Total))
		}
		return
	}

	sb.WriteString("| Record | Field | Want | Got |\n")
	sb.WriteString("|---|---|---|---|\n")
	for _, d := range tr.Diffs {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
			mdCell(d.RecordKey), d.Field, mdCell(renderValue(d.Want)), mdCell(renderValue(d.Got))))
	}
	if tr.Truncated > 0 {
		sb.WriteString(fmt.Sprintf("\n(%d more failures not shown)\n", tr.Truncated))
	}
	sb.WriteString("\n")
}

// renderValue spells a cell for the report, truncated so one huge string
// cannot blow up the table.
func renderValue(v schema.Value) string {
	s := v.String()
	if runes := []rune(s); len(runes) > maxCellWidth {
		s = string(runes[:maxCellWidth-1]) + "…"
	}
	return s
}

// mdCell escapes table-breaking characters in a cell.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// Write stores the markdown report under dir, named after the run id, and
// returns the path.
func (r *Report) Write(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("grade-%s.md", shortID(r.RunID)))
	if err := os.WriteFile(path, []byte(r.Markdown()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// Render returns the report styled for the terminal. Rendering trouble
// falls back to the raw markdown, never an error.
func (r *Report) Render() string {
	md := r.Markdown()
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := renderer.Render(md)
	if err != nil {
		return md
	}
	return out
}

// StyledSummary is the one-line-per-target terminal summary.
func (r *Report) StyledSummary() string {
	lines := make([]string, 0, len(r.Targets)+1)
	lines = append(lines, mutedStyle.Render(fmt.Sprintf("run %s · %s · %d records",
		shortID(r.RunID), r.Rulebook, r.Records)))
	for _, tr := range r.Targets {
		switch {
		case tr.Err != "":
			lines = append(lines, failStyle.Render(fmt.Sprintf("✗ %-8s %s", tr.Target, tr.Err)))
		case tr.Passed == tr.Total:
			lines = append(lines, passStyle.Render(fmt.Sprintf("✓ %-8s %.1f%% (%d/%d)",
				tr.Target, tr.Score, tr.Passed, tr.Total)))
		default:
			lines = append(lines, partialStyle.Render(fmt.Sprintf("~ %-8s %.1f%% (%d/%d)",
				tr.Target, tr.Score, tr.Passed, tr.Total)))
		}
	}
	return strings.Join(lines, "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
