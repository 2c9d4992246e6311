package tui

import (
	"fmt"
	"strings"
	"time"

	"chathist/internal/app"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
)

// FormatEntryLine renders one chat index row: relative age, summary marker,
// title (falling back to the id), fitted to width.
func FormatEntryLine(e app.ChatIndexEntry, width int) string {
	title := strings.TrimSpace(e.Title)
	if title == "" {
		title = e.ID
	}
	marker := " "
	if e.HasSummary {
		marker = "◆"
	}
	line := fmt.Sprintf("%s %s  %s", marker, relativeAge(e.UpdatedAt), title)
	if width > 0 {
		line = truncate.StringWithTail(line, uint(width), "…")
	}
	return line
}

// FormatSummaryLine renders one summary index row.
func FormatSummaryLine(e app.SummaryIndexEntry, width int) string {
	title := strings.TrimSpace(e.ChatTitle)
	if title == "" {
		title = e.SessionID
	}
	line := fmt.Sprintf("%s  %s", relativeAge(e.GeneratedAt), title)
	if width > 0 {
		line = truncate.StringWithTail(line, uint(width), "…")
	}
	return line
}

// FormatTranscript renders the session's visible messages with role labels,
// wrapped to width. Tool output and injected context are elided to keep the
// preview readable.
func FormatTranscript(sess *app.Session, width int) string {
	roleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent))
	metaStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))

	var b strings.Builder
	if t := strings.TrimSpace(sess.Title); t != "" {
		b.WriteString(roleStyle.Render(t))
		b.WriteString("\n")
	}
	b.WriteString(metaStyle.Render(fmt.Sprintf("%d messages · cycle %d", len(sess.Messages), sess.Cycle)))
	b.WriteString("\n\n")

	if len(sess.ContextItems) > 0 {
		ids := make([]string, 0, len(sess.ContextItems))
		for _, it := range sess.ContextItems {
			ids = append(ids, it.ID)
		}
		b.WriteString(metaStyle.Render("context: " + strings.Join(ids, ", ")))
		b.WriteString("\n\n")
	}

	for _, msg := range sess.Messages {
		if !msg.Opts.Visible || msg.Opts.Tag != "" {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		b.WriteString(roleStyle.Render(formatRole(msg.Role)))
		b.WriteString("\n")
		b.WriteString(wordwrap.String(content, width))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatSummary renders a summary record for the preview pane.
func FormatSummary(sum *app.Summary, width int) string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent))
	metaStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))

	var b strings.Builder
	if t := strings.TrimSpace(sum.ChatTitle); t != "" {
		b.WriteString(titleStyle.Render(t))
		b.WriteString("\n")
	}
	b.WriteString(metaStyle.Render("generated " + relativeAge(sum.GeneratedAt)))
	b.WriteString("\n\n")
	b.WriteString(wordwrap.String(sum.Content, width))
	if len(sum.Topics) > 0 {
		b.WriteString("\n\n")
		b.WriteString(metaStyle.Render("topics: " + strings.Join(sum.Topics, ", ")))
	}
	return b.String()
}

func formatRole(role string) string {
	switch role {
	case app.RoleAssistant:
		return "Assistant"
	case app.RoleSystem:
		return "System"
	default:
		return "You"
	}
}

func relativeAge(unix int64) string {
	if unix <= 0 {
		return "unknown"
	}
	d := time.Since(time.Unix(unix, 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
