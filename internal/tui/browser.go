package tui

import (
	"context"
	"strings"

	"chathist/internal/app"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	colorAccent = "#7D56F4"
	colorMuted  = "#6C6C6C"
	colorFg     = "#DDDDDD"
	colorBorder = "#444444"
	colorDanger = "#E06C75"
)

type browseMode int

const (
	modeList browseMode = iota
	modeRename
	modeConfirmDelete
)

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Open      key.Binding
	Rename    key.Binding
	Delete    key.Binding
	Duplicate key.Binding
	Summarize key.Binding
	Tab       key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:        key.NewBinding(key.WithKeys("up", "k")),
		Down:      key.NewBinding(key.WithKeys("down", "j")),
		Open:      key.NewBinding(key.WithKeys("enter")),
		Rename:    key.NewBinding(key.WithKeys("r")),
		Delete:    key.NewBinding(key.WithKeys("d")),
		Duplicate: key.NewBinding(key.WithKeys("c")),
		Summarize: key.NewBinding(key.WithKeys("s")),
		Tab:       key.NewBinding(key.WithKeys("tab")),
		Quit:      key.NewBinding(key.WithKeys("q", "esc", "ctrl+c")),
	}
}

// Model is the session browser. It lists chat index entries newest first
// with a transcript preview, and drives rename/delete/duplicate/summarize
// actions against the store.
type Model struct {
	store     app.Store
	summaries *app.SummaryGenerator
	log       *app.Logger

	entries      []app.ChatIndexEntry
	sumEntries   []app.SummaryIndexEntry
	summaryView  bool
	cursor       int
	mode         browseMode
	status       string
	width        int
	height       int
	ready        bool
	preview      viewport.Model
	rename       textinput.Model
	keys         keyMap

	// Selected holds the chosen session id when the user opened an entry.
	Selected string
}

func New(store app.Store, summaries *app.SummaryGenerator, logger *app.Logger) *Model {
	ti := textinput.New()
	ti.Placeholder = "new title"
	ti.CharLimit = 120
	m := &Model{
		store:     store,
		summaries: summaries,
		log:       logger,
		rename:    ti,
		keys:      defaultKeyMap(),
	}
	m.reload()
	return m
}

func (m *Model) Init() tea.Cmd { return nil }

func (m *Model) reload() {
	m.entries = m.store.List(nil)
	m.sumEntries = m.store.ListSummaries()
	if m.cursor >= m.listLen() {
		m.cursor = m.listLen() - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.refreshPreview()
}

func (m *Model) listLen() int {
	if m.summaryView {
		return len(m.sumEntries)
	}
	return len(m.entries)
}

func (m *Model) currentSessionID() string {
	if m.summaryView {
		if m.cursor < len(m.sumEntries) {
			return m.sumEntries[m.cursor].SessionID
		}
		return ""
	}
	if m.cursor < len(m.entries) {
		return m.entries[m.cursor].ID
	}
	return ""
}

func (m *Model) refreshPreview() {
	if !m.ready {
		return
	}
	m.preview.SetContent(m.previewContent())
	m.preview.GotoTop()
}

func (m *Model) previewContent() string {
	width := m.previewWidth()
	if m.summaryView {
		if m.cursor >= len(m.sumEntries) {
			return ""
		}
		sum, err := m.store.LoadSummary(m.sumEntries[m.cursor].ID)
		if err != nil || sum == nil {
			return "(summary unavailable)"
		}
		return FormatSummary(sum, width)
	}
	if m.cursor >= len(m.entries) {
		return ""
	}
	sess, err := m.store.Load(m.entries[m.cursor].ID)
	if err != nil || sess == nil {
		return "(record unavailable)"
	}
	return FormatTranscript(sess, width)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.preview = viewport.New(m.previewWidth(), m.previewHeight())
			m.ready = true
		} else {
			m.preview.Width = m.previewWidth()
			m.preview.Height = m.previewHeight()
		}
		m.refreshPreview()
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case modeRename:
			return m.updateRename(msg)
		case modeConfirmDelete:
			return m.updateConfirmDelete(msg)
		}
		return m.updateList(msg)
	}

	var cmd tea.Cmd
	m.preview, cmd = m.preview.Update(msg)
	return m, cmd
}

func (m *Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
			m.refreshPreview()
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < m.listLen()-1 {
			m.cursor++
			m.refreshPreview()
		}

	case key.Matches(msg, m.keys.Tab):
		m.summaryView = !m.summaryView
		m.cursor = 0
		m.status = ""
		m.refreshPreview()

	case key.Matches(msg, m.keys.Open):
		if id := m.currentSessionID(); id != "" {
			m.Selected = id
			return m, tea.Quit
		}

	case key.Matches(msg, m.keys.Rename):
		if !m.summaryView && m.cursor < len(m.entries) {
			m.rename.SetValue(m.entries[m.cursor].Title)
			m.rename.Focus()
			m.mode = modeRename
		}

	case key.Matches(msg, m.keys.Delete):
		if m.listLen() > 0 {
			m.mode = modeConfirmDelete
		}

	case key.Matches(msg, m.keys.Duplicate):
		if !m.summaryView && m.cursor < len(m.entries) {
			m.duplicateCurrent()
		}

	case key.Matches(msg, m.keys.Summarize):
		if !m.summaryView && m.summaries != nil && m.cursor < len(m.entries) {
			m.summarizeCurrent()
		}

	default:
		var cmd tea.Cmd
		m.preview, cmd = m.preview.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) updateRename(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		title := strings.TrimSpace(m.rename.Value())
		m.mode = modeList
		m.rename.Blur()
		if title == "" || m.cursor >= len(m.entries) {
			return m, nil
		}
		ok, err := m.store.Rename(m.entries[m.cursor].ID, title)
		if err != nil {
			m.status = "rename failed: " + err.Error()
		} else if !ok {
			m.status = "session no longer exists"
		} else {
			m.status = "renamed"
		}
		m.reload()
		return m, nil
	case "esc":
		m.mode = modeList
		m.rename.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.rename, cmd = m.rename.Update(msg)
	return m, cmd
}

func (m *Model) updateConfirmDelete(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.mode = modeList
		m.deleteCurrent()
		m.reload()
	case "n", "N", "esc":
		m.mode = modeList
	}
	return m, nil
}

func (m *Model) deleteCurrent() {
	if m.summaryView {
		if m.cursor >= len(m.sumEntries) {
			return
		}
		// Deleting a summary leaves its source session untouched.
		if _, err := m.store.DeleteSummary(m.sumEntries[m.cursor].ID); err != nil {
			m.status = "delete failed: " + err.Error()
			return
		}
		m.status = "summary deleted"
		return
	}
	if m.cursor >= len(m.entries) {
		return
	}
	if _, err := m.store.Delete(m.entries[m.cursor].ID); err != nil {
		m.status = "delete failed: " + err.Error()
		return
	}
	m.status = "session deleted"
}

func (m *Model) duplicateCurrent() {
	src := m.entries[m.cursor]
	base := src.Title
	if base == "" {
		base = src.ID
	}
	taken := make(map[string]struct{}, len(m.entries))
	for _, e := range m.entries {
		taken[e.Title] = struct{}{}
	}
	title, ok := app.UniqueTitle(base+" (copy)", func(candidate string) bool {
		_, exists := taken[candidate]
		return exists
	})
	if !ok {
		m.status = "could not find a free title for the copy"
		return
	}
	newID, err := m.store.Duplicate(src.ID, title)
	if err != nil {
		m.status = "duplicate failed: " + err.Error()
		return
	}
	if newID == "" {
		m.status = "session no longer exists"
		return
	}
	m.status = "duplicated as " + title
	m.reload()
}

func (m *Model) summarizeCurrent() {
	id := m.entries[m.cursor].ID
	m.status = "generating summary..."
	if _, err := m.summaries.Generate(context.Background(), id); err != nil {
		m.status = "summary failed: " + err.Error()
		return
	}
	m.status = "summary saved"
	m.reload()
}

func (m *Model) previewWidth() int {
	w := m.width - m.listWidth() - 4
	if w < 20 {
		w = 20
	}
	return w
}

func (m *Model) previewHeight() int {
	h := m.height - 4
	if h < 5 {
		h = 5
	}
	return h
}

func (m *Model) listWidth() int {
	w := m.width / 3
	if w < 28 {
		w = 28
	}
	return w
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(colorAccent))
	hintStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(colorMuted))

	header := titleStyle.Render("chat history")
	if m.summaryView {
		header = titleStyle.Render("summaries")
	}
	hints := "↑/↓ move • enter open • r rename • d delete • c duplicate • s summarize • tab summaries • q quit"
	if m.summaryView {
		hints = "↑/↓ move • enter open source chat • d delete summary • tab sessions • q quit"
	}

	list := m.renderList()
	pane := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(colorBorder)).
		Padding(0, 1).
		Render(m.preview.View())

	body := lipgloss.JoinHorizontal(lipgloss.Top, list, pane)

	var footer string
	switch m.mode {
	case modeRename:
		footer = "rename: " + m.rename.View()
	case modeConfirmDelete:
		footer = lipgloss.NewStyle().Foreground(lipgloss.Color(colorDanger)).
			Render("delete? (y/n)")
	default:
		footer = hintStyle.Render(m.status)
	}

	return header + "\n" + hintStyle.Render(hints) + "\n" + body + "\n" + footer
}

func (m *Model) renderList() string {
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(colorAccent)).Bold(true)
	rowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(colorFg))
	width := m.listWidth()

	var b strings.Builder
	if m.summaryView {
		if len(m.sumEntries) == 0 {
			b.WriteString(rowStyle.Render("(no summaries)"))
		}
		for i, e := range m.sumEntries {
			line := FormatSummaryLine(e, width-2)
			if i == m.cursor {
				b.WriteString(activeStyle.Render("› " + line))
			} else {
				b.WriteString(rowStyle.Render("  " + line))
			}
			b.WriteString("\n")
		}
	} else {
		if len(m.entries) == 0 {
			b.WriteString(rowStyle.Render("(no saved chats)"))
		}
		for i, e := range m.entries {
			line := FormatEntryLine(e, width-2)
			if i == m.cursor {
				b.WriteString(activeStyle.Render("› " + line))
			} else {
				b.WriteString(rowStyle.Render("  " + line))
			}
			b.WriteString("\n")
		}
	}
	return lipgloss.NewStyle().Width(width).Render(b.String())
}
