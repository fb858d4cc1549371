package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"knowthecode/internal/ingest"
	"knowthecode/internal/store"
)

type pickerActionKind int

const (
	pickNone pickerActionKind = iota
	pickIngest
	pickChat
)

// pickerAction tells the top-level model what the user chose.
type pickerAction struct {
	kind   pickerActionKind
	source string // URL or path to ingest
	repoID string // existing repository to chat with
}

type pickerModel struct {
	repos  []store.RepoRecord
	cursor int
	input  textinput.Model
	loaded bool
	err    error
}

// reposLoadedMsg is sent after listing ingested repositories.
type reposLoadedMsg struct {
	repos []store.RepoRecord
	err   error
}

func newPickerModel() pickerModel {
	ti := textinput.New()
	ti.Placeholder = "https://github.com/user/repo.git or a local path"
	ti.CharLimit = 500
	ti.Focus()
	return pickerModel{input: ti}
}

func loadRepos(ing *ingest.Ingestor) tea.Cmd {
	return func() tea.Msg {
		repos, err := ing.Store().ListRepos()
		return reposLoadedMsg{repos: repos, err: err}
	}
}

func (m pickerModel) Update(msg tea.Msg) (pickerModel, pickerAction, tea.Cmd) {
	switch msg := msg.(type) {
	case reposLoadedMsg:
		m.repos = msg.repos
		m.err = msg.err
		m.loaded = true
		return m, pickerAction{}, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
			}
			return m, pickerAction{}, nil
		case tea.KeyDown:
			if m.cursor < len(m.repos)-1 {
				m.cursor++
			}
			return m, pickerAction{}, nil
		case tea.KeyEnter:
			if source := strings.TrimSpace(m.input.Value()); source != "" {
				return m, pickerAction{kind: pickIngest, source: source}, nil
			}
			if len(m.repos) > 0 {
				return m, pickerAction{kind: pickChat, repoID: m.repos[m.cursor].ID}, nil
			}
			return m, pickerAction{}, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, pickerAction{}, cmd
}

func (m pickerModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  ◆ KnowTheCode") + "\n"
	s += subtitleStyle.Render("  Ask questions about any repository") + "\n\n"

	if !m.loaded {
		s += dimStyle.Render("  Loading repositories...") + "\n"
		return s
	}
	if m.err != nil {
		s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n"
		return s
	}

	if len(m.repos) == 0 {
		s += dimStyle.Render("  No repositories ingested yet.") + "\n\n"
	} else {
		s += subtitleStyle.Render("  Ingested repositories:") + "\n"
		for i, r := range m.repos {
			line := fmt.Sprintf("%s  (%d chunks)", r.ID, r.ChunkCount)
			if i == m.cursor {
				s += selectedStyle.Render("  > "+line) + "\n"
			} else {
				s += listItemStyle.Render("    "+line) + "\n"
			}
		}
		s += "\n"
	}

	s += subtitleStyle.Render("  Ingest a new repository:") + "\n"
	s += "  " + m.input.View() + "\n\n"

	if len(m.repos) > 0 {
		s += helpStyle.Render("  ↑/↓ select • enter to chat (or ingest the typed URL) • ctrl+c to quit") + "\n"
	} else {
		s += helpStyle.Render("  enter to ingest • ctrl+c to quit") + "\n"
	}
	return s
}
