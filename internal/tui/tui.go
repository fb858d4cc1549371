package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"knowthecode/internal/ingest"
)

// ViewState represents which screen is active.
type ViewState int

const (
	ViewPicker ViewState = iota
	ViewIngesting
	ViewChat
)

// programRef is an indirect pointer to the tea.Program so background
// goroutines can send messages. It must be set after tea.NewProgram
// returns but before Run.
type programRef struct {
	p *tea.Program
}

// Config holds configuration passed from the CLI layer.
type Config struct {
	Ingest    ingest.Config
	OllamaURL string
	Model     string
	ChatModel string

	// program is set internally so background goroutines can send messages.
	program *programRef
}

// Model is the top-level Bubble Tea model.
type Model struct {
	state  ViewState
	config Config
	ing    *ingest.Ingestor
	width  int
	height int

	picker    pickerModel
	ingesting ingestingModel
	chat      chatModel
}

// New creates a new TUI model over an already-constructed ingestor.
func New(cfg Config, ing *ingest.Ingestor) Model {
	return Model{
		state:  ViewPicker,
		config: cfg,
		ing:    ing,
		picker: newPickerModel(),
	}
}

func (m Model) Init() tea.Cmd {
	return loadRepos(m.ing)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.state == ViewChat {
			var c tea.Cmd
			m.chat, c = m.chat.Update(msg)
			return m, c
		}
		return m, nil

	case tea.KeyMsg:
		// Global quit.
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.state == ViewChat {
				m.state = ViewPicker
				m.picker = newPickerModel()
				return m, loadRepos(m.ing)
			}
		}
	}

	var cmd tea.Cmd

	switch m.state {
	case ViewPicker:
		var action pickerAction
		m.picker, action, cmd = m.picker.Update(msg)
		switch action.kind {
		case pickIngest:
			m.state = ViewIngesting
			m.ingesting = newIngestingModel(action.source)
			return m, tea.Batch(m.ingesting.spinner.Tick, runIngest(m.ing, action.source, m.config.program))
		case pickChat:
			m.transitionToChat(action.repoID)
			return m, nil
		}
		return m, cmd

	case ViewIngesting:
		m.ingesting, cmd = m.ingesting.Update(msg)
		if cmd != nil {
			return m, cmd
		}
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEnter && m.ingesting.done {
			if m.ingesting.err == nil && m.ingesting.res != nil {
				m.transitionToChat(m.ingesting.res.RepoID)
				return m, nil
			}
			m.state = ViewPicker
			m.picker = newPickerModel()
			return m, loadRepos(m.ing)
		}

	case ViewChat:
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *Model) transitionToChat(repoID string) {
	m.chat = newChatModel(m.ing, m.config, repoID)
	m.chat.initViewport(m.width, m.height)
	m.state = ViewChat
}

func (m Model) View() string {
	switch m.state {
	case ViewPicker:
		return m.picker.View(m.width, m.height)
	case ViewIngesting:
		return m.ingesting.View(m.width, m.height)
	case ViewChat:
		return m.chat.View(m.width, m.height)
	}
	return ""
}

// Run starts the TUI program.
func Run(cfg Config) error {
	ing, err := ingest.New(cfg.Ingest)
	if err != nil {
		return err
	}
	defer ing.Close()

	ref := &programRef{}
	cfg.program = ref
	model := New(cfg, ing)
	p := tea.NewProgram(model, tea.WithAltScreen())
	ref.p = p
	_, err = p.Run()
	return err
}
