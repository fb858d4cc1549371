package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"knowthecode/internal/ingest"
)

type ingestingModel struct {
	spinner   spinner.Model
	source    string
	stage     ingest.Stage
	message   string
	processed int
	total     int
	done      bool
	res       *ingest.Result
	err       error
}

func newIngestingModel(source string) ingestingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = selectedStyle
	return ingestingModel{
		spinner: sp,
		source:  source,
		stage:   ingest.StageFetching,
		message: "Fetching repository...",
	}
}

// ingestDoneMsg is sent when ingestion completes.
type ingestDoneMsg struct {
	res *ingest.Result
	err error
}

// ingestProgressMsg is sent for each pipeline progress event.
type ingestProgressMsg struct {
	event ingest.Event
}

func runIngest(ing *ingest.Ingestor, source string, ref *programRef) tea.Cmd {
	return func() tea.Msg {
		res, err := ing.Ingest(context.Background(), source, func(ev ingest.Event) {
			if ref != nil && ref.p != nil {
				ref.p.Send(ingestProgressMsg{event: ev})
			}
		})
		return ingestDoneMsg{res: res, err: err}
	}
}

func (m ingestingModel) Update(msg tea.Msg) (ingestingModel, tea.Cmd) {
	switch msg := msg.(type) {
	case ingestDoneMsg:
		m.done = true
		m.res = msg.res
		m.err = msg.err
		return m, nil
	case ingestProgressMsg:
		m.stage = msg.event.Stage
		if msg.event.Message != "" {
			m.message = msg.event.Message
		}
		m.processed = msg.event.Processed
		m.total = msg.event.Total
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m ingestingModel) View(width, height int) string {
	s := "\n"
	s += titleStyle.Render("  Ingesting") + "\n"
	s += dimStyle.Render("  "+m.source) + "\n\n"

	if m.done {
		if m.err != nil {
			s += errorStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
			s += dimStyle.Render("  Press Enter to go back.") + "\n"
			return s
		}
		if m.res != nil && m.res.Skipped {
			s += successStyle.Render("  ✓ Already indexed, nothing to do.") + "\n\n"
		} else {
			s += successStyle.Render("  ✓ Ingestion complete!") + "\n\n"
			if m.res != nil {
				s += fmt.Sprintf("  Files: %d selected, %d failed\n", m.res.FilesTotal, m.res.FilesFailed)
				s += fmt.Sprintf("  Chunks: %d stored in %d batches\n", m.res.StoredChunks, m.res.TotalBatches)
				if m.res.FailedBatches > 0 {
					s += warnStyle.Render(fmt.Sprintf("  ⚠ %d batches failed, index is partial", m.res.FailedBatches)) + "\n"
				}
			}
		}
		s += "\n"
		s += dimStyle.Render("  Press Enter to start chatting") + "\n"
		return s
	}

	s += fmt.Sprintf("  %s %s\n", m.spinner.View(), m.message)
	if m.total > 0 {
		s += fmt.Sprintf("  %d / %d\n", m.processed, m.total)
	}
	s += "\n"
	s += dimStyle.Render("  This may take a while for large repositories...") + "\n"
	return s
}
