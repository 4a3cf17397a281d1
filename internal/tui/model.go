// Package tui implements the interactive handbook chat: a Bubble Tea program
// with a status line, a question input, an answer pane and the numbered
// sources of the last answer. Ingestion runs in the background when the
// program starts; questions are accepted once it has finished.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/54b3r/handbook-rag/internal/rag"
)

// Examples are the sample questions bound to F1 through F5.
var Examples = []string{
	"What is our vacation policy?",
	"How do I request time off?",
	"What benefits do we offer?",
	"What are the career development opportunities?",
	"What's the policy on work devices?",
}

// exampleKeys maps the function keys onto Examples.
var exampleKeys = map[tea.KeyType]int{
	tea.KeyF1: 0,
	tea.KeyF2: 1,
	tea.KeyF3: 2,
	tea.KeyF4: 3,
	tea.KeyF5: 4,
}

// Status texts shown while the program moves through its lifecycle.
const (
	statusInitializing = "Initializing RAG system..."
	statusReady        = "RAG system ready! Ask a question."
	statusSearching    = "Searching for answer..."
	statusAnswered     = "Answer ready!"
)

// Answerer answers one question; *pipeline.Pipeline satisfies it.
type Answerer interface {
	Answer(ctx context.Context, question string, k int) (*rag.AnswerResult, error)
}

// IngestFunc builds the index the Answerer searches. It returns a one-line
// summary shown in the header once ingestion succeeds.
type IngestFunc func(ctx context.Context) (string, error)

// statusKind selects the colour of the status line.
type statusKind int

const (
	statusInfo statusKind = iota
	statusBusy
	statusOK
	statusError
)

// ingestDoneMsg reports the outcome of the background ingestion.
type ingestDoneMsg struct {
	summary string
	err     error
}

// answerMsg carries the outcome of one Answer call.
type answerMsg struct {
	result *rag.AnswerResult
	err    error
}

// Model is the Bubble Tea model of the chat.
type Model struct {
	ctx      context.Context
	answerer Answerer
	ingest   IngestFunc
	k        int

	input    textinput.Model
	viewport viewport.Model
	width    int

	summary string
	status  string
	kind    statusKind
	ready   bool
	busy    bool
	answer  string
	sources []string
}

// New creates the chat model. k is passed to every Answer call; k <= 0 uses
// the pipeline default.
func New(ctx context.Context, answerer Answerer, ingest IngestFunc, k int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the handbook and press Enter"
	ti.Focus()
	ti.CharLimit = 0

	return Model{
		ctx:      ctx,
		answerer: answerer,
		ingest:   ingest,
		k:        k,
		input:    ti,
		viewport: viewport.New(80, 10),
		width:    80,
		status:   statusInitializing,
		kind:     statusBusy,
	}
}

// Run starts the program on the alternate screen and blocks until the user
// quits or ctx is cancelled.
func Run(ctx context.Context, answerer Answerer, ingest IngestFunc, k int) error {
	p := tea.NewProgram(New(ctx, answerer, ingest, k), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

// Init starts the cursor blink and the background ingestion.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.ingestCmd())
}

func (m Model) ingestCmd() tea.Cmd {
	ctx, ingest := m.ctx, m.ingest
	return func() tea.Msg {
		summary, err := ingest(ctx)
		return ingestDoneMsg{summary: summary, err: err}
	}
}

func (m Model) askCmd(question string) tea.Cmd {
	ctx, answerer, k := m.ctx, m.answerer, m.k
	return func() tea.Msg {
		res, err := answerer.Answer(ctx, question, k)
		return answerMsg{result: res, err: err}
	}
}

// Update handles key, window and background-result messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(20, msg.Width)
		_, frame := answerBoxStyle.GetFrameSize()
		// header, summary, status, input box, sources, help
		reserved := 2 + 1 + 3 + len(m.sources) + 2 + 2 + frame
		m.viewport.Width = m.width - 4
		m.viewport.Height = max(3, msg.Height-reserved)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil

	case ingestDoneMsg:
		if msg.err != nil {
			m.setStatus("Error: "+msg.err.Error(), statusError)
			return m, nil
		}
		m.ready = true
		m.summary = msg.summary
		m.setStatus(statusReady, statusOK)
		return m, nil

	case answerMsg:
		m.busy = false
		if msg.err != nil {
			m.setStatus("Error processing question: "+msg.err.Error(), statusError)
			return m, nil
		}
		m.answer = msg.result.Answer
		m.sources = msg.result.SourceNames()
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		m.setStatus(statusAnswered, statusOK)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyCtrlL:
			m.clear()
			return m, nil
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		if i, ok := exampleKeys[msg.Type]; ok {
			m.input.SetValue(Examples[i])
			m.input.CursorEnd()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles Enter: quit words exit, anything else is asked once the
// index is ready.
func (m Model) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	switch strings.ToLower(q) {
	case "quit", "exit", "q":
		return m, tea.Quit
	case "":
		m.setStatus("Please enter a question.", statusError)
		return m, nil
	}
	if !m.ready {
		m.setStatus("RAG system not ready yet, please wait.", statusError)
		return m, nil
	}
	if m.busy {
		return m, nil
	}

	m.busy = true
	m.answer = ""
	m.sources = nil
	m.viewport.SetContent(m.renderAnswer())
	m.setStatus(statusSearching, statusBusy)
	return m, m.askCmd(q)
}

func (m *Model) clear() {
	m.answer = ""
	m.sources = nil
	m.input.SetValue("")
	m.viewport.SetContent(m.renderAnswer())
}

func (m *Model) setStatus(s string, kind statusKind) {
	m.status = s
	m.kind = kind
}

// View renders the header, answer pane, sources, input and status line.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Employee Handbook Assistant"))
	b.WriteByte('\n')
	if m.summary != "" {
		b.WriteString(dimStyle.Render(m.summary))
	}
	b.WriteByte('\n')

	b.WriteString(answerBoxStyle.Width(m.width - 2).Render(m.viewport.View()))
	b.WriteByte('\n')

	b.WriteString(labelStyle.Render("Sources"))
	b.WriteByte('\n')
	b.WriteString(m.renderSources())
	b.WriteByte('\n')

	b.WriteString(inputBoxStyle.Width(m.width - 2).Render(m.input.View()))
	b.WriteByte('\n')
	b.WriteString(statusStyles[m.kind].Render(m.status))
	b.WriteByte('\n')
	b.WriteString(dimStyle.Render(m.renderHelp()))

	return b.String()
}

func (m Model) renderAnswer() string {
	if m.answer == "" {
		return dimStyle.Render("No answer yet.")
	}
	return lipgloss.NewStyle().Width(max(10, m.viewport.Width)).Render(m.answer)
}

func (m Model) renderSources() string {
	if len(m.sources) == 0 {
		return dimStyle.Render("  none")
	}
	lines := make([]string, len(m.sources))
	for i, s := range m.sources {
		lines[i] = fmt.Sprintf("  %d. %s", i+1, s)
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderHelp() string {
	parts := make([]string, len(Examples))
	for i, e := range Examples {
		parts[i] = fmt.Sprintf("F%d %s", i+1, e)
	}
	return strings.Join(parts, "  ") + "\nEnter ask • Ctrl+L clear • quit/Ctrl+C exit"
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	labelStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	answerBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	statusStyles   = map[statusKind]lipgloss.Style{
		statusInfo:  lipgloss.NewStyle(),
		statusBusy:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		statusOK:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		statusError: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)
