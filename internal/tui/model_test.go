package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/handbook-rag/internal/rag"
)

type fakeAnswerer struct {
	result   *rag.AnswerResult
	err      error
	question string
	k        int
}

func (f *fakeAnswerer) Answer(_ context.Context, question string, k int) (*rag.AnswerResult, error) {
	f.question, f.k = question, k
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func okIngest(context.Context) (string, error) { return "3 documents, 3 chunks", nil }

// update feeds msg to m and returns the concrete model and command.
func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok, "Update must return a tui.Model")
	return out, cmd
}

// readyModel returns a model whose background ingestion has completed.
func readyModel(t *testing.T, a Answerer) Model {
	t.Helper()
	m := New(context.Background(), a, okIngest, 2)
	msg := m.ingestCmd()()
	m, _ = update(t, m, msg)
	require.True(t, m.ready)
	return m
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestNew_StartsInitializing(t *testing.T) {
	t.Parallel()

	m := New(context.Background(), &fakeAnswerer{}, okIngest, 0)
	assert.Equal(t, statusInitializing, m.status)
	assert.False(t, m.ready)
	assert.NotNil(t, m.Init())
}

func TestIngestDone(t *testing.T) {
	t.Parallel()

	m := readyModel(t, &fakeAnswerer{})
	assert.Equal(t, statusReady, m.status)
	assert.Equal(t, "3 documents, 3 chunks", m.summary)
}

func TestIngestFailure(t *testing.T) {
	t.Parallel()

	m := New(context.Background(), &fakeAnswerer{}, func(context.Context) (string, error) {
		return "", rag.ErrEmptyCorpus
	}, 0)
	m, _ = update(t, m, m.ingestCmd()())

	assert.False(t, m.ready)
	assert.Equal(t, statusError, m.kind)
	assert.Contains(t, m.status, "no chunks")
}

func TestAsk_BeforeReady(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{}
	m := New(context.Background(), a, okIngest, 0)
	m.input.SetValue("What is our vacation policy?")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Contains(t, m.status, "not ready")
	assert.Empty(t, a.question)
}

func TestAsk_ShowsAnswerAndNumberedSources(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{result: &rag.AnswerResult{
		Answer:  "You get 20 days of paid vacation.",
		Sources: []string{"handbook/vacation.md", "handbook/benefits.md"},
	}}
	m := readyModel(t, a)
	m.input.SetValue("  What is our vacation policy?  ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.True(t, m.busy)
	assert.Equal(t, statusSearching, m.status)

	m, _ = update(t, m, cmd())
	assert.False(t, m.busy)
	assert.Equal(t, "What is our vacation policy?", a.question)
	assert.Equal(t, 2, a.k)
	assert.Equal(t, statusAnswered, m.status)
	assert.Equal(t, []string{"vacation.md", "benefits.md"}, m.sources)

	view := m.View()
	assert.Contains(t, view, "1. vacation.md")
	assert.Contains(t, view, "2. benefits.md")
	assert.Contains(t, view, "20 days")
}

func TestAsk_ErrorKeepsReady(t *testing.T) {
	t.Parallel()

	m := readyModel(t, &fakeAnswerer{err: errors.New("model offline")})
	m.input.SetValue("How do I request time off?")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())

	assert.True(t, m.ready)
	assert.False(t, m.busy)
	assert.Equal(t, statusError, m.kind)
	assert.Contains(t, m.status, "model offline")
}

func TestAsk_BlankQuestion(t *testing.T) {
	t.Parallel()

	m := readyModel(t, &fakeAnswerer{})
	m.input.SetValue("   ")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, "Please enter a question.", m.status)
}

func TestQuitWords(t *testing.T) {
	t.Parallel()

	for _, word := range []string{"quit", "exit", "q", "QUIT"} {
		m := readyModel(t, &fakeAnswerer{})
		m.input.SetValue(word)
		_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
		assert.True(t, isQuit(cmd), "%q should quit", word)
	}

	m := New(context.Background(), &fakeAnswerer{}, okIngest, 0)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.True(t, isQuit(cmd), "ctrl+c should quit")
}

func TestExampleKeys(t *testing.T) {
	t.Parallel()

	keys := []tea.KeyType{tea.KeyF1, tea.KeyF2, tea.KeyF3, tea.KeyF4, tea.KeyF5}
	for i, k := range keys {
		m := readyModel(t, &fakeAnswerer{})
		m, _ = update(t, m, tea.KeyMsg{Type: k})
		assert.Equal(t, Examples[i], m.input.Value())
	}
}

func TestClear(t *testing.T) {
	t.Parallel()

	a := &fakeAnswerer{result: &rag.AnswerResult{Answer: "answer", Sources: []string{"a.md"}}}
	m := readyModel(t, a)
	m.input.SetValue("q1")
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m, _ = update(t, m, cmd())
	m.input.SetValue("draft")

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Empty(t, m.answer)
	assert.Empty(t, m.sources)
	assert.Empty(t, m.input.Value())
	assert.True(t, strings.Contains(m.View(), "No answer yet."))
}

func TestWindowSize(t *testing.T) {
	t.Parallel()

	m := New(context.Background(), &fakeAnswerer{}, okIngest, 0)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Equal(t, 100, m.width)
	assert.Equal(t, 96, m.viewport.Width)
	assert.GreaterOrEqual(t, m.viewport.Height, 3)
}
