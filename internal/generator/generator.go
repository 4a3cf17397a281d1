// Package generator implements rag.AnswerGenerator on top of an eino chat
// model. Retrieved passages are "stuffed" into a single prompt together with
// the question; passages that do not fit the token budget are dropped
// lowest-ranked first.
package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/handbook-rag/internal/budget"
	"github.com/54b3r/handbook-rag/internal/logging"
	"github.com/54b3r/handbook-rag/internal/rag"
)

// systemPrompt instructs the model to answer only from the supplied context.
// {context} is replaced with the numbered passages.
const systemPrompt = `You are an assistant that answers questions about the company handbook.
Use the following pieces of context to answer the question at the end.
If you don't know the answer from the context, just say that you don't know, don't try to make up an answer.
Keep the answer concise and factual.

Context:
{context}`

// userPrompt carries the question. {question} is replaced at render time.
const userPrompt = `Question: {question}
Helpful Answer:`

// ChatGenerator renders a prompt from retrieved passages and asks a chat
// model for the answer. It is safe for concurrent use.
type ChatGenerator struct {
	// model is the underlying eino chat model.
	model model.BaseChatModel

	// template renders the system and user messages.
	template prompt.ChatTemplate

	// temperature is passed as a per-call option; nil omits it.
	temperature *float32

	// maxContextTokens bounds the rendered prompt; zero disables trimming.
	maxContextTokens int
}

// Option configures a ChatGenerator.
type Option func(*ChatGenerator)

// WithTemperature sets the sampling temperature sent with every call.
func WithTemperature(t float32) Option {
	return func(g *ChatGenerator) { g.temperature = &t }
}

// WithoutTemperature omits the temperature option, for models that reject it.
func WithoutTemperature() Option {
	return func(g *ChatGenerator) { g.temperature = nil }
}

// WithMaxContextTokens sets the prompt token budget. Zero disables trimming.
func WithMaxContextTokens(n int) Option {
	return func(g *ChatGenerator) { g.maxContextTokens = n }
}

// New constructs a ChatGenerator around m. The default temperature is 0 and
// the default budget is budget.DefaultMaxContextTokens.
func New(m model.BaseChatModel, opts ...Option) (*ChatGenerator, error) {
	if m == nil {
		return nil, fmt.Errorf("generator: chat model must not be nil: %w", rag.ErrConfiguration)
	}
	var zero float32
	g := &ChatGenerator{
		model: m,
		template: prompt.FromMessages(schema.FString,
			schema.SystemMessage(systemPrompt),
			schema.UserMessage(userPrompt),
		),
		temperature:      &zero,
		maxContextTokens: budget.DefaultMaxContextTokens,
	}
	for _, o := range opts {
		o(g)
	}
	if g.maxContextTokens < 0 {
		return nil, fmt.Errorf("generator: max context tokens must be >= 0: %w", rag.ErrConfiguration)
	}
	if g.temperature != nil && (*g.temperature < 0 || *g.temperature > 2) {
		return nil, fmt.Errorf("generator: temperature %v outside [0, 2]: %w", *g.temperature, rag.ErrConfiguration)
	}
	return g, nil
}

// Generate answers question using passages as context. Passages must be in
// rank order; when the prompt would exceed the token budget the lowest-ranked
// passages are dropped, but the first is always kept.
func (g *ChatGenerator) Generate(ctx context.Context, question string, passages []string) (string, error) {
	log := logging.FromContext(ctx)

	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("generator: question is empty: %w", rag.ErrInvalidInput)
	}

	overhead := budget.EstimateMessages([]*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(userPrompt + question),
	})
	kept := budget.TrimPassages(overhead, passages, g.maxContextTokens)
	if len(kept) < len(passages) {
		log.Warn("generator: passages trimmed to fit context budget",
			slog.Int("retrieved", len(passages)),
			slog.Int("kept", len(kept)),
			slog.Int("max_context_tokens", g.maxContextTokens),
		)
	}

	msgs, err := g.template.Format(ctx, map[string]any{
		"context":  renderContext(kept),
		"question": question,
	})
	if err != nil {
		return "", fmt.Errorf("generator: rendering prompt: %w", err)
	}

	var opts []model.Option
	if g.temperature != nil {
		opts = append(opts, model.WithTemperature(*g.temperature))
	}

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "handbook-answer",
		Type:      "ChatGenerator",
		Component: components.ComponentOfChatModel,
	})

	resp, err := g.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", classify(ctx, err)
	}
	if resp == nil {
		return "", fmt.Errorf("generator: model returned no message: %w", rag.ErrProviderUnavailable)
	}

	log.Debug("generator: answer generated",
		slog.Int("passages", len(kept)),
		slog.Int("answer_chars", len(resp.Content)),
	)
	return strings.TrimSpace(resp.Content), nil
}

// renderContext numbers passages in rank order for the prompt.
func renderContext(passages []string) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(strings.TrimSpace(p))
	}
	return b.String()
}

// classify maps a chat model error onto the rag sentinel taxonomy. Errors
// that already carry a sentinel are passed through.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, rag.ErrRateLimited),
		errors.Is(err, rag.ErrProviderUnavailable),
		errors.Is(err, rag.ErrInvalidInput):
		return fmt.Errorf("generator: %w", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("generator: model call timed out: %v: %w", err, rag.ErrProviderUnavailable)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("generator: %w", err)
	default:
		return fmt.Errorf("generator: model call failed: %v: %w", err, rag.ClassifyMessage(err.Error()))
	}
}
