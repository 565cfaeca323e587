// Package synthesis turns retrieved text into answers and summaries using an
// OpenAI-compatible chat model.
package synthesis

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docindex/internal/domain"
)

// maxSummaryChars caps the text sent for summarization.
const maxSummaryChars = 48000

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer produces a chat completion.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Synthesizer answers questions and summarizes text.
type Synthesizer interface {
	Answer(ctx context.Context, question string, contexts []domain.QueryResult) (string, error)
	Summarize(ctx context.Context, text string, t SummaryType) (string, error)
}

// Service implements Synthesizer on top of a Completer.
type Service struct {
	llm    Completer
	logger *zap.Logger
}

var _ Synthesizer = (*Service)(nil)

// NewService creates a Service.
func NewService(llm Completer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{llm: llm, logger: logger.Named("synthesis")}
}

// Answer answers question from the given retrieval results.
func (s *Service) Answer(ctx context.Context, question string, contexts []domain.QueryResult) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", fmt.Errorf("%w: question required", domain.ErrValidation)
	}
	if len(contexts) == 0 {
		return "", fmt.Errorf("%w: no context to answer from", domain.ErrValidation)
	}
	prompt, err := renderAnswer(question, contexts)
	if err != nil {
		return "", fmt.Errorf("rendering answer prompt: %w", err)
	}
	return s.complete(ctx, "answer", prompt)
}

// Summarize summarizes text in the style of t.
func (s *Service) Summarize(ctx context.Context, text string, t SummaryType) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text to summarize", domain.ErrValidation)
	}
	prompt, err := renderSummary(t, clip(text, maxSummaryChars))
	if err != nil {
		return "", err
	}
	return s.complete(ctx, "summary."+string(t), prompt)
}

func (s *Service) complete(ctx context.Context, op, prompt string) (string, error) {
	start := time.Now()
	out, err := s.llm.Complete(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		s.logger.Warn("completion failed", zap.String("op", op), zap.Error(err))
		return "", err
	}
	s.logger.Debug("completion done",
		zap.String("op", op),
		zap.Int("prompt_chars", len(prompt)),
		zap.Duration("duration", time.Since(start)))
	return strings.TrimSpace(out), nil
}

// clip cuts s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func errUnknownType(t SummaryType) error {
	return fmt.Errorf("%w: unknown summary type %q", domain.ErrValidation, t)
}
