// Package assistant answers a question from the knowledge base: it embeds the
// question, retrieves the closest chunks, asks the LLM for a grounded answer
// and degrades to a fixed reply or an extractive answer when a stage fails.
package assistant

import (
	"context"
	"strings"
	"time"

	"github.com/ccp-pamplona/ccpbot/internal/config"
	"github.com/ccp-pamplona/ccpbot/internal/core"
	"github.com/ccp-pamplona/ccpbot/internal/embed"
	"github.com/ccp-pamplona/ccpbot/internal/llm"
	"github.com/ccp-pamplona/ccpbot/internal/logger"
)

// extractiveChunks is how many passages the extractive fallback quotes.
const extractiveChunks = 2

// Options bound retrieval and the size of the prompt context.
type Options struct {
	TopK            int
	ContextChunks   int
	MaxChunkChars   int
	MaxContextChars int
}

// DefaultOptions returns k=5, four context chunks of up to 1200 characters
// and a 4000 character context.
func DefaultOptions() Options {
	return Options{TopK: 5, ContextChunks: 4, MaxChunkChars: 1200, MaxContextChars: 4000}
}

// OptionsFromConfig converts the retrieval settings.
func OptionsFromConfig(r config.Retrieval) Options {
	return Options{
		TopK:            r.TopK,
		ContextChunks:   r.ContextChunks,
		MaxChunkChars:   r.MaxChunkChars,
		MaxContextChars: r.MaxContextChars,
	}
}

// Assistant implements core.Answerer.
type Assistant struct {
	embedder core.Embedder
	store    core.VectorStore
	llm      llm.Completer
	prompts  *llm.PromptGenerator
	opts     Options
}

var _ core.Answerer = (*Assistant)(nil)

// New wires an Assistant. A nil prompts uses the built-in persona.
func New(embedder core.Embedder, store core.VectorStore, completer llm.Completer, prompts *llm.PromptGenerator, opts Options) *Assistant {
	if prompts == nil {
		prompts = llm.NewPromptGenerator(nil)
	}
	def := DefaultOptions()
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}
	if opts.ContextChunks <= 0 {
		opts.ContextChunks = def.ContextChunks
	}
	opts.ContextChunks = min(opts.ContextChunks, opts.TopK)
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = def.MaxChunkChars
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = def.MaxContextChars
	}
	return &Assistant{embedder: embedder, store: store, llm: completer, prompts: prompts, opts: opts}
}

// Replies returns the fixed replies of the persona in use.
func (a *Assistant) Replies() llm.Replies {
	return a.prompts.Persona().Replies
}

// Answer implements core.Answerer. The result is never empty.
func (a *Assistant) Answer(ctx context.Context, question string) string {
	replies := a.Replies()
	question = strings.TrimSpace(question)
	if question == "" {
		return replies.NoInformation
	}
	start := time.Now()

	vec, err := embed.EmbedQuery(ctx, a.embedder, question)
	if err != nil {
		logger.Error("Failed to embed question: %v", err)
		return replies.Unavailable
	}

	results, err := a.store.Query(ctx, vec, a.opts.TopK)
	if err != nil {
		logger.Error("Failed to query vector store %s: %v", a.store.Name(), err)
		return replies.Unavailable
	}
	if len(results) == 0 {
		logger.Info("No chunks retrieved for question %q", logger.Preview(question, 60))
		return replies.NoInformation
	}

	top := topResults(results, a.opts.ContextChunks)
	passages := buildContext(top, a.opts.MaxChunkChars, a.opts.MaxContextChars)
	logger.Debug("Retrieved %d chunks, using %d (%d chars of context), best score %.3f",
		len(results), len(top), len([]rune(passages)), top[0].Score)

	answer, err := a.llm.Complete(ctx, a.prompts.Messages(passages, question))
	if err != nil || strings.TrimSpace(answer) == "" {
		logger.Warn("LLM generation failed, answering extractively: %v", err)
		return extractive(top, a.opts.MaxChunkChars, a.opts.MaxContextChars, replies.NoInformation)
	}

	logger.Info("Answered in %s with %d context chunks", time.Since(start).Round(time.Millisecond), len(top))
	return strings.TrimSpace(answer)
}
