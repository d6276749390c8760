// Package agent answers questions from the website knowledge base: it retrieves
// the chunks most similar to the question and asks the language model to answer
// from them only.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"go.uber.org/zap"
)

// Format selects how the answer text is formatted.
type Format int

const (
	PlainText Format = iota
	RichText
)

// DeclineMessage is returned verbatim when the knowledge base has nothing relevant.
const DeclineMessage = "I don't have enough information to answer this question accurately."

const description = `You are representing TSAW, an AI Agent.
Your goal is to provide information from the vector DB.`

var instructions = []string{
	"Analyze the request.",
	"Search your knowledge base for relevant information.",
	"Present the information to the user.",
	"Provide concise, detailed but accurate answers based on the context.",
	"Do not make up or infer information that is not in the context.",
	`If the information needed is not available in the provided context, respond with "` + DeclineMessage + `"`,
}

const (
	defaultTopK          = 5
	defaultMaxRetries    = 2
	defaultRetryInterval = 500 * time.Millisecond
	outputKey            = "text"
)

var promptTemplate prompts.PromptTemplate

func init() {
	var b strings.Builder
	b.WriteString(description)
	b.WriteString("\n\nInstructions:\n")
	for i, line := range instructions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, line)
	}
	b.WriteString("{{.format}}\n\nContext:\n{{.context}}\n\nQuestion: {{.question}}\nAnswer:")

	promptTemplate = prompts.NewPromptTemplate(
		b.String(),
		[]string{"format", "context", "question"},
	)
}

// Agent is a stateless retrieval-augmented question answerer. It is safe for
// concurrent use by many sessions.
type Agent struct {
	retriever     vectorstores.Retriever
	chain         *chains.LLMChain
	topK          int
	maxRetries    uint64
	retryInterval time.Duration
	log           *zap.Logger
}

// Option configures an Agent.
type Option func(*Agent)

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option {
	return func(a *Agent) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithMaxRetries bounds how many times a failed upstream call is retried.
func WithMaxRetries(n int) Option {
	return func(a *Agent) {
		if n >= 0 {
			a.maxRetries = uint64(n)
		}
	}
}

// WithRetryInterval sets the initial backoff between retries.
func WithRetryInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.retryInterval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// New creates an Agent answering with llm from the documents in store.
func New(llm llms.Model, store vectorstores.VectorStore, opts ...Option) *Agent {
	a := &Agent{
		topK:          defaultTopK,
		maxRetries:    defaultMaxRetries,
		retryInterval: defaultRetryInterval,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	a.retriever = vectorstores.ToRetriever(store, a.topK)
	a.chain = chains.NewLLMChain(llm, promptTemplate)
	a.chain.OutputKey = outputKey

	return a
}

// Answer returns the model's answer to question grounded in the retrieved
// chunks, or DeclineMessage when nothing relevant was retrieved. Every error
// is an *Error.
func (a *Agent) Answer(ctx context.Context, question string, format Format) (string, error) {
	start := time.Now()

	var docs []schema.Document
	err := a.retry(ctx, func() error {
		var err error
		docs, err = a.retriever.GetRelevantDocuments(ctx, question)
		return err
	})
	if err != nil {
		return "", classify(ctx, fmt.Errorf("retrieve context: %w", err))
	}

	grounding := joinDocuments(docs)
	if grounding == "" {
		a.log.Info("No relevant chunks retrieved", zap.String("question", question))
		return DeclineMessage, nil
	}

	values := map[string]any{
		"format":   formatInstruction(format),
		"context":  grounding,
		"question": question,
	}

	var answer string
	err = a.retry(ctx, func() error {
		out, err := chains.Call(ctx, a.chain, values)
		if err != nil {
			return err
		}
		text, _ := out[outputKey].(string)
		answer = strings.TrimSpace(text)
		if answer == "" {
			return backoff.Permanent(&Error{Kind: EmptyResponse, Err: errEmptyResponse})
		}
		return nil
	})
	if err != nil {
		return "", classify(ctx, err)
	}

	if isDecline(answer) {
		answer = DeclineMessage
	}

	a.log.Info("Answered question",
		zap.Int("chunks", len(docs)),
		zap.Int("answer_length", len(answer)),
		zap.Duration("elapsed", time.Since(start)))

	return answer, nil
}

func (a *Agent) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.retryInterval

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		a.log.Warn("Agent call failed", zap.Int("attempt", attempt), zap.Error(err))
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, a.maxRetries), ctx))
}

func classify(ctx context.Context, err error) error {
	var agentErr *Error
	if errors.As(err, &agentErr) {
		return agentErr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Err: err}
	}
	return &Error{Kind: Upstream, Err: err}
}

func formatInstruction(format Format) string {
	if format == RichText {
		return "Format the answer as Markdown."
	}
	return "Format the answer as plain text without Markdown."
}

func joinDocuments(docs []schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		text := strings.TrimSpace(doc.PageContent)
		if text == "" {
			continue
		}
		if source, ok := doc.Metadata["url"].(string); ok && source != "" {
			text = "Source: " + source + "\n" + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func isDecline(answer string) bool {
	return strings.Trim(answer, "\"' \n") == DeclineMessage
}
