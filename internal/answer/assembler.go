// Package answer builds grounded prompts from retrieved chunks and
// extracts a cited answer from the language model.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/docqa-server/internal/vectorindex"
)

const (
	// MaxQuestionLength bounds accepted question text.
	MaxQuestionLength = 500

	// DefaultTimeout bounds one full model invocation including retries.
	DefaultTimeout = 30 * time.Second

	// maxRetries is how many times a failed model call is retried
	// before the failure is surfaced.
	maxRetries = 2

	sentinelAnswer = "I don't know"
	sentinelField  = "N/A"
)

var (
	ErrInvalid    = errors.New("invalid request")
	ErrDownstream = errors.New("language model unavailable")
)

// Retriever supplies ranked chunks for a (file, question) pair.
type Retriever interface {
	GetOrCompute(ctx context.Context, uid, query string) (vectorindex.Result, error)
}

// ChatModel generates one completion from a system and user message.
type ChatModel interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Result is the answer payload returned to the caller. Page is a string
// so the sentinel "N/A" and real page numbers share one field.
type Result struct {
	Answer string `json:"answer"`
	Source string `json:"source"`
	Page   string `json:"page"`
}

// Assembler answers questions about one indexed file.
type Assembler struct {
	retriever Retriever
	model     ChatModel
	timeout   time.Duration
	logger    *slog.Logger
}

// New builds an Assembler. timeout <= 0 selects DefaultTimeout.
func New(retriever Retriever, model ChatModel, timeout time.Duration, logger *slog.Logger) *Assembler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		retriever: retriever,
		model:     model,
		timeout:   timeout,
		logger:    logger,
	}
}

// Answer validates the request, retrieves context chunks, and invokes
// the model. An empty retrieval yields the sentinel answer without a
// model call. Retrieval errors pass through unchanged (a missing
// collection stays recognizable); terminal model failure is ErrDownstream.
func (a *Assembler) Answer(ctx context.Context, question, fileUID string) (*Result, error) {
	question = strings.TrimSpace(question)
	fileUID = strings.TrimSpace(fileUID)

	if question == "" {
		return nil, fmt.Errorf("%w: missing question", ErrInvalid)
	}
	if len(question) > MaxQuestionLength {
		return nil, fmt.Errorf("%w: question exceeds %d characters", ErrInvalid, MaxQuestionLength)
	}
	if fileUID == "" {
		return nil, fmt.Errorf("%w: missing file identifier", ErrInvalid)
	}

	retrieved, err := a.retriever.GetOrCompute(ctx, fileUID, question)
	if err != nil {
		return nil, err
	}
	if len(retrieved.Documents) == 0 {
		a.logger.Info("no relevant chunks retrieved", "file_uid", fileUID)
		return &Result{Answer: sentinelAnswer, Source: sentinelField, Page: sentinelField}, nil
	}

	system := buildSystemPrompt(retrieved)
	text, err := a.completeWithRetry(ctx, system, question)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownstream, err)
	}

	// Highest-ranked chunk supplies the citation.
	top := retrieved.Metadatas[0]
	return &Result{
		Answer: strings.TrimSpace(text),
		Source: top.Source,
		Page:   strconv.Itoa(top.Page),
	}, nil
}

// buildSystemPrompt concatenates the retrieved chunks, labeled with
// their page, in retrieval order, and constrains the model to answer
// only from that context.
func buildSystemPrompt(retrieved vectorindex.Result) string {
	sections := make([]string, len(retrieved.Documents))
	for i, doc := range retrieved.Documents {
		sections[i] = fmt.Sprintf("Section (Page %d): %s", retrieved.Metadatas[i].Page, doc)
	}
	context := strings.Join(sections, "\n\n")

	return "You are a legal assistant specializing in Terms and Conditions analysis. " +
		"Answer the user's query concisely and accurately based only on the provided context. " +
		"Cite specific sections or pages when relevant. If the context doesn't contain the answer, " +
		"respond with 'I don't know.' Do not use external knowledge or make assumptions." +
		"\n\nContext:\n" + context
}

// completeWithRetry invokes the model under the configured timeout,
// retrying transient failures up to maxRetries times.
func (a *Assembler) completeWithRetry(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var text string
	operation := func() error {
		var err error
		text, err = a.model.Complete(ctx, system, user)
		return err
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}
