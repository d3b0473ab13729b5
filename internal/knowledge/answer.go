package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/NamLeeeWatatek/omnikb-go/internal/budget"
	"github.com/NamLeeeWatatek/omnikb-go/internal/docstore"
	"github.com/NamLeeeWatatek/omnikb-go/internal/rag"
)

// ErrAnswerGeneration wraps LLM failures during answer generation so the
// transport layer can distinguish them from retrieval failures.
var ErrAnswerGeneration = errors.New("knowledge: answer generation failed")

const (
	// defaultQueryTopK is the passage count for raw retrieval.
	defaultQueryTopK = 5
	// answerTopK is the passage count fed to the LLM for answering.
	answerTopK = 3

	// insufficientContextAnswer is returned verbatim when retrieval finds
	// nothing. Clients key on this exact string; do not reword it.
	insufficientContextAnswer = "I don't have enough information to answer that question."

	// answerPromptFormat frames the retrieved passages for the LLM.
	answerPromptFormat = "Based on the following context, answer the question. " +
		"If the context doesn't contain relevant information, say so.\n\n" +
		"Context:\n%s\n\nQuestion: %s\n\nAnswer:"
)

// Answerer runs retrieval-augmented answering on top of a Service's stores.
type Answerer struct {
	// embedder converts the query into the same vector space as documents.
	embedder rag.Embedder

	// index performs the similarity search.
	index rag.VectorIndex

	// chat generates the final answer. May be nil when no LLM is configured;
	// Answer then fails with rag.ErrProviderUnavailable.
	chat model.ToolCallingChatModel

	// log receives structured retrieval events.
	log *slog.Logger

	// maxContextTokens caps the token budget of the assembled context block.
	maxContextTokens int
}

// Source identifies one retrieved passage backing an answer.
type Source struct {
	// ID is the document id of the passage.
	ID string
	// Title is the stored document title, when the payload carries one.
	Title string
	// Score is the similarity score from the vector search.
	Score float32
}

// Answer is the result of a retrieval-augmented generation round.
type Answer struct {
	// Text is the generated answer.
	Text string
	// Sources lists the passages the answer was grounded on, best first.
	Sources []Source
}

// NewAnswerer constructs an Answerer. chat may be nil for search-only
// deployments.
func NewAnswerer(emb rag.Embedder, index rag.VectorIndex, chat model.ToolCallingChatModel, log *slog.Logger) (*Answerer, error) {
	if emb == nil {
		return nil, fmt.Errorf("knowledge: embedder must not be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("knowledge: index must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Answerer{
		embedder:         emb,
		index:            index,
		chat:             chat,
		log:              log,
		maxContextTokens: budget.DefaultMaxContextTokens,
	}, nil
}

// Query embeds the question and returns the top-limit passages for the given
// tenant, best first. An empty botID queries the default tenant. limit <= 0
// selects the default.
func (a *Answerer) Query(ctx context.Context, question, botID string, limit int) ([]rag.Hit, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: query must not be empty", docstore.ErrValidation)
	}
	if limit <= 0 {
		limit = defaultQueryTopK
	}

	vectors, err := a.embedder.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("knowledge: embedding query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("knowledge: embedder returned no vector for query")
	}

	hits, err := a.index.Search(ctx, vectors[0], limit, rag.Filter{"botId": tenantOrDefault(botID)})
	if err != nil {
		return nil, fmt.Errorf("knowledge: vector search: %w", err)
	}
	return hits, nil
}

// Generate answers the question using the tenant's top passages as context.
// When retrieval finds nothing the fixed insufficient-context answer is
// returned with no sources and no LLM call is made. LLM failures are wrapped
// in ErrAnswerGeneration.
func (a *Answerer) Generate(ctx context.Context, question, botID string) (Answer, error) {
	if a.chat == nil {
		return Answer{}, fmt.Errorf("%w: no chat model configured", rag.ErrProviderUnavailable)
	}

	hits, err := a.Query(ctx, question, botID, answerTopK)
	if err != nil {
		return Answer{}, err
	}
	if len(hits) == 0 {
		a.log.Info("knowledge: no context found for question",
			slog.String("bot_id", tenantOrDefault(botID)),
		)
		return Answer{Text: insufficientContextAnswer}, nil
	}

	passages := make([]string, len(hits))
	for i, h := range hits {
		passages[i] = fmt.Sprintf("[%d] %s", i+1, h.Content)
	}

	reserved := budget.Estimate(fmt.Sprintf(answerPromptFormat, "", question))
	kept := budget.TrimPassages(passages, reserved, a.maxContextTokens)
	if len(kept) < len(passages) {
		a.log.Warn("knowledge: context trimmed to fit token budget",
			slog.Int("retrieved", len(passages)),
			slog.Int("kept", len(kept)),
		)
	}

	prompt := fmt.Sprintf(answerPromptFormat, strings.Join(kept, "\n\n"), question)
	msg, err := a.chat.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrAnswerGeneration, err)
	}

	sources := make([]Source, 0, len(kept))
	for i := range kept {
		h := hits[i]
		title, _ := h.Payload["title"].(string)
		sources = append(sources, Source{ID: h.ID, Title: title, Score: h.Score})
	}

	return Answer{Text: msg.Content, Sources: sources}, nil
}
