package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
)

// ChunkStore is the chunk search surface the engine needs
type ChunkStore interface {
	SelectChunksBySimilarity(embedding []float32, limit int, threshold float64, documentRIDs []uuid.UUID) ([]*model.SearchResult, error)
	SelectChunksByKeywords(keywords []string, limit int, threshold float64, documentRIDs []uuid.UUID) ([]*model.SearchResult, error)
	SelectChunksBySubstring(keywords []string, limit int, documentRIDs []uuid.UUID) ([]*model.SearchResult, error)
}

// Engine provides vector, keyword and hybrid retrieval over a chunk store
type Engine struct {
	chunks ChunkStore
	logger *slog.Logger
}

// NewEngine creates a new retrieval engine
func NewEngine(chunks ChunkStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		chunks: chunks,
		logger: logger,
	}
}

// maxFallbackKeywords caps the substring fallback to the leading keywords
const maxFallbackKeywords = 3

// stopWords are skipped during keyword extraction
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "his": true,
	"has": true, "have": true, "had": true, "this": true, "that": true,
	"with": true, "from": true, "they": true, "will": true, "what": true,
	"when": true, "where": true, "which": true, "who": true, "whom": true,
	"how": true, "why": true, "does": true, "did": true, "about": true,
	"into": true, "than": true, "then": true, "them": true, "these": true,
	"those": true, "there": true, "their": true, "were": true, "been": true,
	"being": true, "would": true, "could": true, "should": true,
}

// ExtractKeywords lowercases the query, strips punctuation and drops stop
// words and tokens shorter than three characters.
func ExtractKeywords(query string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var keywords []string
	seen := make(map[string]bool)
	for _, token := range tokens {
		if len(token) < 3 || stopWords[token] || seen[token] {
			continue
		}
		seen[token] = true
		keywords = append(keywords, token)
	}
	return keywords
}

func validateConfig(config *model.QueryConfig) error {
	if config == nil {
		return helper.NewValidationError("query configuration", fmt.Errorf("query configuration is nil"))
	}
	if config.TopK <= 0 {
		return helper.NewValidationError("query configuration", fmt.Errorf("top k must be positive, got %d", config.TopK))
	}
	return nil
}

// VectorRetrieve performs pure vector similarity search
func (e *Engine) VectorRetrieve(ctx context.Context, embedding []float32, config *model.QueryConfig) ([]*model.SearchResult, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, helper.NewValidationError("vector retrieval", fmt.Errorf("query embedding is empty"))
	}
	if err := ctx.Err(); err != nil {
		return nil, helper.NewError("vector retrieval cancelled", err)
	}

	return e.chunks.SelectChunksBySimilarity(embedding, config.TopK, config.SimilarityThreshold, config.DocumentRIDs)
}

// KeywordRetrieve performs fuzzy keyword search over the query's
// keywords. When the fuzzy search fails, it degrades to a substring
// containment scan over the leading keywords; those results carry the
// fallback retrieval method so the degradation stays visible.
func (e *Engine) KeywordRetrieve(ctx context.Context, query string, config *model.QueryConfig) ([]*model.SearchResult, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, helper.NewError("keyword retrieval cancelled", err)
	}

	keywords := ExtractKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	results, err := e.chunks.SelectChunksByKeywords(keywords, config.TopK, config.SimilarityThreshold, config.DocumentRIDs)
	if err == nil {
		return results, nil
	}

	e.logger.Warn("Fuzzy keyword search failed, falling back to substring search",
		slog.String("error", err.Error()),
	)

	fallbackKeywords := keywords[:min(len(keywords), maxFallbackKeywords)]
	results, fallbackErr := e.chunks.SelectChunksBySubstring(fallbackKeywords, config.TopK, config.DocumentRIDs)
	if fallbackErr != nil {
		return nil, helper.NewError("keyword retrieval", fallbackErr)
	}

	return results, nil
}

// HybridRetrieve runs vector and keyword retrieval concurrently,
// over-fetching each channel, and fuses the lists with weighted
// reciprocal rank fusion. By default a failed channel fails the query;
// with AllowDegraded the surviving channel's results are returned
// instead.
func (e *Engine) HybridRetrieve(ctx context.Context, embedding []float32, query string, config *model.QueryConfig) ([]*model.SearchResult, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if len(embedding) == 0 {
		return nil, helper.NewValidationError("hybrid retrieval", fmt.Errorf("query embedding is empty"))
	}

	overFetch := config.OverFetchFactor
	if overFetch <= 0 {
		overFetch = 3
	}
	fetchConfig := *config
	fetchConfig.TopK = config.TopK * overFetch

	var (
		wg             sync.WaitGroup
		vectorResults  []*model.SearchResult
		keywordResults []*model.SearchResult
		vectorErr      error
		keywordErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		vectorResults, vectorErr = e.VectorRetrieve(ctx, embedding, &fetchConfig)
	}()
	go func() {
		defer wg.Done()
		keywordResults, keywordErr = e.KeywordRetrieve(ctx, query, &fetchConfig)
	}()
	wg.Wait()

	if vectorErr != nil && keywordErr != nil {
		return nil, helper.NewError("hybrid retrieval", fmt.Errorf("both channels failed: vector: %v, keyword: %v", vectorErr, keywordErr))
	}
	if vectorErr != nil || keywordErr != nil {
		failed := vectorErr
		channel := "vector"
		if keywordErr != nil {
			failed = keywordErr
			channel = "keyword"
		}
		if !config.AllowDegraded {
			return nil, helper.NewError("hybrid retrieval", failed)
		}
		e.logger.Warn("Hybrid retrieval continuing with one channel",
			slog.String("failed_channel", channel),
			slog.String("error", failed.Error()),
		)
	}

	fused := FuseRRF(vectorResults, keywordResults, config.RRFConstant, config.VectorWeight, config.KeywordWeight)
	for _, result := range fused {
		result.RetrievalMethod = model.RetrievalMethodHybrid
	}

	if len(fused) > config.TopK {
		fused = fused[:config.TopK]
	}

	return fused, nil
}

// noResultsContext is returned when no chunks matched a query
const noResultsContext = "No relevant information found in the knowledge base."

// FormatContext renders results as a context string for prompt assembly.
// Each chunk is labeled with its source position and document title.
func FormatContext(results []*model.SearchResult) string {
	if len(results) == 0 {
		return noResultsContext
	}

	parts := make([]string, 0, len(results))
	for i, result := range results {
		parts = append(parts, fmt.Sprintf("[Source %d: %s]\n%s", i+1, result.DocumentTitle, result.Content))
	}
	return strings.Join(parts, "\n\n")
}
