package retrieval

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
)

// RerankFunc scores candidate texts against a query with a cross-encoder.
// It returns one relevance score per text, in input order.
type RerankFunc func(query string, texts []string) ([]float64, error)

// DefaultRerankBatchSize is the number of candidates scored per model call
const DefaultRerankBatchSize = 32

// Reranker reorders search results with a cross-encoder model. The model
// is loaded lazily on first use because loading is expensive and many
// queries never rerank.
type Reranker struct {
	loader    func() (RerankFunc, error)
	once      sync.Once
	rerank    RerankFunc
	loadErr   error
	BatchSize int
	Logger    *slog.Logger
}

// NewReranker creates a reranker from a model loader
func NewReranker(loader func() (RerankFunc, error), logger *slog.Logger) *Reranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reranker{
		loader:    loader,
		BatchSize: DefaultRerankBatchSize,
		Logger:    logger,
	}
}

// Rerank scores results against the query and returns them reordered by
// descending relevance, truncated to topK. On any model failure the input
// is returned unchanged along with the error so callers can decide
// whether to surface or swallow the degradation. Batch boundaries do not
// affect scores, every candidate is scored independently against the
// query.
func (r *Reranker) Rerank(query string, results []*model.SearchResult, topK int) ([]*model.SearchResult, error) {
	if len(results) == 0 {
		return results, nil
	}
	if topK <= 0 {
		return results, helper.NewValidationError("rerank", fmt.Errorf("top k must be positive, got %d", topK))
	}

	r.once.Do(func() {
		r.rerank, r.loadErr = r.loader()
	})
	if r.loadErr != nil {
		return results, helper.NewError("load reranker model", r.loadErr)
	}

	batchSize := r.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultRerankBatchSize
	}

	scores := make([]float64, 0, len(results))
	for start := 0; start < len(results); start += batchSize {
		end := min(start+batchSize, len(results))

		texts := make([]string, 0, end-start)
		for _, result := range results[start:end] {
			texts = append(texts, result.Content)
		}

		batchScores, err := r.rerank(query, texts)
		if err != nil {
			return results, helper.NewError("rerank batch", err)
		}
		if len(batchScores) != len(texts) {
			return results, helper.NewError("rerank batch", fmt.Errorf("expected %d scores, got %d", len(texts), len(batchScores)))
		}
		scores = append(scores, batchScores...)
	}

	type scoredResult struct {
		result *model.SearchResult
		score  float64
		order  int
	}

	scored := make([]*scoredResult, len(results))
	for i, result := range results {
		clone := *result
		scored[i] = &scoredResult{result: &clone, score: scores[i], order: i}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].order < scored[j].order
	})

	if len(scored) > topK {
		scored = scored[:topK]
	}

	reranked := make([]*model.SearchResult, len(scored))
	for i, entry := range scored {
		entry.result.Similarity = entry.score
		entry.result.RetrievalMethod = model.RetrievalMethodReranked
		reranked[i] = entry.result
	}

	return reranked, nil
}

// DefaultRerankLoader loads the ms-marco-MiniLM-L-6-v2 cross-encoder
func DefaultRerankLoader() func() (RerankFunc, error) {
	return func() (RerankFunc, error) {
		modelName := "cross-encoder/ms-marco-MiniLM-L-6-v2"
		modelPath, err := helper.PrepareModel(modelName, "onnx/model.onnx")
		if err != nil {
			return nil, err
		}

		session, err := hugot.NewGoSession()
		if err != nil {
			return nil, fmt.Errorf("failed to create hugot session: %w", err)
		}

		config := hugot.TextClassificationConfig{
			ModelPath: modelPath,
			Name:      "reranker-pipeline",
		}
		rerankPipeline, err := hugot.NewPipeline(session, config)
		if err != nil {
			if destroyErr := session.Destroy(); destroyErr != nil {
				return nil, fmt.Errorf("failed to create reranker pipeline: %w (cleanup error: %v)", err, destroyErr)
			}
			return nil, fmt.Errorf("failed to create reranker pipeline: %w", err)
		}

		return func(query string, texts []string) ([]float64, error) {
			inputs := make([]string, len(texts))
			for i, text := range texts {
				inputs[i] = query + " [SEP] " + text
			}

			result, err := rerankPipeline.RunPipeline(inputs)
			if err != nil {
				return nil, fmt.Errorf("failed to run reranker: %w", err)
			}
			if len(result.ClassificationOutputs) != len(texts) {
				return nil, fmt.Errorf("expected %d outputs, got %d", len(texts), len(result.ClassificationOutputs))
			}

			scores := make([]float64, len(texts))
			for i, outputs := range result.ClassificationOutputs {
				if len(outputs) == 0 {
					return nil, fmt.Errorf("no classification output for candidate %d", i)
				}
				scores[i] = float64(outputs[0].Score)
			}
			return scores, nil
		}, nil
	}
}
