package retrieval

import (
	"fmt"
	"testing"

	"github.com/siherrmann/ragbase/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scoreByLength ranks longer texts higher, good enough to observe ordering
func scoreByLength(query string, texts []string) ([]float64, error) {
	scores := make([]float64, len(texts))
	for i, text := range texts {
		scores[i] = float64(len(text))
	}
	return scores, nil
}

func staticLoader(fn RerankFunc) func() (RerankFunc, error) {
	return func() (RerankFunc, error) {
		return fn, nil
	}
}

func TestRerankerRerank(t *testing.T) {
	t.Run("Reorders results by model score", func(t *testing.T) {
		reranker := NewReranker(staticLoader(scoreByLength), nil)

		results := []*model.SearchResult{
			result(1, "short", 0.9),
			result(2, "a considerably longer candidate text", 0.5),
			result(3, "medium length text", 0.7),
		}

		reranked, err := reranker.Rerank("query", results, 3)

		require.NoError(t, err)
		require.Len(t, reranked, 3)
		assert.Equal(t, int64(2), reranked[0].ChunkID, "Expected the highest scored candidate first")
		assert.Equal(t, int64(3), reranked[1].ChunkID)
		assert.Equal(t, int64(1), reranked[2].ChunkID)
		for _, r := range reranked {
			assert.Equal(t, model.RetrievalMethodReranked, r.RetrievalMethod, "Expected reranked results to be tagged")
		}
	})

	t.Run("Truncates to top k", func(t *testing.T) {
		reranker := NewReranker(staticLoader(scoreByLength), nil)

		results := []*model.SearchResult{
			result(1, "aaa", 0.9),
			result(2, "aaaaaa", 0.8),
			result(3, "a", 0.7),
		}

		reranked, err := reranker.Rerank("query", results, 1)

		require.NoError(t, err)
		require.Len(t, reranked, 1)
		assert.Equal(t, int64(2), reranked[0].ChunkID)
	})

	t.Run("Batch boundaries do not affect ordering", func(t *testing.T) {
		results := make([]*model.SearchResult, 0, 10)
		for i := 0; i < 10; i++ {
			content := ""
			for j := 0; j <= i; j++ {
				content += "x"
			}
			results = append(results, result(int64(i), content, 0.5))
		}

		smallBatch := NewReranker(staticLoader(scoreByLength), nil)
		smallBatch.BatchSize = 3
		largeBatch := NewReranker(staticLoader(scoreByLength), nil)
		largeBatch.BatchSize = 100

		fromSmall, err := smallBatch.Rerank("query", results, 10)
		require.NoError(t, err)
		fromLarge, err := largeBatch.Rerank("query", results, 10)
		require.NoError(t, err)

		assert.Equal(t, fromLarge, fromSmall, "Expected identical ordering regardless of batch size")
	})

	t.Run("Empty input short-circuits without loading the model", func(t *testing.T) {
		loaderCalled := false
		reranker := NewReranker(func() (RerankFunc, error) {
			loaderCalled = true
			return scoreByLength, nil
		}, nil)

		reranked, err := reranker.Rerank("query", nil, 5)

		assert.NoError(t, err)
		assert.Empty(t, reranked)
		assert.False(t, loaderCalled, "Expected the model to stay unloaded")
	})

	t.Run("Model is loaded once", func(t *testing.T) {
		loadCount := 0
		reranker := NewReranker(func() (RerankFunc, error) {
			loadCount++
			return scoreByLength, nil
		}, nil)

		results := []*model.SearchResult{result(1, "a", 0.9)}

		_, err := reranker.Rerank("query", results, 1)
		require.NoError(t, err)
		_, err = reranker.Rerank("query", results, 1)
		require.NoError(t, err)

		assert.Equal(t, 1, loadCount, "Expected lazy loading to happen once")
	})

	t.Run("Load failure returns input unchanged with error", func(t *testing.T) {
		reranker := NewReranker(func() (RerankFunc, error) {
			return nil, fmt.Errorf("model download failed")
		}, nil)

		results := []*model.SearchResult{
			result(1, "first", 0.9),
			result(2, "second", 0.8),
		}

		reranked, err := reranker.Rerank("query", results, 2)

		assert.Error(t, err, "Expected the load failure to be reported")
		assert.Equal(t, results, reranked, "Expected the input order to survive")
	})

	t.Run("Scoring failure returns input unchanged with error", func(t *testing.T) {
		reranker := NewReranker(staticLoader(func(query string, texts []string) ([]float64, error) {
			return nil, fmt.Errorf("inference crashed")
		}), nil)

		results := []*model.SearchResult{
			result(1, "first", 0.9),
			result(2, "second", 0.8),
		}

		reranked, err := reranker.Rerank("query", results, 2)

		assert.Error(t, err)
		assert.Equal(t, results, reranked, "Expected the input order to survive")
	})

	t.Run("Score count mismatch returns input unchanged with error", func(t *testing.T) {
		reranker := NewReranker(staticLoader(func(query string, texts []string) ([]float64, error) {
			return []float64{0.1}, nil
		}), nil)

		results := []*model.SearchResult{
			result(1, "first", 0.9),
			result(2, "second", 0.8),
		}

		reranked, err := reranker.Rerank("query", results, 2)

		assert.Error(t, err)
		assert.Equal(t, results, reranked)
	})

	t.Run("Non-positive top k is rejected", func(t *testing.T) {
		reranker := NewReranker(staticLoader(scoreByLength), nil)

		_, err := reranker.Rerank("query", []*model.SearchResult{result(1, "a", 0.9)}, 0)

		assert.Error(t, err)
	})

	t.Run("Reranking does not mutate input results", func(t *testing.T) {
		reranker := NewReranker(staticLoader(scoreByLength), nil)

		original := result(1, "some candidate", 0.9)
		_, err := reranker.Rerank("query", []*model.SearchResult{original}, 1)

		require.NoError(t, err)
		assert.Equal(t, 0.9, original.Similarity, "Expected input similarity to stay untouched")
		assert.Empty(t, string(original.RetrievalMethod), "Expected input method to stay untouched")
	})
}
