package database

import (
	"testing"

	"github.com/google/uuid"
	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// All chunk tests share one database, so they share one table dimension.
const testEmbeddingDim = 3

func setupChunkHandlers(t *testing.T) (*DocumentsDBHandler, *ChunksDBHandler, *model.Document) {
	database := initDB(t)

	documentsDbHandler, err := NewDocumentsDBHandler(database, true)
	require.NoError(t, err)

	chunksDbHandler, err := NewChunksDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	doc := &model.Document{
		Title:  "Chunk Test Document",
		Source: "chunks.txt",
	}
	err = documentsDbHandler.InsertDocument(doc)
	require.NoError(t, err)

	t.Cleanup(func() {
		documentsDbHandler.DeleteDocument(doc.RID)
	})

	return documentsDbHandler, chunksDbHandler, doc
}

func TestChunksNewChunksDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewChunksDBHandler", func(t *testing.T) {
		chunksDbHandler, err := NewChunksDBHandler(database, testEmbeddingDim, true)
		assert.NoError(t, err, "Expected NewChunksDBHandler to not return an error")
		require.NotNil(t, chunksDbHandler, "Expected NewChunksDBHandler to return a non-nil instance")
		require.NotNil(t, chunksDbHandler.db, "Expected NewChunksDBHandler to have a non-nil database instance")
	})

	t.Run("Invalid call NewChunksDBHandler with nil database", func(t *testing.T) {
		_, err := NewChunksDBHandler(nil, testEmbeddingDim, false)
		assert.Error(t, err, "Expected error when creating ChunksDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})

	t.Run("Invalid call NewChunksDBHandler with zero dimension", func(t *testing.T) {
		_, err := NewChunksDBHandler(database, 0, false)
		assert.Error(t, err, "Expected error when creating ChunksDBHandler with zero dimension")
		assert.True(t, helper.IsKind(err, helper.KindValidation), "Expected a validation error")
	})
}

func TestChunksInsert(t *testing.T) {
	_, chunksDbHandler, doc := setupChunkHandlers(t)

	t.Run("Insert chunk with embedding", func(t *testing.T) {
		tokenCount := 7
		chunk := &model.Chunk{
			DocumentID: doc.ID,
			Content:    "The quick brown fox jumps over the lazy dog",
			Embedding:  []float32{1, 0, 0},
			ChunkIndex: 0,
			TokenCount: &tokenCount,
			Metadata:   map[string]interface{}{"section": "intro"},
		}

		err := chunksDbHandler.InsertChunk(chunk)
		assert.NoError(t, err, "Expected InsertChunk to not return an error")
		assert.NotZero(t, chunk.ID, "Expected inserted chunk to have an ID")
		assert.Equal(t, doc.RID, chunk.DocumentRID, "Expected chunk to carry the document RID")
		require.NotNil(t, chunk.TokenCount, "Expected token count to round-trip")
		assert.Equal(t, 7, *chunk.TokenCount, "Expected token count to match")
	})

	t.Run("Insert chunk without embedding", func(t *testing.T) {
		chunk := &model.Chunk{
			DocumentID: doc.ID,
			Content:    "Pending chunk without an embedding",
			ChunkIndex: 1,
		}

		err := chunksDbHandler.InsertChunk(chunk)
		assert.NoError(t, err, "Expected InsertChunk without embedding to not return an error")
		assert.Nil(t, chunk.Embedding, "Expected embedding to stay nil")
	})

	t.Run("Insert chunk with wrong dimension", func(t *testing.T) {
		chunk := &model.Chunk{
			DocumentID: doc.ID,
			Content:    "Wrong dimension",
			Embedding:  []float32{1, 0, 0, 0},
			ChunkIndex: 2,
		}

		err := chunksDbHandler.InsertChunk(chunk)
		assert.Error(t, err, "Expected InsertChunk with wrong dimension to return an error")
		assert.True(t, helper.IsKind(err, helper.KindIntegrity), "Expected an integrity error")
	})

	t.Run("Insert chunk inside transaction rolls back", func(t *testing.T) {
		tx, err := chunksDbHandler.db.Instance.Begin()
		require.NoError(t, err)

		chunk := &model.Chunk{
			DocumentID: doc.ID,
			Content:    "Transactional chunk",
			Embedding:  []float32{0, 1, 0},
			ChunkIndex: 3,
		}

		err = chunksDbHandler.InsertChunkTx(tx, chunk)
		assert.NoError(t, err, "Expected InsertChunkTx to not return an error")

		err = tx.Rollback()
		require.NoError(t, err)

		_, err = chunksDbHandler.SelectChunk(chunk.ID)
		assert.Error(t, err, "Expected rolled back chunk to not exist")
	})
}

func TestChunksSelectByDocument(t *testing.T) {
	_, chunksDbHandler, doc := setupChunkHandlers(t)

	// Insert out of order to check ordering by chunk index
	for _, index := range []int{2, 0, 1} {
		chunk := &model.Chunk{
			DocumentID: doc.ID,
			Content:    "Ordered chunk",
			Embedding:  []float32{0, 0, 1},
			ChunkIndex: index,
		}
		err := chunksDbHandler.InsertChunk(chunk)
		require.NoError(t, err)
	}

	chunks, err := chunksDbHandler.SelectChunksByDocument(doc.ID)
	assert.NoError(t, err, "Expected SelectChunksByDocument to not return an error")
	require.Len(t, chunks, 3, "Expected all chunks to be returned")
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex, "Expected chunks ordered by chunk index")
	}
}

func TestChunksSimilaritySearch(t *testing.T) {
	_, chunksDbHandler, doc := setupChunkHandlers(t)

	chunks := []*model.Chunk{
		{DocumentID: doc.ID, Content: "Exact match", Embedding: []float32{1, 0, 0}, ChunkIndex: 0},
		{DocumentID: doc.ID, Content: "Close match", Embedding: []float32{0.9, 0.1, 0}, ChunkIndex: 1},
		{DocumentID: doc.ID, Content: "Orthogonal", Embedding: []float32{0, 1, 0}, ChunkIndex: 2},
		{DocumentID: doc.ID, Content: "No embedding", ChunkIndex: 3},
	}
	for _, chunk := range chunks {
		err := chunksDbHandler.InsertChunk(chunk)
		require.NoError(t, err)
	}

	query := []float32{1, 0, 0}

	t.Run("Similarity search orders by similarity", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksBySimilarity(query, 10, 0.3, nil)
		assert.NoError(t, err, "Expected similarity search to not return an error")
		require.Len(t, results, 2, "Expected orthogonal and embedding-less chunks to be excluded")
		assert.Equal(t, "Exact match", results[0].Content, "Expected best match first")
		assert.Equal(t, "Close match", results[1].Content, "Expected close match second")
		assert.Greater(t, results[0].Similarity, results[1].Similarity, "Expected descending similarity")
		assert.InDelta(t, 1.0, results[0].Similarity, 0.001, "Expected exact match similarity close to 1")
		for _, result := range results {
			assert.Equal(t, model.RetrievalMethodVector, result.RetrievalMethod, "Expected vector retrieval method")
			assert.Equal(t, doc.Title, result.DocumentTitle, "Expected document title on result")
		}
	})

	t.Run("Similarity search respects threshold", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksBySimilarity(query, 10, 0.99, nil)
		assert.NoError(t, err)
		require.Len(t, results, 1, "Expected only the exact match above a high threshold")
		assert.Equal(t, "Exact match", results[0].Content)
	})

	t.Run("Similarity search respects limit", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksBySimilarity(query, 1, 0.0, nil)
		assert.NoError(t, err)
		assert.Len(t, results, 1, "Expected limit to apply")
	})

	t.Run("Similarity search filters by document RIDs", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksBySimilarity(query, 10, 0.3, []uuid.UUID{doc.RID})
		assert.NoError(t, err)
		assert.Len(t, results, 2, "Expected results for the matching document filter")

		results, err = chunksDbHandler.SelectChunksBySimilarity(query, 10, 0.3, []uuid.UUID{uuid.New()})
		assert.NoError(t, err)
		assert.Empty(t, results, "Expected no results for a foreign document filter")
	})

	t.Run("Similarity search with wrong query dimension", func(t *testing.T) {
		_, err := chunksDbHandler.SelectChunksBySimilarity([]float32{1, 0}, 10, 0.3, nil)
		assert.Error(t, err, "Expected wrong query dimension to return an error")
		assert.True(t, helper.IsKind(err, helper.KindIntegrity), "Expected an integrity error")
	})
}

func TestChunksKeywordSearch(t *testing.T) {
	_, chunksDbHandler, doc := setupChunkHandlers(t)

	chunks := []*model.Chunk{
		{DocumentID: doc.ID, Content: "PostgreSQL database performance tuning guide", ChunkIndex: 0},
		{DocumentID: doc.ID, Content: "Cooking recipes for the weekend", ChunkIndex: 1},
	}
	for _, chunk := range chunks {
		err := chunksDbHandler.InsertChunk(chunk)
		require.NoError(t, err)
	}

	t.Run("Keyword search matches fuzzy", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksByKeywords([]string{"database", "performance"}, 10, 0.3, nil)
		assert.NoError(t, err, "Expected keyword search to not return an error")
		require.Len(t, results, 1, "Expected one matching chunk")
		assert.Contains(t, results[0].Content, "PostgreSQL", "Expected the database chunk to match")
		assert.Equal(t, model.RetrievalMethodKeyword, results[0].RetrievalMethod, "Expected keyword retrieval method")
		assert.Greater(t, results[0].Similarity, 0.3, "Expected score above threshold")
	})

	t.Run("Keyword search tolerates small typos", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksByKeywords([]string{"databse"}, 10, 0.3, nil)
		assert.NoError(t, err)
		require.Len(t, results, 1, "Expected fuzzy match despite typo")
		assert.Contains(t, results[0].Content, "PostgreSQL")
	})

	t.Run("Keyword search with empty keywords", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksByKeywords(nil, 10, 0.3, nil)
		assert.NoError(t, err, "Expected empty keywords to not return an error")
		assert.Empty(t, results, "Expected no results for empty keywords")
	})
}

func TestChunksSubstringSearch(t *testing.T) {
	_, chunksDbHandler, doc := setupChunkHandlers(t)

	chunk := &model.Chunk{
		DocumentID: doc.ID,
		Content:    "Vector indexes accelerate nearest neighbor lookups",
		ChunkIndex: 0,
	}
	err := chunksDbHandler.InsertChunk(chunk)
	require.NoError(t, err)

	t.Run("Substring search matches containment", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksBySubstring([]string{"neighbor"}, 10, nil)
		assert.NoError(t, err, "Expected substring search to not return an error")
		require.Len(t, results, 1, "Expected one matching chunk")
		assert.Equal(t, 0.5, results[0].Similarity, "Expected flat fallback score")
		assert.Equal(t, model.RetrievalMethodKeywordFallback, results[0].RetrievalMethod, "Expected fallback retrieval method")
	})

	t.Run("Substring search is case insensitive", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksBySubstring([]string{"VECTOR"}, 10, nil)
		assert.NoError(t, err)
		assert.Len(t, results, 1, "Expected case insensitive containment match")
	})

	t.Run("Substring search with no match", func(t *testing.T) {
		results, err := chunksDbHandler.SelectChunksBySubstring([]string{"zzzzzz"}, 10, nil)
		assert.NoError(t, err)
		assert.Empty(t, results, "Expected no results")
	})
}

func TestChunksUpdateEmbedding(t *testing.T) {
	_, chunksDbHandler, doc := setupChunkHandlers(t)

	chunk := &model.Chunk{
		DocumentID: doc.ID,
		Content:    "Chunk awaiting an embedding",
		ChunkIndex: 0,
	}
	err := chunksDbHandler.InsertChunk(chunk)
	require.NoError(t, err)

	chunk.Embedding = []float32{0, 1, 0}
	err = chunksDbHandler.UpdateChunkEmbedding(chunk)
	assert.NoError(t, err, "Expected UpdateChunkEmbedding to not return an error")

	retrieved, err := chunksDbHandler.SelectChunk(chunk.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, retrieved.Embedding, "Expected embedding to be persisted")

	// The chunk must now be visible to vector search
	results, err := chunksDbHandler.SelectChunksBySimilarity([]float32{0, 1, 0}, 10, 0.9, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunk.ID, results[0].ChunkID)
}

func TestChunksCascadeDelete(t *testing.T) {
	documentsDbHandler, chunksDbHandler, doc := setupChunkHandlers(t)

	chunk := &model.Chunk{
		DocumentID: doc.ID,
		Content:    "Chunk that dies with its document",
		Embedding:  []float32{1, 0, 0},
		ChunkIndex: 0,
	}
	err := chunksDbHandler.InsertChunk(chunk)
	require.NoError(t, err)

	count, err := chunksDbHandler.CountChunksByDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "Expected one chunk before delete")

	deleted, err := documentsDbHandler.DeleteDocument(doc.RID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	count, err = chunksDbHandler.CountChunksByDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "Expected chunks to be removed with their document")

	_, err = chunksDbHandler.SelectChunk(chunk.ID)
	assert.Error(t, err, "Expected cascaded chunk to not exist")
}

func TestChunksDelete(t *testing.T) {
	_, chunksDbHandler, doc := setupChunkHandlers(t)

	chunk := &model.Chunk{
		DocumentID: doc.ID,
		Content:    "To delete",
		ChunkIndex: 0,
	}
	err := chunksDbHandler.InsertChunk(chunk)
	require.NoError(t, err)

	deleted, err := chunksDbHandler.DeleteChunk(chunk.ID)
	assert.NoError(t, err, "Expected DeleteChunk to not return an error")
	assert.Equal(t, int64(1), deleted, "Expected one deleted chunk")

	deleted, err = chunksDbHandler.DeleteChunk(chunk.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), deleted, "Expected zero deleted chunks on repeat delete")
}
