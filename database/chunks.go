package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
	loadSql "github.com/siherrmann/ragbase/sql"
)

// ChunksDBHandlerFunctions defines the interface for Chunks database operations.
type ChunksDBHandlerFunctions interface {
	InsertChunk(chunk *model.Chunk) error
	InsertChunkTx(tx *sql.Tx, chunk *model.Chunk) error
	UpdateChunkEmbedding(chunk *model.Chunk) error
	DeleteChunk(id int64) (int64, error)
	SelectChunk(id int64) (*model.Chunk, error)
	SelectChunksByDocument(documentID int64) ([]*model.Chunk, error)
	SelectChunksBySimilarity(embedding []float32, limit int, threshold float64, documentRIDs []uuid.UUID) ([]*model.SearchResult, error)
	SelectChunksByKeywords(keywords []string, limit int, threshold float64, documentRIDs []uuid.UUID) ([]*model.SearchResult, error)
	SelectChunksBySubstring(keywords []string, limit int, documentRIDs []uuid.UUID) ([]*model.SearchResult, error)
	CountChunks() (int64, error)
	CountChunksByDocument(documentID int64) (int64, error)
}

// ChunksDBHandler handles chunk-related database operations
type ChunksDBHandler struct {
	db           *helper.Database
	embeddingDim int
}

// NewChunksDBHandler creates a new chunks database handler.
// It initializes the database connection and loads chunk-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewChunksDBHandler(db *helper.Database, embeddingDim int, force bool) (*ChunksDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}
	if embeddingDim <= 0 {
		return nil, helper.NewValidationError("embedding dimension validation", fmt.Errorf("embedding dimension must be positive, got %d", embeddingDim))
	}

	chunksDbHandler := &ChunksDBHandler{
		db:           db,
		embeddingDim: embeddingDim,
	}

	err := loadSql.LoadChunksSql(chunksDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load chunks sql", err)
	}

	err = chunksDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized ChunksDBHandler")

	return chunksDbHandler, nil
}

// CreateTable creates the 'chunks' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *ChunksDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Use the SQL init() function to create all tables and indexes
	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_chunks($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing chunks table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table chunks")

	return nil
}

// checkEmbedding rejects embeddings whose dimension does not match the
// table before the write hits the database.
func (h *ChunksDBHandler) checkEmbedding(embedding []float32) error {
	if embedding != nil && len(embedding) != h.embeddingDim {
		return helper.NewIntegrityError(
			"embedding dimension validation",
			fmt.Errorf("expected %d dimensions, got %d", h.embeddingDim, len(embedding)),
		)
	}
	return nil
}

func embeddingParam(embedding []float32) interface{} {
	if embedding == nil {
		return nil
	}
	return pgvector.NewVector(embedding)
}

func scanChunk(row *sql.Row, chunk *model.Chunk) error {
	var embedding sql.Null[pgvector.Vector]
	err := row.Scan(
		&chunk.ID,
		&chunk.DocumentID,
		&chunk.DocumentRID,
		&chunk.Content,
		&embedding,
		&chunk.ChunkIndex,
		&chunk.TokenCount,
		&chunk.Metadata,
		&chunk.CreatedAt,
	)
	if err != nil {
		return err
	}
	if embedding.Valid {
		chunk.Embedding = embedding.V.Slice()
	} else {
		chunk.Embedding = nil
	}
	return nil
}

func insertChunkRow(q rowQuerier, chunk *model.Chunk) error {
	row := q.QueryRow(
		`SELECT * FROM insert_chunk($1, $2, $3, $4, $5, $6)`,
		chunk.DocumentID,
		chunk.Content,
		embeddingParam(chunk.Embedding),
		chunk.ChunkIndex,
		chunk.TokenCount,
		chunk.Metadata,
	)

	err := scanChunk(row, chunk)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// InsertChunk inserts a new chunk. A nil embedding is stored as NULL and
// the chunk stays invisible to vector search until it gets one.
func (h *ChunksDBHandler) InsertChunk(chunk *model.Chunk) error {
	if err := h.checkEmbedding(chunk.Embedding); err != nil {
		return err
	}
	return insertChunkRow(h.db.Instance, chunk)
}

// InsertChunkTx inserts a new chunk inside an existing transaction
func (h *ChunksDBHandler) InsertChunkTx(tx *sql.Tx, chunk *model.Chunk) error {
	if err := h.checkEmbedding(chunk.Embedding); err != nil {
		return err
	}
	return insertChunkRow(tx, chunk)
}

// UpdateChunkEmbedding updates the embedding of a chunk
func (h *ChunksDBHandler) UpdateChunkEmbedding(chunk *model.Chunk) error {
	if err := h.checkEmbedding(chunk.Embedding); err != nil {
		return err
	}

	row := h.db.Instance.QueryRow(
		`SELECT * FROM update_chunk_embedding($1, $2)`,
		chunk.ID,
		embeddingParam(chunk.Embedding),
	)

	err := scanChunk(row, chunk)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// DeleteChunk deletes a chunk by ID and returns the number of deleted chunks
func (h *ChunksDBHandler) DeleteChunk(id int64) (int64, error) {
	var deleted int64
	err := h.db.Instance.QueryRow(
		`SELECT delete_chunk($1)`,
		id,
	).Scan(&deleted)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return deleted, nil
}

// SelectChunk retrieves a chunk by ID
func (h *ChunksDBHandler) SelectChunk(id int64) (*model.Chunk, error) {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_chunk($1)`,
		id,
	)

	chunk := &model.Chunk{}
	err := scanChunk(row, chunk)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return chunk, nil
}

// SelectChunksByDocument retrieves all chunks for a document ordered by chunk index
func (h *ChunksDBHandler) SelectChunksByDocument(documentID int64) ([]*model.Chunk, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_chunks_by_document($1)`,
		documentID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var chunks []*model.Chunk
	for rows.Next() {
		chunk := &model.Chunk{}
		var embedding sql.Null[pgvector.Vector]
		err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.DocumentRID,
			&chunk.Content,
			&embedding,
			&chunk.ChunkIndex,
			&chunk.TokenCount,
			&chunk.Metadata,
			&chunk.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		if embedding.Valid {
			chunk.Embedding = embedding.V.Slice()
		}

		chunks = append(chunks, chunk)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return chunks, nil
}

// documentRIDsParam converts RIDs to a PostgreSQL UUID array, with nil
// meaning no filter.
func documentRIDsParam(documentRIDs []uuid.UUID) interface{} {
	if len(documentRIDs) > 0 {
		return pq.Array(documentRIDs)
	}
	return nil
}

func (h *ChunksDBHandler) queryResults(method model.RetrievalMethod, query string, args ...any) ([]*model.SearchResult, error) {
	rows, err := h.db.Instance.Query(query, args...)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var results []*model.SearchResult
	for rows.Next() {
		result := &model.SearchResult{}
		err := rows.Scan(
			&result.ChunkID,
			&result.DocumentID,
			&result.DocumentRID,
			&result.Content,
			&result.Similarity,
			&result.Metadata,
			&result.DocumentTitle,
			&result.DocumentSource,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		result.RetrievalMethod = method

		results = append(results, result)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return results, nil
}

// SelectChunksBySimilarity performs vector similarity search.
// If documentRIDs is nil or empty, searches across all documents.
func (h *ChunksDBHandler) SelectChunksBySimilarity(embedding []float32, limit int, threshold float64, documentRIDs []uuid.UUID) ([]*model.SearchResult, error) {
	if err := h.checkEmbedding(embedding); err != nil {
		return nil, err
	}

	return h.queryResults(
		model.RetrievalMethodVector,
		`SELECT * FROM select_chunks_by_similarity($1, $2, $3, $4)`,
		pgvector.NewVector(embedding),
		limit,
		threshold,
		documentRIDsParam(documentRIDs),
	)
}

// SelectChunksByKeywords performs fuzzy keyword search scored by average
// trigram word similarity.
// If documentRIDs is nil or empty, searches across all documents.
func (h *ChunksDBHandler) SelectChunksByKeywords(keywords []string, limit int, threshold float64, documentRIDs []uuid.UUID) ([]*model.SearchResult, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	return h.queryResults(
		model.RetrievalMethodKeyword,
		`SELECT * FROM select_chunks_by_keywords($1, $2, $3, $4)`,
		pq.Array(keywords),
		limit,
		threshold,
		documentRIDsParam(documentRIDs),
	)
}

// SelectChunksBySubstring performs substring containment search, used as a
// fallback when fuzzy keyword search fails. Matches get a flat score.
func (h *ChunksDBHandler) SelectChunksBySubstring(keywords []string, limit int, documentRIDs []uuid.UUID) ([]*model.SearchResult, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	return h.queryResults(
		model.RetrievalMethodKeywordFallback,
		`SELECT * FROM select_chunks_by_substring($1, $2, $3)`,
		pq.Array(keywords),
		limit,
		documentRIDsParam(documentRIDs),
	)
}

// CountChunks returns the number of stored chunks
func (h *ChunksDBHandler) CountChunks() (int64, error) {
	var count int64
	err := h.db.Instance.QueryRow(
		`SELECT count_chunks()`,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// CountChunksByDocument returns the number of chunks for a document
func (h *ChunksDBHandler) CountChunksByDocument(documentID int64) (int64, error) {
	var count int64
	err := h.db.Instance.QueryRow(
		`SELECT count_chunks_by_document($1)`,
		documentID,
	).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}
