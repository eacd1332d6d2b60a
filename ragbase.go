package ragbase

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/siherrmann/ragbase/core/pipeline"
	"github.com/siherrmann/ragbase/core/retrieval"
	"github.com/siherrmann/ragbase/database"
	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
	loadSql "github.com/siherrmann/ragbase/sql"
)

// RagBase provides a unified interface to all database handlers
type RagBase struct {
	DB        *helper.Database
	Chunks    *database.ChunksDBHandler
	Documents *database.DocumentsDBHandler
	Pipeline  *pipeline.Pipeline  // Optional chunking and embedding pipeline
	Engine    *retrieval.Engine   // Retrieval engine for vector, keyword and hybrid search
	Reranker  *retrieval.Reranker // Optional cross-encoder reranker
	// Logging
	log *slog.Logger
}

// NewRagBase creates a new RagBase instance with all handlers initialized
func NewRagBase(config *helper.DatabaseConfiguration, embeddingDim int) (*RagBase, error) {
	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("ragbase", config, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// Create all handlers in the correct order (documents first, then chunks)
	// force=false to not reload if functions already exist
	documents, err := database.NewDocumentsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create documents handler", err)
	}

	chunks, err := database.NewChunksDBHandler(db, embeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create chunks handler", err)
	}

	// Create retrieval engine with the chunks handler
	engine := retrieval.NewEngine(chunks, logger)

	return &RagBase{
		DB:        db,
		Chunks:    chunks,
		Documents: documents,
		Engine:    engine,
		log:       logger,
	}, nil
}

// Close closes the database connection
func (r *RagBase) Close() error {
	if r.DB != nil && r.DB.Instance != nil {
		return r.DB.Instance.Close()
	}
	return nil
}

// SetPipeline sets the chunking and embedding pipeline for document processing
func (r *RagBase) SetPipeline(pipeline *pipeline.Pipeline) {
	r.Pipeline = pipeline
}

// UseDefaultPipeline sets up the default section chunking and embedding pipeline.
// This uses DefaultChunker with section-aware packing of around 400 tokens,
// and DefaultEmbedder with the all-MiniLM-L6-v2 model (384 dimensions).
func (r *RagBase) UseDefaultPipeline() error {
	chunker := pipeline.DefaultChunker()
	embedder, err := pipeline.DefaultEmbedder()
	if err != nil {
		return helper.NewError("create default embedder", err)
	}

	r.Pipeline = pipeline.NewPipeline(chunker, embedder, r.log)
	return nil
}

// UseRemoteEmbedder sets up a pipeline with the default chunker and an
// OpenAI-compatible embedding endpoint instead of the local model
func (r *RagBase) UseRemoteEmbedder(config pipeline.RemoteEmbedderConfig) error {
	embedder, err := pipeline.RemoteEmbedder(config)
	if err != nil {
		return helper.NewError("create remote embedder", err)
	}

	r.Pipeline = pipeline.NewPipeline(pipeline.DefaultChunker(), embedder, r.log)
	return nil
}

// UseReranker sets a cross-encoder reranker for RerankedSearch.
// Pass retrieval.DefaultRerankLoader() for the bundled ms-marco model.
func (r *RagBase) UseReranker(loader func() (retrieval.RerankFunc, error)) {
	r.Reranker = retrieval.NewReranker(loader, r.log)
}

// ProcessAndInsertDocument processes a document by:
// 1. Processing the content into embedded chunks using the pipeline
// 2. Inserting the document metadata (without content)
// 3. Inserting all chunks with the document ID
// Document and chunks are written in one transaction, a document is never
// persisted without its chunks. The document's Content field is used for
// processing but not stored in the database.
// Returns the number of chunks inserted and the per-chunk embedding errors
// tolerated by the pipeline.
func (r *RagBase) ProcessAndInsertDocument(ctx context.Context, doc *model.Document) (int, []pipeline.ChunkError, error) {
	if r.Pipeline == nil {
		return 0, nil, helper.NewError("process document", fmt.Errorf("pipeline not set, use SetPipeline() first"))
	}

	if doc.Content == "" {
		return 0, nil, helper.NewValidationError("process document", fmt.Errorf("document content is empty"))
	}

	// Store content temporarily and clear it before DB insert
	content := doc.Content
	doc.Content = ""

	// Process content into chunks before touching the database
	chunks, chunkErrors, err := r.Pipeline.Process(ctx, content)
	if err != nil {
		return 0, nil, helper.NewError("process chunks", err)
	}
	if len(chunks) == 0 {
		return 0, chunkErrors, helper.NewValidationError("process document", fmt.Errorf("document produced no chunks"))
	}

	tx, err := r.DB.Instance.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, helper.NewConnectivityError("begin transaction", err)
	}
	defer tx.Rollback()

	if err := r.Documents.InsertDocumentTx(tx, doc); err != nil {
		return 0, nil, helper.NewError("insert document", err)
	}

	for i, chunk := range chunks {
		chunk.DocumentID = doc.ID
		if err := r.Chunks.InsertChunkTx(tx, chunk); err != nil {
			return 0, nil, helper.NewError(fmt.Sprintf("insert chunk %d", i), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, helper.NewError("commit document", err)
	}

	r.log.Info("Inserted document",
		slog.String("document_id", doc.RID.String()),
		slog.String("title", doc.Title),
		slog.Int("num_chunks", len(chunks)),
		slog.Int("num_chunk_errors", len(chunkErrors)),
	)

	return len(chunks), chunkErrors, nil
}

// validateQuery rejects invalid queries before any external call is made
func validateQuery(query string, config *model.QueryConfig) error {
	if strings.TrimSpace(query) == "" {
		return helper.NewValidationError("query validation", fmt.Errorf("query is empty"))
	}
	if config == nil {
		return helper.NewValidationError("query validation", fmt.Errorf("query configuration is nil"))
	}
	if config.TopK <= 0 {
		return helper.NewValidationError("query validation", fmt.Errorf("top k must be positive, got %d", config.TopK))
	}
	return nil
}

func (r *RagBase) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.Pipeline == nil || r.Pipeline.Embedder == nil {
		return nil, helper.NewError("embed query", fmt.Errorf("pipeline with embedder not set, use SetPipeline() first"))
	}
	return r.Pipeline.EmbedQuery(ctx, query)
}

// Search performs vector similarity search
func (r *RagBase) Search(ctx context.Context, query string, config *model.QueryConfig) ([]*model.SearchResult, error) {
	if err := validateQuery(query, config); err != nil {
		return nil, err
	}

	embedding, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	return r.Engine.VectorRetrieve(ctx, embedding, config)
}

// KeywordSearch performs fuzzy keyword search without embedding the query
func (r *RagBase) KeywordSearch(ctx context.Context, query string, config *model.QueryConfig) ([]*model.SearchResult, error) {
	if err := validateQuery(query, config); err != nil {
		return nil, err
	}

	return r.Engine.KeywordRetrieve(ctx, query, config)
}

// HybridSearch performs hybrid retrieval, fusing vector and keyword results
func (r *RagBase) HybridSearch(ctx context.Context, query string, config *model.QueryConfig) ([]*model.SearchResult, error) {
	if err := validateQuery(query, config); err != nil {
		return nil, err
	}

	embedding, err := r.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	return r.Engine.HybridRetrieve(ctx, embedding, query, config)
}

// RerankedSearch performs hybrid retrieval over a larger candidate pool and
// reranks the candidates with the cross-encoder down to TopK. When the
// reranker fails, the fused hybrid results are returned instead and the
// failure is logged, a broken reranker should not take retrieval down.
func (r *RagBase) RerankedSearch(ctx context.Context, query string, config *model.QueryConfig) ([]*model.SearchResult, error) {
	if err := validateQuery(query, config); err != nil {
		return nil, err
	}
	if r.Reranker == nil {
		return nil, helper.NewError("reranked search", fmt.Errorf("reranker not set, use UseReranker() first"))
	}

	poolConfig := *config
	if config.RerankTopK > config.TopK {
		poolConfig.TopK = config.RerankTopK
	}

	candidates, err := r.HybridSearch(ctx, query, &poolConfig)
	if err != nil {
		return nil, err
	}

	reranked, err := r.Reranker.Rerank(query, candidates, config.TopK)
	if err != nil {
		r.log.Warn("Reranking failed, returning hybrid results",
			slog.String("error", err.Error()),
		)
		if len(candidates) > config.TopK {
			candidates = candidates[:config.TopK]
		}
		return candidates, nil
	}

	return reranked, nil
}

// BuildContext formats search results into a context string for prompt assembly
func (r *RagBase) BuildContext(results []*model.SearchResult) string {
	return retrieval.FormatContext(results)
}

// DeleteDocument deletes a document and, via cascade, all its chunks.
// Returns the number of deleted documents (0 or 1).
func (r *RagBase) DeleteDocument(rid uuid.UUID) (int64, error) {
	return r.Documents.DeleteDocument(rid)
}

// DeleteAllDocuments deletes all documents and their chunks
func (r *RagBase) DeleteAllDocuments() (int64, error) {
	return r.Documents.DeleteAllDocuments()
}

// DocumentCount returns the number of stored documents
func (r *RagBase) DocumentCount() (int64, error) {
	return r.Documents.CountDocuments()
}

// ChunkCount returns the number of stored chunks
func (r *RagBase) ChunkCount() (int64, error) {
	return r.Chunks.CountChunks()
}

// GetChunksByDocument returns all chunks of a document ordered by chunk index
func (r *RagBase) GetChunksByDocument(rid uuid.UUID) ([]*model.Chunk, error) {
	doc, err := r.Documents.SelectDocument(rid)
	if err != nil {
		return nil, helper.NewError("select document", err)
	}
	return r.Chunks.SelectChunksByDocument(doc.ID)
}

// ChangeIndexType changes the vector index type between HNSW and IVFFlat
func (r *RagBase) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	return r.Chunks.ChangeIndexType(ctx, indexType, params)
}
