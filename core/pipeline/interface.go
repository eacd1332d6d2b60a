package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/siherrmann/ragbase/helper"
	"github.com/siherrmann/ragbase/model"
)

// ChunkFunc is a function that splits text into chunk drafts.
// Drafts carry contiguous chunk indexes starting at 0.
type ChunkFunc func(text string) ([]ChunkDraft, error)

// EmbedFunc is a function that generates an embedding for text
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// ChunkDraft represents a chunk before embedding and persistence
type ChunkDraft struct {
	Content    string
	ChunkIndex int
	TokenCount *int
	Metadata   map[string]interface{}
}

// ChunkError records an isolated embedding failure for a single chunk.
// The chunk itself survives without an embedding.
type ChunkError struct {
	ChunkIndex int
	Err        error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %v", e.ChunkIndex, e.Err)
}

// Pipeline combines chunking and embedding functions
type Pipeline struct {
	Chunker   ChunkFunc
	Embedder  EmbedFunc
	BatchSize int
	Logger    *slog.Logger
}

// DefaultBatchSize is the number of chunks embedded per batch
const DefaultBatchSize = 50

// NewPipeline creates a new processing pipeline
func NewPipeline(chunker ChunkFunc, embedder EmbedFunc, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Chunker:   chunker,
		Embedder:  embedder,
		BatchSize: DefaultBatchSize,
		Logger:    logger,
	}
}

// Process splits text into chunks and embeds them in batches.
// A failed embedding does not fail the whole document: the chunk keeps a
// nil embedding and the failure is reported in the returned chunk errors.
// The returned error is reserved for fatal conditions (chunking failure,
// cancelled context).
func (p *Pipeline) Process(ctx context.Context, text string) ([]*model.Chunk, []ChunkError, error) {
	drafts, err := p.Chunker(text)
	if err != nil {
		return nil, nil, helper.NewError("chunking", err)
	}

	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	chunks := make([]*model.Chunk, 0, len(drafts))
	var chunkErrors []ChunkError

	for start := 0; start < len(drafts); start += batchSize {
		end := min(start+batchSize, len(drafts))

		for _, draft := range drafts[start:end] {
			if err := ctx.Err(); err != nil {
				return nil, nil, helper.NewError("processing cancelled", err)
			}

			chunk := &model.Chunk{
				Content:    draft.Content,
				ChunkIndex: draft.ChunkIndex,
				TokenCount: draft.TokenCount,
				Metadata:   draft.Metadata,
			}

			embedding, err := p.Embedder(ctx, draft.Content)
			if err != nil {
				p.Logger.Warn("Failed to embed chunk",
					slog.Int("chunk_index", draft.ChunkIndex),
					slog.String("error", err.Error()),
				)
				chunkErrors = append(chunkErrors, ChunkError{
					ChunkIndex: draft.ChunkIndex,
					Err:        helper.NewPartialError("embed chunk", err),
				})
			} else {
				chunk.Embedding = embedding
			}

			chunks = append(chunks, chunk)
		}
	}

	return chunks, chunkErrors, nil
}

// EmbedQuery embeds a search query. Unlike chunk embedding this is fatal
// on failure, a query without an embedding cannot be searched.
func (p *Pipeline) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embedding, err := p.Embedder(ctx, query)
	if err != nil {
		return nil, helper.NewConnectivityError("embed query", err)
	}
	return embedding, nil
}
