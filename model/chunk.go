package model

import (
	"time"

	"github.com/google/uuid"
)

// Chunk represents a bounded, independently retrievable passage of a document.
// Embedding may be nil when embedding generation failed or has not run yet;
// such chunks are excluded from vector search but remain eligible for
// keyword search. ChunkIndex values form a contiguous 0-based sequence per
// document in creation order.
type Chunk struct {
	ID          int64     `json:"id"`
	DocumentID  int64     `json:"document_id"`
	DocumentRID uuid.UUID `json:"document_rid"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"embedding,omitempty"`
	ChunkIndex  int       `json:"chunk_index"`
	TokenCount  *int      `json:"token_count,omitempty"`
	Metadata    Metadata  `json:"metadata,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
