package model

import "github.com/google/uuid"

type RetrievalMethod string

const (
	RetrievalMethodVector          RetrievalMethod = "vector"
	RetrievalMethodKeyword         RetrievalMethod = "keyword"
	RetrievalMethodKeywordFallback RetrievalMethod = "keyword_fallback"
	RetrievalMethodHybrid          RetrievalMethod = "hybrid"
	RetrievalMethodReranked        RetrievalMethod = "reranked"
)

// SearchResult represents a chunk retrieved by a query. It is transient and
// never persisted. Similarity is stage-specific: cosine similarity after
// vector search, a word-level match score after keyword search, an RRF score
// after fusion and a cross-encoder score after reranking. Scores from
// different stages are not comparable without re-normalization.
type SearchResult struct {
	ChunkID         int64           `json:"chunk_id"`
	DocumentID      int64           `json:"document_id"`
	DocumentRID     uuid.UUID       `json:"document_rid"`
	Content         string          `json:"content"`
	Similarity      float64         `json:"similarity"`
	Metadata        Metadata        `json:"metadata,omitempty"`
	DocumentTitle   string          `json:"document_title"`
	DocumentSource  string          `json:"document_source"`
	RetrievalMethod RetrievalMethod `json:"retrieval_method,omitempty"`
}
