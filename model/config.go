package model

import "github.com/google/uuid"

// QueryConfig represents configuration for a retrieval query
type QueryConfig struct {
	// Vector search parameters
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold,omitempty"`

	// Document filtering
	DocumentRIDs []uuid.UUID `json:"document_rids,omitempty"` // Filter by specific documents

	// Hybrid ranking parameters
	VectorWeight    float64 `json:"vector_weight"`     // Weight of the vector channel in rank fusion
	KeywordWeight   float64 `json:"keyword_weight"`    // Weight of the keyword channel in rank fusion
	RRFConstant     int     `json:"rrf_constant"`      // Rank constant k for reciprocal rank fusion
	OverFetchFactor int     `json:"over_fetch_factor"` // Candidates fetched per channel = factor * TopK

	// AllowDegraded lets a hybrid query return results from the surviving
	// channel when the other one fails. The default is to propagate the
	// failure instead of returning a result set that silently misses one
	// retrieval channel.
	AllowDegraded bool `json:"allow_degraded"`

	// Reranking parameters
	RerankTopK int `json:"rerank_top_k"` // Candidate pool size fetched for reranking
}

// DefaultQueryConfig returns a sensible default configuration
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		TopK:                5,
		SimilarityThreshold: 0.3,
		VectorWeight:        0.6,
		KeywordWeight:       0.4,
		RRFConstant:         60,
		OverFetchFactor:     3,
		AllowDegraded:       false,
		RerankTopK:          30,
	}
}
