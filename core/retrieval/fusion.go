package retrieval

import (
	"sort"

	"github.com/siherrmann/ragbase/model"
)

// FuseRRF merges two ranked result lists with weighted reciprocal rank
// fusion. Each result contributes weight/(k+rank+1) per list it appears
// in, accumulated by chunk ID. The fused score replaces the per-channel
// similarity. Ties keep first-seen order, so the ordering is
// deterministic for identical inputs.
func FuseRRF(a []*model.SearchResult, b []*model.SearchResult, k int, weightA float64, weightB float64) []*model.SearchResult {
	if k <= 0 {
		k = 60
	}

	type fusedResult struct {
		result *model.SearchResult
		score  float64
		order  int
	}

	fused := make(map[int64]*fusedResult)
	var keys []int64

	accumulate := func(results []*model.SearchResult, weight float64) {
		for rank, result := range results {
			contribution := weight / float64(k+rank+1)
			if existing, ok := fused[result.ChunkID]; ok {
				existing.score += contribution
				continue
			}
			// Copy so fusion never mutates a channel's results
			clone := *result
			fused[result.ChunkID] = &fusedResult{
				result: &clone,
				score:  contribution,
				order:  len(keys),
			}
			keys = append(keys, result.ChunkID)
		}
	}

	accumulate(a, weightA)
	accumulate(b, weightB)

	merged := make([]*fusedResult, 0, len(keys))
	for _, key := range keys {
		merged = append(merged, fused[key])
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].score != merged[j].score {
			return merged[i].score > merged[j].score
		}
		return merged[i].order < merged[j].order
	})

	results := make([]*model.SearchResult, 0, len(merged))
	for _, entry := range merged {
		entry.result.Similarity = entry.score
		results = append(results, entry.result)
	}

	return results
}
