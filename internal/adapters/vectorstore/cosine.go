package vectorstore

import (
	"errors"
	"math"
	"sort"

	"github.com/mikey/llm-mail-triage/internal/core"
)

// ErrSchemaNotInitialised is returned when records are written before the
// embedding width is known
var ErrSchemaNotInitialised = errors.New("vector store schema not initialised")

// cosineSimilarity returns the cosine of the angle between a and b, or 0 when
// either vector has no magnitude
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// rankMatches scores every candidate against the query and keeps the k best
func rankMatches(query []float32, candidates []core.SimilarityRecord, k int) []core.SimilarityMatch {
	matches := make([]core.SimilarityMatch, 0, len(candidates))
	for _, rec := range candidates {
		matches = append(matches, core.SimilarityMatch{
			Record:     rec,
			Similarity: cosineSimilarity(query, rec.Embedding),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}
