package embedding

import (
	"math"
	"sort"
)

// Similarity computes cosine similarity between two vectors.
// Similarity is undefined for mismatched lengths, empty vectors, or
// zero-magnitude vectors; the defined fallback for those cases is 0.
// Well-formed inputs yield a value in [-1, 1] up to rounding.
func Similarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// Ranked is one scored candidate from TopK.
type Ranked struct {
	// ID of the candidate, used as the deterministic tie-break.
	ID    string
	Score float64
}

// Candidate pairs an identifier with its vector.
type Candidate struct {
	ID     string
	Vector []float64
}

// TopK ranks candidates against a query vector by cosine similarity,
// descending. Equal scores are broken by ascending ID so rankings are
// deterministic. Returns at most k results.
func TopK(query []float64, candidates []Candidate, k int) []Ranked {
	if k <= 0 {
		return nil
	}

	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Ranked{ID: c.ID, Score: Similarity(query, c.Vector)})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// ToFloat64 widens a float32 vector for the ranker and script API.
func ToFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// ToFloat32 narrows a float64 vector for storage.
func ToFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
