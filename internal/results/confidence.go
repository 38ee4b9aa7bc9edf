package results

import (
	"github.com/montanaflynn/stats"

	"github.com/terra-clan/treetest-engine/internal/apperr"
	"github.com/terra-clan/treetest-engine/internal/models"
)

// Bounds of the agreement scale
const (
	MinConfidence = 1
	MaxConfidence = 7
)

// ConfidenceBucket is one point of the scale
type ConfidenceBucket struct {
	Rating     int `json:"rating"`
	Count      int `json:"count"`
	Percentage int `json:"percentage"`
}

// ConfidenceSummary is the histogram of ratings; every point of the scale is present
type ConfidenceSummary struct {
	Buckets   []ConfidenceBucket `json:"buckets"`
	Responses int                `json:"responses"`
	Mean      float64            `json:"mean"`
}

// SummarizeConfidence builds the histogram of the attempts that carry a rating
func SummarizeConfidence(attempts []models.TaskAttempt) (ConfidenceSummary, error) {
	counts := make([]int, MaxConfidence+1)
	var ratings stats.Float64Data

	for _, a := range attempts {
		if a.ConfidenceRating == nil {
			continue
		}
		r := *a.ConfidenceRating
		if r < MinConfidence || r > MaxConfidence {
			return ConfidenceSummary{}, apperr.Validation("attempt %s has confidence rating %d outside %d-%d",
				a.ID, r, MinConfidence, MaxConfidence)
		}
		counts[r]++
		ratings = append(ratings, float64(r))
	}

	s := ConfidenceSummary{
		Buckets:   make([]ConfidenceBucket, 0, MaxConfidence),
		Responses: len(ratings),
	}
	for r := MinConfidence; r <= MaxConfidence; r++ {
		s.Buckets = append(s.Buckets, ConfidenceBucket{
			Rating:     r,
			Count:      counts[r],
			Percentage: percentage(counts[r], len(ratings)),
		})
	}
	if len(ratings) > 0 {
		s.Mean, _ = stats.Mean(ratings)
	}

	return s, nil
}
