package results

import (
	"math"

	"github.com/montanaflynn/stats"

	"github.com/terra-clan/treetest-engine/internal/models"
)

// DefaultMaxTimeLimit is the display cap used when neither task nor study sets one
const DefaultMaxTimeLimit = models.DefaultMaxTimeLimit

// TimeSummary is the five-number summary of completion times, in seconds
type TimeSummary struct {
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

// TimeStats holds the true distribution and a copy clamped for display
type TimeStats struct {
	Count     int         `json:"count"`
	Limit     float64     `json:"limit"`
	Raw       TimeSummary `json:"raw"`
	Display   TimeSummary `json:"display"`
	Truncated bool        `json:"truncated"`
}

// TimeLimit picks the display cap: task first, then study, then fallback
func TimeLimit(task models.Task, study models.Study, fallback int) float64 {
	switch {
	case task.MaxTimeSeconds > 0:
		return float64(task.MaxTimeSeconds)
	case study.MaxTimeLimit > 0:
		return float64(study.MaxTimeLimit)
	case fallback > 0:
		return float64(fallback)
	}
	return DefaultMaxTimeLimit
}

// ComputeTimeStats summarizes completion times of non-skipped attempts.
// Quartiles are Tukey hinges: the medians of the lower and upper halves,
// with the overall median excluded from both halves when n is odd.
func ComputeTimeStats(attempts []models.TaskAttempt, limit float64) TimeStats {
	var data stats.Float64Data
	for _, a := range attempts {
		if !a.Skipped {
			data = append(data, a.CompletionTimeSeconds)
		}
	}

	ts := TimeStats{Count: len(data), Limit: limit}
	switch len(data) {
	case 0:
		return ts
	case 1:
		v := data[0]
		ts.Raw = TimeSummary{Min: v, Q1: v, Median: v, Q3: v, Max: v}
	default:
		q, _ := stats.Quartile(data)
		lo, _ := stats.Min(data)
		hi, _ := stats.Max(data)
		ts.Raw = TimeSummary{Min: lo, Q1: q.Q1, Median: q.Q2, Q3: q.Q3, Max: hi}
	}

	ts.Display = ts.Raw.clamp(limit)
	ts.Truncated = limit > 0 && ts.Raw.Max > limit
	return ts
}

func (s TimeSummary) clamp(limit float64) TimeSummary {
	if limit <= 0 {
		return s
	}
	return TimeSummary{
		Min:    math.Min(s.Min, limit),
		Q1:     math.Min(s.Q1, limit),
		Median: math.Min(s.Median, limit),
		Q3:     math.Min(s.Q3, limit),
		Max:    math.Min(s.Max, limit),
	}
}
