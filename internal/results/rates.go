package results

import "math"

// z-score of a two-sided 95% interval
const z95 = 1.96

// Weights of the task score blend
const (
	successWeight    = 0.7
	directnessWeight = 0.3
)

// RateStat is a percentage with its 95% Wald margin of error
type RateStat struct {
	Rate   int `json:"rate"`
	Margin int `json:"margin"`
}

// Rate computes the share of hits among n as a rounded percentage. The margin
// is computed from the unrounded proportion. n == 0 yields zeros.
func Rate(hits, n int) RateStat {
	if n <= 0 {
		return RateStat{}
	}
	p := float64(hits) / float64(n)
	margin := z95 * math.Sqrt(p*(1-p)/float64(n)) * 100

	return RateStat{
		Rate:   int(math.Round(p * 100)),
		Margin: int(math.Round(margin)),
	}
}

// Score blends success and directness rates into one 0-100 figure
func Score(successRate, directnessRate int) int {
	return int(math.Round(float64(successRate)*successWeight + float64(directnessRate)*directnessWeight))
}

// percentage returns count/total as a rounded percentage, 0 for an empty total
func percentage(count, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(count) * 100 / float64(total)))
}
