package scoring

// AlertThreshold is the top-match confidence at which a domain is flagged ALERT.
const AlertThreshold = 0.9

const (
	RecommendationAlert  = "ALERT"
	RecommendationReview = "REVIEW"
	RecommendationClean  = "CLEAN"
)

// Verdict condenses a match list into a single recommendation.
type Verdict struct {
	Recommendation string  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
	Target         string  `json:"target,omitempty"`
	Method         Method  `json:"method,omitempty"`
}

// Summarize picks the strongest match and maps it onto a recommendation.
// Matches need not be sorted.
func Summarize(matches []Match) Verdict {
	if len(matches) == 0 {
		return Verdict{Recommendation: RecommendationClean}
	}
	top := matches[0]
	for _, m := range matches[1:] {
		if m.Confidence > top.Confidence {
			top = m
		}
	}

	rec := RecommendationReview
	if top.Confidence >= AlertThreshold {
		rec = RecommendationAlert
	}
	return Verdict{
		Recommendation: rec,
		Confidence:     top.Confidence,
		Target:         top.Target,
		Method:         top.Method,
	}
}
