package scoring

import "testing"

func TestSummarize(t *testing.T) {
	tests := []struct {
		name       string
		matches    []Match
		expected   string
		wantTarget string
	}{
		{"clean", nil, RecommendationClean, ""},
		{"direct alert", []Match{{Target: "bank", Confidence: 1, Method: MethodDirect}}, RecommendationAlert, "bank"},
		{"substitution alert", []Match{{Target: "bank", Confidence: 0.9, Method: MethodSubstitution}}, RecommendationAlert, "bank"},
		{"levenshtein review", []Match{{Target: "amazon", Confidence: 0.71, Method: MethodLevenshtein}}, RecommendationReview, "amazon"},
		{"unsorted input", []Match{
			{Target: "bonf", Confidence: 0.6},
			{Target: "banks", Confidence: 0.75},
		}, RecommendationReview, "banks"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			verdict := Summarize(tc.matches)
			if verdict.Recommendation != tc.expected {
				t.Fatalf("expected %s got %s", tc.expected, verdict.Recommendation)
			}
			if verdict.Target != tc.wantTarget {
				t.Fatalf("expected target %q got %q", tc.wantTarget, verdict.Target)
			}
		})
	}
}
