package judge

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Recommendation labels returned by the model.
const (
	RecommendApprove = "APPROVE"
	RecommendReject  = "REJECT"
	RecommendCaution = "CAUTION"
)

const defaultReasoning = "Analysis completed"

// Verdict is the normalised model judgment.
type Verdict struct {
	SentimentScore float64
	Confidence     float64
	Reasoning      string
	Recommendation string
}

// Approved applies the approval rule: explicit APPROVE, or
// sentiment > 0.3 with confidence > 0.6.
func (v Verdict) Approved() bool {
	if v.Recommendation == RecommendApprove {
		return true
	}
	return v.SentimentScore > 0.3 && v.Confidence > 0.6
}

// ErrorVerdict is the fail-closed judgment recorded when analysis fails.
func ErrorVerdict(err error) Verdict {
	return Verdict{
		SentimentScore: 0,
		Confidence:     0.3,
		Reasoning:      "Error during analysis: " + err.Error(),
		Recommendation: RecommendReject,
	}
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*\\})\\s*```")

// ParseVerdict extracts a verdict from free text. It tries the whole text as
// JSON, then a fenced ```json block, then the span from the first '{' to the
// last '}'. Text with no parseable object yields a neutral CAUTION verdict
// carrying the text as reasoning.
func ParseVerdict(text string) Verdict {
	trimmed := strings.TrimSpace(text)

	candidates := []string{trimmed}
	if m := fencedJSON.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		candidates = append(candidates, trimmed[start:end+1])
	}

	for _, candidate := range candidates {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(candidate), &fields); err == nil && fields != nil {
			return normalise(fields)
		}
	}

	reasoning := trimmed
	if reasoning == "" {
		reasoning = defaultReasoning
	}
	return Verdict{
		SentimentScore: 0,
		Confidence:     0.5,
		Reasoning:      reasoning,
		Recommendation: RecommendCaution,
	}
}

func normalise(fields map[string]json.RawMessage) Verdict {
	v := Verdict{
		SentimentScore: clamp(numberField(fields["sentiment_score"], 0), -1, 1),
		Confidence:     clamp(numberField(fields["confidence"], 0.5), 0, 1),
		Reasoning:      stringField(fields["reasoning"]),
		Recommendation: strings.ToUpper(strings.TrimSpace(stringField(fields["recommendation"]))),
	}
	if v.Reasoning == "" {
		v.Reasoning = defaultReasoning
	}
	switch v.Recommendation {
	case RecommendApprove, RecommendReject, RecommendCaution:
	default:
		v.Recommendation = RecommendCaution
	}
	return v
}

// numberField accepts JSON numbers and numeric strings; anything else,
// including zero, falls back.
func numberField(raw json.RawMessage, fallback float64) float64 {
	if len(raw) == 0 {
		return fallback
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fallback
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fallback
		}
		f = parsed
	}
	if math.IsNaN(f) || f == 0 {
		return fallback
	}
	return f
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
