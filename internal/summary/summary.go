// Package summary reduces per-row prediction labels to aggregate statistics.
package summary

// Prediction labels produced by the stroke model.
const (
	LabelStroke   = "Stroke"
	LabelNoStroke = "No Stroke"
)

// Risk is the presentation band of a stroke percentage.
type Risk string

const (
	RiskLow    Risk = "Low"
	RiskMedium Risk = "Medium"
	RiskHigh   Risk = "High"
)

// Band boundaries on the stroke percentage.
const (
	mediumFrom = 15.0
	highFrom   = 25.0
)

// Summary holds counts and percentages for one set of predictions.
// Labels other than LabelStroke and LabelNoStroke only count toward
// TotalCount.
type Summary struct {
	StrokeCount        int     `json:"strokeCount"`
	NoStrokeCount      int     `json:"noStrokeCount"`
	TotalCount         int     `json:"totalCount"`
	StrokePercentage   float64 `json:"strokePercentage"`
	NoStrokePercentage float64 `json:"noStrokePercentage"`
	Risk               Risk    `json:"risk"`
}

// Summarize counts labels in a single pass.
func Summarize(labels []string) Summary {
	var s Summary
	for _, l := range labels {
		switch l {
		case LabelStroke:
			s.StrokeCount++
		case LabelNoStroke:
			s.NoStrokeCount++
		}
	}
	s.TotalCount = len(labels)
	if s.TotalCount > 0 {
		s.StrokePercentage = float64(s.StrokeCount) / float64(s.TotalCount) * 100
		s.NoStrokePercentage = float64(s.NoStrokeCount) / float64(s.TotalCount) * 100
	}
	s.Risk = Band(s.StrokePercentage)
	return s
}

// Band maps a stroke percentage to a risk band. Each band includes its lower
// bound and excludes its upper bound; High is open-ended.
func Band(strokePercentage float64) Risk {
	switch {
	case strokePercentage >= highFrom:
		return RiskHigh
	case strokePercentage >= mediumFrom:
		return RiskMedium
	default:
		return RiskLow
	}
}
