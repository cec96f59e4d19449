package assistant

import (
	"context"
	"errors"
	"math"
)

const (
	LabelUnknown = "unknown"
	LabelError   = "error"
)

// Sentiment is a single classification: Score is in [0, 1].
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

var errNoSentiment = errors.New("classifier returned no results")

// AnalyzeSentiment returns the top-ranked classification of text.
// It yields {unknown, 0} when no classifier is configured and {error, 0}
// when classification fails.
func (g *Generator) AnalyzeSentiment(ctx context.Context, text string) Sentiment {
	if g.classifier == nil {
		return Sentiment{Label: LabelUnknown, Score: 0}
	}

	res, err := g.classifier.Classify(ctx, text)
	if err == nil && len(res) == 0 {
		err = errNoSentiment
	}
	if err != nil {
		g.logger.Error("Failed to analyze sentiment", "err", err)
		return Sentiment{Label: LabelError, Score: 0}
	}

	top := res[0]
	for _, r := range res[1:] {
		if r.Score > top.Score {
			top = r
		}
	}
	top.Score = clampScore(top.Score)
	return top
}

func clampScore(s float64) float64 {
	if s < 0 || math.IsNaN(s) {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
