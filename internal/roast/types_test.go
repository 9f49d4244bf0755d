package roast

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImpactRankOrdering(t *testing.T) {
	require.Less(t, ImpactRank(ImpactHigh), ImpactRank(ImpactMedium))
	require.Less(t, ImpactRank(ImpactMedium), ImpactRank(ImpactLow))
	require.Less(t, ImpactRank(ImpactLow), ImpactRank(Impact("critical")))
}

func TestApplyResult(t *testing.T) {
	rec := Record{
		ID:     "r1",
		URL:    "https://example.com",
		Status: StatusAnalyzing,
		Error:  "previous attempt failed",
	}

	res := EnsembleResult{
		Roast:          "The headline is doing its best impression of a shrug.",
		Score:          6,
		Breakdown:      Breakdown{Headline: 1, Trust: 2, Visual: 1, CTA: 1, Speed: 2},
		Issues:         []Issue{{Issue: "No CTA above the fold", Location: "hero", Impact: ImpactHigh, Fix: "Add one"}},
		QuickWins:      []string{"Shorten the headline"},
		ModelAgreement: 0.8,
	}
	rec.ApplyResult(res)

	require.Equal(t, StatusCompleted, rec.Status)
	require.Equal(t, res.Roast, rec.Roast)
	require.Equal(t, 6, rec.Score)
	require.Equal(t, res.Breakdown, rec.Breakdown)
	require.Equal(t, res.Issues, rec.Issues)
	require.Equal(t, res.QuickWins, rec.QuickWins)
	require.Equal(t, 0.8, rec.ModelAgreement)
	require.Empty(t, rec.Error)
}
