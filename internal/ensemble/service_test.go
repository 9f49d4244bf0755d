package ensemble

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

type fakeProvider struct {
	name     string
	analysis roast.ProviderAnalysis
	err      error
	delay    time.Duration
	calls    atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Analyze(ctx context.Context, _ string) (roast.ProviderAnalysis, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return roast.ProviderAnalysis{}, ctx.Err()
		}
	}
	if p.err != nil {
		return roast.ProviderAnalysis{}, p.err
	}
	a := p.analysis
	a.Provider = p.name
	return a, nil
}

func analysisWithScore(score int, text string) roast.ProviderAnalysis {
	return roast.ProviderAnalysis{
		Roast: text,
		Score: score,
		Breakdown: roast.Breakdown{
			Headline: 1, Trust: 1, Visual: 1, CTA: 1, Speed: 1,
		},
	}
}

func newService(t *testing.T, providers []Provider, weights []float64, opts *Options) *Service {
	t.Helper()
	return New(providers, weights, opts, nil, zap.NewNop())
}

func TestAnalyzeWeightedScore(t *testing.T) {
	a := &fakeProvider{name: "a", analysis: analysisWithScore(8, "The headline color and button layout are a crime scene.")}
	b := &fakeProvider{name: "b", analysis: analysisWithScore(6, "Trust signals are absent.")}
	c := &fakeProvider{name: "c", analysis: analysisWithScore(4, "Slow and cluttered.")}

	svc := newService(t, []Provider{a, b, c}, []float64{0.5, 0.3, 0.2}, nil)
	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)

	// (8*0.5 + 6*0.3 + 4*0.2) / 1.0 = 6.6 -> 7
	require.Equal(t, 7, result.Score)
}

func TestAnalyzeSurvivorWeightsRenormalize(t *testing.T) {
	a := &fakeProvider{name: "a", analysis: analysisWithScore(8, "Sharp headline, weak button contrast.")}
	b := &fakeProvider{name: "b", analysis: analysisWithScore(6, "Middling trust elements.")}
	failing := &fakeProvider{name: "c", err: errors.New("quota exceeded")}

	svc := newService(t, []Provider{a, b, failing}, []float64{0.5, 0.3, 0.2}, nil)
	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)

	// (8*0.5 + 6*0.3) / 0.8 = 7.25 -> 7
	require.Equal(t, 7, result.Score)
}

func TestAnalyzeAllProvidersFailed(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("boom")}
	b := &fakeProvider{name: "b", err: errors.New("bust")}

	svc := newService(t, []Provider{a, b}, []float64{0.5, 0.5}, nil)
	_, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.ErrorIs(t, err, roast.ErrAllProvidersFailed)
}

func TestAnalyzeTimesOutSlowProvider(t *testing.T) {
	fast := &fakeProvider{name: "fast", analysis: analysisWithScore(6, "Decent headline at least.")}
	slow := &fakeProvider{name: "slow", delay: time.Second, analysis: analysisWithScore(2, "never arrives")}

	svc := newService(t, []Provider{fast, slow}, []float64{0.5, 0.5},
		&Options{ProviderTimeout: 50 * time.Millisecond})
	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	require.Equal(t, 6, result.Score, "only the fast provider should contribute")
}

func TestAnalyzePicksSpecificRoast(t *testing.T) {
	specific := &fakeProvider{name: "a", analysis: analysisWithScore(6,
		"The headline hides below a stock image while the button color blends into the layout.")}
	hedged := &fakeProvider{name: "b", analysis: analysisWithScore(6,
		"It looks like it seems fine, I guess.")}

	svc := newService(t, []Provider{hedged, specific}, []float64{0.5, 0.5}, nil)
	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	require.Equal(t, specific.analysis.Roast, result.Roast)
}

func TestAnalyzeComparisonPhrasingRaisesQuality(t *testing.T) {
	// Comparable length and one page-element reference each; the first
	// roast's simile phrasing ("looks", "like", "seems", "reminds") must
	// lift it past the flatter alternative.
	playful := &fakeProvider{name: "a", analysis: analysisWithScore(6,
		"It looks like the button seems lost on this page, as it reminds nobody to act.")}
	flat := &fakeProvider{name: "b", analysis: analysisWithScore(6,
		"Quite a plain page with one small button and not much to pull a visitor in at all.")}

	svc := newService(t, []Provider{flat, playful}, []float64{0.5, 0.5}, nil)
	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	require.Equal(t, playful.analysis.Roast, result.Roast)
}

func TestAnalyzeRoastTieKeepsRosterOrder(t *testing.T) {
	text := "The headline and button fight for attention in the layout."
	first := &fakeProvider{name: "first", analysis: analysisWithScore(5, text)}
	second := &fakeProvider{name: "second", analysis: analysisWithScore(5, text)}

	svc := newService(t, []Provider{first, second}, []float64{0.5, 0.5}, nil)
	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	require.Equal(t, text, result.Roast)
}

func TestAnalyzeAgreement(t *testing.T) {
	t.Run("identical scores", func(t *testing.T) {
		a := &fakeProvider{name: "a", analysis: analysisWithScore(7, "Headline works.")}
		b := &fakeProvider{name: "b", analysis: analysisWithScore(7, "Button works.")}
		svc := newService(t, []Provider{a, b}, []float64{0.5, 0.5}, nil)
		result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
		require.NoError(t, err)
		require.InDelta(t, 1.0, result.ModelAgreement, 1e-9)
	})

	t.Run("split scores", func(t *testing.T) {
		a := &fakeProvider{name: "a", analysis: analysisWithScore(8, "Great headline.")}
		b := &fakeProvider{name: "b", analysis: analysisWithScore(6, "Weak button.")}
		svc := newService(t, []Provider{a, b}, []float64{0.5, 0.5}, nil)
		result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
		require.NoError(t, err)
		// stddev of {8, 6} is 1 -> 1 - 1/5 = 0.8
		require.InDelta(t, 0.8, result.ModelAgreement, 1e-9)
	})

	t.Run("single survivor", func(t *testing.T) {
		a := &fakeProvider{name: "a", analysis: analysisWithScore(3, "Just bad.")}
		svc := newService(t, []Provider{a}, []float64{1}, nil)
		result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
		require.NoError(t, err)
		require.InDelta(t, 1.0, result.ModelAgreement, 1e-9)
	})
}

func TestAnalyzeMergesIssues(t *testing.T) {
	issue := func(text, loc string, impact roast.Impact) roast.Issue {
		return roast.Issue{Issue: text, Location: loc, Impact: impact, Fix: "fix"}
	}

	first := analysisWithScore(5, "Roast one with headline notes.")
	first.Issues = []roast.Issue{
		issue("tiny cta", "hero", roast.ImpactLow),
		issue("no testimonials", "footer", roast.ImpactHigh),
	}
	second := analysisWithScore(5, "Roast two.")
	second.Issues = []roast.Issue{
		issue("no testimonials", "footer", roast.ImpactHigh), // exact dup, dropped
		issue("slow hero image", "hero", roast.ImpactMedium),
		issue("cluttered nav", "header", roast.ImpactHigh),
	}

	a := &fakeProvider{name: "a", analysis: first}
	b := &fakeProvider{name: "b", analysis: second}
	svc := newService(t, []Provider{a, b}, []float64{0.5, 0.5}, &Options{MaxIssues: 3})

	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)

	require.Len(t, result.Issues, 3)
	// High-impact issues first, original order preserved within a band.
	require.Equal(t, "no testimonials", result.Issues[0].Issue)
	require.Equal(t, "cluttered nav", result.Issues[1].Issue)
	require.Equal(t, roast.ImpactMedium, result.Issues[2].Impact)
}

func TestAnalyzeIssueDedupeIsCaseSensitive(t *testing.T) {
	first := analysisWithScore(5, "Roast one.")
	first.Issues = []roast.Issue{
		{Issue: "tiny cta", Location: "hero", Impact: roast.ImpactHigh, Fix: "enlarge it"},
	}
	second := analysisWithScore(5, "Roast two.")
	second.Issues = []roast.Issue{
		{Issue: "Tiny CTA", Location: "Hero", Impact: roast.ImpactHigh, Fix: "enlarge it"},
	}

	a := &fakeProvider{name: "a", analysis: first}
	b := &fakeProvider{name: "b", analysis: second}
	svc := newService(t, []Provider{a, b}, []float64{0.5, 0.5}, nil)

	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)

	// Only byte-identical (issue, location) pairs collapse; the case
	// variants stay separate findings.
	require.Len(t, result.Issues, 2)
	require.Equal(t, "tiny cta", result.Issues[0].Issue)
	require.Equal(t, "Tiny CTA", result.Issues[1].Issue)
}

func TestAnalyzeMergesQuickWins(t *testing.T) {
	first := analysisWithScore(5, "Roast one.")
	first.QuickWins = []string{"Raise the CTA", "Add logos"}
	second := analysisWithScore(5, "Roast two.")
	second.QuickWins = []string{"Add logos", "Compress images", "Shorten the form"}

	a := &fakeProvider{name: "a", analysis: first}
	b := &fakeProvider{name: "b", analysis: second}
	svc := newService(t, []Provider{a, b}, []float64{0.5, 0.5}, nil)

	// Exact duplicate "Add logos" collapses; union keeps first-seen order
	// and caps at three.
	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	require.Equal(t, []string{"Raise the CTA", "Add logos", "Compress images"}, result.QuickWins)
}

func TestAnalyzeQuickWinDedupeIsExact(t *testing.T) {
	first := analysisWithScore(5, "Roast one.")
	first.QuickWins = []string{"Raise the CTA"}
	second := analysisWithScore(5, "Roast two.")
	second.QuickWins = []string{"raise the cta"}

	a := &fakeProvider{name: "a", analysis: first}
	b := &fakeProvider{name: "b", analysis: second}
	svc := newService(t, []Provider{a, b}, []float64{0.5, 0.5}, nil)

	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	require.Equal(t, []string{"Raise the CTA", "raise the cta"}, result.QuickWins)
}

func TestAnalyzeCachesResults(t *testing.T) {
	a := &fakeProvider{name: "a", analysis: analysisWithScore(6, "Headline could land harder.")}
	svc := newService(t, []Provider{a}, []float64{1}, nil)

	_, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	_, err = svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	require.Equal(t, int32(1), a.calls.Load(), "second call must be served from cache")

	_, err = svc.Analyze(context.Background(), "https://img.example/other.jpg")
	require.NoError(t, err)
	require.Equal(t, int32(2), a.calls.Load(), "different image must miss the cache")
}

func TestAnalyzeScoreBounds(t *testing.T) {
	a := &fakeProvider{name: "a", analysis: analysisWithScore(10, "Perfection, allegedly.")}
	b := &fakeProvider{name: "b", analysis: analysisWithScore(1, "Unusable.")}
	svc := newService(t, []Provider{a, b}, []float64{0.5, 0.5}, nil)

	result, err := svc.Analyze(context.Background(), "https://img.example/shot.jpg")
	require.NoError(t, err)
	require.GreaterOrEqual(t, result.Score, 1)
	require.LessOrEqual(t, result.Score, 10)
	require.GreaterOrEqual(t, result.ModelAgreement, 0.0)
	require.LessOrEqual(t, result.ModelAgreement, 1.0)
}
