package ensemble

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

// Provider is one vision model in the ensemble.
type Provider interface {
	Name() string
	Analyze(ctx context.Context, imageURL string) (roast.ProviderAnalysis, error)
}

// rosterEntry pairs a provider with its voting weight. Roster order is
// the tiebreak when two roasts grade equally.
type rosterEntry struct {
	provider Provider
	weight   float64
}

// Options tunes the ensemble. Zero values fall back to defaults.
type Options struct {
	// ProviderTimeout bounds each individual model call.
	ProviderTimeout time.Duration
	// MaxIssues caps the merged issue list.
	MaxIssues int
	// ResultTTL bounds the in-process result cache.
	ResultTTL time.Duration
}

func (o *Options) withDefaults() Options {
	out := Options{
		ProviderTimeout: 15 * time.Second,
		MaxIssues:       4,
		ResultTTL:       time.Hour,
	}
	if o == nil {
		return out
	}
	if o.ProviderTimeout > 0 {
		out.ProviderTimeout = o.ProviderTimeout
	}
	if o.MaxIssues > 0 {
		out.MaxIssues = o.MaxIssues
	}
	if o.ResultTTL > 0 {
		out.ResultTTL = o.ResultTTL
	}
	return out
}

type cachedResult struct {
	result    roast.EnsembleResult
	expiresAt time.Time
}

// Service fans a screenshot out to every roster provider in parallel and
// merges whatever comes back in time. It implements roast.Analyzer.
type Service struct {
	roster []rosterEntry
	opts   Options
	logger *zap.Logger
	clock  roast.Clock

	mu      sync.Mutex
	results map[string]cachedResult
}

// New builds a Service over the given providers, in roster order with the
// given weights. Both slices must be the same length.
func New(providers []Provider, weights []float64, opts *Options, clock roast.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	roster := make([]rosterEntry, 0, len(providers))
	for i, p := range providers {
		roster = append(roster, rosterEntry{provider: p, weight: weights[i]})
	}
	return &Service{
		roster:  roster,
		opts:    opts.withDefaults(),
		logger:  logger,
		clock:   clock,
		results: make(map[string]cachedResult),
	}
}

// Analyze returns the merged critique for one screenshot. Identical image
// URLs within the result TTL are served from memory without touching any
// provider.
func (s *Service) Analyze(ctx context.Context, imageURL string) (*roast.EnsembleResult, error) {
	if cached := s.lookup(imageURL); cached != nil {
		return cached, nil
	}

	survivors := s.dispatch(ctx, imageURL)
	metrics.ObserveEnsemble(len(survivors))
	if len(survivors) == 0 {
		return nil, roast.ErrAllProvidersFailed
	}

	result := s.merge(survivors)
	s.store(imageURL, result)
	return &result, nil
}

type vote struct {
	analysis roast.ProviderAnalysis
	weight   float64
	order    int
}

// dispatch calls every provider in parallel under its own timeout and
// collects the successes in roster order.
func (s *Service) dispatch(ctx context.Context, imageURL string) []vote {
	type outcome struct {
		vote vote
		err  error
	}
	outcomes := make([]outcome, len(s.roster))

	var wg sync.WaitGroup
	for i, entry := range s.roster {
		wg.Add(1)
		go func(i int, entry rosterEntry) {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
			defer cancel()

			start := time.Now()
			analysis, err := entry.provider.Analyze(callCtx, imageURL)
			if err != nil {
				reason := "api_error"
				if errors.Is(err, context.DeadlineExceeded) {
					reason = "timeout"
				}
				metrics.ObserveProviderFailure(entry.provider.Name(), reason)
				s.logger.Warn("provider failed",
					zap.String("provider", entry.provider.Name()),
					zap.Error(err),
				)
				outcomes[i] = outcome{err: err}
				return
			}
			metrics.ObserveProviderCall(entry.provider.Name(), time.Since(start))
			outcomes[i] = outcome{vote: vote{analysis: analysis, weight: entry.weight, order: i}}
		}(i, entry)
	}
	wg.Wait()

	survivors := make([]vote, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err == nil {
			survivors = append(survivors, o.vote)
		}
	}
	return survivors
}

// merge folds the surviving analyses into one result.
func (s *Service) merge(votes []vote) roast.EnsembleResult {
	return roast.EnsembleResult{
		Roast:          bestRoast(votes),
		Score:          weightedAverage(votes, func(a roast.ProviderAnalysis) int { return a.Score }),
		Breakdown:      mergeBreakdowns(votes),
		Issues:         mergeIssues(votes, s.opts.MaxIssues),
		QuickWins:      mergeQuickWins(votes),
		ModelAgreement: agreement(votes),
	}
}

// bestRoast picks the punchiest roast: longer, more specific, and more
// playfully phrased beats generic, scaled by the provider's weight. Ties
// keep the earlier roster entry.
func bestRoast(votes []vote) string {
	best := votes[0]
	bestQuality := roastQuality(best.analysis.Roast) * best.weight
	for _, v := range votes[1:] {
		if q := roastQuality(v.analysis.Roast) * v.weight; q > bestQuality {
			best, bestQuality = v, q
		}
	}
	return best.analysis.Roast
}

var (
	specificityTerms = []string{"color", "button", "headline", "text", "image", "layout", "font", "size"}
	humorTerms       = []string{"like", "looks", "seems", "reminds", "as if"}
)

// roastQuality grades a roast on length (capped), concrete page-element
// references, and comparison phrasing, which tends to read as wit.
func roastQuality(text string) float64 {
	lower := strings.ToLower(text)
	quality := math.Min(float64(len(text))/20, 10)
	for _, term := range specificityTerms {
		if strings.Contains(lower, term) {
			quality++
		}
	}
	for _, term := range humorTerms {
		if strings.Contains(lower, term) {
			quality += 0.5
		}
	}
	return quality
}

func weightedAverage(votes []vote, pick func(roast.ProviderAnalysis) int) int {
	var sum, weightSum float64
	for _, v := range votes {
		sum += float64(pick(v.analysis)) * v.weight
		weightSum += v.weight
	}
	if weightSum == 0 {
		return 0
	}
	return int(math.Round(sum / weightSum))
}

func mergeBreakdowns(votes []vote) roast.Breakdown {
	return roast.Breakdown{
		Headline: weightedAverage(votes, func(a roast.ProviderAnalysis) int { return a.Breakdown.Headline }),
		Trust:    weightedAverage(votes, func(a roast.ProviderAnalysis) int { return a.Breakdown.Trust }),
		Visual:   weightedAverage(votes, func(a roast.ProviderAnalysis) int { return a.Breakdown.Visual }),
		CTA:      weightedAverage(votes, func(a roast.ProviderAnalysis) int { return a.Breakdown.CTA }),
		Speed:    weightedAverage(votes, func(a roast.ProviderAnalysis) int { return a.Breakdown.Speed }),
	}
}

// mergeIssues deduplicates on the exact (issue, location) pair, orders by
// severity with the original provider order preserved within a band, and
// caps the list. The match is case-sensitive; differently-cased reports
// are kept as distinct findings.
func mergeIssues(votes []vote, maxIssues int) []roast.Issue {
	seen := make(map[string]struct{})
	var merged []roast.Issue
	for _, v := range votes {
		for _, issue := range v.analysis.Issues {
			key := issue.Issue + "|" + issue.Location
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, issue)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return roast.ImpactRank(merged[i].Impact) < roast.ImpactRank(merged[j].Impact)
	})
	if len(merged) > maxIssues {
		merged = merged[:maxIssues]
	}
	return merged
}

// mergeQuickWins unions the suggestions in first-seen order, dropping
// exact duplicates only, capped at three.
func mergeQuickWins(votes []vote) []string {
	seen := make(map[string]struct{})
	var wins []string
	for _, v := range votes {
		for _, w := range v.analysis.QuickWins {
			if strings.TrimSpace(w) == "" {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			wins = append(wins, w)
			if len(wins) == maxQuickWinsPerProvider {
				return wins
			}
		}
	}
	return wins
}

// agreement maps the population standard deviation of the scores onto
// [0, 1]: identical scores give 1, a spread of 5+ gives 0.
func agreement(votes []vote) float64 {
	if len(votes) < 2 {
		return 1
	}
	var sum float64
	for _, v := range votes {
		sum += float64(v.analysis.Score)
	}
	mean := sum / float64(len(votes))
	var variance float64
	for _, v := range votes {
		d := float64(v.analysis.Score) - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(len(votes)))
	return math.Max(0, 1-stddev/5)
}

func (s *Service) lookup(imageURL string) *roast.EnsembleResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.results[imageURL]
	if !ok {
		return nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.results, imageURL)
		return nil
	}
	result := entry.result
	return &result
}

func (s *Service) store(imageURL string, result roast.EnsembleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[imageURL] = cachedResult{
		result:    result,
		expiresAt: s.now().Add(s.opts.ResultTTL),
	}
}

func (s *Service) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}
