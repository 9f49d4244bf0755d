// Package roast defines the domain types and the interfaces the pipeline
// components are wired through.
package roast

import "time"

// Status tracks a roast record through the pipeline.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCapturing Status = "capturing"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Impact grades how much a reported issue hurts conversion.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// ImpactRank orders impacts for sorting, most severe first. Unknown
// values sort last.
func ImpactRank(i Impact) int {
	switch i {
	case ImpactHigh:
		return 0
	case ImpactMedium:
		return 1
	case ImpactLow:
		return 2
	default:
		return 3
	}
}

// Issue is one concrete problem a model found on the page.
type Issue struct {
	Issue    string `json:"issue"`
	Location string `json:"location"`
	Impact   Impact `json:"impact"`
	Fix      string `json:"fix"`
}

// Breakdown scores five conversion factors, 0-2 each.
type Breakdown struct {
	Headline int `json:"headline"`
	Trust    int `json:"trust"`
	Visual   int `json:"visual"`
	CTA      int `json:"cta"`
	Speed    int `json:"speed"`
}

// ProviderAnalysis is one model's parsed critique.
type ProviderAnalysis struct {
	Provider  string    `json:"provider"`
	Roast     string    `json:"roast"`
	Score     int       `json:"score"`
	Breakdown Breakdown `json:"breakdown"`
	Issues    []Issue   `json:"issues"`
	QuickWins []string  `json:"quickWins"`
}

// EnsembleResult is the merged critique served to clients.
type EnsembleResult struct {
	Roast          string    `json:"roast"`
	Score          int       `json:"score"`
	Breakdown      Breakdown `json:"breakdown"`
	Issues         []Issue   `json:"issues"`
	QuickWins      []string  `json:"quickWins"`
	ModelAgreement float64   `json:"modelAgreement"`
}

// ScreenshotJob is the queue message that triggers one capture-and-roast
// run.
type ScreenshotJob struct {
	JobID      string    `json:"jobId"`
	URL        string    `json:"url"`
	RoastID    string    `json:"roastId"`
	EnqueuedAt time.Time `json:"timestamp"`
}

// PerformanceMetrics holds browser timings observed during capture. All
// fields are zero when the page refused to report them.
type PerformanceMetrics struct {
	LoadTimeMs    int64 `json:"loadTimeMs"`
	DOMReadyMs    int64 `json:"domReadyMs"`
	FirstPaintMs  int64 `json:"firstPaintMs"`
	ResourceCount int64 `json:"resourceCount"`
}

// CaptureResult bundles the raw screenshots and timings from one browser
// session.
type CaptureResult struct {
	DesktopImage []byte
	MobileImage  []byte
	Metrics      PerformanceMetrics
}

// Record is the durable state of one roast.
type Record struct {
	ID             string             `json:"id"`
	URL            string             `json:"url"`
	Status         Status             `json:"status"`
	Roast          string             `json:"roast,omitempty"`
	Score          int                `json:"score,omitempty"`
	Breakdown      Breakdown          `json:"breakdown"`
	Issues         []Issue            `json:"issues,omitempty"`
	QuickWins      []string           `json:"quickWins,omitempty"`
	ModelAgreement float64            `json:"modelAgreement,omitempty"`
	DesktopURL     string             `json:"desktopUrl,omitempty"`
	MobileURL      string             `json:"mobileUrl,omitempty"`
	ShareCardURL   string             `json:"shareCardUrl,omitempty"`
	Metrics        PerformanceMetrics `json:"metrics"`
	Error          string             `json:"error,omitempty"`
	ViewCount      int64              `json:"viewCount"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// ApplyResult copies a completed ensemble result into the record and
// marks it completed.
func (r *Record) ApplyResult(res EnsembleResult) {
	r.Status = StatusCompleted
	r.Roast = res.Roast
	r.Score = res.Score
	r.Breakdown = res.Breakdown
	r.Issues = res.Issues
	r.QuickWins = res.QuickWins
	r.ModelAgreement = res.ModelAgreement
	r.Error = ""
}
