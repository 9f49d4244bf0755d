package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/roastmylanding/roastpipe/internal/metrics"
	"github.com/roastmylanding/roastpipe/internal/roast"
)

// Viewport dimensions for the two renditions.
const (
	desktopWidth  = 1440
	desktopHeight = 900
	desktopScale  = 2.0

	mobileWidth  = 375
	mobileHeight = 812
	mobileScale  = 2.0
)

// Config controls the behavior of the capturer.
type Config struct {
	UserAgent string
	// NavTimeout bounds one navigation attempt.
	NavTimeout time.Duration
	// NavMaxAttempts is the total navigation attempts per job.
	NavMaxAttempts int
	// BackoffBase scales linearly with the attempt number between retries.
	BackoffBase time.Duration
	// SettleDelay is the pause after a viewport change before screenshotting.
	SettleDelay time.Duration
	// ReadyFallback caps the wait for the window load event after
	// DOMContentLoaded has fired.
	ReadyFallback time.Duration
	JPEGQuality   int
	MaxParallel   int
}

func (c *Config) applyDefaults() {
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.NavMaxAttempts <= 0 {
		c.NavMaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = time.Second
	}
	if c.ReadyFallback <= 0 {
		c.ReadyFallback = 5 * time.Second
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = 85
	}
}

// Capturer implements roast.Capturer on a shared warm browser.
type Capturer struct {
	cfg     Config
	browser *Browser
	limiter chan struct{}
	logger  *zap.Logger
}

// New creates a Capturer over the given browser.
func New(browser *Browser, cfg Config, logger *zap.Logger) *Capturer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Capturer{
		cfg:     cfg,
		browser: browser,
		limiter: limiter,
		logger:  logger,
	}
}

// Capture renders url in a fresh tab and returns desktop and mobile
// screenshots plus whatever timings the page reported.
func (c *Capturer) Capture(ctx context.Context, url string) (*roast.CaptureResult, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	start := time.Now()
	result, err := c.captureInTab(ctx, url)
	if err != nil {
		metrics.ObserveScreenshot("failure", time.Since(start))
		return nil, err
	}
	metrics.ObserveScreenshot("success", time.Since(start))
	return result, nil
}

func (c *Capturer) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture slot wait canceled: %w", ctx.Err())
	}
}

func (c *Capturer) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

func (c *Capturer) captureInTab(ctx context.Context, url string) (*roast.CaptureResult, error) {
	tabCtx, tabCancel, err := c.browser.Tab()
	if err != nil {
		return nil, err
	}
	defer tabCancel()

	// Bound the whole tab lifetime by the caller's deadline.
	stop := context.AfterFunc(ctx, tabCancel)
	defer stop()

	c.blockHeavyResources(tabCtx)

	if err := chromedp.Run(tabCtx,
		network.Enable(),
		// Fresh cookie jar per job; tabs share the browser profile.
		network.ClearBrowserCookies(),
		emulation.SetUserAgentOverride(c.cfg.UserAgent),
		emulation.SetDeviceMetricsOverride(desktopWidth, desktopHeight, desktopScale, false),
	); err != nil {
		return nil, fmt.Errorf("prepare tab: %w", err)
	}

	if err := c.navigateWithRetry(tabCtx, url); err != nil {
		return nil, err
	}

	perf := c.collectMetrics(tabCtx)

	desktop, err := c.screenshot(tabCtx, desktopWidth, desktopHeight)
	if err != nil {
		return nil, fmt.Errorf("desktop screenshot: %w", err)
	}

	if err := chromedp.Run(tabCtx,
		emulation.SetDeviceMetricsOverride(mobileWidth, mobileHeight, mobileScale, true),
		chromedp.Sleep(c.cfg.SettleDelay),
	); err != nil {
		return nil, fmt.Errorf("switch to mobile viewport: %w", err)
	}
	mobile, err := c.screenshot(tabCtx, mobileWidth, mobileHeight)
	if err != nil {
		return nil, fmt.Errorf("mobile screenshot: %w", err)
	}

	return &roast.CaptureResult{
		DesktopImage: desktop,
		MobileImage:  mobile,
		Metrics:      perf,
	}, nil
}

// navigateWithRetry loads the page, retrying full navigations with linear
// backoff. Readiness is DOMContentLoaded plus a bounded wait for the load
// event; pages that never fire load still get screenshotted.
func (c *Capturer) navigateWithRetry(tabCtx context.Context, url string) error {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.NavMaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(tabCtx, c.cfg.NavTimeout)
		err := chromedp.Run(attemptCtx,
			chromedp.Navigate(url),
			chromedp.WaitReady("body", chromedp.ByQuery),
			c.awaitLoadOrFallback(),
			chromedp.Sleep(c.cfg.SettleDelay),
		)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn("navigation attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if tabCtx.Err() != nil {
			break
		}
		if attempt < c.cfg.NavMaxAttempts {
			select {
			case <-time.After(c.cfg.BackoffBase * time.Duration(attempt)):
			case <-tabCtx.Done():
			}
		}
	}
	return &roast.NavigationError{URL: url, Attempts: c.cfg.NavMaxAttempts, Err: lastErr}
}

// awaitLoadOrFallback resolves when the window load event fires or the
// fallback elapses, whichever comes first.
func (c *Capturer) awaitLoadOrFallback() chromedp.Action {
	script := fmt.Sprintf(`new Promise((resolve) => {
		if (document.readyState === 'complete') { resolve(true); return; }
		const timer = setTimeout(() => resolve(false), %d);
		window.addEventListener('load', () => { clearTimeout(timer); resolve(true); }, { once: true });
	})`, c.cfg.ReadyFallback.Milliseconds())

	var loaded bool
	return chromedp.Evaluate(script, &loaded, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
}

// blockHeavyResources uses the fetch domain to fail font, media, and
// miscellaneous requests. Stylesheets, scripts, and images still load so
// the screenshot matches what a visitor sees.
func (c *Capturer) blockHeavyResources(tabCtx context.Context) {
	chromedp.ListenTarget(tabCtx, func(ev any) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		go func() {
			target := chromedp.FromContext(tabCtx)
			execCtx := cdp.WithExecutor(tabCtx, target.Target)
			switch paused.ResourceType {
			case network.ResourceTypeFont, network.ResourceTypeMedia, network.ResourceTypeOther:
				err := fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
				if err != nil {
					c.logger.Debug("fail request", zap.Error(err))
				}
			default:
				if err := fetch.ContinueRequest(paused.RequestID).Do(execCtx); err != nil {
					c.logger.Debug("continue request", zap.Error(err))
				}
			}
		}()
	})

	if err := chromedp.Run(tabCtx, fetch.Enable()); err != nil {
		c.logger.Warn("enable request interception", zap.Error(err))
	}
}

func (c *Capturer) screenshot(tabCtx context.Context, width, height int64) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatJpeg).
			WithQuality(int64(c.cfg.JPEGQuality)).
			WithClip(&page.Viewport{
				X:      0,
				Y:      0,
				Width:  float64(width),
				Height: float64(height),
				Scale:  1,
			}).
			Do(ctx)
		return err
	}))
	return buf, err
}

const metricsScript = `(() => {
	try {
		const nav = performance.getEntriesByType('navigation')[0];
		const paint = performance.getEntriesByType('paint')
			.find((e) => e.name === 'first-contentful-paint');
		return JSON.stringify({
			loadTimeMs: nav ? Math.round(nav.loadEventEnd - nav.startTime) : 0,
			domReadyMs: nav ? Math.round(nav.domContentLoadedEventEnd - nav.startTime) : 0,
			firstPaintMs: paint ? Math.round(paint.startTime) : 0,
			resourceCount: performance.getEntriesByType('resource').length,
		});
	} catch (e) {
		return '{}';
	}
})()`

// collectMetrics reads the page's performance entries. Pages that block
// or break the performance API yield all-zero metrics rather than an
// error.
func (c *Capturer) collectMetrics(tabCtx context.Context) roast.PerformanceMetrics {
	var raw string
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(metricsScript, &raw)); err != nil {
		c.logger.Debug("collect performance metrics", zap.Error(err))
		return roast.PerformanceMetrics{}
	}
	var perf roast.PerformanceMetrics
	if err := json.Unmarshal([]byte(raw), &perf); err != nil {
		c.logger.Debug("parse performance metrics", zap.Error(err))
		return roast.PerformanceMetrics{}
	}
	return perf
}
