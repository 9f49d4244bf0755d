// Package capture renders landing pages in headless Chrome and produces
// desktop and mobile screenshots plus browser timings.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
)

// Browser owns one warm headless Chrome process shared by every capture.
// Each job gets its own tab; keeping the process alive avoids paying the
// multi-second browser startup per job.
type Browser struct {
	allocator   context.Context
	allocCancel context.CancelFunc

	startOnce  sync.Once
	browserCtx context.Context
	browserCtl context.CancelFunc
	startErr   error
}

// NewBrowser prepares the allocator. Chrome itself starts lazily on the
// first tab request.
func NewBrowser() *Browser {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Browser{
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}
}

// Tab returns a fresh tab context on the warm browser plus its cancel
// func. The first call starts Chrome.
func (b *Browser) Tab() (context.Context, context.CancelFunc, error) {
	b.startOnce.Do(func() {
		b.browserCtx, b.browserCtl = chromedp.NewContext(b.allocator)
		// Run a no-op to force the browser process up front so the first
		// real capture does not absorb the startup cost inside its
		// navigation budget.
		if err := chromedp.Run(b.browserCtx); err != nil {
			b.startErr = fmt.Errorf("start browser: %w", err)
		}
	})
	if b.startErr != nil {
		return nil, nil, b.startErr
	}
	tabCtx, cancel := chromedp.NewContext(b.browserCtx)
	return tabCtx, cancel, nil
}

// Close tears down the browser process and allocator.
func (b *Browser) Close() {
	if b.browserCtl != nil {
		b.browserCtl()
	}
	b.allocCancel()
}
