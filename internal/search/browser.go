package search

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserFetcher renders pages in headless Chrome before reading the DOM,
// for sites that build their content with JavaScript.
type BrowserFetcher struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	timeout     time.Duration
	logger      *zap.Logger
}

// NewBrowserFetcher starts an allocator. Close must be called to release
// the browser.
func NewBrowserFetcher(userAgent string, timeout time.Duration, logger *zap.Logger) *BrowserFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &BrowserFetcher{
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		timeout:     timeout,
		logger:      logger,
	}
}

func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()

	// Stop the tab when the caller gives up.
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var page string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}

	b.logger.Debug("Page rendered", zap.String("url", url), zap.Int("bytes", len(page)))
	return page, nil
}

// Close shuts the browser down.
func (b *BrowserFetcher) Close() {
	b.cancelAlloc()
}
