// internal/browser/browser.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/config"
)

const shutdownGracePeriod = 10 * time.Second

// Browser owns one Chrome process. Every Page it creates lives in its own
// isolated browser context, so state restored into one page never leaks into
// another.
type Browser struct {
	cfg    config.Interface
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc

	mu     sync.Mutex
	pages  map[*Page]struct{}
	closed bool
}

// Launch starts Chrome with the configured launch profile. The process stays up
// until Close is called or ctx is canceled.
func Launch(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Browser, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Browser{
		cfg:    cfg,
		logger: logger.Named("browser"),
		pages:  make(map[*Page]struct{}),
	}

	b.allocCtx, b.allocCancel = chromedp.NewExecAllocator(ctx, DefaultAllocatorOptions(cfg.Browser())...)

	ctxOpts := []chromedp.ContextOption{chromedp.WithErrorf(b.logger.Sugar().Debugf)}
	if cfg.Browser().Debug {
		ctxOpts = append(ctxOpts, chromedp.WithLogf(b.logger.Sugar().Debugf))
	}
	b.browserCtx, b.cancel = chromedp.NewContext(b.allocCtx, ctxOpts...)

	// The first Run on a fresh context starts the process.
	if err := chromedp.Run(b.browserCtx); err != nil {
		b.cancel()
		b.allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	b.logger.Info("Browser launched.",
		zap.Bool("headless", cfg.Browser().Headless),
		zap.Strings("args", cfg.Browser().Args),
	)
	return b, nil
}

// NewPage opens a tab in a new isolated browser context and restores state into
// it before anything is loaded. A nil state yields a clean, unauthenticated page.
func (b *Browser) NewPage(ctx context.Context, state *StorageState) (*Page, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("browser is closed")
	}
	b.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	// Creates the browser context and the target.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	browserContextID := chromedp.FromContext(tabCtx).BrowserContextID

	p := &Page{
		ctx:              tabCtx,
		cancel:           tabCancel,
		browserContextID: browserContextID,
		logger:           b.logger.With(zap.String("browser_context", string(browserContextID))),
		navTimeout:       b.cfg.Timeouts().Navigation,
		owner:            b,
	}

	opCtx, opCancel := CombineContext(tabCtx, ctx)
	defer opCancel()
	if err := restoreStorage(opCtx, browserContextID, state); err != nil {
		p.Close()
		return nil, err
	}
	if !state.Empty() {
		p.logger.Debug("Restored persisted storage.",
			zap.Int("cookies", len(state.Cookies)),
			zap.Int("origins", len(state.Origins)),
		)
	}

	b.mu.Lock()
	b.pages[p] = struct{}{}
	b.mu.Unlock()
	return p, nil
}

func (b *Browser) forget(p *Page) {
	b.mu.Lock()
	delete(b.pages, p)
	b.mu.Unlock()
}

// Close closes every open page and terminates the browser process.
func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pages := make([]*Page, 0, len(b.pages))
	for p := range b.pages {
		pages = append(pages, p)
	}
	b.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}

	// Cancel asks chromedp to close the browser gracefully; waiting on the
	// allocator guarantees the process is gone.
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.cancel()
		b.allocCancel()
		chromedp.FromContext(b.browserCtx).Allocator.Wait()
	}()

	select {
	case <-done:
		b.logger.Debug("Browser closed.")
		return nil
	case <-time.After(shutdownGracePeriod):
		return fmt.Errorf("browser did not exit within %s", shutdownGracePeriod)
	}
}
