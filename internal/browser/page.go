// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultNavigationTimeout = 60 * time.Second
	cleanupTimeout           = 2 * time.Second
	tagAttribute             = "data-courier-id"
)

// ErrElementNotFound is returned when an action targets a selector that has no
// visible match at the time of the action.
var ErrElementNotFound = errors.New("no visible element matches selector")

// ErrTargetClosed is returned when the tab or the browser went away while the
// caller was still waiting on it.
var ErrTargetClosed = errors.New("browser tab closed")

// Page is one tab in an isolated browser context. All methods are bounded by the
// caller's context; none of them wait for elements on their own.
type Page struct {
	ctx              context.Context
	cancel           context.CancelFunc
	browserContextID cdp.BrowserContextID
	logger           *zap.Logger
	navTimeout       time.Duration
	owner            *Browser

	closeOnce sync.Once
}

// stopped explains why opCtx ended. The caller's own cancellation is returned as
// is; a dead tab becomes ErrTargetClosed so it is not mistaken for an interrupt.
func (p *Page) stopped(ctx, opCtx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ctx.Err() != nil {
		return ErrTargetClosed
	}
	return opCtx.Err()
}

// Navigate loads url and waits for the load event, bounded by the navigation timeout.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.logger.Debug("Navigating.", zap.String("url", url))

	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	navTimeout := p.navTimeout
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	navCtx, navCancel := context.WithTimeout(opCtx, navTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if opCtx.Err() != nil {
			return fmt.Errorf("navigation to %s stopped: %w", url, p.stopped(ctx, opCtx))
		}
		if errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("navigation to %s timed out after %s: %w", url, navTimeout, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Visible reports whether an element matching sel is currently visible. It does
// not wait. A page that is mid-navigation reports false rather than an error.
func (p *Page) Visible(ctx context.Context, sel Selector) (bool, error) {
	expr, err := sel.expression("return el !== null;")
	if err != nil {
		return false, err
	}
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	var visible bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &visible)); err != nil {
		if opCtx.Err() != nil {
			return false, p.stopped(ctx, opCtx)
		}
		if isTransient(err) {
			return false, nil
		}
		return false, fmt.Errorf("visibility check for %s failed: %w", sel, err)
	}
	return visible, nil
}

// isTransient matches evaluation errors caused by the document being replaced
// while the script ran.
func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Execution context was destroyed") ||
		strings.Contains(msg, "Cannot find context with specified id") ||
		strings.Contains(msg, "Inspected target navigated or closed")
}

// withTagged marks the first visible match of sel with a unique attribute, runs
// action against a CSS selector for that attribute, and removes the mark again.
func (p *Page) withTagged(ctx context.Context, sel Selector, action func(css string) chromedp.Action) error {
	id := uuid.NewString()
	expr, err := sel.expression(fmt.Sprintf("if (el === null) return false; el.setAttribute(%q, %q); return true;", tagAttribute, id))
	if err != nil {
		return err
	}
	css := fmt.Sprintf(`[%s="%s"]`, tagAttribute, id)

	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	var tagged bool
	if err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &tagged)); err != nil {
		if opCtx.Err() != nil {
			return p.stopped(ctx, opCtx)
		}
		return fmt.Errorf("failed to locate %s: %w", sel, err)
	}
	if !tagged {
		return fmt.Errorf("%s: %w", sel, ErrElementNotFound)
	}
	defer p.untag(css)

	if err := chromedp.Run(opCtx, action(css)); err != nil {
		if opCtx.Err() != nil {
			return p.stopped(ctx, opCtx)
		}
		return err
	}
	return nil
}

func (p *Page) untag(css string) {
	cleanupCtx, cancel := context.WithTimeout(Detach(p.ctx), cleanupTimeout)
	defer cancel()
	js := fmt.Sprintf(`document.querySelector(%q)?.removeAttribute(%q)`, css, tagAttribute)
	if err := chromedp.Run(cleanupCtx, chromedp.Evaluate(js, nil)); err != nil && cleanupCtx.Err() == nil {
		p.logger.Debug("Failed to remove temporary element tag.", zap.Error(err))
	}
}

// Click clicks the first visible element matching sel.
func (p *Page) Click(ctx context.Context, sel Selector) error {
	p.logger.Debug("Clicking.", zap.Stringer("selector", sel))
	err := p.withTagged(ctx, sel, func(css string) chromedp.Action {
		return chromedp.Click(css, chromedp.ByQuery, chromedp.NodeVisible)
	})
	if err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// clearFocusedJS focuses the tagged element and selects its current content so
// the next insert replaces it. It handles both form controls and contenteditable.
const clearFocusedJS = `(function(css) {
	const el = document.querySelector(css);
	if (!el) return false;
	el.focus();
	if (el instanceof HTMLInputElement || el instanceof HTMLTextAreaElement) {
		el.select();
	} else {
		const range = document.createRange();
		range.selectNodeContents(el);
		const selection = window.getSelection();
		selection.removeAllRanges();
		selection.addRange(range);
	}
	return true;
})`

// Fill replaces the content of the first visible element matching sel with text,
// inserting it the way an IME would so that framework input handlers fire.
func (p *Page) Fill(ctx context.Context, sel Selector, text string) error {
	p.logger.Debug("Filling.", zap.Stringer("selector", sel), zap.Int("length", len(text)))
	err := p.withTagged(ctx, sel, func(css string) chromedp.Action {
		return chromedp.ActionFunc(func(c context.Context) error {
			var focused bool
			if err := chromedp.Evaluate(fmt.Sprintf("(%s)(%q)", clearFocusedJS, css), &focused).Do(c); err != nil {
				return fmt.Errorf("failed to focus element: %w", err)
			}
			if !focused {
				return ErrElementNotFound
			}
			if text == "" {
				return chromedp.KeyEvent(kb.Backspace).Do(c)
			}
			return input.InsertText(text).Do(c)
		})
	})
	if err != nil {
		return fmt.Errorf("fill %s: %w", sel, err)
	}
	return nil
}

// Press sends a key to the focused element. key is a chromedp/kb value such as kb.Enter.
func (p *Page) Press(ctx context.Context, key string) error {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	if err := chromedp.Run(opCtx, chromedp.KeyEvent(key)); err != nil {
		if opCtx.Err() != nil {
			err = p.stopped(ctx, opCtx)
		}
		return fmt.Errorf("press key: %w", err)
	}
	return nil
}

// PressEnter is Press(ctx, kb.Enter).
func (p *Page) PressEnter(ctx context.Context) error {
	return p.Press(ctx, kb.Enter)
}

// Screenshot returns a full-page PNG of the current viewport contents.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()

	var buf []byte
	// Quality 100 selects PNG encoding.
	if err := chromedp.Run(opCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		if opCtx.Err() != nil {
			err = p.stopped(ctx, opCtx)
		}
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// CaptureStorage snapshots the page's authenticated state.
func (p *Page) CaptureStorage(ctx context.Context) (*StorageState, error) {
	opCtx, opCancel := CombineContext(p.ctx, ctx)
	defer opCancel()
	return captureStorage(opCtx, p.browserContextID)
}

// Close closes the tab and disposes of its browser context. It is safe to call
// more than once.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		if p.owner != nil {
			p.owner.forget(p)
		}
	})
}
