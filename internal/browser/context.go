// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from primary that is also canceled when
// secondary is. Values come from primary only.
//
// Every chromedp call needs the tab context (primary) for its CDP target, while the
// caller's context (secondary) carries the operation's deadline and cancellation.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext keeps a parent's values but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                       { return nil }
func (valueOnlyContext) Err() error                                  { return nil }

// Detach returns a context carrying ctx's values that is never canceled with it.
// Cleanup that must run after the triggering operation was canceled uses this.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
