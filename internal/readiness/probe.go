// Package readiness answers one question about a partially observable page: has
// any of a set of indicators become visible yet?
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/failure"
)

// DefaultPollInterval is used when a Detector is built with a non-positive interval.
const DefaultPollInterval = 250 * time.Millisecond

// Surface is the part of a page a probe can observe.
type Surface interface {
	Visible(ctx context.Context, sel browser.Selector) (bool, error)
}

// Probe checks whether Selector becomes visible within Timeout.
type Probe struct {
	Name     string
	Selector browser.Selector
	Timeout  time.Duration
}

func (p Probe) String() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Selector.String()
}

// WithTimeout returns a copy of p with a different budget.
func (p Probe) WithTimeout(d time.Duration) Probe {
	p.Timeout = d
	return p
}

// await polls the surface until the selector is visible or the probe's own
// timeout elapses. A probe timeout yields a NotReady failure; cancellation of
// ctx yields ctx's error; a surface error is an infrastructure failure.
func (p Probe) await(ctx context.Context, surface Surface, interval time.Duration) error {
	if p.Timeout <= 0 {
		return failure.New(failure.KindNotReady, "probe", fmt.Errorf("probe %s has no timeout", p))
	}
	if err := p.Selector.Validate(); err != nil {
		return failure.Infrastructure("probe "+p.String(), err)
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(probeCtx); err != nil {
			return p.expired(ctx, probeCtx)
		}
		visible, err := surface.Visible(probeCtx, p.Selector)
		if err != nil {
			if probeCtx.Err() != nil {
				return p.expired(ctx, probeCtx)
			}
			if errors.Is(err, context.Canceled) {
				// Our context is live, so the page itself went away.
				err = fmt.Errorf("%w: %v", browser.ErrTargetClosed, err)
			}
			return failure.Infrastructure("probe "+p.String(), err)
		}
		if visible {
			return nil
		}
	}
}

// expired decides whether the probe ran out of its own budget or was stopped from
// outside. limiter.Wait gives up as soon as the next poll would overrun the
// deadline, so it first lets the deadline actually pass.
func (p Probe) expired(parent, probeCtx context.Context) error {
	<-probeCtx.Done()
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(probeCtx.Err(), context.Canceled) {
		return probeCtx.Err()
	}
	return failure.New(failure.KindNotReady, "probe "+p.String(),
		fmt.Errorf("%s not visible within %s", p.Selector, p.Timeout))
}

// Await waits for a single probe. It is AwaitReady with one probe and a plain
// error result.
func (d *Detector) Await(ctx context.Context, surface Surface, p Probe) error {
	return p.await(ctx, surface, d.interval)
}
