package readiness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/courier-cli/internal/failure"
)

// Outcome is the result of a readiness race: either Ready with the probe that
// matched, or timed out. There is no partial state.
type Outcome struct {
	Ready   bool
	Matched Probe
	Elapsed time.Duration
}

// TimedOut reports whether every probe ran out of budget.
func (o Outcome) TimedOut() bool { return !o.Ready }

// Err converts a timed out outcome into a NotReady failure for op, and a ready
// outcome into nil.
func (o Outcome) Err(op string, probes ...Probe) error {
	if o.Ready {
		return nil
	}
	names := make([]string, 0, len(probes))
	for _, p := range probes {
		names = append(names, p.String())
	}
	return failure.New(failure.KindNotReady, op,
		fmt.Errorf("none of [%s] became visible", strings.Join(names, ", ")))
}

// Detector races probes against a surface.
type Detector struct {
	interval time.Duration
	logger   *zap.Logger
}

// NewDetector creates a Detector that re-checks each probe every interval.
func NewDetector(interval time.Duration, logger *zap.Logger) *Detector {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{interval: interval, logger: logger.Named("readiness")}
}

// AwaitReady runs AwaitReady on a detector with the default poll interval.
func AwaitReady(ctx context.Context, surface Surface, probes ...Probe) (Outcome, error) {
	return NewDetector(DefaultPollInterval, nil).AwaitReady(ctx, surface, probes...)
}

// AwaitReady runs every probe concurrently. The first probe to see its element
// wins and the rest are canceled; all of them have returned by the time
// AwaitReady does. If every probe exhausts its budget the outcome is timed out
// with a nil error. An infrastructure error from any probe aborts the race.
func (d *Detector) AwaitReady(ctx context.Context, surface Surface, probes ...Probe) (Outcome, error) {
	if len(probes) == 0 {
		return Outcome{}, errors.New("readiness: no probes given")
	}

	start := time.Now()
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(raceCtx)
	won := make(chan Probe, 1)

	for _, p := range probes {
		g.Go(func() error {
			err := p.await(gctx, surface, d.interval)
			switch {
			case err == nil:
				select {
				case won <- p:
					cancel()
				default:
				}
				return nil
			case failure.Retryable(err):
				d.logger.Debug("Probe timed out.", zap.Stringer("probe", p), zap.Duration("timeout", p.Timeout))
				return nil
			case raceCtx.Err() != nil:
				// Lost the race, or the caller gave up.
				return nil
			default:
				return err
			}
		})
	}

	err := g.Wait()
	elapsed := time.Since(start)

	select {
	case p := <-won:
		d.logger.Debug("Readiness probe matched.", zap.Stringer("probe", p), zap.Duration("elapsed", elapsed))
		return Outcome{Ready: true, Matched: p, Elapsed: elapsed}, nil
	default:
	}
	if err != nil {
		return Outcome{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{}, ctxErr
	}
	d.logger.Debug("No readiness probe matched.", zap.Int("probes", len(probes)), zap.Duration("elapsed", elapsed))
	return Outcome{Elapsed: elapsed}, nil
}
