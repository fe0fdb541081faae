// Package workflow ties the session store, readiness checks, retry policy and
// messenger into the two end-to-end operations: logging in and sending a message.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/artifacts"
	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/failure"
	"github.com/xkilldash9x/courier-cli/internal/messenger"
	"github.com/xkilldash9x/courier-cli/internal/readiness"
	"github.com/xkilldash9x/courier-cli/internal/retry"
	"github.com/xkilldash9x/courier-cli/internal/sessionstore"
)

// PageSession is one isolated, navigable page.
type PageSession interface {
	messenger.Page
	Navigate(ctx context.Context, url string) error
	CaptureStorage(ctx context.Context) (*browser.StorageState, error)
	Close()
}

// PageOpener opens a page with state restored into it. A nil state opens an
// unauthenticated page.
type PageOpener interface {
	OpenPage(ctx context.Context, state *browser.StorageState) (PageSession, error)
}

// BrowserOpener opens pages on a launched browser.
type BrowserOpener struct {
	Browser *browser.Browser
}

func (o BrowserOpener) OpenPage(ctx context.Context, state *browser.StorageState) (PageSession, error) {
	p, err := o.Browser.NewPage(ctx, state)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Runner executes workflows. It is also the store's Bootstrapper.
type Runner struct {
	cfg       config.Interface
	opener    PageOpener
	store     *sessionstore.Store
	detector  *readiness.Detector
	recorder  *artifacts.Recorder
	messenger *messenger.Messenger
	logger    *zap.Logger
	pause     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

var _ sessionstore.Bootstrapper = (*Runner)(nil)

// Dependencies lets callers and tests replace the filesystem-backed parts.
type Dependencies struct {
	Store    *sessionstore.Store
	Recorder *artifacts.Recorder
}

// NewRunner wires a Runner from configuration. When deps leaves a field nil it is
// built from cfg; a default store uses the runner itself as bootstrapper.
func NewRunner(cfg config.Interface, opener PageOpener, logger *zap.Logger, deps Dependencies) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:      cfg,
		opener:   opener,
		detector: readiness.NewDetector(cfg.Timeouts().PollInterval, logger),
		logger:   logger.Named("workflow"),
		pause:    sleep,
		now:      time.Now,
	}
	r.recorder = deps.Recorder
	if r.recorder == nil {
		r.recorder = artifacts.NewRecorder(cfg.Artifacts().Dir, logger)
	}
	r.store = deps.Store
	if r.store == nil {
		r.store = sessionstore.New(cfg.Session(), r, logger)
	}
	r.messenger = messenger.New(messenger.OptionsFromConfig(cfg), r.detector, r.recorder, logger)
	return r
}

// Store is the session store the runner uses.
func (r *Runner) Store() *sessionstore.Store { return r.store }

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) loginProbes(timeout time.Duration) []readiness.Probe {
	return messenger.LoginProbes(timeout, r.cfg.Target().ChatLabels...)
}

// Bootstrap performs the interactive login in a fresh page and returns the
// authenticated state. If the QR challenge is shown, the user has the bootstrap
// budget to scan it.
func (r *Runner) Bootstrap(ctx context.Context, identity string) (*browser.StorageState, error) {
	logger := r.logger.With(zap.String("identity", identity))
	timeouts := r.cfg.Timeouts()

	page, err := r.opener.OpenPage(ctx, nil)
	if err != nil {
		return nil, failure.Infrastructure("session-bootstrap", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, r.cfg.Target().URL); err != nil {
		return nil, failure.Infrastructure("navigate", err)
	}

	// Either the challenge or an already logged-in client shows up first.
	first := append([]readiness.Probe{messenger.ChallengeProbe(timeouts.SteadyState)}, r.loginProbes(timeouts.SteadyState)...)
	outcome, err := r.detector.AwaitReady(ctx, page, first...)
	if err != nil {
		return nil, err
	}
	switch {
	case outcome.Ready && outcome.Matched.Name == messenger.ChallengeProbe(0).Name:
		logger.Warn("Login required: scan the QR code in the browser window.",
			zap.Duration("timeout", timeouts.Bootstrap))
	case outcome.Ready:
		logger.Info("Client is already logged in.", zap.String("indicator", outcome.Matched.Name))
	default:
		logger.Info("Waiting for the client to finish loading.", zap.Duration("timeout", timeouts.Bootstrap))
	}

	probes := r.loginProbes(timeouts.Bootstrap)
	outcome, err = r.detector.AwaitReady(ctx, page, probes...)
	if err != nil {
		return nil, err
	}
	if err := outcome.Err("await-login", probes...); err != nil {
		return nil, r.withCapture(ctx, page, "session-bootstrap", err)
	}
	logger.Info("Logged in.", zap.String("indicator", outcome.Matched.Name), zap.Duration("elapsed", outcome.Elapsed))

	state, err := page.CaptureStorage(ctx)
	if err != nil {
		return nil, failure.Infrastructure("capture-storage", err)
	}
	return state, nil
}

func (r *Runner) withCapture(ctx context.Context, page PageSession, op string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	path, captureErr := r.recorder.Capture(ctx, page, op)
	if captureErr != nil {
		r.logger.Warn("Failed to capture diagnostic screenshot.", zap.String("op", op), zap.Error(captureErr))
		return err
	}
	return failure.WithArtifact(err, path)
}

// Login makes sure a usable session exists for the configured identity. With
// force set, any existing record is discarded first.
func (r *Runner) Login(ctx context.Context, force bool) (string, error) {
	identity := r.cfg.Session().Identity
	if force {
		if err := r.store.Remove(identity); err != nil {
			return "", err
		}
	} else if _, err := r.Maintain(); err != nil {
		r.logger.Warn("Session maintenance failed.", zap.Error(err))
	}
	return r.store.LoadOrCreate(ctx, identity)
}

// Maintain prepares the output directory and discards the configured identity's
// record if it is stale or unreadable. It reports whether a record was removed.
func (r *Runner) Maintain() (bool, error) {
	if err := r.recorder.EnsureDir(); err != nil {
		return false, err
	}
	return r.store.Prune(r.cfg.Session().Identity)
}

// SendRequest names the conversation and the text. Empty Text sends a
// timestamped default message.
type SendRequest struct {
	Conversation string
	Text         string
}

// Result describes a completed send.
type Result struct {
	ExecutionID string
	SessionPath string
	Indicator   string
	Delivery    messenger.Delivery
}

// Send runs the full flow: session maintenance, load or bootstrap the session,
// open the client, verify login with retries, locate the conversation and send.
func (r *Runner) Send(ctx context.Context, req SendRequest) (Result, error) {
	res := Result{ExecutionID: uuid.NewString()}
	logger := r.logger.With(zap.String("execution_id", res.ExecutionID), zap.String("conversation", req.Conversation))
	if req.Conversation == "" {
		return res, errors.New("conversation name is required")
	}
	identity := r.cfg.Session().Identity

	if removed, err := r.Maintain(); err != nil {
		logger.Warn("Session maintenance failed.", zap.Error(err))
	} else if removed {
		logger.Info("Stale session discarded; a new login is required.")
	}

	path, err := r.store.LoadOrCreate(ctx, identity)
	if err != nil {
		return res, err
	}
	res.SessionPath = path
	rec, err := r.store.Load(path)
	if err != nil {
		return res, failure.Infrastructure("session-load", err)
	}

	page, err := r.opener.OpenPage(ctx, rec.State)
	if err != nil {
		return res, failure.Infrastructure("open-page", err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, r.cfg.Target().URL); err != nil {
		return res, failure.Infrastructure("navigate", err)
	}
	if err := r.pause(ctx, r.cfg.Timeouts().PostNavigationSettle); err != nil {
		return res, err
	}

	indicator, err := r.verifyLogin(ctx, page)
	if err != nil {
		return res, err
	}
	res.Indicator = indicator

	conv, err := r.messenger.Locate(ctx, page, req.Conversation)
	if err != nil {
		return res, err
	}
	if err := conv.Open(ctx); err != nil {
		return res, err
	}

	msg := messenger.NewMessage(req.Text, r.now())
	res.Delivery, err = r.messenger.Send(ctx, page, conv, msg)
	if err != nil {
		return res, err
	}
	logger.Info("Message sent.", zap.Bool("confirmed", res.Delivery.Confirmed))
	return res, nil
}

// verifyLogin checks that the restored session is still logged in. A single
// attempt gets the steady-state budget; a retried check uses the shorter
// per-attempt budget for every attempt.
func (r *Runner) verifyLogin(ctx context.Context, page PageSession) (string, error) {
	rc := r.cfg.Retry()
	policy := retry.Policy{MaxAttempts: rc.MaxAttempts, Delay: rc.Delay}
	budget := r.cfg.Timeouts().Attempt
	if policy.MaxAttempts == 1 {
		budget = r.cfg.Timeouts().SteadyState
	}
	probes := r.loginProbes(budget)

	return retry.Do(ctx, "login-check", policy,
		func(ctx context.Context, attempt int) (string, error) {
			outcome, err := r.detector.AwaitReady(ctx, page, probes...)
			if err != nil {
				return "", err
			}
			if err := outcome.Err("login-check", probes...); err != nil {
				return "", err
			}
			return outcome.Matched.Name, nil
		},
		retry.WithCapturer(r.recorder.For(page)),
		retry.WithLogger(r.logger),
		retry.WithSleeper(r.pause),
	)
}

// String summarizes a result for the CLI.
func (res Result) String() string {
	state := "submitted"
	if res.Delivery.Confirmed {
		state = "confirmed"
	}
	return fmt.Sprintf("message %s (execution %s)", state, res.ExecutionID)
}
