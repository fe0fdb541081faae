// Package messenger drives the conversation UI of the messaging web client:
// finding a conversation by its display name and sending text into it.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/artifacts"
	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/failure"
	"github.com/xkilldash9x/courier-cli/internal/readiness"
)

// Page is the page surface the messenger needs. *browser.Page satisfies it.
type Page interface {
	readiness.Surface
	artifacts.Screenshotter
	Click(ctx context.Context, sel browser.Selector) error
	Fill(ctx context.Context, sel browser.Selector, text string) error
	PressEnter(ctx context.Context) error
}

var _ Page = (*browser.Page)(nil)

// Options holds the wait budgets and the delivery policy.
type Options struct {
	// Element bounds waits for the search box, search results and compose box.
	Element time.Duration
	// Settle is the pause after typing a query. The client renders results
	// asynchronously with no completion signal.
	Settle time.Duration
	// ClickSettle is the pause after clicking into the search box or a result.
	ClickSettle time.Duration
	// Delivery bounds the wait for a sent message to appear in the log.
	Delivery time.Duration
	// ConfirmStrict makes Send wait for the message to be rendered.
	ConfirmStrict bool
}

// OptionsFromConfig collects messenger options from the application config.
func OptionsFromConfig(cfg config.Interface) Options {
	t := cfg.Timeouts()
	return Options{
		Element:       t.Element,
		Settle:        t.Settle,
		ClickSettle:   t.ClickSettle,
		Delivery:      t.Delivery,
		ConfirmStrict: cfg.Delivery().ConfirmStrict,
	}
}

// Messenger holds no page state; every operation takes the page it acts on.
type Messenger struct {
	opts     Options
	detector *readiness.Detector
	recorder *artifacts.Recorder
	logger   *zap.Logger
	pause    func(ctx context.Context, d time.Duration) error
}

// New creates a Messenger. recorder may be nil, in which case no screenshots are
// taken on failure.
func New(opts Options, detector *readiness.Detector, recorder *artifacts.Recorder, logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		opts:     opts,
		detector: detector,
		recorder: recorder,
		logger:   logger.Named("messenger"),
		pause:    pause,
	}
}

func pause(ctx context.Context, d time.Duration) error {
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

// capture attaches a screenshot to err when err is a classified failure.
func (m *Messenger) capture(ctx context.Context, page Page, op string, err error) error {
	if m.recorder == nil || ctx.Err() != nil {
		return err
	}
	path, captureErr := m.recorder.Capture(ctx, page, op)
	if captureErr != nil {
		m.logger.Warn("Failed to capture diagnostic screenshot.", zap.String("op", op), zap.Error(captureErr))
		return err
	}
	return failure.WithArtifact(err, path)
}

// Conversation is a located conversation. It is only valid for the lifetime of
// the page it was found on and is never persisted.
type Conversation struct {
	Name     string
	selector browser.Selector
	page     Page
	m        *Messenger
	opened   bool
}

const opLocate = "locate-conversation"

// Locate searches for the conversation whose title is exactly name. When several
// results match, the first rendered one is used.
func (m *Messenger) Locate(ctx context.Context, page Page, name string) (*Conversation, error) {
	if name == "" {
		return nil, errors.New("conversation name is empty")
	}
	logger := m.logger.With(zap.String("conversation", name))

	search := readiness.Probe{Name: "search-box", Selector: searchBoxSelector, Timeout: m.opts.Element}
	if err := m.detector.Await(ctx, page, search); err != nil {
		if failure.Retryable(err) {
			err = &failure.Error{Kind: failure.KindNotReady, Op: opLocate, Conversation: name, Err: err}
			return nil, m.capture(ctx, page, opLocate, err)
		}
		return nil, err
	}

	if err := page.Click(ctx, searchBoxSelector); err != nil {
		return nil, failure.Infrastructure(opLocate, err)
	}
	if err := m.pause(ctx, m.opts.ClickSettle); err != nil {
		return nil, err
	}
	if err := page.Fill(ctx, searchBoxSelector, name); err != nil {
		return nil, failure.Infrastructure(opLocate, err)
	}
	logger.Debug("Search query entered, waiting for results to settle.", zap.Duration("settle", m.opts.Settle))
	if err := m.pause(ctx, m.opts.Settle); err != nil {
		return nil, err
	}

	result := resultTitle(name)
	probe := readiness.Probe{Name: "search-result", Selector: result, Timeout: m.opts.Element}
	if err := m.detector.Await(ctx, page, probe); err != nil {
		if !failure.Retryable(err) {
			return nil, err
		}
		notFound := &failure.Error{Kind: failure.KindConversationNotFound, Op: opLocate, Conversation: name, Err: err}
		logger.Warn("Conversation not found.", zap.Duration("waited", m.opts.Element))
		return nil, m.capture(ctx, page, opLocate, notFound)
	}

	logger.Info("Conversation located.")
	return &Conversation{Name: name, selector: result, page: page, m: m}, nil
}

// Open clicks the located conversation and waits for it to settle.
func (c *Conversation) Open(ctx context.Context) error {
	if err := c.page.Click(ctx, c.selector); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			// The result list re-rendered between Locate and Open.
			return &failure.Error{Kind: failure.KindConversationNotFound, Op: "open-conversation", Conversation: c.Name, Err: err}
		}
		return failure.Infrastructure("open-conversation", err)
	}
	if err := c.m.pause(ctx, c.m.opts.ClickSettle); err != nil {
		return err
	}
	c.opened = true
	c.m.logger.Debug("Conversation opened.", zap.String("conversation", c.Name))
	return nil
}

// OutboundMessage is a message about to be sent.
type OutboundMessage struct {
	Text       string
	ComposedAt time.Time
}

const defaultMessagePrefix = "Pesan test otomatis - "

// NewMessage composes a message. Empty text is replaced by a timestamped default.
func NewMessage(text string, now time.Time) OutboundMessage {
	if text == "" {
		text = defaultMessagePrefix + now.Format("2006-01-02 15:04:05")
	}
	return OutboundMessage{Text: text, ComposedAt: now}
}

// Delivery is the result of Send.
type Delivery struct {
	Message   OutboundMessage
	SentAt    time.Time
	Confirmed bool
}

const (
	opCompose = "compose-message"
	opConfirm = "confirm-delivery"
)

// Send types msg into the open conversation and submits it with Enter. In strict
// mode it then waits for the exact text to be rendered in the conversation log.
func (m *Messenger) Send(ctx context.Context, page Page, conv *Conversation, msg OutboundMessage) (Delivery, error) {
	if msg.Text == "" {
		return Delivery{}, errors.New("message text is empty")
	}
	name := ""
	if conv != nil {
		name = conv.Name
		if !conv.opened {
			if err := conv.Open(ctx); err != nil {
				return Delivery{}, err
			}
		}
	}
	logger := m.logger.With(zap.String("conversation", name))

	compose := readiness.Probe{Name: "compose-box", Selector: composeBoxSelector, Timeout: m.opts.Element}
	if err := m.detector.Await(ctx, page, compose); err != nil {
		if failure.Retryable(err) {
			err = &failure.Error{Kind: failure.KindNotReady, Op: opCompose, Conversation: name, Err: err}
			return Delivery{}, m.capture(ctx, page, opCompose, err)
		}
		return Delivery{}, err
	}
	if err := page.Fill(ctx, composeBoxSelector, msg.Text); err != nil {
		return Delivery{}, failure.Infrastructure(opCompose, err)
	}
	if err := page.PressEnter(ctx); err != nil {
		return Delivery{}, failure.Infrastructure(opCompose, err)
	}
	delivery := Delivery{Message: msg, SentAt: time.Now()}
	logger.Info("Message submitted.", zap.Int("length", len(msg.Text)))

	if !m.opts.ConfirmStrict {
		return delivery, nil
	}

	confirm := readiness.Probe{Name: "sent-message", Selector: sentText(msg.Text), Timeout: m.opts.Delivery}
	if err := m.detector.Await(ctx, page, confirm); err != nil {
		if !failure.Retryable(err) {
			return delivery, err
		}
		failed := &failure.Error{
			Kind:         failure.KindDeliveryFailed,
			Op:           opConfirm,
			Conversation: name,
			Err:          fmt.Errorf("message %q not rendered within %s", msg.Text, m.opts.Delivery),
		}
		logger.Warn("Message was not observed in the conversation.", zap.Duration("waited", m.opts.Delivery))
		return delivery, m.capture(ctx, page, opConfirm, failed)
	}
	delivery.Confirmed = true
	logger.Info("Delivery confirmed.")
	return delivery, nil
}
