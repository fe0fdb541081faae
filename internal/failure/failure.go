// Package failure classifies what went wrong in a run so that callers can decide
// whether to retry, capture a screenshot or give up, and so that the process
// can exit with a code per kind.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for propagation decisions.
// Using a custom type ensures that only predefined constants can be used where a
// Kind is expected.
type Kind string

const (
	// KindInfrastructure covers navigation, network and browser crashes. Never retried.
	KindInfrastructure Kind = "INFRASTRUCTURE_ERROR"
	// KindNotReady is the expected, transient "UI not ready yet" condition.
	KindNotReady Kind = "NOT_READY_TIMEOUT"
	// KindConversationNotFound means the search produced no exactly matching title.
	KindConversationNotFound Kind = "CONVERSATION_NOT_FOUND"
	// KindDeliveryFailed means the sent text never showed up in the log (strict mode).
	KindDeliveryFailed Kind = "DELIVERY_FAILED"
	// KindSessionBootstrapFailed means the interactive login never completed.
	// It requires a human to re-run with a manual QR scan.
	KindSessionBootstrapFailed Kind = "SESSION_BOOTSTRAP_FAILED"
)

// Sentinel values for errors.Is matching against a Kind.
var (
	ErrInfrastructure         = &Error{Kind: KindInfrastructure}
	ErrNotReady               = &Error{Kind: KindNotReady}
	ErrConversationNotFound   = &Error{Kind: KindConversationNotFound}
	ErrDeliveryFailed         = &Error{Kind: KindDeliveryFailed}
	ErrSessionBootstrapFailed = &Error{Kind: KindSessionBootstrapFailed}
)

// Error is the structured failure surfaced by every component.
type Error struct {
	Kind Kind
	// Op names the failing operation, e.g. "login-check" or "locate-conversation".
	Op string
	// Conversation is set when the failure concerns a specific conversation.
	Conversation string
	// Attempts is set by the retry controller on exhaustion.
	Attempts int
	// Artifact is the path of the diagnostic capture, if one was written.
	Artifact string
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.describe())
	if e.Conversation != "" {
		fmt.Fprintf(&b, " (conversation %q)", e.Conversation)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Artifact != "" {
		fmt.Fprintf(&b, " [screenshot: %s]", e.Artifact)
	}
	return b.String()
}

func (e *Error) describe() string {
	switch e.Kind {
	case KindInfrastructure:
		return "infrastructure failure"
	case KindNotReady:
		return "page not ready"
	case KindConversationNotFound:
		return "conversation not found"
	case KindDeliveryFailed:
		return "message delivery could not be confirmed"
	case KindSessionBootstrapFailed:
		return "session bootstrap failed, scan the QR code and run login again"
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match when target is an *Error of the same Kind. This lets callers
// write errors.Is(err, failure.ErrNotReady).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a failure of the given kind.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Infrastructure wraps cause as an infrastructure failure. A classified *Error
// and a caller cancellation are returned unchanged.
func Infrastructure(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var fe *Error
	if errors.As(cause, &fe) || errors.Is(cause, context.Canceled) {
		return cause
	}
	return New(KindInfrastructure, op, cause)
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Retryable reports whether err is the transient not-ready condition.
func Retryable(err error) bool {
	return errors.Is(err, ErrNotReady)
}

// WithArtifact records the diagnostic path on the first *Error in err's chain.
func WithArtifact(err error, path string) error {
	var fe *Error
	if path != "" && errors.As(err, &fe) {
		fe.Artifact = path
	}
	return err
}
