// File: cmd/exit.go
package cmd

import (
	"context"
	"errors"

	"github.com/xkilldash9x/courier-cli/internal/failure"
)

// Process exit codes. Each terminal failure kind has its own code.
const (
	ExitOK                     = 0
	ExitError                  = 1
	ExitNotReady               = 2
	ExitConversationNotFound   = 3
	ExitDeliveryFailed         = 4
	ExitSessionBootstrapFailed = 5
	ExitInterrupted            = 130
)

// ExitCode maps the error returned by Execute to a process exit code. A
// classified failure keeps its own code; only an unclassified cancellation is an
// interrupt.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if interrupted(err) {
		return ExitInterrupted
	}
	switch failure.KindOf(err) {
	case failure.KindNotReady:
		return ExitNotReady
	case failure.KindConversationNotFound:
		return ExitConversationNotFound
	case failure.KindDeliveryFailed:
		return ExitDeliveryFailed
	case failure.KindSessionBootstrapFailed:
		return ExitSessionBootstrapFailed
	default:
		return ExitError
	}
}

func interrupted(err error) bool {
	return failure.KindOf(err) == "" && errors.Is(err, context.Canceled)
}
