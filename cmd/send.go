// File: cmd/send.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/browser"
	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/observability"
	"github.com/xkilldash9x/courier-cli/internal/workflow"
)

// launchBrowser starts the browser for one command. It is a variable so tests
// can substitute a fake.
var launchBrowser = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (workflow.PageOpener, func() error, error) {
	b, err := browser.Launch(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return workflow.BrowserOpener{Browser: b}, b.Close, nil
}

// withRunner launches the browser, builds a runner and closes the browser when
// fn returns.
func withRunner(ctx context.Context, cfg config.Interface, fn func(*workflow.Runner) error) (err error) {
	logger := observability.GetLogger()
	opener, closeBrowser, err := launchBrowser(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Invoke(closeBrowser))

	return fn(workflow.NewRunner(cfg, opener, logger, workflow.Dependencies{}))
}

// showWindowForLogin turns off headless mode when the run will have to log in
// first, since a QR code in a headless browser cannot be scanned. Stale records
// are pruned before the check so that they count as missing.
func showWindowForLogin(cfg config.Interface) error {
	if !cfg.Browser().Headless {
		return nil
	}
	logger := observability.GetLogger()
	r := workflow.NewRunner(cfg, nil, logger, workflow.Dependencies{})
	if _, err := r.Maintain(); err != nil {
		return err
	}
	identity := cfg.Session().Identity
	if r.Store().Inspect(identity).Exists {
		return nil
	}
	logger.Warn("No saved session, opening a browser window for the QR login.",
		zap.String("identity", identity))
	cfg.SetBrowserHeadless(false)
	return nil
}

func newSendCmd() *cobra.Command {
	var (
		to        string
		message   string
		once      bool
		noConfirm bool
	)

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Sends a message to a conversation, logging in first if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if once {
				cfg.SetRetryMaxAttempts(1)
			}
			if noConfirm {
				cfg.SetDeliveryConfirmStrict(false)
			}
			if err := showWindowForLogin(cfg); err != nil {
				return err
			}

			var res workflow.Result
			err = withRunner(ctx, cfg, func(r *workflow.Runner) error {
				var sendErr error
				res, sendErr = r.Send(ctx, workflow.SendRequest{Conversation: to, Text: message})
				return sendErr
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Sent to %q: %s\n", to, res)
			return err
		},
	}

	sendCmd.Flags().StringVarP(&to, "to", "t", "", "display name of the target conversation (exact match)")
	sendCmd.Flags().StringVarP(&message, "message", "m", "", "message text (default is a timestamped test message)")
	sendCmd.Flags().BoolVar(&once, "once", false, "check the login a single time with the steady-state budget instead of retrying")
	sendCmd.Flags().BoolVar(&noConfirm, "no-confirm", false, "treat submission as success without waiting for the message to render")
	sendCmd.Flags().Bool("headless", false, "run the browser without a window (overrides browser.headless)")
	sendCmd.Flags().Int("max-attempts", 0, "login check attempts (overrides retry.max_attempts)")
	bindFlag(sendCmd.Flags(), "headless", "browser.headless")
	bindFlag(sendCmd.Flags(), "max-attempts", "retry.max_attempts")
	_ = sendCmd.MarkFlagRequired("to")

	return sendCmd
}
