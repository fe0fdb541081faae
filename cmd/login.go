// File: cmd/login.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/courier-cli/internal/workflow"
)

func newLoginCmd() *cobra.Command {
	var force bool

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Logs in interactively and saves the session for later runs",
		Long: `Opens the messaging client in a visible browser window. If no saved session
exists, scan the QR code shown in the window within the bootstrap timeout.
An existing, fresh session is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			// The QR challenge has to be visible to be scanned.
			cfg.SetBrowserHeadless(false)

			var path string
			err = withRunner(ctx, cfg, func(r *workflow.Runner) error {
				var loginErr error
				path, loginErr = r.Login(ctx, force)
				return loginErr
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Session saved: %s\n", path)
			return err
		},
	}

	loginCmd.Flags().BoolVarP(&force, "force", "f", false, "discard any saved session and log in again")
	return loginCmd
}
