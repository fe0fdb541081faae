// File: cmd/session.go
package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/courier-cli/internal/observability"
	"github.com/xkilldash9x/courier-cli/internal/workflow"
)

func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Inspects and maintains saved sessions",
	}
	sessionCmd.AddCommand(newSessionPruneCmd(), newSessionStatusCmd())
	return sessionCmd
}

func newSessionPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Removes the saved session if it is stale or unreadable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			// Maintenance never opens a page, so no browser is needed.
			r := workflow.NewRunner(cfg, nil, observability.GetLogger(), workflow.Dependencies{})
			removed, err := r.Maintain()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if removed {
				_, err = fmt.Fprintf(out, "Removed session for %q; the next run will log in again.\n", cfg.Session().Identity)
			} else {
				_, err = fmt.Fprintf(out, "Session for %q kept.\n", cfg.Session().Identity)
			}
			return err
		},
	}
}

func newSessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Shows where the saved session lives and how old it is",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			r := workflow.NewRunner(cfg, nil, observability.GetLogger(), workflow.Dependencies{})
			st := r.Store().Inspect(cfg.Session().Identity)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "identity\t%s\n", st.Identity)
			fmt.Fprintf(w, "path\t%s\n", st.Path)
			if !st.Exists {
				fmt.Fprintf(w, "state\tmissing\n")
				return w.Flush()
			}
			state := "fresh"
			switch {
			case st.Err != nil:
				state = "unreadable: " + st.Err.Error()
			case st.Stale:
				state = "stale"
			}
			fmt.Fprintf(w, "state\t%s\n", state)
			fmt.Fprintf(w, "age\t%s (max %s)\n", st.Age.Round(time.Second), r.Store().MaxAge())
			if st.Record != nil {
				fmt.Fprintf(w, "created\t%s\n", st.Record.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(w, "cookies\t%d\n", len(st.Record.State.Cookies))
			}
			return w.Flush()
		},
	}
}
