package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

func newHealthCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that this peer reaches the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := Health{Status: "ok", Connected: e.app.Presence.Ready(), Storage: e.cfg.Storage}
			if !result.Connected {
				result.Status = "offline"
			}
			e.outputTo(cmd.OutOrStdout()).Print(result)
			if !result.Connected {
				return errors.New("store unreachable")
			}
			return nil
		},
	}
}
