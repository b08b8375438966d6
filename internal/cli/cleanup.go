package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcoot/basequiz/internal/api"
)

func newCleanupCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Peer-side cleanup service commands",
	}

	cmd.AddCommand(newCleanupRunCmd(e))
	cmd.AddCommand(newCleanupServeCmd(e))

	return cmd
}

func newCleanupRunCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one cleanup cycle now",
		Long: `Run one cleanup cycle: take the cleanup lock, expire guests disconnected
for longer than --guest-ttl, purge them from every room, delete abandoned
rooms and release the lock.

The outcome is not_acquired while another peer holds the lock. The store only
accepts authenticated writes, so a signed-in user is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := e.identity(); err != nil {
				return err
			}
			outcome := e.app.Cleanup.RunCycle(cmd.Context())
			e.outputTo(cmd.OutOrStdout()).Print(Cycle{Outcome: string(outcome)})
			return nil
		},
	}
}

func newCleanupServeCmd(e *env) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cleanup service and diagnostics endpoint until interrupted",
		Long: `Run cleanup every --cleanup-interval, starting now, and serve health,
Prometheus metrics and cleanup status on --listen.

Cleanup acts as the signed-in user, who is kept online while serving.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if _, err := e.identity(); err != nil {
				return err
			}
			stopTracking := e.app.Presence.Track()
			defer stopTracking()

			router := api.NewRouter(api.RouterConfig{
				Logger:   e.logger,
				Presence: e.app.Presence,
				Cleanup:  e.app.Cleanup,
				Lock:     e.app.Lock,
				Gatherer: e.registry,
			})
			serverConfig := api.DefaultServerConfig()
			serverConfig.Addr = listen
			server := api.NewServer(router, serverConfig, e.logger)
			if err := server.Listen(); err != nil {
				return err
			}

			e.app.StartCleanupService()
			defer e.app.StopCleanupService()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Serve()
			}()
			e.outputTo(cmd.OutOrStdout()).PrintMessage(fmt.Sprintf("Diagnostics listening on %s", server.Addr()))

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			return server.Shutdown(context.Background())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", api.DefaultServerConfig().Addr, "Diagnostics listen address")

	return cmd
}
