package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var noScheduler bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, log, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing resources")
				}
			}()

			log.Info().Msg("Starting application...")
			if !noScheduler {
				a.Scheduler.Start(ctx)
			}

			server := a.Server()
			errc := make(chan error, 1)
			go func() {
				log.Info().Str("port", a.Config.Port).Msg("Starting server")
				errc <- server.Listen(":" + a.Config.Port)
			}()

			select {
			case err := <-errc:
				if err != nil {
					log.Error().Err(err).Msg("Server error")
				}
				a.Scheduler.Stop()
				return err
			case <-ctx.Done():
			}

			log.Info().Msg("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
			defer cancel()

			if err := server.ShutdownWithContext(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Server forced to shutdown")
			}
			a.Scheduler.Stop()

			log.Info().Msg("Server exited properly")
			return nil
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without periodic sync and ticks")
	return cmd
}
