package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func tickCmd() *cobra.Command {
	var drain bool
	var maxTicks int

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Process one batch of queued work",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, _, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if drain {
				res, err := a.Runner.Drain(ctx, maxTicks)
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			res, err := a.Runner.Tick(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().BoolVar(&drain, "drain", false, "keep ticking until the queue has nothing visible")
	cmd.Flags().IntVar(&maxTicks, "max-ticks", 100, "upper bound on ticks with --drain")
	return cmd
}

func syncCmd() *cobra.Command {
	var now bool

	cmd := &cobra.Command{
		Use:   "sync [setting-id]",
		Short: "Enqueue sync runs for one setting or every published one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, log, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				n, err := a.Pipeline.EnqueuePublished(ctx)
				if err != nil {
					return err
				}
				log.Info().Int("settings", n).Msg("Sync runs enqueued")
				return nil
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid setting id %q", args[0])
			}
			if now {
				res, err := a.Pipeline.SyncNow(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(res)
			}
			if err := a.Pipeline.EnqueueSync(ctx, id); err != nil {
				return err
			}
			log.Info().Int64("setting_id", id).Msg("Sync run enqueued")
			return nil
		},
	}
	cmd.Flags().BoolVar(&now, "now", false, "ingest inline instead of queueing a sync run")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
