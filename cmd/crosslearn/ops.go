package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var sweepLimit int

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Run the bootstrap sequence now (operator trigger)",
	RunE: withApp(func(ctx context.Context, a *app) error {
		out, err := a.boot.Force(ctx)
		if err != nil {
			return err
		}
		st, err := a.boot.State(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"outcome": out, "state": st})
	}),
}

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one cross-learning cycle under the stored policy",
	RunE: withApp(func(ctx context.Context, a *app) error {
		if err := a.requireExecuted(ctx); err != nil {
			return err
		}
		p, err := a.coord.LoadPolicy(ctx)
		if err != nil {
			return err
		}
		res, err := a.coord.RunCycle(ctx, p)
		if res != nil {
			if perr := printJSON(res); perr != nil {
				return perr
			}
		}
		return err
	}),
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Re-drive unprocessed queue entries",
	RunE: withApp(func(ctx context.Context, a *app) error {
		if err := a.requireExecuted(ctx); err != nil {
			return err
		}
		res, err := a.coord.Sweep(ctx, sweepLimit)
		if res != nil {
			if perr := printJSON(res); perr != nil {
				return perr
			}
		}
		return err
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bootstrap state and pool status",
	RunE: withApp(func(ctx context.Context, a *app) error {
		st, err := a.boot.State(ctx)
		if err != nil {
			return err
		}
		out := map[string]any{"state": st}
		if err := a.requireExecuted(ctx); err == nil {
			pool, err := a.coord.Status(ctx)
			if err != nil {
				return err
			}
			out["pool"] = pool
		}
		return printJSON(out)
	}),
}

func init() {
	sweepCmd.Flags().IntVar(&sweepLimit, "limit", 0, "entries to re-drive (default coordinator.sweep_batch)")
}

// withApp builds the composition root for a one-shot command and tears it
// down afterwards.
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		runErr := fn(ctx, a)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil && runErr == nil {
			return fmt.Errorf("close: %w", err)
		}
		return runErr
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
