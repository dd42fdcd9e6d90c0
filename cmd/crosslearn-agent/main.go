// Command crosslearn-agent serves one in-process agent over the HTTP API the
// coordinator's remote adapter speaks. Every call must be signed by the
// coordinator key given with --coordinator-key.
//
// Usage:
//
//	crosslearn-agent --id cloe --coordinator-key <hex> [--addr :9090]
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/logging"
)

var opts struct {
	id               string
	addr             string
	coordinatorKey   string
	responsibilities []string
	examples         int64
	insights         int
	logLevel         string
	logFormat        string
}

var rootCmd = &cobra.Command{
	Use:           "crosslearn-agent",
	Short:         "Serve a cross-learning agent to a remote coordinator",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&opts.id, "id", "", "agent id (must match the coordinator's pool)")
	f.StringVar(&opts.addr, "addr", ":9090", "listen address")
	f.StringVar(&opts.coordinatorKey, "coordinator-key", os.Getenv("CROSSLEARN_COORDINATOR_KEY"), "hex Ed25519 public key of the coordinator")
	f.StringSliceVar(&opts.responsibilities, "responsibility", nil, "responsibility (repeatable)")
	f.Int64Var(&opts.examples, "examples", 0, "size of the agent's own training set")
	f.IntVar(&opts.insights, "insights", 1, "insights produced per training round")
	f.StringVar(&opts.logLevel, "log-level", "info", "log level")
	f.StringVar(&opts.logFormat, "log-format", "json", "log format (json or console)")
	rootCmd.MarkFlagRequired("id")
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := logging.New(opts.logLevel, opts.logFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	if opts.coordinatorKey == "" {
		return errors.New("--coordinator-key is required")
	}
	pub, err := agent.ParsePublicKey(opts.coordinatorKey)
	if err != nil {
		return err
	}

	w := agent.NewWorker(agent.WorkerConfig{
		ID:               opts.id,
		Responsibilities: opts.responsibilities,
		Examples:         opts.examples,
		InsightsPerCycle: opts.insights,
	})
	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           agent.NewHandler(w, pub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("agent listening",
			zap.String("agent", opts.id),
			zap.String("addr", opts.addr),
			zap.String("coordinator_key_id", agent.KeyID(pub)),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("agent stopped", zap.Int64("rounds", w.Rounds()), zap.Int("inbox", w.InboxLen()))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
