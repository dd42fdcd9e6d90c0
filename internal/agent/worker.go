package agent

import (
	"context"
	"sync/atomic"
	"time"
)

// WorkerConfig describes an in-process agent.
type WorkerConfig struct {
	ID               string
	Responsibilities []string
	// Examples is the size of the agent's own training set.
	Examples int64
	// InsightsPerCycle is how many insights one Train call yields. Zero means
	// one.
	InsightsPerCycle int
	InsightType      string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Worker is a configurable agent built on Base. The training computation is
// a stand-in: each round summarises the parameters it was given and the
// size of the inbox.
type Worker struct {
	*Base
	cfg    WorkerConfig
	rounds atomic.Int64
}

// NewWorker creates a Worker from cfg.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.InsightsPerCycle <= 0 {
		cfg.InsightsPerCycle = 1
	}
	if cfg.InsightType == "" {
		cfg.InsightType = "training_insights"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{
		Base: NewBase(cfg.ID, cfg.Responsibilities...),
		cfg:  cfg,
	}
}

// Train produces InsightsPerCycle insights.
func (w *Worker) Train(ctx context.Context, p TrainingParams) (TrainingResult, error) {
	if err := ctx.Err(); err != nil {
		return TrainingResult{}, err
	}
	round := w.rounds.Add(1)
	now := w.cfg.Now()
	external := w.InboxLen()

	insights := make([]Insight, 0, w.cfg.InsightsPerCycle)
	for i := 0; i < w.cfg.InsightsPerCycle; i++ {
		insights = append(insights, Insight{
			SourceAgent: w.ID(),
			InsightType: w.cfg.InsightType,
			Payload: map[string]any{
				"round":             round,
				"index":             i,
				"target":            p.Target,
				"focus":             p.Focus,
				"external_insights": external,
			},
			CreatedAt: now,
		})
	}
	return TrainingResult{Insights: insights}, nil
}

// TrainingDataAvailability counts the worker's own examples plus every
// insight received from other agents.
func (w *Worker) TrainingDataAvailability(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return w.cfg.Examples + int64(w.InboxLen()), nil
}

// Rounds returns how many times Train ran.
func (w *Worker) Rounds() int64 {
	return w.rounds.Load()
}
