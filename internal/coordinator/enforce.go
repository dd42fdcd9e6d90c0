package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// EnforceResult lists the agents the enforcer acted on.
type EnforceResult struct {
	Reenabled []string `json:"reenabled,omitempty"`
	Paused    []string `json:"paused,omitempty"`
	Stalled   []string `json:"stalled,omitempty"`
}

// Enforce checks every agent's participation. An agent with cross-learning
// disabled is re-enabled in strict mode and marked paused otherwise. An
// enabled agent whose last training is older than the stall threshold is
// reported with an enforcer_action log. Agents without a performance row
// are never marked.
func (c *Coordinator) Enforce(ctx context.Context, p Policy) (*EnforceResult, error) {
	now := c.now()
	res := &EnforceResult{}
	log := c.logger.With(zap.String("op", "enforce"))
	var errs []error

	entries := c.registry.All()
	c.refresh(ctx, log, entries)
	for _, e := range entries {
		if cl, ok := e.Agent.(agent.CrossLearner); ok && !cl.CrossLearningEnabled() {
			if p.StrictMode {
				cl.SetCrossLearning(true)
				res.Reenabled = append(res.Reenabled, e.ID)
				log.Info("cross-learning re-enabled", zap.String("agent", e.ID))
				if err := c.systemLog(ctx, LogEnforcerAction,
					fmt.Sprintf("agent %s cross-learning re-enabled by enforcer", e.ID)); err != nil {
					errs = append(errs, err)
				}
				errs = appendStatusErr(errs, c.store.SetLearningStatus(ctx, e.ID, storage.StatusActive, now.Unix()))
			} else {
				res.Paused = append(res.Paused, e.ID)
				errs = appendStatusErr(errs, c.store.SetLearningStatus(ctx, e.ID, storage.StatusPaused, now.Unix()))
			}
			continue
		}

		perf, err := c.store.GetAgentPerformance(ctx, e.ID)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if perf.LastTraining == nil {
			continue
		}
		idle := now.Sub(time.Unix(*perf.LastTraining, 0))
		if idle > c.stallThreshold {
			res.Stalled = append(res.Stalled, e.ID)
			log.Warn("agent stalled", zap.String("agent", e.ID), zap.Duration("idle", idle))
			if err := c.systemLog(ctx, LogEnforcerAction,
				fmt.Sprintf("agent %s has not trained for %s", e.ID, idle.Truncate(time.Second))); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return res, fmt.Errorf("enforce: %w", err)
	}
	return res, nil
}

// refresh resynchronises agents whose state lives elsewhere. An agent that
// cannot be reached keeps its last known state.
func (c *Coordinator) refresh(ctx context.Context, log *zap.Logger, entries []agent.Entry) {
	for _, e := range entries {
		r, ok := e.Agent.(agent.Refresher)
		if !ok {
			continue
		}
		if err := callSafely(func() error { return r.Refresh(ctx) }); err != nil {
			log.Warn("agent refresh failed, using cached state", zap.String("agent", e.ID), zap.Error(err))
		}
	}
}

func appendStatusErr(errs []error, err error) []error {
	if err == nil || storage.IsNotFound(err) {
		return errs
	}
	return append(errs, err)
}
