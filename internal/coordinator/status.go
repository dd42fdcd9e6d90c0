package coordinator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// Tick is the body of the recurring cycle job: load the policy, run a
// cycle, sweep the queue, enforce participation and stamp last_agent_sync.
// A failing step does not stop the later ones.
func (c *Coordinator) Tick(ctx context.Context) error {
	p, err := c.LoadPolicy(ctx)
	if err != nil {
		return err
	}

	var errs []error
	if _, err := c.RunCycle(ctx, p); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Sweep(ctx, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Enforce(ctx, p); err != nil {
		errs = append(errs, err)
	}
	if err := c.store.SetInt(ctx, KeyLastAgentSync, c.now().Unix()); err != nil {
		errs = append(errs, fmt.Errorf("stamp last sync: %w", err))
	}
	return errors.Join(errs...)
}

// Status is a point-in-time view of the pool.
type Status struct {
	Ignited     bool                       `json:"ignited"`
	IgnitedAt   int64                      `json:"ignited_at,omitempty"`
	LastSync    int64                      `json:"last_sync,omitempty"`
	Policy      Policy                     `json:"policy"`
	Agents      []agent.Record             `json:"agents"`
	Performance []storage.AgentPerformance `json:"performance"`
	QueueDepth  int                        `json:"queue_depth"`
}

// Status reads the pool state. The tables must exist.
func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	p, err := c.LoadPolicy(ctx)
	if err != nil {
		return nil, err
	}
	c.refresh(ctx, c.logger.With(zap.String("op", "status")), c.registry.All())
	st := &Status{Policy: p, Agents: c.registry.Records()}

	if st.Ignited, err = c.store.GetBool(ctx, KeySystemIgnited, false); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if st.IgnitedAt, err = c.store.GetInt(ctx, KeyIgnitionTimestamp, 0); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if st.LastSync, err = c.store.GetInt(ctx, KeyLastAgentSync, 0); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	if st.Performance, err = c.store.ListAgentPerformance(ctx); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	pending := false
	if st.QueueDepth, err = c.store.CountQueueEntries(ctx, storage.QueueFilter{Processed: &pending}); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	return st, nil
}
