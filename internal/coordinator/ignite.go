package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// awareness is the payload of a responsibility_awareness queue entry.
type awareness struct {
	Message          string   `json:"message"`
	Responsibilities []string `json:"responsibilities"`
}

// Ignite starts cross-learning for the pool: it enables cross-learning on
// every agent, records responsibilities, and queues one
// responsibility_awareness entry per ordered pair of distinct agents. The
// awareness entries are delivered by Sweep. Ignite runs once; later calls
// report false. Performance rows are left to the first cycle.
//
// A failed Ignite can be retried. The opening logs are written once, and a
// retry only queues the pairs that are still missing.
func (c *Coordinator) Ignite(ctx context.Context) (bool, error) {
	ignited, err := c.store.GetBool(ctx, KeySystemIgnited, false)
	if err != nil {
		return false, fmt.Errorf("ignite: %w", err)
	}
	if ignited {
		c.logger.Debug("already ignited")
		return false, nil
	}
	resumed, err := c.store.GetBool(ctx, KeyIgnitionStarted, false)
	if err != nil {
		return false, fmt.Errorf("ignite: %w", err)
	}

	now := c.now()
	entries := c.registry.All()
	duties := make(map[string][]string, len(entries))
	for _, e := range entries {
		if cl, ok := e.Agent.(agent.CrossLearner); ok {
			cl.SetCrossLearning(true)
		}
		duties[e.ID] = responsibilitiesOf(e.Agent)
	}

	if !resumed {
		if err := c.openIgnition(ctx, entries, duties); err != nil {
			return false, fmt.Errorf("ignite: %w", err)
		}
	} else {
		c.logger.Info("resuming interrupted ignition")
	}

	queued := 0
	for _, source := range entries {
		data, err := json.Marshal(awareness{
			Message: fmt.Sprintf("I am %s, responsible for %s.",
				source.ID, strings.Join(duties[source.ID], ", ")),
			Responsibilities: duties[source.ID],
		})
		if err != nil {
			return false, fmt.Errorf("ignite: encode awareness: %w", err)
		}
		for _, target := range entries {
			if target.ID == source.ID {
				continue
			}
			if resumed {
				n, err := c.store.CountQueueEntries(ctx, storage.QueueFilter{
					SourceAgent: source.ID,
					TargetAgent: target.ID,
					InsightType: InsightResponsibilityAwareness,
				})
				if err != nil {
					return false, fmt.Errorf("ignite: %w", err)
				}
				if n > 0 {
					queued++
					continue
				}
			}
			_, err := c.store.AppendQueueEntry(ctx, &storage.QueueEntry{
				SourceAgent: source.ID,
				TargetAgent: target.ID,
				InsightType: InsightResponsibilityAwareness,
				InsightData: string(data),
				CreatedAt:   now.Unix(),
			})
			if err != nil {
				return false, fmt.Errorf("ignite: %w", err)
			}
			queued++
		}
	}

	if err := c.systemLog(ctx, LogSystemStatus,
		fmt.Sprintf("%d agents ignited, %d awareness entries queued", len(entries), queued)); err != nil {
		return false, fmt.Errorf("ignite: %w", err)
	}
	if err := c.store.SetInt(ctx, KeyIgnitionTimestamp, now.Unix()); err != nil {
		return false, fmt.Errorf("ignite: %w", err)
	}
	if err := c.store.SetBool(ctx, KeySystemIgnited, true); err != nil {
		return false, fmt.Errorf("ignite: %w", err)
	}

	c.logger.Info("ignited", zap.Int("agents", len(entries)), zap.Int("awareness_entries", queued))
	return true, nil
}

// openIgnition writes the ignition and per-agent initialization logs and
// the responsibilities setting, then marks ignition as started.
func (c *Coordinator) openIgnition(ctx context.Context, entries []agent.Entry, duties map[string][]string) error {
	if err := c.systemLog(ctx, LogSystemIgnition,
		fmt.Sprintf("cross-learning ignition started for %d agents", len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := c.systemLog(ctx, LogAgentInitialization,
			fmt.Sprintf("agent %s initialized with responsibilities: %s", e.ID, strings.Join(duties[e.ID], ", "))); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(duties)
	if err != nil {
		return fmt.Errorf("encode responsibilities: %w", err)
	}
	if err := c.store.SetSetting(ctx, KeyAgentResponsibilities, string(raw)); err != nil {
		return err
	}
	return c.store.SetBool(ctx, KeyIgnitionStarted, true)
}

func (c *Coordinator) systemLog(ctx context.Context, logType, msg string) error {
	_, err := c.store.AppendSystemLog(ctx, &storage.SystemLog{
		LogType:   logType,
		Message:   msg,
		CreatedAt: c.now().Unix(),
	})
	return err
}

func responsibilitiesOf(a agent.Agent) []string {
	if r, ok := a.(agent.Responsible); ok {
		if d := r.Responsibilities(); d != nil {
			return d
		}
	}
	return []string{}
}
