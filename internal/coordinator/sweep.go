package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/crosslearn/internal/agent"
	"github.com/ssd-technologies/crosslearn/internal/storage"
)

// SweepResult summarises one Sweep call.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Sweep re-drives up to limit unprocessed queue entries, oldest first. A
// non-positive limit uses the configured batch. Entries whose target is
// unavailable or cannot receive stay pending, as do entries that fail to
// decode or to deliver. The returned error joins store failures.
//
// Each call resumes after the last entry the previous call scanned and
// starts over once it reaches the end of the queue, so entries that stay
// pending never hide the ones behind them.
func (c *Coordinator) Sweep(ctx context.Context, limit int) (*SweepResult, error) {
	if limit <= 0 {
		limit = c.sweepBatch
	}
	ctx, span := c.tracer.Start(ctx, "coordinator.Sweep")
	defer span.End()

	c.sweepMu.Lock()
	after := c.sweepCursor
	c.sweepMu.Unlock()

	entries, err := c.store.ListUnprocessedQueueEntries(ctx, after, limit)
	if err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}

	next := storage.QueueCursor{}
	if len(entries) == limit {
		next = storage.CursorOf(entries[len(entries)-1])
	}
	c.sweepMu.Lock()
	c.sweepCursor = next
	c.sweepMu.Unlock()

	res := &SweepResult{Scanned: len(entries)}
	log := c.logger.With(zap.String("op", "sweep"))
	var errs []error
	for _, e := range entries {
		batch, err := decodeEntry(e)
		if err != nil {
			log.Warn("undecodable queue entry", zap.Int64("entry", e.ID), zap.Error(err))
			c.warn(ctx, log, fmt.Sprintf("queue entry %d from %s to %s could not be decoded: %v", e.ID, e.SourceAgent, e.TargetAgent, err))
			res.Failed++
			continue
		}
		o, err := c.handOff(ctx, log, e.ID, e.SourceAgent, e.TargetAgent, batch)
		if err != nil {
			errs = append(errs, err)
		}
		switch o {
		case outcomeDelivered:
			res.Delivered++
		case outcomeFailed:
			res.Failed++
		default:
			res.Skipped++
		}
	}

	if res.Scanned > 0 {
		log.Info("sweep completed",
			zap.Int("scanned", res.Scanned),
			zap.Int("delivered", res.Delivered),
			zap.Int("failed", res.Failed),
			zap.Int("skipped", res.Skipped),
		)
	}
	return res, errors.Join(errs...)
}

// decodeEntry turns a queue entry back into the batch handed to the
// receiver. Awareness entries become a single insight.
func decodeEntry(e storage.QueueEntry) ([]agent.Insight, error) {
	if e.InsightType == InsightResponsibilityAwareness {
		var payload map[string]any
		if err := json.Unmarshal([]byte(e.InsightData), &payload); err != nil {
			return nil, err
		}
		return []agent.Insight{{
			SourceAgent: e.SourceAgent,
			InsightType: e.InsightType,
			Payload:     payload,
			CreatedAt:   time.Unix(e.CreatedAt, 0),
		}}, nil
	}

	var batch []agent.Insight
	if err := json.Unmarshal([]byte(e.InsightData), &batch); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, errors.New("empty insight batch")
	}
	return batch, nil
}
