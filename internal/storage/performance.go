package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordTraining adds examples and insights to the agent's counters, sets
// last_training to at and marks the agent active. The row is created on
// first use. Counters only grow.
func (d *DB) RecordTraining(ctx context.Context, agentID string, examples, insights, at int64) error {
	if examples < 0 || insights < 0 {
		return fmt.Errorf("record training %s: negative delta (%d examples, %d insights)", agentID, examples, insights)
	}
	_, err := d.db.ExecContext(ctx, d.rebind(
		`INSERT INTO agent_performance
		   (agent_id, examples_processed, insights_generated, last_training, learning_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (agent_id) DO UPDATE SET
		   examples_processed = agent_performance.examples_processed + excluded.examples_processed,
		   insights_generated = agent_performance.insights_generated + excluded.insights_generated,
		   last_training = excluded.last_training,
		   learning_status = excluded.learning_status,
		   updated_at = excluded.updated_at`),
		agentID, examples, insights, at, StatusActive, at, at,
	)
	if err != nil {
		return fmt.Errorf("record training %s: %w", agentID, err)
	}
	return nil
}

// SetLearningStatus updates the learning status of an existing row. It
// returns sql.ErrNoRows when the agent has never trained.
func (d *DB) SetLearningStatus(ctx context.Context, agentID, status string, at int64) error {
	if !validStatus(status) {
		return fmt.Errorf("set learning status %s: invalid status %q", agentID, status)
	}
	res, err := d.db.ExecContext(ctx, d.rebind(
		`UPDATE agent_performance SET learning_status = ?, updated_at = ? WHERE agent_id = ?`),
		status, at, agentID,
	)
	if err != nil {
		return fmt.Errorf("set learning status %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set learning status rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("set learning status %s: %w", agentID, sql.ErrNoRows)
	}
	return nil
}

// GetAgentPerformance returns the performance row of one agent.
func (d *DB) GetAgentPerformance(ctx context.Context, agentID string) (*AgentPerformance, error) {
	p := &AgentPerformance{}
	var last sql.NullInt64
	err := d.db.QueryRowContext(ctx, d.rebind(
		`SELECT agent_id, examples_processed, insights_generated, last_training, learning_status, created_at, updated_at
		 FROM agent_performance WHERE agent_id = ?`), agentID,
	).Scan(&p.AgentID, &p.ExamplesProcessed, &p.InsightsGenerated, &last,
		&p.LearningStatus, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get agent performance: %w", err)
	}
	if last.Valid {
		p.LastTraining = &last.Int64
	}
	return p, nil
}

// ListAgentPerformance returns every performance row ordered by agent id.
func (d *DB) ListAgentPerformance(ctx context.Context) ([]AgentPerformance, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT agent_id, examples_processed, insights_generated, last_training, learning_status, created_at, updated_at
		 FROM agent_performance ORDER BY agent_id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list agent performance: %w", err)
	}
	defer rows.Close()

	var out []AgentPerformance
	for rows.Next() {
		var p AgentPerformance
		var last sql.NullInt64
		if err := rows.Scan(&p.AgentID, &p.ExamplesProcessed, &p.InsightsGenerated, &last,
			&p.LearningStatus, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent performance: %w", err)
		}
		if last.Valid {
			v := last.Int64
			p.LastTraining = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IsNotFound reports whether err is a missing-row error from this package.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
