package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// AppendQueueEntry inserts an unprocessed queue entry and returns its id.
func (d *DB) AppendQueueEntry(ctx context.Context, e *QueueEntry) (int64, error) {
	if e.SourceAgent == e.TargetAgent {
		return 0, fmt.Errorf("append queue entry %s: %w", e.SourceAgent, ErrSelfDelivery)
	}
	err := d.db.QueryRowContext(ctx, d.rebind(
		`INSERT INTO cross_learning_queue (source_agent, target_agent, insight_type, insight_data, created_at, processed)
		 VALUES (?, ?, ?, ?, ?, 0) RETURNING id`),
		e.SourceAgent, e.TargetAgent, e.InsightType, e.InsightData, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return 0, fmt.Errorf("append queue entry: %w", err)
	}
	e.Processed = false
	return e.ID, nil
}

// MarkQueueEntryProcessed flips processed to true. It never flips it back.
func (d *DB) MarkQueueEntryProcessed(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.rebind(
		`UPDATE cross_learning_queue SET processed = 1 WHERE id = ?`), id,
	)
	if err != nil {
		return fmt.Errorf("mark queue entry processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark queue entry processed rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("mark queue entry processed: %w", sql.ErrNoRows)
	}
	return nil
}

// ListUnprocessedQueueEntries returns pending entries positioned after the
// cursor, oldest first.
func (d *DB) ListUnprocessedQueueEntries(ctx context.Context, after QueueCursor, limit int) ([]QueueEntry, error) {
	pending := false
	var (
		extra string
		args  []any
	)
	if after != (QueueCursor{}) {
		extra = "(created_at > ? OR (created_at = ? AND id > ?))"
		args = []any{after.CreatedAt, after.CreatedAt, after.ID}
	}
	return d.listQueueWhere(ctx, QueueFilter{Processed: &pending, Limit: limit}, extra, args, "created_at ASC, id ASC")
}

// ListQueueEntries returns entries matching f in insertion order.
func (d *DB) ListQueueEntries(ctx context.Context, f QueueFilter) ([]QueueEntry, error) {
	return d.listQueue(ctx, f, "id ASC")
}

// CountQueueEntries counts entries matching f. The limit is ignored.
func (d *DB) CountQueueEntries(ctx context.Context, f QueueFilter) (int, error) {
	where, args := queueWhere(f)
	var n int
	err := d.db.QueryRowContext(ctx, d.rebind(`SELECT COUNT(*) FROM cross_learning_queue`+where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queue entries: %w", err)
	}
	return n, nil
}

func (d *DB) listQueue(ctx context.Context, f QueueFilter, order string) ([]QueueEntry, error) {
	return d.listQueueWhere(ctx, f, "", nil, order)
}

func (d *DB) listQueueWhere(ctx context.Context, f QueueFilter, extra string, extraArgs []any, order string) ([]QueueEntry, error) {
	where, args := queueWhere(f)
	if extra != "" {
		if where == "" {
			where = " WHERE " + extra
		} else {
			where += " AND " + extra
		}
		args = append(args, extraArgs...)
	}
	query := `SELECT id, source_agent, target_agent, insight_type, insight_data, created_at, processed
		 FROM cross_learning_queue` + where + ` ORDER BY ` + order
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var processed int
		if err := rows.Scan(&e.ID, &e.SourceAgent, &e.TargetAgent, &e.InsightType,
			&e.InsightData, &e.CreatedAt, &processed); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		e.Processed = processed != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func queueWhere(f QueueFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.SourceAgent != "" {
		where = append(where, "source_agent = ?")
		args = append(args, f.SourceAgent)
	}
	if f.TargetAgent != "" {
		where = append(where, "target_agent = ?")
		args = append(args, f.TargetAgent)
	}
	if f.InsightType != "" {
		where = append(where, "insight_type = ?")
		args = append(args, f.InsightType)
	}
	if f.Processed != nil {
		where = append(where, "processed = ?")
		args = append(args, boolToInt(*f.Processed))
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}
