package storage

import (
	"context"
	"fmt"
	"strings"
)

// AppendSystemLog inserts a system log line and returns its id.
func (d *DB) AppendSystemLog(ctx context.Context, l *SystemLog) (int64, error) {
	err := d.db.QueryRowContext(ctx, d.rebind(
		`INSERT INTO system_logs (log_type, message, created_at) VALUES (?, ?, ?) RETURNING id`),
		l.LogType, l.Message, l.CreatedAt,
	).Scan(&l.ID)
	if err != nil {
		return 0, fmt.Errorf("append system log: %w", err)
	}
	return l.ID, nil
}

// ListSystemLogs returns log lines in insertion order.
func (d *DB) ListSystemLogs(ctx context.Context, f LogFilter) ([]SystemLog, error) {
	var (
		where []string
		args  []any
	)
	if f.LogType != "" {
		where = append(where, "log_type = ?")
		args = append(args, f.LogType)
	}
	if f.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, f.AfterID)
	}
	query := `SELECT id, log_type, message, created_at FROM system_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list system logs: %w", err)
	}
	defer rows.Close()

	var logs []SystemLog
	for rows.Next() {
		var l SystemLog
		if err := rows.Scan(&l.ID, &l.LogType, &l.Message, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan system log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// CountSystemLogs counts log lines of the given type, or all lines when
// logType is empty.
func (d *DB) CountSystemLogs(ctx context.Context, logType string) (int, error) {
	query := `SELECT COUNT(*) FROM system_logs`
	var args []any
	if logType != "" {
		query += ` WHERE log_type = ?`
		args = append(args, logType)
	}
	var n int
	if err := d.db.QueryRowContext(ctx, d.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count system logs: %w", err)
	}
	return n, nil
}
