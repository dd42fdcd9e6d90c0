package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// GetSetting returns the stored value for key, or def when the key is absent.
func (d *DB) GetSetting(ctx context.Context, key, def string) (string, error) {
	var v string
	err := d.db.QueryRowContext(ctx,
		d.rebind(`SELECT value FROM settings WHERE name = ?`), key,
	).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return v, nil
}

// SetSetting stores value under key. Last write wins.
func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	_, err := d.db.ExecContext(ctx, d.rebind(
		`INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// ClaimSetting stores value under key only if the key is absent. It reports
// whether this call created the key.
func (d *DB) ClaimSetting(ctx context.Context, key, value string) (bool, error) {
	res, err := d.db.ExecContext(ctx, d.rebind(
		`INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (name) DO NOTHING`),
		key, value, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("claim setting %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim setting %s rows affected: %w", key, err)
	}
	return n == 1, nil
}

// CompareAndSwapSetting replaces the value of key with next only if it still
// holds prev. It reports whether the swap happened.
func (d *DB) CompareAndSwapSetting(ctx context.Context, key, prev, next string) (bool, error) {
	res, err := d.db.ExecContext(ctx, d.rebind(
		`UPDATE settings SET value = ?, updated_at = ? WHERE name = ? AND value = ?`),
		next, time.Now().Unix(), key, prev,
	)
	if err != nil {
		return false, fmt.Errorf("swap setting %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap setting %s rows affected: %w", key, err)
	}
	return n == 1, nil
}

// DeleteSetting removes key. Deleting an absent key is not an error.
func (d *DB) DeleteSetting(ctx context.Context, key string) error {
	if _, err := d.db.ExecContext(ctx, d.rebind(`DELETE FROM settings WHERE name = ?`), key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

// GetBool reads key as a boolean. Unparseable values fall back to def.
func (d *DB) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	v, err := d.GetSetting(ctx, key, "")
	if err != nil || v == "" {
		return def, err
	}
	b, perr := strconv.ParseBool(v)
	if perr != nil {
		return def, nil
	}
	return b, nil
}

// SetBool stores a boolean under key.
func (d *DB) SetBool(ctx context.Context, key string, value bool) error {
	return d.SetSetting(ctx, key, strconv.FormatBool(value))
}

// GetInt reads key as an int64. Unparseable values fall back to def.
func (d *DB) GetInt(ctx context.Context, key string, def int64) (int64, error) {
	v, err := d.GetSetting(ctx, key, "")
	if err != nil || v == "" {
		return def, err
	}
	n, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return def, nil
	}
	return n, nil
}

// SetInt stores an int64 under key.
func (d *DB) SetInt(ctx context.Context, key string, value int64) error {
	return d.SetSetting(ctx, key, strconv.FormatInt(value, 10))
}

// GetFloat reads key as a float64. Unparseable values fall back to def.
func (d *DB) GetFloat(ctx context.Context, key string, def float64) (float64, error) {
	v, err := d.GetSetting(ctx, key, "")
	if err != nil || v == "" {
		return def, err
	}
	f, perr := strconv.ParseFloat(v, 64)
	if perr != nil {
		return def, nil
	}
	return f, nil
}

// SetFloat stores a float64 under key.
func (d *DB) SetFloat(ctx context.Context, key string, value float64) error {
	return d.SetSetting(ctx, key, strconv.FormatFloat(value, 'f', -1, 64))
}
