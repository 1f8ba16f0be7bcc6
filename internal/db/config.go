package db

import (
	"context"
	"database/sql"
)

// Config keys stored in the config table.
const (
	ConfigAuthToken = "auth_token"
	ConfigDeviceID  = "device_id"
)

// GetConfig returns the value for key, or "" when it is unset.
func (d *DB) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := d.conn.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (d *DB) SetConfig(ctx context.Context, key, value string) error {
	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
