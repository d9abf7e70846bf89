package store

import (
	"context"
	"database/sql"
	"fmt"

	"curator/internal/types"
)

// Setting keys for model routing preferences.
const (
	settingModelMain     = "model.main"
	settingModelSub      = "model.sub"
	settingModelEndpoint = "model.endpoint"
)

// GetSetting reads one settings value; missing keys return "".
func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q(ctx).QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting writes one settings value.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// GetModelPreferences returns the persisted model routing preferences.
// Unset preferences come back as empty strings; the caller applies its
// defaults.
func (s *SQLiteStore) GetModelPreferences(ctx context.Context) (types.ModelPreferences, error) {
	var prefs types.ModelPreferences
	var err error
	if prefs.Main, err = s.GetSetting(ctx, settingModelMain); err != nil {
		return prefs, err
	}
	if prefs.Sub, err = s.GetSetting(ctx, settingModelSub); err != nil {
		return prefs, err
	}
	if prefs.Endpoint, err = s.GetSetting(ctx, settingModelEndpoint); err != nil {
		return prefs, err
	}
	return prefs, nil
}

// SetModelPreferences persists the model routing preferences.
func (s *SQLiteStore) SetModelPreferences(ctx context.Context, prefs types.ModelPreferences) error {
	return s.Transaction(ctx, func(ctx context.Context) error {
		if err := s.SetSetting(ctx, settingModelMain, prefs.Main); err != nil {
			return err
		}
		if err := s.SetSetting(ctx, settingModelSub, prefs.Sub); err != nil {
			return err
		}
		return s.SetSetting(ctx, settingModelEndpoint, prefs.Endpoint)
	})
}
