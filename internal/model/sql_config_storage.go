package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"go-poll/internal/model/sqlquery"
	"sort"

	log "github.com/sirupsen/logrus"
)

// Sealer encrypts sensitive config values at rest. Open must accept values that were
// stored before sealing was enabled.
type Sealer interface {
	Seal(plain string) (string, error)
	Open(value string) (string, error)
}

// EnableSealing makes the storage seal values of keys matched by sensitive on write and open
// them on read. It must be called before the storage is shared.
func (st *sqlStorage) EnableSealing(sealer Sealer, sensitive func(key string) bool) {
	st.sealer = sealer
	st.sensitive = sensitive
}

func (st *sqlStorage) seal(key, value string) (string, error) {
	if st.sealer == nil || value == "" || !st.sensitive(key) {
		return value, nil
	}
	sealed, err := st.sealer.Seal(value)
	if err != nil {
		return "", fmt.Errorf("failed sealing %s: %w", key, err)
	}
	return sealed, nil
}

func (st *sqlStorage) open(key, value string) (string, error) {
	if st.sealer == nil {
		return value, nil
	}
	plain, err := st.sealer.Open(value)
	if err != nil {
		return "", fmt.Errorf("failed opening %s: %w", key, err)
	}
	return plain, nil
}

// GetString returns the stored value for key, or def when the key is missing or unreadable.
func (st *sqlStorage) GetString(ctx context.Context, key, def string) string {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	var value string
	err := st.database.QueryRowContext(ctx, sqlquery.GetConfig, key).Scan(&value)
	if err == nil {
		value, err = st.open(key, value)
	}
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.WithFields(log.Fields{"error": err, "key": key}).Warn("Failed reading config value, using default")
		}
		return def
	}
	return value
}

func (st *sqlStorage) SetString(ctx context.Context, key, value string) error {
	transactionFunc := func(ctx context.Context, tx *sql.Tx) error {
		stored, err := st.seal(key, value)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlquery.UpsertConfig, key, stored, st.now().UTC())
		return err
	}
	if err := st.transact(ctx, transactionFunc); err != nil {
		return fmt.Errorf("failed setting config value %s: %w", key, err)
	}
	return nil
}

func (st *sqlStorage) ListConfig(ctx context.Context) ([]ConfigEntry, error) {
	st.rwLock.RLock()
	defer st.rwLock.RUnlock()

	rows, err := st.database.QueryContext(ctx, sqlquery.ListConfig)
	if err != nil {
		return nil, fmt.Errorf("failed listing config: %w", err)
	}
	defer rows.Close()

	entries := make([]ConfigEntry, 0)
	for rows.Next() {
		entry := ConfigEntry{}
		if err := rows.Scan(&entry.Key, &entry.Value, &entry.Description, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed scanning config entry: %w", err)
		}
		value, err := st.open(entry.Key, entry.Value)
		if err != nil {
			return nil, err
		}
		entry.Value = value
		entries = append(entries, entry)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed listing config: %w", err)
	}
	return entries, nil
}

// SeedDefaults inserts every entry whose key is not stored yet. Existing values win.
func (st *sqlStorage) SeedDefaults(ctx context.Context, defaults []ConfigEntry) error {
	transactionFunc := func(ctx context.Context, tx *sql.Tx) error {
		now := st.now().UTC()
		for _, entry := range defaults {
			value, err := st.seal(entry.Key, entry.Value)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, sqlquery.SeedConfig, entry.Key, value, entry.Description, now); err != nil {
				return fmt.Errorf("failed seeding %s: %w", entry.Key, err)
			}
		}
		return nil
	}
	if err := st.transact(ctx, transactionFunc); err != nil {
		return fmt.Errorf("failed seeding config defaults: %w", err)
	}
	return nil
}

// SealStoredSecrets seals sensitive values that were stored in plain text, e.g. before a
// secret key was configured. It returns the number of sealed values.
func (st *sqlStorage) SealStoredSecrets(ctx context.Context, isSealed func(value string) bool) (int, error) {
	if st.sealer == nil {
		return 0, nil
	}

	sealed := 0
	transactionFunc := func(ctx context.Context, tx *sql.Tx) error {
		plain, err := plainSecrets(ctx, tx, func(key, value string) bool {
			return value != "" && st.sensitive(key) && !isSealed(value)
		})
		if err != nil {
			return err
		}
		now := st.now().UTC()
		for _, key := range sortedKeys(plain) {
			value, err := st.seal(key, plain[key])
			if err != nil {
				return err
			}
			if _, err = tx.ExecContext(ctx, sqlquery.UpsertConfig, key, value, now); err != nil {
				return fmt.Errorf("failed sealing %s: %w", key, err)
			}
			sealed++
		}
		return nil
	}
	if err := st.transact(ctx, transactionFunc); err != nil {
		return 0, fmt.Errorf("failed sealing stored secrets: %w", err)
	}
	return sealed, nil
}

func plainSecrets(ctx context.Context, tx *sql.Tx, match func(key, value string) bool) (map[string]string, error) {
	rows, err := tx.QueryContext(ctx, sqlquery.ListConfig)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		entry := ConfigEntry{}
		if err := rows.Scan(&entry.Key, &entry.Value, &entry.Description, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed scanning config entry: %w", err)
		}
		if match(entry.Key, entry.Value) {
			result[entry.Key] = entry.Value
		}
	}
	return result, rows.Err()
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
