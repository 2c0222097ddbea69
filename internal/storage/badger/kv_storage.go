package badger

import (
	"context"
	"strings"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/harvestyard/internal/interfaces"
)

// kvRow is the badgerhold-persisted representation of a KeyValuePair.
type kvRow struct {
	Key         string `badgerholdKey:"Key"`
	Value       string
	Description string
	CreatedAt   int64
	UpdatedAt   int64 `badgerholdIndex:"UpdatedAt"`
}

// KVStorage implements interfaces.KeyValueStorage over badgerhold,
// adapted from the teacher's KVStorage (normalizeKey, preserve CreatedAt
// on update, sentinel-error mapping).
type KVStorage struct {
	db *DB
}

func NewKVStorage(db *DB) *KVStorage {
	return &KVStorage{db: db}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	pair, err := s.GetPair(ctx, key)
	if err != nil {
		return "", err
	}
	return pair.Value, nil
}

func (s *KVStorage) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	var row kvRow
	err := s.db.Store().Get(normalizeKey(key), &row)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToPair(&row), nil
}

func (s *KVStorage) Set(ctx context.Context, key, value, description string) error {
	_, err := s.Upsert(ctx, key, value, description)
	return err
}

func (s *KVStorage) Upsert(ctx context.Context, key, value, description string) (bool, error) {
	normalized := normalizeKey(key)
	now := time.Now().UnixMilli()

	var existing kvRow
	isNew := false
	err := s.db.Store().Get(normalized, &existing)
	if err == badgerhold.ErrNotFound {
		isNew = true
		existing = kvRow{Key: normalized, CreatedAt: now}
	} else if err != nil {
		return false, err
	}

	existing.Value = value
	existing.Description = description
	existing.UpdatedAt = now

	if err := s.db.Store().Upsert(normalized, &existing); err != nil {
		return false, err
	}
	return isNew, nil
}

func (s *KVStorage) Delete(ctx context.Context, key string) error {
	err := s.db.Store().Delete(normalizeKey(key), &kvRow{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	return err
}

func (s *KVStorage) ListByPrefix(ctx context.Context, prefix string) ([]*interfaces.KeyValuePair, error) {
	var rows []kvRow
	query := badgerhold.Where("Key").RegExp(prefixRegexp(normalizeKey(prefix))).SortBy("Key")
	if err := s.db.Store().Find(&rows, query); err != nil {
		return nil, err
	}

	pairs := make([]*interfaces.KeyValuePair, 0, len(rows))
	for i := range rows {
		pairs = append(pairs, rowToPair(&rows[i]))
	}
	return pairs, nil
}

func rowToPair(row *kvRow) *interfaces.KeyValuePair {
	return &interfaces.KeyValuePair{
		Key:         row.Key,
		Value:       row.Value,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
