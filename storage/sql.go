package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"authflow/core"
)

type dialect struct {
	name   string
	schema string
	upsert string

	// schemaContext prepares the context DDL runs under, when the driver
	// needs a dedicated mode for it.
	schemaContext func(context.Context) context.Context
}

// SQLStorage keeps items in a single local_storage table. It serves both
// the SQLite and YDB backends; only schema and upsert syntax differ.
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
	closers []func() error
}

func newSQLStorage(db *sql.DB, d dialect, closers ...func() error) (*SQLStorage, error) {
	s := &SQLStorage{db: db, dialect: d, closers: closers}
	if err := s.initSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to initialize %s schema: %w", d.name, err)
	}
	return s, nil
}

func (s *SQLStorage) initSchema() error {
	ctx := context.Background()
	if s.dialect.schemaContext != nil {
		ctx = s.dialect.schemaContext(ctx)
	}
	_, err := s.db.ExecContext(ctx, s.dialect.schema)
	return err
}

func (s *SQLStorage) Close() error {
	err := s.db.Close()
	for _, closer := range s.closers {
		if cerr := closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *SQLStorage) GetItem(ctx context.Context, key string) (string, error) {
	query := `
		SELECT item_value
		FROM local_storage
		WHERE item_key = ?
	`

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *SQLStorage) SetItem(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.dialect.upsert, key, value, time.Now().Unix())
	return err
}

func (s *SQLStorage) RemoveItem(ctx context.Context, key string) error {
	query := `DELETE FROM local_storage WHERE item_key = ?`
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}
