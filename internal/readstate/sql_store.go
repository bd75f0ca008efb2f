package readstate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	defaultTableName    = "supportdesk_kv"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

type sqlDialect struct {
	driver      string
	createTable string
	selectValue string
	upsertValue string
}

var postgresDialect = sqlDialect{
	driver: "postgres",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			store_key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	selectValue: "SELECT value FROM %s WHERE store_key = $1",
	upsertValue: `
		INSERT INTO %s (store_key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (store_key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
}

var sqliteDialect = sqlDialect{
	driver: "sqlite",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			store_key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	selectValue: "SELECT value FROM %s WHERE store_key = ?",
	upsertValue: `
		INSERT INTO %s (store_key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (store_key)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
}

// SQLStore persists keys in a two-column table. The same implementation
// serves Postgres (lib/pq) and SQLite (modernc.org/sqlite).
type SQLStore struct {
	dsn       string
	tableName string
	dialect   sqlDialect
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (*SQLStore, error) {
	return newSQLStore(dsn, postgresDialect)
}

func NewSQLiteStore(path string) (*SQLStore, error) {
	return newSQLStore(path, sqliteDialect)
}

func newSQLStore(dsn string, dialect sqlDialect) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &SQLStore{
		dsn:       dsn,
		tableName: defaultTableName,
		dialect:   dialect,
		openDB:    sql.Open,
	}, nil
}

func (s *SQLStore) Get(key string) (string, bool, error) {
	if err := s.ensureReady(); err != nil {
		return "", false, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(s.dialect.selectValue, quoteIdentifier(s.tableName))
	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLStore) Set(key, value string) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(s.dialect.upsertValue, quoteIdentifier(s.tableName))
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) ensureReady() error {
	if s == nil {
		return ErrInvalidInput
	}
	s.initOnce.Do(func() {
		db, err := s.openDB(s.dialect.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(s.dialect.createTable, quoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "\"\""
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
