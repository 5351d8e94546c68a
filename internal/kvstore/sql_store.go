package kvstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/kyleseneker/pinguard/internal/logging"
)

// SQLStore persists one area in a SQL table shared by all areas.
// Queries stick to syntax understood by both PostgreSQL and SQLite.
type SQLStore struct {
	db     *sql.DB
	area   string
	logger logging.Logger
}

// NewSQLStore opens driver ("postgres" or "sqlite3") at dsn and binds the store to area.
func NewSQLStore(driver, dsn string, area Area) (*SQLStore, error) {
	logger := logging.Get().Named("sql_store")
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQL database: %w", err)
	}

	if driver == "sqlite3" {
		// SQLite permits a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to SQL database: %w", err)
	}

	s := &SQLStore{db: db, area: area.String(), logger: logger}

	if driver == "sqlite3" {
		if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure SQLite: %w", err)
		}
	}

	if err := s.ensureSchema(); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	s.logger.Debug("SQL store initialized.", "driver", driver, "area", s.area)
	return s, nil
}

// ensureSchema creates the key-value table if it doesn't already exist.
func (s *SQLStore) ensureSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS pinguard_kv (
		area VARCHAR(16) NOT NULL,
		item_key VARCHAR(512) NOT NULL,
		item_value TEXT NOT NULL,
		PRIMARY KEY (area, item_key)
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to execute schema creation query: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := `SELECT item_value FROM pinguard_kv WHERE area = $1 AND item_key = $2`
	err := s.db.QueryRowContext(ctx, query, s.area, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query key: %w", err)
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO pinguard_kv (area, item_key, item_value) VALUES ($1, $2, $3)
	ON CONFLICT (area, item_key) DO UPDATE SET item_value = excluded.item_value`
	if _, err := s.db.ExecContext(ctx, query, s.area, key, value); err != nil {
		return fmt.Errorf("failed to upsert key: %w", err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	query := `DELETE FROM pinguard_kv WHERE area = $1 AND item_key = $2`
	if _, err := s.db.ExecContext(ctx, query, s.area, key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

func (s *SQLStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_key FROM pinguard_kv WHERE area = $1`, s.area)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		s.logger.Debug("Closing SQL store database connection...")
		return s.db.Close()
	}
	return nil
}
