package sqlsearch

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
)

// Row is one record to load: the key and a single value per field.
type Row struct {
	Key    string
	Values map[string]string
}

// CreateTable creates the index table when it does not exist yet.
func (s *Searcher) CreateTable(ctx context.Context) error {
	defs := make([]string, 0, len(s.columns)+1)
	defs = append(defs, s.key+" TEXT PRIMARY KEY")
	for _, c := range s.columns {
		typ := "TEXT"
		if c.typ == field.TypeNumber {
			typ = "NUMERIC"
		}
		defs = append(defs, c.quoted+" "+typ)
	}
	stmt := "CREATE TABLE IF NOT EXISTS " + s.table + " (" + strings.Join(defs, ", ") + ")"
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

// Load inserts rows in one transaction. Fields without a value are stored
// as NULL.
func (s *Searcher) Load(ctx context.Context, rows []Row) error {
	list := make([]string, len(s.columns)+1)
	marks := make([]string, len(s.columns)+1)
	list[0] = s.key
	marks[0] = s.dialect.Placeholder(1)
	for i, c := range s.columns {
		list[i+1] = c.quoted
		marks[i+1] = s.dialect.Placeholder(i + 2)
	}
	stmt := "INSERT INTO " + s.table + " (" + strings.Join(list, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"

	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, r := range rows {
			args := make([]any, len(s.columns)+1)
			args[0] = r.Key
			for i, c := range s.columns {
				if v, ok := r.Values[c.field]; ok {
					args[i+1] = v
				}
			}
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("inserting %s into %s: %w", r.Key, s.table, err)
			}
		}
		return nil
	})
}

// Empty reports whether the index table holds no rows.
func (s *Searcher) Empty(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n); err != nil {
		return false, fmt.Errorf("counting rows of %s: %w", s.table, err)
	}
	return n == 0, nil
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
