package sqlsearch

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/condition"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/query/field"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/internal/searcher/results"
	"github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Federated-Query-Engine/pkg/errors"
)

const (
	defaultKeyColumn = "id"
	// backfillBatch caps the keys in one IN list.
	backfillBatch = 500
)

// Searcher serves one index from one table.
type Searcher struct {
	db      *sql.DB
	dialect Dialect
	index   string
	table   string
	key     string
	columns []column
	byField map[string]column
	logger  *slog.Logger
}

// New binds index to the table named in cfg. The columns are the registry
// fields of the index; a field's source, when set, names its column.
func New(db *sql.DB, dialect Dialect, index string, fields *field.Registry, cfg config.SQLIndexConfig) (*Searcher, error) {
	tableName := cfg.Table
	if tableName == "" {
		tableName = index
	}
	table, err := quoteIdent(tableName)
	if err != nil {
		return nil, err
	}
	keyName := cfg.KeyColumn
	if keyName == "" {
		keyName = defaultKeyColumn
	}
	key, err := quoteIdent(keyName)
	if err != nil {
		return nil, err
	}

	defs := fields.Fields(index)
	if len(defs) == 0 {
		return nil, apperrors.NewConfigurationError(index, "index has no registered fields")
	}
	s := &Searcher{
		db:      db,
		dialect: dialect,
		index:   index,
		table:   table,
		key:     key,
		byField: make(map[string]column, len(defs)),
		logger:  slog.Default().With("component", "sqlsearch", "index", index),
	}
	for _, def := range defs {
		name := def.Name
		if def.Source != "" {
			name = def.Source
		}
		quoted, err := quoteIdent(name)
		if err != nil {
			return nil, err
		}
		col := column{field: def.Name, quoted: quoted, typ: def.Type}
		s.columns = append(s.columns, col)
		s.byField[def.Name] = col
	}
	return s, nil
}

func (s *Searcher) IsIndexer() bool { return false }

// Search runs one SELECT. The database applies sortBy and maxResults, so a
// sorted request yields a sorted, read-only set.
func (s *Searcher) Search(ctx context.Context, cond condition.Condition, maxResults int, sortBy []query.SortCriterion, addSortData bool) (*results.ResultSet, error) {
	b := &whereBuilder{dialect: s.dialect, columns: s.byField}
	var sb strings.Builder
	sb.WriteString("SELECT " + s.selectList() + " FROM " + s.table)
	if cond != nil {
		where, err := b.build(cond)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" WHERE " + where)
	}
	if len(sortBy) > 0 {
		order, err := s.orderBy(sortBy)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" ORDER BY " + order)
	}
	if maxResults > 0 {
		sb.WriteString(" LIMIT " + strconv.Itoa(maxResults))
	}
	stmt := sb.String()

	rows, err := s.db.QueryContext(ctx, stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.table, err)
	}
	defer rows.Close()

	var hits []*results.Hit
	for rows.Next() {
		h, err := s.scanHit(rows)
		if err != nil {
			return nil, err
		}
		if addSortData {
			setSortData(h, sortBy)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rows from %s: %w", s.table, err)
	}
	s.logger.Debug("sql search", "statement", stmt, "args", len(b.args), "rows", len(hits))
	return results.NewReadOnly(hits, len(sortBy) > 0), nil
}

// AddSortData loads the sort columns of the given hits by key.
func (s *Searcher) AddSortData(ctx context.Context, hits iter.Seq[*results.Hit], sortBy []query.SortCriterion) error {
	cols := make([]column, 0, len(sortBy))
	for _, c := range sortBy {
		col, ok := s.byField[c.Field]
		if !ok {
			return apperrors.NewConfigurationError(c.Field, "field has no column in table "+s.table)
		}
		cols = append(cols, col)
	}
	byKey := make(map[string][]*results.Hit)
	var keys []string
	for h := range hits {
		if _, seen := byKey[h.Key]; !seen {
			keys = append(keys, h.Key)
		}
		byKey[h.Key] = append(byKey[h.Key], h)
	}

	for start := 0; start < len(keys); start += backfillBatch {
		batch := keys[start:min(start+backfillBatch, len(keys))]
		if err := s.fillBatch(ctx, cols, batch, byKey); err != nil {
			return err
		}
	}
	return nil
}

func (s *Searcher) fillBatch(ctx context.Context, cols []column, keys []string, byKey map[string][]*results.Hit) error {
	list := make([]string, len(cols)+1)
	list[0] = s.key
	for i, c := range cols {
		list[i+1] = c.quoted
	}
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		marks[i] = s.dialect.Placeholder(i + 1)
		args[i] = k
	}
	stmt := "SELECT " + strings.Join(list, ", ") + " FROM " + s.table +
		" WHERE " + s.key + " IN (" + strings.Join(marks, ", ") + ")"

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("loading sort data from %s: %w", s.table, err)
	}
	defer rows.Close()
	for rows.Next() {
		vals := make([]sql.NullString, len(cols)+1)
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("scanning sort data: %w", err)
		}
		for _, h := range byKey[vals[0].String] {
			for i, c := range cols {
				if vals[i+1].Valid {
					h.SetSortValue(c.field, vals[i+1].String)
				}
			}
		}
	}
	return rows.Err()
}

func (s *Searcher) selectList() string {
	list := make([]string, len(s.columns)+1)
	list[0] = s.key
	for i, c := range s.columns {
		list[i+1] = c.quoted
	}
	return strings.Join(list, ", ")
}

// orderBy puts NULLs last in either direction.
func (s *Searcher) orderBy(sortBy []query.SortCriterion) (string, error) {
	parts := make([]string, 0, len(sortBy))
	for _, c := range sortBy {
		col, ok := s.byField[c.Field]
		if !ok {
			return "", apperrors.NewConfigurationError(c.Field, "field has no column in table "+s.table)
		}
		dir := "DESC"
		if c.Ascending {
			dir = "ASC"
		}
		parts = append(parts, col.quoted+" IS NULL, "+col.quoted+" "+dir)
	}
	return strings.Join(parts, ", "), nil
}

func (s *Searcher) scanHit(rows *sql.Rows) (*results.Hit, error) {
	vals := make([]sql.NullString, len(s.columns)+1)
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scanning row from %s: %w", s.table, err)
	}
	h := results.NewHit(vals[0].String)
	for i, c := range s.columns {
		if v := vals[i+1]; v.Valid {
			h.Add(c.field, v.String)
		}
	}
	return h, nil
}

func setSortData(h *results.Hit, sortBy []query.SortCriterion) {
	for _, c := range sortBy {
		if v := h.First(c.Field); v != "" {
			h.SetSortValue(c.Field, v)
		}
	}
}
