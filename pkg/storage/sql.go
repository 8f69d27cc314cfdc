package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ha1tch/amzmeta/pkg/models"
)

// Insert statements, written with ? placeholders and rebound per driver
const (
	insertProductSQL = `
		INSERT INTO product (asin, title, group_name, salesrank)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (asin) DO NOTHING`

	insertSimilarSQL = `
		INSERT INTO similar_product (product_asin, similar_asin)
		VALUES (?, ?)`

	insertCategorySQL = `
		INSERT INTO category (category_id, category_name)
		VALUES (?, ?)
		ON CONFLICT (category_id) DO NOTHING`

	insertProductCategorySQL = `
		INSERT INTO product_category (product_asin, category_id)
		VALUES (?, ?)`

	insertReviewSQL = `
		INSERT INTO product_review (product_asin, time, user_id, rating, total_votes, helpfulness_votes)
		VALUES (?, ?, ?, ?, ?, ?)`
)

// dialect captures what differs between relational backends
type dialect struct {
	name string

	// schema holds idempotent CREATE TABLE statements in creation order
	schema []string

	// applyConstraints tightens the schema inside tx
	applyConstraints func(ctx context.Context, tx *sqlx.Tx) error

	// dateArg converts a review date into a driver argument
	dateArg func(t time.Time) interface{}
}

// sqlStore implements Store on top of database/sql through sqlx.
// Access is serialized: a single load transaction owns the connection.
type sqlStore struct {
	db      *sqlx.DB
	dialect dialect
	info    StoreInfo
	mu      sync.Mutex
}

// Info returns store information
func (s *sqlStore) Info() StoreInfo {
	return s.info
}

// CreateSchema creates the five tables if they do not exist
func (s *sqlStore) CreateSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range s.dialect.schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

// ApplyConstraints adds the NOT NULL and foreign key constraints.
// It must run once, after a complete load.
func (s *sqlStore) ApplyConstraints(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin constraint transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.dialect.applyConstraints(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit constraints: %w", err)
	}
	return nil
}

// Begin opens a load transaction with its insert statements prepared
func (s *sqlStore) Begin(ctx context.Context) (Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &sqlTx{tx: tx, dateArg: s.dialect.dateArg}
	stmts := []struct {
		dst   **sqlx.Stmt
		query string
	}{
		{&t.product, insertProductSQL},
		{&t.similar, insertSimilarSQL},
		{&t.category, insertCategorySQL},
		{&t.membership, insertProductCategorySQL},
		{&t.review, insertReviewSQL},
	}
	for _, st := range stmts {
		prepared, err := tx.PreparexContext(ctx, tx.Rebind(st.query))
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("failed to prepare insert: %w", err)
		}
		*st.dst = prepared
	}

	return t, nil
}

// Query runs a read query and renders every value as text
func (s *sqlStore) Query(ctx context.Context, query string, args ...interface{}) (*models.Table, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	table := &models.Table{Columns: cols, Rows: [][]string{}}
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		table.Rows = append(table.Rows, row)
	}

	return table, rows.Err()
}

// CountMissingASIN counts product rows loaded without an ASIN
func (s *sqlStore) CountMissingASIN(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM product WHERE asin IS NULL`); err != nil {
		return 0, fmt.Errorf("failed to count missing ASINs: %w", err)
	}
	return n, nil
}

// TableCounts returns the row count of every table
func (s *sqlStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM "+table); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// sqlTx is a load transaction with prepared insert statements
type sqlTx struct {
	tx      *sqlx.Tx
	dateArg func(time.Time) interface{}

	product    *sqlx.Stmt
	similar    *sqlx.Stmt
	category   *sqlx.Stmt
	membership *sqlx.Stmt
	review     *sqlx.Stmt
}

// InsertRecord writes a product with its similar list, categories and reviews
func (t *sqlTx) InsertRecord(ctx context.Context, rec *models.Record) error {
	asin := nullString(rec.Product.ASIN)

	if _, err := t.product.ExecContext(ctx,
		asin,
		nullString(rec.Product.Title),
		nullString(rec.Product.GroupName),
		rec.SalesrankOrDefault(),
	); err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}

	for _, similar := range rec.Similar {
		if _, err := t.similar.ExecContext(ctx, asin, similar); err != nil {
			return fmt.Errorf("failed to insert similar product: %w", err)
		}
	}

	for _, c := range rec.Categories {
		if _, err := t.category.ExecContext(ctx, c.ID, c.Name); err != nil {
			return fmt.Errorf("failed to insert category %d: %w", c.ID, err)
		}
	}

	for _, id := range rec.CategoryIDs() {
		if _, err := t.membership.ExecContext(ctx, asin, id); err != nil {
			return fmt.Errorf("failed to insert product category %d: %w", id, err)
		}
	}

	for _, r := range rec.Reviews {
		if _, err := t.review.ExecContext(ctx,
			asin,
			t.dateArg(r.Time),
			r.UserID,
			r.Rating,
			r.TotalVotes,
			r.HelpfulnessVotes,
		); err != nil {
			return fmt.Errorf("failed to insert review: %w", err)
		}
	}

	return nil
}

// Commit commits the transaction
func (t *sqlTx) Commit() error {
	t.closeStatements()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction
func (t *sqlTx) Rollback() error {
	t.closeStatements()
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	return nil
}

func (t *sqlTx) closeStatements() {
	for _, st := range []*sqlx.Stmt{t.product, t.similar, t.category, t.membership, t.review} {
		if st != nil {
			st.Close()
		}
	}
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.Format("2006-01-02")
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}
