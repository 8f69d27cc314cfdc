package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"modernc.org/sqlite" // Pure Go SQLite driver
)

// sqliteConstraintCode is the primary result code of constraint failures
const sqliteConstraintCode = 19

// SQLiteConfig holds SQLite-specific configuration
type SQLiteConfig struct {
	DBPath      string
	EnableWAL   bool // Write-Ahead Logging
	CacheSize   int  // Page cache size in KB
	BusyTimeout int  // Milliseconds to wait on locked database
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS product (
		asin VARCHAR(10),
		title VARCHAR(2000),
		group_name VARCHAR(2000),
		salesrank INTEGER,
		PRIMARY KEY (asin)
	)`,
	`CREATE TABLE IF NOT EXISTS similar_product (
		product_asin VARCHAR(10),
		similar_asin VARCHAR(10)
	)`,
	`CREATE TABLE IF NOT EXISTS category (
		category_id INTEGER,
		category_name VARCHAR(500),
		PRIMARY KEY (category_id)
	)`,
	`CREATE TABLE IF NOT EXISTS product_category (
		product_asin VARCHAR(10),
		category_id INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS product_review (
		product_asin VARCHAR(10),
		time DATE,
		user_id VARCHAR(100),
		rating INTEGER,
		total_votes INTEGER,
		helpfulness_votes INTEGER
	)`,
}

// sqliteRebuild describes how one table is recreated with its constraints.
// SQLite cannot add constraints to an existing table, so the table is
// copied into a constrained twin that then takes its name.
type sqliteRebuild struct {
	table   string
	create  string
	columns string
}

// Order matters: parents are rebuilt before the children referencing them.
var sqliteRebuilds = []sqliteRebuild{
	{
		table: TableProduct,
		create: `CREATE TABLE product__new (
			asin VARCHAR(10) NOT NULL,
			title VARCHAR(2000),
			group_name VARCHAR(2000),
			salesrank INTEGER NOT NULL,
			PRIMARY KEY (asin)
		)`,
		columns: "asin, title, group_name, salesrank",
	},
	{
		table: TableCategory,
		create: `CREATE TABLE category__new (
			category_id INTEGER NOT NULL,
			category_name VARCHAR(500) NOT NULL,
			PRIMARY KEY (category_id)
		)`,
		columns: "category_id, category_name",
	},
	{
		table: TableSimilarProduct,
		create: `CREATE TABLE similar_product__new (
			product_asin VARCHAR(10),
			similar_asin VARCHAR(10),
			CONSTRAINT fk_similar_prod FOREIGN KEY (product_asin) REFERENCES product (asin)
		)`,
		columns: "product_asin, similar_asin",
	},
	{
		table: TableProductCategory,
		create: `CREATE TABLE product_category__new (
			product_asin VARCHAR(10),
			category_id INTEGER,
			CONSTRAINT fk_categ_prod FOREIGN KEY (product_asin) REFERENCES product (asin),
			CONSTRAINT fk_categ_id FOREIGN KEY (category_id) REFERENCES category (category_id)
		)`,
		columns: "product_asin, category_id",
	},
	{
		table: TableProductReview,
		create: `CREATE TABLE product_review__new (
			product_asin VARCHAR(10),
			time DATE NOT NULL,
			user_id VARCHAR(100) NOT NULL,
			rating INTEGER NOT NULL,
			total_votes INTEGER NOT NULL,
			helpfulness_votes INTEGER NOT NULL,
			CONSTRAINT fk_review_asin FOREIGN KEY (product_asin) REFERENCES product (asin)
		)`,
		columns: "product_asin, time, user_id, rating, total_votes, helpfulness_votes",
	},
}

// NewSQLiteStore creates a new SQLite-based storage
func NewSQLiteStore(config SQLiteConfig) (Store, error) {
	if config.DBPath == "" {
		config.DBPath = "amzmeta.db"
	}

	db, err := sqlx.Open("sqlite", sqliteDSN(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: the loader owns it for its lifetime
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &sqlStore{
		db: db,
		dialect: dialect{
			name:             "sqlite",
			schema:           sqliteSchema,
			applyConstraints: sqliteApplyConstraints,
			dateArg: func(t time.Time) interface{} {
				return t.Format("2006-01-02")
			},
		},
		info: StoreInfo{
			Type:    "sqlite",
			Version: "1.0.0",
			DSN:     config.DBPath,
		},
	}, nil
}

// sqliteDSN builds a file URI whose pragmas apply to every connection
func sqliteDSN(config SQLiteConfig) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", config.BusyTimeout))
	q.Add("_pragma", fmt.Sprintf("cache_size(-%d)", config.CacheSize))
	q.Add("_pragma", "synchronous(NORMAL)")
	if config.EnableWAL {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + config.DBPath + "?" + q.Encode()
}

func sqliteApplyConstraints(ctx context.Context, tx *sqlx.Tx) error {
	var existing int
	if err := tx.GetContext(ctx, &existing,
		`SELECT COUNT(*) FROM pragma_foreign_key_list('similar_product')`); err != nil {
		return fmt.Errorf("failed to inspect constraints: %w", err)
	}
	if existing > 0 {
		return ErrConstraintsApplied
	}

	for _, r := range sqliteRebuilds {
		steps := []string{
			r.create,
			fmt.Sprintf("INSERT INTO %s__new (%s) SELECT %s FROM %s", r.table, r.columns, r.columns, r.table),
			fmt.Sprintf("DROP TABLE %s", r.table),
			fmt.Sprintf("ALTER TABLE %s__new RENAME TO %s", r.table, r.table),
		}
		for _, step := range steps {
			if _, err := tx.ExecContext(ctx, step); err != nil {
				if isSQLiteConstraint(err) {
					return fmt.Errorf("%w: %s: %v", ErrConstraintViolation, r.table, err)
				}
				return fmt.Errorf("failed to constrain %s: %w", r.table, err)
			}
		}
	}

	return nil
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqliteConstraintCode
	}
	return false
}
