package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/jmoiron/sqlx"
)

const (
	defaultPostgresDSN = "postgres://localhost/amzmeta?sslmode=disable"

	pgNotNullViolation    = "23502"
	pgForeignKeyViolation = "23503"
	pgDuplicateObject     = "42710"
)

// PostgresConfig holds Postgres-specific configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS "product" (
		"asin" VARCHAR(10),
		"title" VARCHAR(2000),
		"group_name" VARCHAR(2000),
		"salesrank" INTEGER,
		PRIMARY KEY ("asin")
	)`,
	`CREATE TABLE IF NOT EXISTS "similar_product" (
		"product_asin" VARCHAR(10),
		"similar_asin" VARCHAR(10)
	)`,
	`CREATE TABLE IF NOT EXISTS "category" (
		"category_id" INTEGER,
		"category_name" VARCHAR(500),
		PRIMARY KEY ("category_id")
	)`,
	`CREATE TABLE IF NOT EXISTS "product_category" (
		"product_asin" VARCHAR(10),
		"category_id" INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS "product_review" (
		"product_asin" VARCHAR(10),
		"time" DATE,
		"user_id" VARCHAR(100),
		"rating" INTEGER,
		"total_votes" INTEGER,
		"helpfulness_votes" INTEGER
	)`,
}

var postgresConstraints = []string{
	`ALTER TABLE "product" ALTER COLUMN "asin" SET NOT NULL`,
	`ALTER TABLE "product" ALTER COLUMN "salesrank" SET NOT NULL`,
	`ALTER TABLE "category" ALTER COLUMN "category_id" SET NOT NULL`,
	`ALTER TABLE "category" ALTER COLUMN "category_name" SET NOT NULL`,
	`ALTER TABLE "product_review" ALTER COLUMN "time" SET NOT NULL`,
	`ALTER TABLE "product_review" ALTER COLUMN "user_id" SET NOT NULL`,
	`ALTER TABLE "product_review" ALTER COLUMN "rating" SET NOT NULL`,
	`ALTER TABLE "product_review" ALTER COLUMN "total_votes" SET NOT NULL`,
	`ALTER TABLE "product_review" ALTER COLUMN "helpfulness_votes" SET NOT NULL`,
	`ALTER TABLE "similar_product"
		ADD CONSTRAINT "fk_similar_prod" FOREIGN KEY ("product_asin") REFERENCES "product" ("asin")`,
	`ALTER TABLE "product_category"
		ADD CONSTRAINT "fk_categ_prod" FOREIGN KEY ("product_asin") REFERENCES "product" ("asin")`,
	`ALTER TABLE "product_category"
		ADD CONSTRAINT "fk_categ_id" FOREIGN KEY ("category_id") REFERENCES "category" ("category_id")`,
	`ALTER TABLE "product_review"
		ADD CONSTRAINT "fk_review_asin" FOREIGN KEY ("product_asin") REFERENCES "product" ("asin")`,
}

// NewPostgresStore connects to Postgres through the pgx stdlib driver
func NewPostgresStore(ctx context.Context, config PostgresConfig) (Store, error) {
	if config.DSN == "" {
		config.DSN = defaultPostgresDSN
	}

	db, err := sqlx.Open("pgx", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &sqlStore{
		db: db,
		dialect: dialect{
			name:             "postgres",
			schema:           postgresSchema,
			applyConstraints: postgresApplyConstraints,
			dateArg: func(t time.Time) interface{} {
				return t
			},
		},
		info: StoreInfo{
			Type:    "postgres",
			Version: "1.0.0",
			DSN:     RedactDSN(config.DSN),
		},
	}, nil
}

func postgresApplyConstraints(ctx context.Context, tx *sqlx.Tx) error {
	for _, stmt := range postgresConstraints {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				switch pgErr.Code {
				case pgNotNullViolation, pgForeignKeyViolation:
					return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.Message)
				case pgDuplicateObject:
					return fmt.Errorf("%w: %s", ErrConstraintsApplied, pgErr.Message)
				}
			}
			return fmt.Errorf("failed to apply constraint: %w", err)
		}
	}
	return nil
}

// keywordPassword matches password=value in a keyword/value DSN, quoted or bare
var keywordPassword = regexp.MustCompile(`(?i)(\bpassword\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)

// RedactDSN masks the password in a URL or keyword/value DSN
func RedactDSN(dsn string) string {
	if !strings.Contains(dsn, "://") {
		return keywordPassword.ReplaceAllString(dsn, "${1}xxxxx")
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return keywordPassword.ReplaceAllString(dsn, "${1}xxxxx")
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
	}
	if q := u.Query(); q.Has("password") {
		q.Set("password", "xxxxx")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
