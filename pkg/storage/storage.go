package storage

import (
	"context"
	"errors"

	"github.com/ha1tch/amzmeta/pkg/models"
)

var (
	// ErrConstraintsApplied is returned when constraints were already tightened
	ErrConstraintsApplied = errors.New("constraints already applied")
	// ErrConstraintViolation is returned when loaded rows violate a constraint being applied
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrUnknownStore is returned by NewStore for unregistered store types
	ErrUnknownStore = errors.New("unknown store type")
)

// Table names, in creation order
const (
	TableProduct         = "product"
	TableSimilarProduct  = "similar_product"
	TableCategory        = "category"
	TableProductCategory = "product_category"
	TableProductReview   = "product_review"
)

// Tables lists every table of the schema in creation order
var Tables = []string{
	TableProduct,
	TableSimilarProduct,
	TableCategory,
	TableProductCategory,
	TableProductReview,
}

// Store defines the relational backend the loader and reports run against
type Store interface {
	// Schema lifecycle
	CreateSchema(ctx context.Context) error
	ApplyConstraints(ctx context.Context) error

	// Loading
	Begin(ctx context.Context) (Transaction, error)

	// Read path
	Query(ctx context.Context, query string, args ...interface{}) (*models.Table, error)
	CountMissingASIN(ctx context.Context) (int64, error)
	TableCounts(ctx context.Context) (map[string]int64, error)

	// Lifecycle
	Close() error
}

// Transaction is an open load transaction
type Transaction interface {
	InsertRecord(ctx context.Context, rec *models.Record) error
	Commit() error
	Rollback() error
}

// StoreInfo provides metadata about the store implementation
type StoreInfo struct {
	Type    string // "sqlite" or "postgres"
	Version string
	DSN     string // connection target with credentials removed
}

// InfoProvider allows stores to provide metadata about their capabilities
type InfoProvider interface {
	Info() StoreInfo
}
