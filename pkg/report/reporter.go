package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ha1tch/amzmeta/pkg/cache"
	"github.com/ha1tch/amzmeta/pkg/models"
	"github.com/ha1tch/amzmeta/pkg/storage"
	"github.com/ha1tch/amzmeta/pkg/validation"
)

// CachePrefix prefixes every cached report key
const CachePrefix = "report:"

// Result is a report outcome
type Result struct {
	Query  Query
	ASIN   string
	Table  *models.Table
	Cached bool
}

// Reporter runs catalogue queries against a store, memoizing results
type Reporter struct {
	store  storage.Store
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewReporter creates a reporter. A nil cache disables caching.
func NewReporter(store storage.Store, c cache.Cache, ttl time.Duration, logger zerolog.Logger) *Reporter {
	if c == nil {
		c = cache.Noop{}
	}
	return &Reporter{
		store:  store,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

// Run executes query id, binding asin when the query is ASIN-scoped
func (r *Reporter) Run(ctx context.Context, id int, asin string) (*Result, error) {
	q, err := Lookup(id)
	if err != nil {
		return nil, err
	}

	asin = strings.TrimSpace(asin)
	if q.NeedsASIN {
		if err := validation.ValidateASIN(asin); err != nil {
			return nil, err
		}
	} else {
		asin = ""
	}

	key := cacheKey(q.ID, asin)
	if data, err := r.cache.Get(ctx, key); err == nil {
		var table models.Table
		if err := json.Unmarshal(data, &table); err == nil {
			r.logger.Debug().Str("key", key).Msg("Report cache hit")
			return &Result{Query: q, ASIN: asin, Table: &table, Cached: true}, nil
		}
		r.logger.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		r.logger.Warn().Err(err).Str("key", key).Msg("Cache lookup failed")
	}

	start := time.Now()
	table, err := r.store.Query(ctx, q.SQL, q.Args(asin)...)
	if err != nil {
		return nil, fmt.Errorf("failed to run query %d: %w", q.ID, err)
	}
	r.logger.Debug().
		Int("query", q.ID).
		Str("asin", asin).
		Int("rows", table.Len()).
		Dur("took", time.Since(start)).
		Msg("Report executed")

	if data, err := json.Marshal(table); err == nil {
		if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("Cache store failed")
		}
	}

	return &Result{Query: q, ASIN: asin, Table: table}, nil
}

// Invalidate drops every cached report, typically after a reload
func (r *Reporter) Invalidate(ctx context.Context) error {
	return r.cache.DeletePattern(ctx, CachePrefix)
}

func cacheKey(id int, asin string) string {
	return fmt.Sprintf("%sq%d:%s", CachePrefix, id, asin)
}
