// Package loader streams parsed product records into a Store in
// fixed-size transactional batches.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ha1tch/amzmeta/pkg/models"
	"github.com/ha1tch/amzmeta/pkg/parser"
	"github.com/ha1tch/amzmeta/pkg/storage"
	"github.com/ha1tch/amzmeta/pkg/validation"
)

const (
	// BatchSize is the number of records committed per transaction
	BatchSize = 1000
	// DefaultQueueSize bounds how far parsing may run ahead of insertion
	DefaultQueueSize = 64
)

// ErrDataQuality is returned when the load finished but produced rows
// that cannot satisfy the final constraints
var ErrDataQuality = errors.New("data quality check failed")

// Progress is reported after every committed full batch
type Progress struct {
	Count   int64
	Elapsed time.Duration
}

// Stats summarizes a load
type Stats struct {
	Records     int64
	Commits     int
	Lines       int
	MissingASIN int64
	Issues      int64
	Elapsed     time.Duration
}

// Option configures a Loader
type Option func(*Loader)

// WithBatchSize overrides BatchSize
func WithBatchSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithQueueSize overrides DefaultQueueSize
func WithQueueSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

// WithProgress registers a callback invoked after each full batch commit
func WithProgress(fn func(Progress)) Option {
	return func(l *Loader) {
		l.progress = fn
	}
}

// WithParserOptions passes options through to the parser
func WithParserOptions(opts ...parser.Option) Option {
	return func(l *Loader) {
		l.parserOpts = append(l.parserOpts, opts...)
	}
}

// Loader inserts records into a store
type Loader struct {
	store      storage.Store
	logger     zerolog.Logger
	batchSize  int
	queueSize  int
	progress   func(Progress)
	parserOpts []parser.Option
}

// New creates a loader writing to store
func New(store storage.Store, logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		store:     store,
		logger:    logger,
		batchSize: BatchSize,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Populate parses r and inserts every record. Parsing runs in its own
// goroutine; insertion stays sequential in source order.
func (l *Loader) Populate(ctx context.Context, r io.Reader) (Stats, error) {
	var stats Stats
	start := time.Now()

	p := parser.New(r, l.parserOpts...)
	records := make(chan *models.Record, l.queueSize)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			rec, err := p.Next()
			if err == io.EOF {
				close(records)
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to parse input: %w", err)
			}

			select {
			case records <- rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		return l.insert(gctx, records, start, &stats)
	})

	err := g.Wait()
	stats.Lines = p.Lines()
	stats.Elapsed = time.Since(start)
	if err != nil {
		return stats, err
	}

	l.logger.Info().
		Int64("count", stats.Records).
		Float64("elapsed_s", stats.Elapsed.Seconds()).
		Msgf("Finished processing %d products in %.2f seconds", stats.Records, stats.Elapsed.Seconds())

	if stats.MissingASIN > 0 {
		stored, err := l.store.CountMissingASIN(ctx)
		if err != nil {
			return stats, err
		}
		l.logger.Warn().
			Int64("records", stats.MissingASIN).
			Int64("rows", stored).
			Msg("Products loaded without ASIN")
		return stats, fmt.Errorf("%w: %d products without ASIN", ErrDataQuality, stats.MissingASIN)
	}

	return stats, nil
}

// insert drains records into batched transactions. The producer only
// closes records after a clean end of input, so a closed channel means
// the final partial batch is safe to commit.
func (l *Loader) insert(ctx context.Context, records <-chan *models.Record, start time.Time, stats *Stats) error {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	pending := 0
	for {
		var rec *models.Record
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-records:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				err := tx.Commit()
				tx = nil
				if err != nil {
					return err
				}
				stats.Commits++
				return nil
			}
			rec = r
		}

		if err := tx.InsertRecord(ctx, rec); err != nil {
			if rec.Product.ASIN == nil {
				return fmt.Errorf("%w: record %d has no ASIN: %v", ErrDataQuality, stats.Records+1, err)
			}
			return fmt.Errorf("failed to insert record %d (%s): %w", stats.Records+1, *rec.Product.ASIN, err)
		}
		stats.Records++

		if issues := validation.InspectRecord(rec); len(issues) > 0 {
			stats.Issues += int64(len(issues))
			if validation.HasMissingASIN(issues) {
				stats.MissingASIN++
			}
			if e := l.logger.Debug(); e.Enabled() {
				msgs := make([]string, len(issues))
				for i, issue := range issues {
					msgs[i] = issue.String()
				}
				e.Int64("record", stats.Records).Strs("issues", msgs).Msg("Record has data issues")
			}
		}

		pending++
		if pending < l.batchSize {
			continue
		}

		err := tx.Commit()
		tx = nil
		if err != nil {
			return err
		}
		stats.Commits++
		pending = 0

		elapsed := time.Since(start)
		l.logger.Info().
			Int64("count", stats.Records).
			Float64("elapsed_s", elapsed.Seconds()).
			Msgf("Processed %d products in %.2f seconds", stats.Records, elapsed.Seconds())
		if l.progress != nil {
			l.progress(Progress{Count: stats.Records, Elapsed: elapsed})
		}

		if tx, err = l.store.Begin(ctx); err != nil {
			return err
		}
	}
}

// RunOptions controls the full load pipeline
type RunOptions struct {
	SkipConstraints bool
}

// Run creates the schema, loads r and applies the constraints
func Run(ctx context.Context, l *Loader, r io.Reader, opts RunOptions) (Stats, error) {
	if err := l.store.CreateSchema(ctx); err != nil {
		return Stats{}, err
	}
	l.logger.Info().Msg("Schema ready")

	stats, err := l.Populate(ctx, r)
	if err != nil {
		return stats, err
	}

	if opts.SkipConstraints {
		l.logger.Info().Msg("Skipping constraints")
		return stats, nil
	}

	if err := l.store.ApplyConstraints(ctx); err != nil {
		return stats, err
	}
	l.logger.Info().Msg("Constraints applied")

	return stats, nil
}
