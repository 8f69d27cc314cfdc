package loader_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ha1tch/amzmeta/pkg/loader"
	"github.com/ha1tch/amzmeta/pkg/models"
	"github.com/ha1tch/amzmeta/pkg/parser"
	"github.com/ha1tch/amzmeta/pkg/storage"
)

// fakeStore records what the loader does without a database
type fakeStore struct {
	inserted    []*models.Record
	pending     []*models.Record
	begins      int
	commits     int
	rollbacks   int
	failOn      string
	constrained bool
}

type fakeTx struct {
	s    *fakeStore
	done bool
}

func (s *fakeStore) CreateSchema(ctx context.Context) error { return nil }

func (s *fakeStore) ApplyConstraints(ctx context.Context) error {
	if s.constrained {
		return storage.ErrConstraintsApplied
	}
	s.constrained = true
	return nil
}

func (s *fakeStore) Begin(ctx context.Context) (storage.Transaction, error) {
	s.begins++
	return &fakeTx{s: s}, nil
}

func (s *fakeStore) Query(ctx context.Context, query string, args ...interface{}) (*models.Table, error) {
	return &models.Table{}, nil
}

func (s *fakeStore) CountMissingASIN(ctx context.Context) (int64, error) {
	var n int64
	for _, rec := range s.inserted {
		if rec.Product.ASIN == nil {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) TableCounts(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{storage.TableProduct: int64(len(s.inserted))}, nil
}

func (s *fakeStore) Close() error { return nil }

func (t *fakeTx) InsertRecord(ctx context.Context, rec *models.Record) error {
	if rec.Product.ASIN != nil && *rec.Product.ASIN == t.s.failOn {
		return errors.New("insert refused")
	}
	t.s.pending = append(t.s.pending, rec)
	return nil
}

func (t *fakeTx) Commit() error {
	t.done = true
	t.s.commits++
	t.s.inserted = append(t.s.inserted, t.s.pending...)
	t.s.pending = nil
	return nil
}

func (t *fakeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.rollbacks++
	t.s.pending = nil
	return nil
}

// generate writes n minimal product blocks
func generate(n int) string {
	var b strings.Builder
	b.WriteString("# Full information about Amazon Share the Love products\nTotal items: 0\n\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "Id:   %d\nASIN: %010d\n  title: Product %d\n  group: Book\n  salesrank: %d\n\n", i, i, i, i+1)
	}
	return b.String()
}

func TestPopulate_BatchCommits(t *testing.T) {
	tests := []struct {
		name      string
		records   int
		batchSize int
		commits   int
		progress  int
	}{
		{"empty input", 0, 1000, 1, 0},
		{"partial batch", 3, 1000, 1, 0},
		{"exact multiple", 2000, 1000, 3, 2},
		{"remainder", 2500, 1000, 3, 2},
		{"small batches", 10, 3, 4, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			var events []loader.Progress

			l := loader.New(store, zerolog.Nop(),
				loader.WithBatchSize(tt.batchSize),
				loader.WithProgress(func(p loader.Progress) { events = append(events, p) }),
			)

			stats, err := l.Populate(context.Background(), strings.NewReader(generate(tt.records)))
			require.NoError(t, err)

			assert.Equal(t, int64(tt.records), stats.Records)
			assert.Equal(t, tt.commits, stats.Commits)
			assert.Equal(t, tt.commits, store.commits)
			assert.Len(t, events, tt.progress)
			assert.Len(t, store.inserted, tt.records)

			for i, p := range events {
				assert.Equal(t, int64((i+1)*tt.batchSize), p.Count)
			}
		})
	}
}

func TestPopulate_PreservesSourceOrder(t *testing.T) {
	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop(), loader.WithBatchSize(7), loader.WithQueueSize(1))

	_, err := l.Populate(context.Background(), strings.NewReader(generate(50)))
	require.NoError(t, err)

	require.Len(t, store.inserted, 50)
	for i, rec := range store.inserted {
		assert.Equal(t, fmt.Sprintf("%010d", i), *rec.Product.ASIN)
	}
}

func TestPopulate_CountsLines(t *testing.T) {
	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop())

	stats, err := l.Populate(context.Background(), strings.NewReader(generate(2)))
	require.NoError(t, err)
	assert.Equal(t, 3+2*6, stats.Lines)
}

func TestPopulate_ParseErrorRollsBack(t *testing.T) {
	input := generate(5) + "Id: 99\nASIN: BAD\n  reviews: total: 1  downloaded: 1  avg rating: 5\n" +
		"    2000-13-40  cutomer: X  rating: 5  votes: 1  helpful: 1\n"

	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop(), loader.WithBatchSize(2))

	stats, err := l.Populate(context.Background(), strings.NewReader(input))
	require.Error(t, err)
	assert.ErrorIs(t, err, parser.ErrMalformed)

	var lineErr *parser.LineError
	require.True(t, errors.As(err, &lineErr))

	// Only full batches may be committed; the open one is discarded.
	// How many made it depends on how far insertion got before the parse failed.
	assert.LessOrEqual(t, store.commits, 2)
	assert.Len(t, store.inserted, 2*store.commits)
	assert.Equal(t, 1, store.rollbacks)
	assert.Empty(t, store.pending)
	assert.LessOrEqual(t, stats.Records, int64(5))
}

func TestPopulate_InsertErrorRollsBack(t *testing.T) {
	store := &fakeStore{failOn: fmt.Sprintf("%010d", 3)}
	l := loader.New(store, zerolog.Nop(), loader.WithBatchSize(2))

	_, err := l.Populate(context.Background(), strings.NewReader(generate(10)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 4")

	assert.Equal(t, 1, store.commits)
	assert.Len(t, store.inserted, 2)
	assert.Equal(t, 1, store.rollbacks)
}

func TestPopulate_MissingASIN(t *testing.T) {
	input := "Id: 0\n  title: orphan\n  salesrank: 4\n\n" + generate(2)

	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop())

	stats, err := l.Populate(context.Background(), strings.NewReader(input))
	assert.ErrorIs(t, err, loader.ErrDataQuality)
	assert.Equal(t, int64(1), stats.MissingASIN)
	assert.Equal(t, int64(3), stats.Records)

	// The rows are still committed
	assert.Len(t, store.inserted, 3)
}

func TestPopulate_Canceled(t *testing.T) {
	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Populate(ctx, strings.NewReader(generate(100)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.inserted)
}

func TestPopulate_ReaderError(t *testing.T) {
	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop())

	r := io.MultiReader(strings.NewReader(generate(3)), &failingReader{})
	_, err := l.Populate(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Empty(t, store.inserted)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestRun_AppliesConstraints(t *testing.T) {
	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop())

	_, err := loader.Run(context.Background(), l, strings.NewReader(generate(3)), loader.RunOptions{})
	require.NoError(t, err)
	assert.True(t, store.constrained)
}

func TestRun_SkipConstraints(t *testing.T) {
	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop())

	_, err := loader.Run(context.Background(), l, strings.NewReader(generate(3)), loader.RunOptions{SkipConstraints: true})
	require.NoError(t, err)
	assert.False(t, store.constrained)
}

func TestRun_NoConstraintsAfterDataQualityFailure(t *testing.T) {
	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop())

	_, err := loader.Run(context.Background(), l, strings.NewReader("Id: 0\n  salesrank: 1\n"), loader.RunOptions{})
	assert.ErrorIs(t, err, loader.ErrDataQuality)
	assert.False(t, store.constrained)
}

// =============================================================================
// SQLite end to end
// =============================================================================

const roundTripBlock = `Id:   0
ASIN: 0001
  title: Widget
  group: Tool
  salesrank: 100
  similar: 2  0002  0003
  categories: 1
   |Hardware[10]|Tools[20]
  reviews: total: 1  downloaded: 1  avg rating: 5
    2001-1-1  cutomer: u1  rating: 5  votes: 10  helpful: 8
`

func setupSQLiteLoader(t *testing.T) (storage.Store, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "amzmeta-loader-*.db")
	require.NoError(t, err)
	tmpFile.Close()

	dbPath := tmpFile.Name()
	store, err := storage.NewStore("sqlite", map[string]interface{}{"db_path": dbPath})
	require.NoError(t, err)

	cleanup := func() {
		store.Close()
		os.Remove(dbPath)
		os.Remove(dbPath + "-wal")
		os.Remove(dbPath + "-shm")
	}
	return store, cleanup
}

func TestRun_SQLiteRoundTrip(t *testing.T) {
	store, cleanup := setupSQLiteLoader(t)
	defer cleanup()

	ctx := context.Background()
	l := loader.New(store, zerolog.Nop())

	stats, err := loader.Run(ctx, l, strings.NewReader(roundTripBlock), loader.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Records)
	assert.Equal(t, 1, stats.Commits)

	counts, err := store.TableCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		storage.TableProduct:         1,
		storage.TableSimilarProduct:  2,
		// One category line, but |Hardware[10]|Tools[20] carries two ids; each gets its own row
		storage.TableCategory:        2,
		storage.TableProductCategory: 2,
		storage.TableProductReview:   1,
	}, counts)

	// Reloading into a constrained store is still possible; products are not duplicated
	_, err = l.Populate(ctx, strings.NewReader(roundTripBlock))
	require.NoError(t, err)

	assert.ErrorIs(t, store.ApplyConstraints(ctx), storage.ErrConstraintsApplied)

	products, err := store.Query(ctx, "SELECT COUNT(*) FROM product")
	require.NoError(t, err)
	assert.Equal(t, "1", products.Rows[0][0])
}

func TestRun_SQLiteMissingASIN(t *testing.T) {
	store, cleanup := setupSQLiteLoader(t)
	defer cleanup()

	ctx := context.Background()
	l := loader.New(store, zerolog.Nop())

	_, err := loader.Run(ctx, l, strings.NewReader("Id: 0\n  title: nothing\n\n"+roundTripBlock), loader.RunOptions{})
	assert.ErrorIs(t, err, loader.ErrDataQuality)

	missing, err := store.CountMissingASIN(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), missing)

	// Constraints were left off; applying them now reports the bad row
	assert.ErrorIs(t, store.ApplyConstraints(ctx), storage.ErrConstraintViolation)
}

func TestPopulate_CountsIssues(t *testing.T) {
	input := "Id: 0\nASIN: X1\n  similar: 3  A  B\n\nId: 1\nASIN: X2\n  similar: 1  C\n"

	store := &fakeStore{}
	l := loader.New(store, zerolog.Nop())

	stats, err := l.Populate(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Issues)
	assert.Zero(t, stats.MissingASIN)
}
