package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ha1tch/amzmeta/pkg/models"
)

const (
	// DefaultMaxLineSize bounds a single input line
	DefaultMaxLineSize = 16 * 1024 * 1024
	initialBufferSize  = 1024 * 1024
)

// LineError annotates a parse failure with its 1-based line number
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Option configures a Parser
type Option func(*Parser)

// WithMaxLineSize overrides DefaultMaxLineSize
func WithMaxLineSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.maxLineSize = n
		}
	}
}

// Parser reads product blocks from a stream, one record at a time.
// It is not safe for concurrent use.
type Parser struct {
	sc          *bufio.Scanner
	maxLineSize int

	current *models.Record
	lines   int
	done    bool
}

// New creates a parser reading from r
func New(r io.Reader, opts ...Option) *Parser {
	p := &Parser{
		maxLineSize: DefaultMaxLineSize,
		current:     &models.Record{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.sc = bufio.NewScanner(r)
	bufSize := initialBufferSize
	if bufSize > p.maxLineSize {
		bufSize = p.maxLineSize
	}
	p.sc.Buffer(make([]byte, 0, bufSize), p.maxLineSize)
	return p
}

// Lines returns the number of physical lines read so far
func (p *Parser) Lines() int {
	return p.lines
}

// Next returns the next finished record, or io.EOF once the stream and
// the final in-progress record are exhausted
func (p *Parser) Next() (*models.Record, error) {
	if p.done {
		return nil, io.EOF
	}

	for p.sc.Scan() {
		p.lines++
		line := strings.TrimSpace(strings.ToValidUTF8(p.sc.Text(), ""))
		if line == "" {
			continue
		}

		l, err := Classify(line)
		if err != nil {
			return nil, &LineError{Line: p.lines, Err: err}
		}

		if l.Kind == KindBoundary {
			finished := p.current
			p.current = &models.Record{ID: l.ID}
			if !finished.IsEmpty() {
				return finished, nil
			}
			continue
		}

		apply(p.current, l)
	}

	if err := p.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, &LineError{Line: p.lines + 1, Err: fmt.Errorf("line exceeds %d bytes: %w", p.maxLineSize, err)}
		}
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	p.done = true
	last := p.current
	p.current = nil
	if last.IsEmpty() {
		return nil, io.EOF
	}
	return last, nil
}

// apply folds a classified non-boundary line into rec
func apply(rec *models.Record, l Line) {
	switch l.Kind {
	case KindASIN:
		v := l.Text
		rec.Product.ASIN = &v
	case KindTitle:
		v := l.Text
		rec.Product.Title = &v
	case KindGroup:
		v := l.Text
		rec.Product.GroupName = &v
	case KindSalesrank:
		v := l.Int
		rec.Product.Salesrank = &v
	case KindSimilar:
		// A later similar line replaces the earlier list
		rec.Similar = l.Similar
		rec.SimilarDeclared = l.SimilarCount
	case KindCategory:
		for _, c := range l.Categories {
			rec.AddCategory(c)
		}
	case KindReview:
		rec.Reviews = append(rec.Reviews, l.Review)
	}
}

// ReadAll parses every record of r. Intended for tests and small inputs.
func ReadAll(r io.Reader, opts ...Option) ([]*models.Record, error) {
	p := New(r, opts...)
	var records []*models.Record
	for {
		rec, err := p.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
