// Package parser turns an Amazon metadata dump into product records.
//
// The dump is a sequence of blocks, one per product, each opened by an
// "Id:" line. Parsing happens in two layers: Classify maps one line to a
// Line value, and Parser folds classified lines into models.Record
// values, emitting one record per block.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ha1tch/amzmeta/pkg/models"
)

// ErrMalformed is returned for lines that match a known shape but carry
// values that cannot be stored (impossible dates, overflowing integers)
var ErrMalformed = errors.New("malformed line")

// Kind identifies what a line contributes to a block
type Kind int

const (
	KindUnrecognized Kind = iota
	KindBoundary
	KindASIN
	KindTitle
	KindGroup
	KindSalesrank
	KindSimilar
	KindCategory
	KindReview
)

var kindNames = map[Kind]string{
	KindUnrecognized: "unrecognized",
	KindBoundary:     "boundary",
	KindASIN:         "asin",
	KindTitle:        "title",
	KindGroup:        "group",
	KindSalesrank:    "salesrank",
	KindSimilar:      "similar",
	KindCategory:     "category",
	KindReview:       "review",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Line is a classified input line. Only the payload fields belonging to
// Kind are set.
type Line struct {
	Kind Kind

	// ID is the block id of a boundary line; nil when the id is unreadable
	ID *int64
	// Text carries ASIN, title and group values
	Text string
	// Int carries the sales rank
	Int int64
	// Similar carries the listed ASINs; SimilarCount the declared count
	Similar      []string
	SimilarCount int
	Categories   []models.Category
	Review       models.Review
}

// ReviewDateLayout is the layout of review dates in the dump (no padding)
const ReviewDateLayout = "2006-1-2"

var (
	idPattern        = regexp.MustCompile(`^Id:\s+(\d+)`)
	asinPattern      = regexp.MustCompile(`^ASIN:\s+(\S+)`)
	titlePattern     = regexp.MustCompile(`^title:\s+(.+)`)
	groupPattern     = regexp.MustCompile(`^group:\s+(.+)`)
	salesrankPattern = regexp.MustCompile(`^salesrank:\s+(\d+)`)
	similarPattern   = regexp.MustCompile(`^similar:\s+(\d+)(?:\s+(.*))?$`)
	categoryPattern  = regexp.MustCompile(`\|([^\[]+)\[(\d+)\]`)
	reviewPattern    = regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2})\s+cutomer:\s+(\S+)\s+rating:\s+(\d+)\s+votes:\s+(\d+)\s+helpful:\s+(\d+)`)
)

// Classify maps one trimmed line to its Line. Lines that match nothing
// are KindUnrecognized with a nil error.
func Classify(line string) (Line, error) {
	switch {
	case strings.HasPrefix(line, "Id: "):
		return classifyBoundary(line)
	case strings.HasPrefix(line, "ASIN:"):
		return classifyText(line, asinPattern, KindASIN)
	case strings.HasPrefix(line, "title:"):
		return classifyText(line, titlePattern, KindTitle)
	case strings.HasPrefix(line, "group:"):
		return classifyText(line, groupPattern, KindGroup)
	case strings.HasPrefix(line, "salesrank:"):
		return classifySalesrank(line)
	case strings.HasPrefix(line, "similar:"):
		return classifySimilar(line)
	case strings.HasPrefix(line, "|"):
		return classifyCategory(line)
	}
	return classifyReview(line)
}

func classifyBoundary(line string) (Line, error) {
	l := Line{Kind: KindBoundary}
	m := idPattern.FindStringSubmatch(line)
	if m == nil {
		return l, nil
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		// Ids are never stored; an oversized one still opens a block
		if errors.Is(err, strconv.ErrRange) {
			return l, nil
		}
		return Line{}, fmt.Errorf("%w: id %q: %v", ErrMalformed, m[1], err)
	}
	l.ID = &id
	return l, nil
}

func classifyText(line string, re *regexp.Regexp, kind Kind) (Line, error) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return Line{Kind: KindUnrecognized}, nil
	}
	return Line{Kind: kind, Text: m[1]}, nil
}

func classifySalesrank(line string) (Line, error) {
	m := salesrankPattern.FindStringSubmatch(line)
	if m == nil {
		return Line{Kind: KindUnrecognized}, nil
	}
	rank, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Line{}, fmt.Errorf("%w: salesrank %q: %v", ErrMalformed, m[1], err)
	}
	return Line{Kind: KindSalesrank, Int: rank}, nil
}

func classifySimilar(line string) (Line, error) {
	m := similarPattern.FindStringSubmatch(line)
	if m == nil {
		return Line{Kind: KindUnrecognized}, nil
	}
	count, err := strconv.Atoi(m[1])
	if err != nil {
		return Line{}, fmt.Errorf("%w: similar count %q: %v", ErrMalformed, m[1], err)
	}
	return Line{
		Kind:         KindSimilar,
		SimilarCount: count,
		Similar:      strings.Fields(m[2]),
	}, nil
}

func classifyCategory(line string) (Line, error) {
	matches := categoryPattern.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return Line{Kind: KindUnrecognized}, nil
	}

	cats := make([]models.Category, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return Line{}, fmt.Errorf("%w: category id %q: %v", ErrMalformed, m[2], err)
		}
		cats = append(cats, models.Category{ID: id, Name: strings.TrimSpace(m[1])})
	}
	return Line{Kind: KindCategory, Categories: cats}, nil
}

func classifyReview(line string) (Line, error) {
	m := reviewPattern.FindStringSubmatch(line)
	if m == nil {
		return Line{Kind: KindUnrecognized}, nil
	}

	when, err := time.Parse(ReviewDateLayout, m[1])
	if err != nil {
		return Line{}, fmt.Errorf("%w: review date %q: %v", ErrMalformed, m[1], err)
	}

	var nums [3]int64
	for i, raw := range m[3:6] {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Line{}, fmt.Errorf("%w: review field %q: %v", ErrMalformed, raw, err)
		}
		nums[i] = n
	}

	return Line{
		Kind: KindReview,
		Review: models.Review{
			Time:             when,
			UserID:           m[2],
			Rating:           nums[0],
			TotalVotes:       nums[1],
			HelpfulnessVotes: nums[2],
		},
	}, nil
}
