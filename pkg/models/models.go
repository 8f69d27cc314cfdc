package models

import (
	"time"
)

// Product is one row of the product table
type Product struct {
	ASIN      *string `json:"asin" db:"asin"`
	Title     *string `json:"title,omitempty" db:"title"`
	GroupName *string `json:"group_name,omitempty" db:"group_name"`
	Salesrank *int64  `json:"salesrank,omitempty" db:"salesrank"`
}

// Category is a taxonomy id paired with the path segment naming it
type Category struct {
	ID   int64  `json:"category_id" db:"category_id"`
	Name string `json:"category_name" db:"category_name"`
}

// Review is one customer review line
type Review struct {
	Time             time.Time `json:"time" db:"time"`
	UserID           string    `json:"user_id" db:"user_id"`
	Rating           int64     `json:"rating" db:"rating"`
	TotalVotes       int64     `json:"total_votes" db:"total_votes"`
	HelpfulnessVotes int64     `json:"helpfulness_votes" db:"helpfulness_votes"`
}

// Record is a fully parsed product block, ready for insertion.
// Fields stay nil until the block supplies them.
type Record struct {
	ID              *int64
	Product         Product
	Similar         []string
	SimilarDeclared int
	Categories      []Category
	Reviews         []Review
}

// IsEmpty reports whether nothing has been accumulated into the record
func (r *Record) IsEmpty() bool {
	return r.ID == nil &&
		r.Product.ASIN == nil &&
		r.Product.Title == nil &&
		r.Product.GroupName == nil &&
		r.Product.Salesrank == nil &&
		len(r.Similar) == 0 &&
		len(r.Categories) == 0 &&
		len(r.Reviews) == 0
}

// AddCategory appends c unless the exact (id, name) pair is already present
func (r *Record) AddCategory(c Category) bool {
	for _, existing := range r.Categories {
		if existing == c {
			return false
		}
	}
	r.Categories = append(r.Categories, c)
	return true
}

// CategoryIDs returns the distinct category ids in first-seen order
func (r *Record) CategoryIDs() []int64 {
	ids := make([]int64, 0, len(r.Categories))
	seen := make(map[int64]struct{}, len(r.Categories))
	for _, c := range r.Categories {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		ids = append(ids, c.ID)
	}
	return ids
}

// SalesrankOrDefault returns the sales rank, or 0 when the block had none
func (r *Record) SalesrankOrDefault() int64 {
	if r.Product.Salesrank == nil {
		return 0
	}
	return *r.Product.Salesrank
}

// Table is a tabular query result with every value rendered as text
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Len returns the number of rows
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ReportInfo describes a report in the catalogue
type ReportInfo struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	NeedsASIN bool   `json:"needs_asin"`
}

// ReportResponse is the API envelope for a report result
type ReportResponse struct {
	Report ReportInfo `json:"report"`
	ASIN   string     `json:"asin,omitempty"`
	Cached bool       `json:"cached"`
	Data   *Table     `json:"data"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  int    `json:"status"`
	} `json:"error"`
}
