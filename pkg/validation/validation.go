package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ha1tch/amzmeta/pkg/models"
)

// MaxASINLength matches the width of the asin columns
const MaxASINLength = 10

var (
	// ErrInvalidASIN is returned when an ASIN argument is malformed
	ErrInvalidASIN = errors.New("invalid ASIN")
	// ErrMissingASIN is returned when a report needs an ASIN and none was given
	ErrMissingASIN = errors.New("ASIN is required")
)

// ValidateASIN checks that asin looks like a product identifier
func ValidateASIN(asin string) error {
	if asin == "" {
		return ErrMissingASIN
	}
	if len(asin) > MaxASINLength {
		return fmt.Errorf("%w: %q longer than %d characters", ErrInvalidASIN, asin, MaxASINLength)
	}
	for _, r := range asin {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidASIN, asin, r)
		}
	}
	return nil
}

// ValidateReportRequest validates the arguments of a report invocation
func ValidateReportRequest(needsASIN bool, asin string) (bool, []string) {
	problems := []string{}

	asin = strings.TrimSpace(asin)
	if needsASIN {
		if err := ValidateASIN(asin); err != nil {
			problems = append(problems, err.Error())
		}
	} else if asin != "" {
		problems = append(problems, "report does not take an ASIN")
	}

	return len(problems) == 0, problems
}

// Issue is a data-quality observation about a parsed record
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string {
	return i.Field + ": " + i.Message
}

// InspectRecord reports data-quality issues of a record about to be loaded.
// Issues never block insertion; the loader counts and logs them.
func InspectRecord(rec *models.Record) []Issue {
	var issues []Issue

	if rec.Product.ASIN == nil {
		issues = append(issues, Issue{Field: "asin", Message: "missing"})
	} else if err := ValidateASIN(*rec.Product.ASIN); err != nil {
		issues = append(issues, Issue{Field: "asin", Message: err.Error()})
	}

	if rec.SimilarDeclared != len(rec.Similar) {
		issues = append(issues, Issue{
			Field:   "similar",
			Message: fmt.Sprintf("declared %d, listed %d", rec.SimilarDeclared, len(rec.Similar)),
		})
	}

	for _, s := range rec.Similar {
		if len(s) > MaxASINLength {
			issues = append(issues, Issue{Field: "similar", Message: fmt.Sprintf("ASIN %q too long", s)})
		}
	}

	return issues
}

// HasMissingASIN reports whether issues include an absent ASIN
func HasMissingASIN(issues []Issue) bool {
	for _, i := range issues {
		if i.Field == "asin" && i.Message == "missing" {
			return true
		}
	}
	return false
}
