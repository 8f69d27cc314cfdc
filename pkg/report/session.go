package report

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ha1tch/amzmeta/pkg/validation"
)

// Session is the interactive menu over a Reporter
type Session struct {
	reporter *Reporter
	in       *bufio.Scanner
	out      io.Writer
}

// NewSession creates a session reading selections from in
func NewSession(reporter *Reporter, in io.Reader, out io.Writer) *Session {
	return &Session{
		reporter: reporter,
		in:       bufio.NewScanner(in),
		out:      out,
	}
}

// Run loops until the exit option or end of input. Invalid selections
// and ASINs are reported and the loop continues; store failures end it.
func (s *Session) Run(ctx context.Context) error {
	for {
		s.printMenu()

		choice, ok := s.prompt("Enter the number of the desired option: ")
		if !ok || choice == "0" {
			fmt.Fprintln(s.out, "Exiting...")
			return s.in.Err()
		}

		id, err := strconv.Atoi(choice)
		if err != nil {
			fmt.Fprintln(s.out, "Invalid option. Try again.")
			continue
		}
		q, err := Lookup(id)
		if err != nil {
			fmt.Fprintln(s.out, "Invalid option. Try again.")
			continue
		}

		var asin string
		if q.NeedsASIN {
			if asin, ok = s.prompt("Enter the product ASIN: "); !ok {
				fmt.Fprintln(s.out, "Exiting...")
				return s.in.Err()
			}
		}

		res, err := s.reporter.Run(ctx, q.ID, asin)
		if errors.Is(err, validation.ErrInvalidASIN) || errors.Is(err, validation.ErrMissingASIN) {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			continue
		}
		if err != nil {
			return err
		}

		if err := Render(s.out, "", res.Table); err != nil {
			return err
		}
	}
}

func (s *Session) printMenu() {
	fmt.Fprintln(s.out, "Choose a query to run:")
	for _, q := range queries {
		fmt.Fprintf(s.out, "%d: %s\n", q.ID, q.Title)
	}
	fmt.Fprintln(s.out, "0: Exit")
}

func (s *Session) prompt(label string) (string, bool) {
	fmt.Fprint(s.out, label)
	if !s.in.Scan() {
		fmt.Fprintln(s.out)
		return "", false
	}
	return strings.TrimSpace(s.in.Text()), true
}
