// Package lottery holds the EuroMillions domain: selections, draw results,
// matching and the text rendered for users.
package lottery

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MainCount = 5
	StarCount = 2

	MainMin = 1
	MainMax = 50
	StarMin = 1
	StarMax = 12

	// DateLayout is the draw date format used by the source and the dedup marker.
	DateLayout = "2006-01-02"
)

// Selection is a user's registered numbers: 5 mains followed by 2 stars.
type Selection []int

func (s Selection) Mains() []int {
	if len(s) < MainCount {
		return append([]int(nil), s...)
	}
	return append([]int(nil), s[:MainCount]...)
}

func (s Selection) Stars() []int {
	if len(s) <= MainCount {
		return nil
	}
	return append([]int(nil), s[MainCount:]...)
}

// Validate checks arity, ranges and uniqueness within each part.
func (s Selection) Validate() error {
	if len(s) != MainCount+StarCount {
		return fmt.Errorf("%w: need %d numbers, got %d", ErrInvalidSelection, MainCount+StarCount, len(s))
	}
	if err := checkPart("main number", s[:MainCount], MainMin, MainMax); err != nil {
		return err
	}
	return checkPart("star", s[MainCount:], StarMin, StarMax)
}

func checkPart(what string, nums []int, lo, hi int) error {
	seen := make(map[int]struct{}, len(nums))
	for _, n := range nums {
		if n < lo || n > hi {
			return fmt.Errorf("%w: %s %d out of range %d-%d", ErrInvalidSelection, what, n, lo, hi)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: %s %d repeated", ErrInvalidSelection, what, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// ParseSelection converts command arguments into a validated Selection.
func ParseSelection(args []string) (Selection, error) {
	if len(args) != MainCount+StarCount {
		return nil, fmt.Errorf("%w: need %d numbers, got %d", ErrInvalidSelection, MainCount+StarCount, len(args))
	}
	sel := make(Selection, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrInvalidSelection, a)
		}
		sel = append(sel, n)
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	return sel, nil
}

// DrawResult is one published draw. It is immutable once fetched.
type DrawResult struct {
	Date    string
	Numbers []int
	Stars   []int
}

// Validate checks the date layout, arity and uniqueness. Ranges are not checked:
// the source is authoritative for what was drawn.
func (d DrawResult) Validate() error {
	if _, err := time.Parse(DateLayout, d.Date); err != nil {
		return fmt.Errorf("%w: bad date %q", ErrSourceMalformed, d.Date)
	}
	if len(d.Numbers) != MainCount {
		return fmt.Errorf("%w: need %d numbers, got %d", ErrSourceMalformed, MainCount, len(d.Numbers))
	}
	if len(d.Stars) != 0 && len(d.Stars) != StarCount {
		return fmt.Errorf("%w: need %d stars, got %d", ErrSourceMalformed, StarCount, len(d.Stars))
	}
	if hasDup(d.Numbers) || hasDup(d.Stars) {
		return fmt.Errorf("%w: repeated number in draw %s", ErrSourceMalformed, d.Date)
	}
	return nil
}

func hasDup(nums []int) bool {
	seen := make(map[int]struct{}, len(nums))
	for _, n := range nums {
		if _, ok := seen[n]; ok {
			return true
		}
		seen[n] = struct{}{}
	}
	return false
}

// CompareDates orders two draw dates. Both use DateLayout, so byte order is date order.
func CompareDates(a, b string) int {
	return strings.Compare(a, b)
}
