// Package profile holds the person-identity tuple that scans and opt-outs
// run against. A Query is immutable once constructed; superseded queries are
// carried with Deprecated set rather than deleted, because opt-outs already
// in flight must still run to completion.
package profile

import (
	"fmt"
	"strings"
	"time"
)

// Query is one person-identity tuple: names, location and birth year.
// MiddleName is optional; a nil middle name and a blank one are equivalent.
type Query struct {
	ID         int64
	FirstName  string
	MiddleName *string
	LastName   string
	City       string
	State      string
	BirthYear  int
	Deprecated bool
}

// FullName returns "First Middle Last" with the middle name omitted when blank.
func (q Query) FullName() string {
	if q.MiddleName != nil {
		if m := strings.TrimSpace(*q.MiddleName); m != "" {
			return fmt.Sprintf("%s %s %s", q.FirstName, m, q.LastName)
		}
	}
	return fmt.Sprintf("%s %s", q.FirstName, q.LastName)
}

// Age computes the age at the given reference time from the birth year.
func (q Query) Age(ref time.Time) int {
	if q.BirthYear == 0 {
		return 0
	}
	return ref.Year() - q.BirthYear
}

// Matches reports whether two queries describe the same person search.
// ID and Deprecated are ignored; the middle name is normalized before
// comparison so that nil and blank middle names compare equal.
func (q Query) Matches(o Query) bool {
	return strings.EqualFold(q.FirstName, o.FirstName) &&
		strings.EqualFold(q.LastName, o.LastName) &&
		normalizeMiddle(q.MiddleName) == normalizeMiddle(o.MiddleName) &&
		strings.EqualFold(q.City, o.City) &&
		strings.EqualFold(q.State, o.State) &&
		q.BirthYear == o.BirthYear
}

func normalizeMiddle(m *string) string {
	if m == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*m))
}
