// Package ids issues request identifiers.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a lexicographically sortable identifier. ulid.Make is safe for concurrent use.
func New() string {
	return ulid.Make().String()
}

// Issued reports when id was generated, if it is one of ours.
func Issued(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}
