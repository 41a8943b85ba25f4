// Package ids generates the identifiers commitguard assigns to the messages
// it produces.
package ids

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// CreateULID returns a new ULID for an outbound message. IDs made by one
// process sort in creation order, even within the same millisecond.
func CreateULID() string {
	return ulid.Make().String()
}

// CreatedAt extracts the creation time encoded in a ULID produced by
// CreateULID.
func CreatedAt(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
