package ids

import "github.com/oklog/ulid/v2"

// New returns a ULID. It is used for user ids and request ids, so both sort
// by creation time.
func New() string {
	return ulid.Make().String()
}
