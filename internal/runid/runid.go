// Package runid generates Arbiter run identifiers. Grounded on the
// teacher's unused github.com/oklog/ulid/v2 dependency: a ULID is
// lexically sortable by creation time and carries enough entropy that
// two runs started in the same millisecond still get distinct IDs.
package runid

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a fresh run_id. Not part of the deterministic plan
// contract — the plan's reproducibility hinges on plan_sha256, not on
// run_id, so ULID's timestamp component is fine here.
func New() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
