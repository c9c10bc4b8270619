// Package generation produces the time-ordered generation identifier
// that groups every object a replicator session writes for one
// database (spec.md §4.3). Its defining trick: lexical ascending order
// over the textual id equals descending chronological order, so the
// newest generation is whatever a prefix list with max_keys=1 returns.
package generation

import (
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// maxUnixSeconds bounds the timestamp inversion (spec.md §9): we
// subtract the current Unix time in milliseconds from this ceiling
// (scaled to milliseconds) so that
// newer generations sort lexically *before* older ones. Chosen well
// past any realistic operation date; it only needs to exceed "now".
const maxUnixSeconds uint64 = 4_000_000_000

// ID is a generation identifier: the textual form of a reverse-v7
// UUID. It implements fmt.Stringer and is safe to use as a map key.
type ID string

// New mints a fresh generation id from the current wall clock.
func New() ID {
	return newAt(time.Now())
}

// newAt is the clock's core; split out so tests can pin "now".
func newAt(now time.Time) ID {
	// A version-7 UUID is, by construction, a 48-bit millisecond
	// timestamp followed by random bits with the version/variant
	// nibbles fixed in place. We can't feed google/uuid an arbitrary
	// timestamp, so we build the 16 bytes directly: invert the
	// timestamp field ourselves and let uuid.NewV7 supply the random
	// tail and the RFC 4122 version/variant bits, then splice.
	base, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the global random source is
		// exhausted, which in practice never happens; fall back to a
		// zero-random UUID rather than panicking the replicator.
		base = uuid.UUID{}
	}

	invertedMs := maxUnixSeconds*1000 - uint64(now.UnixMilli())

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], invertedMs)

	out := base
	// UUIDv7 layout: 48-bit ms timestamp occupies bytes [0:6].
	copy(out[0:6], ts[2:8])

	return ID(out.String())
}

// Timestamp recovers the approximate creation time embedded in the
// id, inverting the same transform New applied. Used by the restore
// planner's point-in-time scan (spec.md §4.6 step 1).
func (id ID) Timestamp() (time.Time, error) {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}, err
	}

	var ts [8]byte
	copy(ts[2:8], u[0:6])
	invertedMs := binary.BigEndian.Uint64(ts[:])

	ms := maxUnixSeconds*1000 - invertedMs
	return time.UnixMilli(int64(ms)), nil
}

// String satisfies fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Prefix builds the bucket-relative object-key prefix for this
// generation under the given (db_id-prefixed) database name:
// "{db_name}-{generation}/" (spec.md §6).
func Prefix(dbName string, id ID) string {
	return dbName + "-" + string(id) + "/"
}
