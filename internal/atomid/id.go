// Package atomid generates and validates the two atom identifiers: the
// permanent opaque ULID and the structured human key.
package atomid

import (
	"crypto/rand"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDLength is the fixed length of an opaque identifier.
const IDLength = 26

// Crockford base32, first character bounded so the 128-bit value fits.
var idPattern = regexp.MustCompile(`^[0-7][0-9A-HJKMNP-TV-Z]{25}$`)

// Generator produces ULIDs that are strictly increasing within a process,
// even when two are minted in the same millisecond.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewGenerator returns a Generator reading randomness from r and time from now.
// A nil r uses crypto/rand; a nil now uses time.Now.
func NewGenerator(r io.Reader, now func() time.Time) *Generator {
	if r == nil {
		r = rand.Reader
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{entropy: ulid.Monotonic(r, 0), now: now}
}

// New returns a fresh identifier.
func (g *Generator) New() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

var defaultGenerator = NewGenerator(nil, nil)

// NewID returns a fresh identifier from the process-wide generator.
// It panics only if crypto/rand fails.
func NewID() string {
	id, err := defaultGenerator.New()
	if err != nil {
		panic(err)
	}
	return id
}

// ValidateID reports whether s is a well-formed opaque identifier.
func ValidateID(s string) bool {
	return idPattern.MatchString(s)
}

// IDTime returns the millisecond timestamp embedded in a valid identifier.
func IDTime(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()).UTC(), nil
}
