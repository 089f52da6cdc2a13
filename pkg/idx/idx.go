// Package idx generates ULID identifiers used for token ids (jti) and
// request ids.
package idx

import (
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/tokend/pkg/clockx"
	"github.com/oklog/ulid/v2"
)

type ID string

// Zero represents the zero value ID.
const Zero ID = ""

// ErrInvalid reports a malformed ULID string.
var ErrInvalid = errors.New("idx: invalid ulid")

// Generator produces monotonically increasing ULIDs stamped with its clock.
// Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	clock   clockx.Clock
	entropy *ulid.MonotonicEntropy
}

// NewGenerator returns a Generator reading time from clock (wall time if nil).
func NewGenerator(clock clockx.Clock) *Generator {
	return &Generator{
		clock:   clockx.OrReal(clock),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// New returns an ID stamped with the generator's current time.
func (g *Generator) New() ID {
	return g.NewAt(g.clock.Now())
}

// NewAt returns an ID stamped with t.
func (g *Generator) NewAt(t time.Time) ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	return ID(ulid.MustNew(ulid.Timestamp(t.UTC()), g.entropy).String())
}

var (
	globalOnce sync.Once
	global     *Generator
)

// New returns an ID using a process-wide wall-clock generator.
func New() ID {
	globalOnce.Do(func() { global = NewGenerator(nil) })
	return global.New()
}

// Parse validates s as a ULID.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, ErrInvalid
	}
	if _, err := ulid.ParseStrict(s); err != nil {
		return Zero, ErrInvalid
	}
	return ID(s), nil
}

func (id ID) IsZero() bool   { return id == Zero }
func (id ID) String() string { return string(id) }

// Time extracts the embedded timestamp, or the zero time for invalid IDs.
func (id ID) Time() time.Time {
	u, err := ulid.ParseStrict(id.String())
	if err != nil {
		return time.Time{}
	}
	return ulid.Time(u.Time())
}
