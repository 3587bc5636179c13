package autosave

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces session ids. Outcomes are tagged with the id of the
// session that issued them; an outcome carrying another id is discarded.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 session ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for tests and scenario runs.
// Once the list is exhausted it continues with "<last>-<n>".
//
// Thread-safety: safe for concurrent use.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator returning ids in order. With no
// ids it yields "session-1", "session-2", ...
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.idx++
	switch {
	case g.idx <= len(g.ids):
		return g.ids[g.idx-1]
	case len(g.ids) == 0:
		return fmt.Sprintf("session-%d", g.idx)
	default:
		return fmt.Sprintf("%s-%d", g.ids[len(g.ids)-1], g.idx-len(g.ids))
	}
}
