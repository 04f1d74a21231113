package ids

import (
	"crypto/rand"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Prefixes make ids readable in logs.
const (
	RequestPrefix = "req"
	PingPrefix    = "ping"
	ChannelPrefix = "chan"
)

// Generator produces monotonic, lexicographically sortable ULIDs. Ids
// generated by one Generator never repeat, even within one millisecond.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator returns a Generator seeded from crypto/rand.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// NewGeneratorWithEntropy uses r as the entropy source and now as the
// timestamp source. Intended for tests.
func NewGeneratorWithEntropy(r io.Reader, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{entropy: ulid.Monotonic(r, 0), now: now}
}

// New returns a bare ULID string.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

// WithPrefix returns "<prefix>-<ulid>".
func (g *Generator) WithPrefix(prefix string) string {
	id := g.New()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

// Request returns a fresh correlation id.
func (g *Generator) Request() string {
	return g.WithPrefix(RequestPrefix)
}

// Ping returns a fresh liveness probe id.
func (g *Generator) Ping() string {
	return g.WithPrefix(PingPrefix)
}

// Channel returns a fresh router-side channel id.
func (g *Generator) Channel() string {
	return ChannelPrefix + "-" + uuid.NewString()
}

// Instance returns a random UUID identifying a provider instance.
func Instance() string {
	return uuid.NewString()
}

// Prefix returns the prefix of id, or "" when it has none.
func Prefix(id string) string {
	i := strings.IndexByte(id, '-')
	if i <= 0 {
		return ""
	}
	return id[:i]
}
