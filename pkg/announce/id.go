package announce

import (
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDGenerator issues announcement IDs of the form "<seq>-<random>". The
// sequence is monotonic per generator, so IDs never collide within a process
// lifetime even if the random suffix did.
//
// The zero value is ready to use and safe for concurrent use.
type IDGenerator struct {
	seq atomic.Uint64
}

// Next returns a new unique ID.
func (g *IDGenerator) Next() string {
	n := g.seq.Add(1)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strconv.FormatUint(n, 10) + "-" + suffix
}
