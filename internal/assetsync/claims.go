package assetsync

import (
	"sync"

	"github.com/keithlinneman/linnemanlabs-profile/internal/filetype"
	"github.com/keithlinneman/linnemanlabs-profile/internal/mapping"
)

// claims makes sure one destination is written by at most one entry per run.
type claims struct {
	mu    sync.Mutex
	owner map[string]int
}

// newClaims pre-assigns destinations that are known before fetching, i.e.
// outputs with an explicit extension, to the earliest entry naming them.
func newClaims(entries []mapping.Entry) *claims {
	c := &claims{owner: make(map[string]int, len(entries))}
	for _, e := range entries {
		e = e.Normalized()
		if e.Validate() != nil {
			continue
		}
		if _, ok := filetype.ExplicitExt(e.Out); !ok {
			continue
		}
		if _, taken := c.owner[e.Out]; !taken {
			c.owner[e.Out] = e.Index
		}
	}
	return c
}

// claim reports whether entry index may write path, and the owning index.
func (c *claims) claim(path string, index int) (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, taken := c.owner[path]; taken {
		return owner == index, owner
	}
	c.owner[path] = index
	return true, index
}
