package expr

import (
	"log/slog"

	"github.com/flowtone/flowtone"
)

type (
	// Cache maps structural content hashes of expressions to compiled
	// artefacts. It is owned and mutated by the control thread only; the
	// functions it hands out have no shared mutable state, so they may be
	// moved to the audio thread freely.
	//
	// A request that misses is not an error: the request is queued and the
	// caller falls back to the expression's default value until the next
	// Refresh compiles it.
	Cache struct {
		entries map[cacheKey]*Artefact
		pending []request
	}

	cacheKey struct {
		hash uint64
		mode Mode
	}

	request struct {
		expression flowtone.ExpressionID
		hash       uint64
		mode       Mode
	}
)

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: map[cacheKey]*Artefact{}}
}

// RequestFunction returns a fresh function instance for the expression if a
// matching artefact is cached (shared code, private state), or queues a
// compile request and returns nil, false.
func (c *Cache) RequestFunction(g *flowtone.Graph, e *flowtone.Expression, mode Mode) (*Function, bool) {
	a := analyze(g, e, mode)
	if art, ok := c.entries[cacheKey{a.hash, mode}]; ok {
		return newFunction(art, a.locations), true
	}
	c.pending = append(c.pending, request{expression: e.ID, hash: a.hash, mode: mode})
	return nil, false
}

// Refresh brings the cache up to date with the given topology: entries whose
// expression no longer exists anywhere are evicted, every expression present
// is eagerly compiled under ModeNormal, and queued requests are compiled if
// their hash still matches the expression's current structure (the
// expression may have been edited since the request was queued; stale
// requests are dropped).
func (c *Cache) Refresh(g *flowtone.Graph) {
	current := map[cacheKey]bool{}
	for _, id := range g.ExpressionIDs() {
		e := g.Expression(id)
		a := analyze(g, e, ModeNormal)
		key := cacheKey{a.hash, ModeNormal}
		current[key] = true
		if _, ok := c.entries[key]; !ok {
			c.entries[key] = Compile(g, e, ModeNormal)
		}
	}
	pending := c.pending
	c.pending = c.pending[:0]
	for _, req := range pending {
		e := g.Expression(req.expression)
		if e == nil {
			continue
		}
		a := analyze(g, e, req.mode)
		if a.hash != req.hash {
			slog.Debug("dropping stale compile request", "expression", req.expression)
			continue
		}
		key := cacheKey{req.hash, req.mode}
		current[key] = true
		if _, ok := c.entries[key]; !ok {
			c.entries[key] = Compile(g, e, req.mode)
		}
	}
	for key := range c.entries {
		if !current[key] {
			// Dropping the map entry is enough: live function instances keep
			// their artefact reachable, and nothing here runs on the audio
			// thread.
			delete(c.entries, key)
		}
	}
}

// Len returns the number of cached artefacts.
func (c *Cache) Len() int { return len(c.entries) }
