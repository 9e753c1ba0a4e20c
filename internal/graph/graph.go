// Package graph owns the weighted, typed association edge set over record
// ids: insertion with upsert semantics, bounded-depth traversal, and
// cascading cleanup when a record disappears.
package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/engramdev/engram/internal/model"
)

// edgeKey identifies an edge within one source's adjacency set. Together
// with the source id it forms the full (source, target, type) identity.
type edgeKey struct {
	target string
	typ    model.AssociationType
}

// Resolver is the graph's view of the record store: endpoint existence
// checks plus maintenance of each record's denormalized association cache.
type Resolver interface {
	Has(id string) bool
	CacheLink(sourceID, targetID string)
	DropLink(sourceID, targetID string)
}

// Graph is the in-memory edge set. One RWMutex serializes mutation while
// letting traversals of disjoint regions run concurrently.
type Graph struct {
	mu       sync.RWMutex
	out      map[string]map[edgeKey]*model.Association
	in       map[string]map[edgeKey]*model.Association
	resolver Resolver
}

// New creates an empty graph bound to a resolver.
func New(r Resolver) *Graph {
	return &Graph{
		out:      make(map[string]map[edgeKey]*model.Association),
		in:       make(map[string]map[edgeKey]*model.Association),
		resolver: r,
	}
}

// Link upserts the edge (source, target, type). A second call with the
// same identity updates strength instead of duplicating the edge. Fails
// with ErrNotFound when either endpoint does not exist and with a
// ValidationError when strength is out of [0,1].
func (g *Graph) Link(sourceID, targetID string, typ model.AssociationType, strength float64) (*model.Association, error) {
	if !typ.IsValid() {
		return nil, model.Validationf("association type", "unknown type %q", typ)
	}
	if strength < 0 || strength > 1 {
		return nil, model.Validationf("strength", "%g out of range [0,1]", strength)
	}
	if sourceID == targetID {
		return nil, model.Validationf("target", "cannot associate a memory with itself")
	}
	if !g.resolver.Has(sourceID) || !g.resolver.Has(targetID) {
		return nil, model.ErrNotFound
	}

	g.mu.Lock()
	key := edgeKey{target: targetID, typ: typ}
	var assoc *model.Association
	if existing, ok := g.out[sourceID][key]; ok {
		existing.Strength = strength
		assoc = existing
	} else {
		assoc = &model.Association{
			Source:    sourceID,
			Target:    targetID,
			Type:      typ,
			Strength:  strength,
			CreatedAt: time.Now().UTC(),
		}
		if g.out[sourceID] == nil {
			g.out[sourceID] = make(map[edgeKey]*model.Association)
		}
		g.out[sourceID][key] = assoc
		if g.in[targetID] == nil {
			g.in[targetID] = make(map[edgeKey]*model.Association)
		}
		g.in[targetID][edgeKey{target: sourceID, typ: typ}] = assoc
	}
	copied := *assoc
	g.mu.Unlock()

	g.resolver.CacheLink(sourceID, targetID)
	return &copied, nil
}

// Neighbors returns the direct edges touching id, outgoing and incoming,
// optionally filtered by type (empty means all).
func (g *Graph) Neighbors(id string, typ model.AssociationType) []model.Association {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []model.Association
	for _, a := range g.out[id] {
		if typ == "" || a.Type == typ {
			edges = append(edges, *a)
		}
	}
	for _, a := range g.in[id] {
		if typ == "" || a.Type == typ {
			edges = append(edges, *a)
		}
	}
	return edges
}

// Traverse walks outgoing edges breadth-first up to maxDepth hops and
// returns reachable ids in discovery order, origin excluded. The visited
// set is the cycle guard: the edge set may contain cycles, and a node found
// again through a longer path is never re-processed.
func (g *Graph) Traverse(id string, maxDepth int) ([]string, error) {
	if !g.resolver.Has(id) {
		return nil, model.ErrNotFound
	}
	if maxDepth <= 0 {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	type hop struct {
		id    string
		depth int
	}
	visited := map[string]bool{id: true}
	queue := []hop{{id: id, depth: 0}}
	var order []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth == maxDepth {
			continue
		}
		// ULIDs sort by creation time, so ordering a node's edges by
		// target id makes discovery order deterministic.
		targets := make([]string, 0, len(g.out[cur.id]))
		for key := range g.out[cur.id] {
			targets = append(targets, key.target)
		}
		sort.Strings(targets)
		for _, t := range targets {
			if visited[t] {
				continue
			}
			visited[t] = true
			order = append(order, t)
			queue = append(queue, hop{id: t, depth: cur.depth + 1})
		}
	}
	return order, nil
}

// CascadeDelete removes every edge whose source or target is id and
// returns how many edges were dropped. Called by the record store on
// delete and eviction; no edge may outlive either endpoint.
func (g *Graph) CascadeDelete(id string) int {
	g.mu.Lock()

	type pair struct{ src, tgt string }
	var dropped []pair
	for key, a := range g.out[id] {
		delete(g.in[key.target], edgeKey{target: id, typ: key.typ})
		dropped = append(dropped, pair{src: a.Source, tgt: a.Target})
	}
	delete(g.out, id)

	for key, a := range g.in[id] {
		delete(g.out[key.target], edgeKey{target: id, typ: key.typ})
		dropped = append(dropped, pair{src: a.Source, tgt: a.Target})
	}
	delete(g.in, id)
	g.mu.Unlock()

	for _, p := range dropped {
		g.resolver.DropLink(p.src, p.tgt)
	}
	return len(dropped)
}

// Edges returns a copy of every edge, for snapshots and stats.
func (g *Graph) Edges() []model.Association {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []model.Association
	for _, set := range g.out {
		for _, a := range set {
			out = append(out, *a)
		}
	}
	return out
}

// Count returns the number of edges.
func (g *Graph) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := 0
	for _, set := range g.out {
		n += len(set)
	}
	return n
}

// Restore inserts edges from a snapshot, skipping any whose endpoints are
// missing. Preserves creation times.
func (g *Graph) Restore(edges []model.Association) {
	for _, e := range edges {
		if !e.Type.IsValid() || !g.resolver.Has(e.Source) || !g.resolver.Has(e.Target) {
			continue
		}
		a := e
		a.Strength = model.Clamp01(a.Strength)
		g.mu.Lock()
		if g.out[a.Source] == nil {
			g.out[a.Source] = make(map[edgeKey]*model.Association)
		}
		g.out[a.Source][edgeKey{target: a.Target, typ: a.Type}] = &a
		if g.in[a.Target] == nil {
			g.in[a.Target] = make(map[edgeKey]*model.Association)
		}
		g.in[a.Target][edgeKey{target: a.Source, typ: a.Type}] = &a
		g.mu.Unlock()
		g.resolver.CacheLink(a.Source, a.Target)
	}
}
