// Package graph computes execution readiness and scheduling order over a
// snapshot of task records. It is pure computation: no I/O, no store access.
package graph

import (
	"slices"
	"sort"

	"github.com/planloop/planloop/internal/errors"
	"github.com/planloop/planloop/internal/task"
)

// Graph is a derived, in-memory view over a task snapshot.
// Nodes are task ids; edges are blocking relationships.
// A Graph is always acyclic: construction fails fast otherwise.
type Graph struct {
	records map[task.ID]*task.Record

	// order holds ids sorted by creation time, the stable tie-break
	order []task.ID

	// blocks is the outgoing blocking adjacency: blocks[a] contains b
	// when closing a unblocks b (b depends on a, or a explicitly blocks b)
	blocks map[task.ID][]task.ID
}

// New builds a graph from a snapshot of task records. It returns a typed
// error when an edge points at a task absent from the snapshot (GRAPH-002)
// or when the blocking relation, combining dependsOn and explicit blocks
// edges, contains a cycle (GRAPH-001).
func New(records []task.Record) (*Graph, error) {
	g := &Graph{
		records: make(map[task.ID]*task.Record, len(records)),
		blocks:  make(map[task.ID][]task.ID),
	}

	for i := range records {
		r := &records[i]
		g.records[r.ID] = r
		g.order = append(g.order, r.ID)
	}

	sort.SliceStable(g.order, func(i, j int) bool {
		a, b := g.records[g.order[i]], g.records[g.order[j]]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	for _, id := range g.order {
		r := g.records[id]
		for _, dep := range r.DependsOn {
			if _, ok := g.records[dep]; !ok {
				return nil, errors.NewUnknownDependencyError(id.String(), dep.String())
			}
			g.addBlockEdge(dep, id)
		}
		for _, blocked := range r.Blocks {
			if _, ok := g.records[blocked]; !ok {
				return nil, errors.NewUnknownDependencyError(id.String(), blocked.String())
			}
			g.addBlockEdge(id, blocked)
		}
	}

	if cycle, found := findCycle(nodeIDs(g.records), g.blocks); found {
		return nil, errors.NewCyclicDependencyError(cycle)
	}

	return g, nil
}

func (g *Graph) addBlockEdge(from, to task.ID) {
	if !slices.Contains(g.blocks[from], to) {
		g.blocks[from] = append(g.blocks[from], to)
	}
}

// Get returns the record for id, if present
func (g *Graph) Get(id task.ID) (*task.Record, bool) {
	r, ok := g.records[id]
	return r, ok
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.records)
}

// Ready returns every open task whose every dependsOn edge points to a
// closed task, in stable creation order.
func (g *Graph) Ready() []task.ID {
	var ready []task.ID
	for _, id := range g.order {
		r := g.records[id]
		if r.Status != task.StatusOpen {
			continue
		}
		if g.depsClosed(r) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *Graph) depsClosed(r *task.Record) bool {
	for _, dep := range r.DependsOn {
		if g.records[dep].Status != task.StatusClosed {
			return false
		}
	}
	return true
}

// TransitiveUnblocks counts all tasks reachable by following outgoing
// blocking edges transitively from id. Used as an impact score when
// ranking otherwise-tied ready tasks.
func (g *Graph) TransitiveUnblocks(id task.ID) int {
	seen := make(map[task.ID]bool)
	var walk func(task.ID)
	walk = func(from task.ID) {
		for _, to := range g.blocks[from] {
			if !seen[to] {
				seen[to] = true
				walk(to)
			}
		}
	}
	walk(id)
	delete(seen, id)
	return len(seen)
}

// SelectOptions control how Next ranks the ready set
type SelectOptions struct {
	// ImpactOrdering breaks priority ties by descending transitive-unblock
	// count instead of creation order
	ImpactOrdering bool

	// ExcludeLabels removes tasks carrying any of these labels from
	// consideration (e.g. needs-review)
	ExcludeLabels []string

	// Parent restricts selection to direct members of one parent task,
	// letting a caller walk an epic at a time
	Parent task.ID
}

// Next returns the ready task that should execute next under the
// selection ordering policy: ascending priority first, then either
// descending impact or stable creation order. Returns false when no
// ready task remains.
func (g *Graph) Next(opts SelectOptions) (*task.Record, bool) {
	ready := g.Ready()
	if opts.Parent != "" {
		ready = slices.DeleteFunc(ready, func(id task.ID) bool {
			return g.records[id].Parent != opts.Parent
		})
	}
	if len(opts.ExcludeLabels) > 0 {
		ready = slices.DeleteFunc(ready, func(id task.ID) bool {
			r := g.records[id]
			for _, label := range opts.ExcludeLabels {
				if r.HasLabel(label) {
					return true
				}
			}
			return false
		})
	}
	if len(ready) == 0 {
		return nil, false
	}

	best := ready[0]
	for _, id := range ready[1:] {
		if g.ranksBefore(id, best, opts.ImpactOrdering) {
			best = id
		}
	}
	return g.records[best], true
}

// ranksBefore reports whether a should be selected ahead of b.
// Ties beyond the ordering policy fall back to creation order, which
// Ready already established, so equal-ranked ids keep their order.
func (g *Graph) ranksBefore(a, b task.ID, impact bool) bool {
	ra, rb := g.records[a], g.records[b]
	if ra.Priority != rb.Priority {
		return ra.Priority < rb.Priority
	}
	if impact {
		ua, ub := g.TransitiveUnblocks(a), g.TransitiveUnblocks(b)
		if ua != ub {
			return ua > ub
		}
	}
	return false
}

// nodeIDs returns the node set in sorted order so traversals over it are
// deterministic
func nodeIDs(records map[task.ID]*task.Record) []task.ID {
	ids := make([]task.ID, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// findCycle runs a three-color depth-first traversal over a blocking
// adjacency. Both dependsOn and explicit blocks edges feed the adjacency,
// so a contradiction through either relation (or a mix of the two) is
// caught. Encountering an in-progress node again is a cycle; the returned
// path names the offending edge sequence.
func findCycle(ids []task.ID, adjacency map[task.ID][]task.ID) ([]string, bool) {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[task.ID]int, len(ids))

	var cycle []string
	var visit func(id task.ID, path []task.ID) bool
	visit = func(id task.ID, path []task.ID) bool {
		state[id] = inStack
		path = append(path, id)

		for _, next := range adjacency[id] {
			switch state[next] {
			case inStack:
				start := slices.Index(path, next)
				for _, p := range path[start:] {
					cycle = append(cycle, p.String())
				}
				cycle = append(cycle, next.String())
				return true
			case unvisited:
				if visit(next, path) {
					return true
				}
			}
		}

		state[id] = done
		return false
	}

	for _, id := range ids {
		if state[id] == unvisited {
			if visit(id, nil) {
				return cycle, true
			}
		}
	}
	return nil, false
}

// HasCycle reports whether the blocking relation over records contains a
// cycle, without building a graph. Edges to unknown tasks are dropped;
// they cannot participate in a cycle.
func HasCycle(records []task.Record) bool {
	byID := make(map[task.ID]*task.Record, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	adjacency := make(map[task.ID][]task.ID)
	addEdge := func(from, to task.ID) {
		if !slices.Contains(adjacency[from], to) {
			adjacency[from] = append(adjacency[from], to)
		}
	}
	for i := range records {
		r := &records[i]
		for _, dep := range r.DependsOn {
			if _, ok := byID[dep]; ok {
				addEdge(dep, r.ID)
			}
		}
		for _, blocked := range r.Blocks {
			if _, ok := byID[blocked]; ok {
				addEdge(r.ID, blocked)
			}
		}
	}

	_, found := findCycle(nodeIDs(byID), adjacency)
	return found
}
