package referral

import (
	"time"

	"partyapp-referral-engine/internal/member"
)

const noParent int32 = -1

type node struct {
	id           string
	parentID     string
	parent       int32
	status       member.Status
	lastActiveAt time.Time
	active       bool
}

// Forest is an immutable arena snapshot of the referral graph. Members live in
// a flat slice and parent/child links are slice indexes, so the fixed-depth
// walks never touch storage and allocate only their result.
type Forest struct {
	nodes    []node
	index    map[string]int32
	children [][]int32
}

// NewForest snapshots members. Children keep the order of the input slice, so
// callers pass members in a deterministic order. A referred_by_id pointing
// outside the snapshot is kept as a dangling parent id.
func NewForest(members []*member.Member) *Forest {
	f := &Forest{
		nodes:    make([]node, 0, len(members)),
		index:    make(map[string]int32, len(members)),
		children: make([][]int32, len(members)),
	}
	for _, m := range members {
		if _, dup := f.index[m.ID]; dup {
			continue
		}
		n := node{
			id:       m.ID,
			parentID: m.ReferrerID(),
			parent:   noParent,
			status:   m.Status,
			active:   m.IsActive(),
		}
		if m.LastActiveAt != nil {
			n.lastActiveAt = *m.LastActiveAt
		}
		f.index[m.ID] = int32(len(f.nodes))
		f.nodes = append(f.nodes, n)
	}
	f.children = f.children[:len(f.nodes)]
	for i := range f.nodes {
		p, ok := f.index[f.nodes[i].parentID]
		if !ok || f.nodes[i].parentID == "" {
			continue
		}
		f.nodes[i].parent = p
		f.children[p] = append(f.children[p], int32(i))
	}
	return f
}

// Len returns the number of members in the snapshot.
func (f *Forest) Len() int { return len(f.nodes) }

// Contains reports whether id is part of the snapshot.
func (f *Forest) Contains(id string) bool {
	_, ok := f.index[id]
	return ok
}

// ParentID returns the stored referred_by_id of id, which may be dangling.
func (f *Forest) ParentID(id string) string {
	i, ok := f.index[id]
	if !ok {
		return ""
	}
	return f.nodes[i].parentID
}

// Ancestors returns up to max ancestor ids of id, nearest first. The walk
// stops at a root, at a parent missing from the snapshot, or when a member
// repeats, so a corrupted loop never yields the member itself.
func (f *Forest) Ancestors(id string, max int) []string {
	i, ok := f.index[id]
	if !ok {
		return nil
	}
	seen := map[int32]bool{i: true}
	out := make([]string, 0, max)
	for len(out) < max {
		p := f.nodes[i].parent
		if p == noParent || seen[p] {
			break
		}
		seen[p] = true
		out = append(out, f.nodes[p].id)
		i = p
	}
	return out
}

// InCycle reports whether walking up from id ever returns to id.
func (f *Forest) InCycle(id string) bool {
	start, ok := f.index[id]
	if !ok {
		return false
	}
	seen := map[int32]bool{}
	for i := f.nodes[start].parent; i != noParent; i = f.nodes[i].parent {
		if i == start {
			return true
		}
		if seen[i] {
			return false
		}
		seen[i] = true
	}
	return false
}

// activeGeneration returns the ACTIVE children of every member in parents,
// skipping anything already visited.
func (f *Forest) activeGeneration(parents []int32, visited map[int32]bool) []int32 {
	var next []int32
	for _, p := range parents {
		for _, c := range f.children[p] {
			if visited[c] || !f.nodes[c].active {
				continue
			}
			visited[c] = true
			next = append(next, c)
		}
	}
	return next
}
