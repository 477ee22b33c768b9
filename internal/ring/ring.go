package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"chordring/internal/ident"
)

// Member is the external identity of a ring node.
type Member struct {
	Name string
	Addr string
}

// Handle addresses a node inside a Ring's arena.
type Handle int

// NoNode marks an absent link, e.g. the predecessor of a fresh node.
const NoNode Handle = -1

// node is an arena slot.
type node struct {
	id          ident.ID
	member      Member
	successor   Handle
	predecessor Handle
	fingers     []Handle
	fingerEpoch uint64
	fingersSet  bool
}

// NodeInfo is a read-only view of a node.
type NodeInfo struct {
	Handle      Handle
	ID          ident.ID
	Member      Member
	Successor   Handle
	Predecessor Handle
}

// Ring is an arena of Chord nodes sharing one identifier space.
type Ring struct {
	mu     sync.RWMutex
	space  ident.Space
	nodes  []node
	byID   map[ident.ID]Handle
	logger zerolog.Logger
}

// Option configures a Ring.
type Option func(*Ring)

// WithLogger sets the logger used for membership events.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Ring) {
		r.logger = logger
	}
}

// NewRing creates an empty ring over the given identifier space.
func NewRing(space ident.Space, opts ...Option) *Ring {
	r := &Ring{
		space:  space,
		nodes:  make([]node, 0),
		byID:   make(map[ident.ID]Handle),
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Space returns the identifier space of the ring.
func (r *Ring) Space() ident.Space {
	return r.space
}

// AddNode creates a singleton node whose identifier is the hash of the
// member name. The node is not linked to anything until Join or Build.
func (r *Ring) AddNode(m Member) (Handle, error) {
	return r.AddNodeWithID(r.space.Hash(m.Name), m)
}

// AddNodeWithID creates a singleton node with an explicit identifier.
func (r *Ring) AddNodeWithID(id ident.ID, m Member) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.space.Valid(id) {
		return NoNode, fmt.Errorf("%w: node id %d", ErrKeyOutOfRange, id)
	}
	if existing, exists := r.byID[id]; exists {
		return NoNode, fmt.Errorf("%w: %q and %q both map to %d",
			ErrDuplicateID, r.nodes[existing].member.Name, m.Name, id)
	}

	h := Handle(len(r.nodes))
	r.nodes = append(r.nodes, node{
		id:          id,
		member:      m,
		successor:   h,
		predecessor: NoNode,
	})
	r.byID[id] = h
	return h, nil
}

// Len returns the number of nodes in the arena.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Node returns a view of the node at h.
func (r *Ring) Node(h Handle) (NodeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.exists(h) {
		return NodeInfo{}, fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	return r.info(h), nil
}

// ID returns the identifier of the node at h.
func (r *Ring) ID(h Handle) (ident.ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.exists(h) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	return r.nodes[h].id, nil
}

// HandleOf returns the handle of the node with the given identifier.
func (r *Ring) HandleOf(id ident.ID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.byID[id]
	return h, exists
}

// HandleByName returns the handle of the first node with the given member name.
func (r *Ring) HandleByName(name string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := range r.nodes {
		if r.nodes[i].member.Name == name {
			return Handle(i), true
		}
	}
	return NoNode, false
}

// Handles returns every handle in ascending identifier order.
func (r *Ring) Handles() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedHandles()
}

// Nodes returns a view of every node in ascending identifier order.
func (r *Ring) Nodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := r.sortedHandles()
	infos := make([]NodeInfo, 0, len(handles))
	for _, h := range handles {
		infos = append(infos, r.info(h))
	}
	return infos
}

// Successor returns the successor handle of h.
func (r *Ring) Successor(h Handle) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.exists(h) {
		return NoNode, fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	return r.nodes[h].successor, nil
}

// Predecessor returns the predecessor handle of h, or false if none is set.
func (r *Ring) Predecessor(h Handle) (Handle, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.exists(h) {
		return NoNode, false, fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	p := r.nodes[h].predecessor
	return p, p != NoNode, nil
}

// Validate checks the structural invariants: unique identifiers, a single
// successor cycle through every node in identifier order, and predecessor
// links that invert successor links. Stale fingers are not checked.
func (r *Ring) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.nodes)
	if n == 0 {
		return nil
	}
	if len(r.byID) != n {
		return fmt.Errorf("%w: %d nodes but %d distinct ids", ErrRingInconsistency, n, len(r.byID))
	}

	for i := range r.nodes {
		h := Handle(i)
		nd := &r.nodes[i]
		if !r.exists(nd.successor) {
			return fmt.Errorf("%w: node %d has dangling successor %d", ErrRingInconsistency, nd.id, nd.successor)
		}
		if n == 1 {
			if nd.successor != h {
				return fmt.Errorf("%w: singleton %d does not succeed itself", ErrRingInconsistency, nd.id)
			}
			continue
		}
		if !r.exists(nd.predecessor) {
			return fmt.Errorf("%w: node %d has no predecessor", ErrRingInconsistency, nd.id)
		}
		if r.nodes[nd.successor].predecessor != h {
			return fmt.Errorf("%w: successor of %d does not point back", ErrRingInconsistency, nd.id)
		}
		if r.nodes[nd.predecessor].successor != h {
			return fmt.Errorf("%w: predecessor of %d does not point forward", ErrRingInconsistency, nd.id)
		}
	}

	// Walk the cycle from the first node; it must return after exactly n hops
	// and wrap past zero exactly once.
	start := Handle(0)
	seen := make(map[Handle]bool, n)
	wraps := 0
	cur := start
	for hops := 0; hops < n; hops++ {
		if seen[cur] {
			return fmt.Errorf("%w: cycle of length %d, ring has %d nodes", ErrRingInconsistency, hops, n)
		}
		seen[cur] = true
		next := r.nodes[cur].successor
		if r.nodes[next].id <= r.nodes[cur].id {
			wraps++
		}
		cur = next
	}
	if cur != start {
		return fmt.Errorf("%w: successor chain from %d does not return after %d hops",
			ErrRingInconsistency, r.nodes[start].id, n)
	}
	if wraps != 1 {
		return fmt.Errorf("%w: successor order wraps %d times", ErrRingInconsistency, wraps)
	}
	return nil
}

// exists reports whether h addresses an arena slot (must be called with lock held).
func (r *Ring) exists(h Handle) bool {
	return h >= 0 && int(h) < len(r.nodes)
}

// info builds a NodeInfo (must be called with lock held).
func (r *Ring) info(h Handle) NodeInfo {
	nd := &r.nodes[h]
	return NodeInfo{
		Handle:      h,
		ID:          nd.id,
		Member:      nd.member,
		Successor:   nd.successor,
		Predecessor: nd.predecessor,
	}
}

// sortedHandles returns all handles ordered by id (must be called with lock held).
func (r *Ring) sortedHandles() []Handle {
	handles := make([]Handle, len(r.nodes))
	for i := range r.nodes {
		handles[i] = Handle(i)
	}
	sort.Slice(handles, func(i, j int) bool {
		return r.nodes[handles[i]].id < r.nodes[handles[j]].id
	})
	return handles
}

// first returns the node with the lowest id (must be called with lock held).
func (r *Ring) first() (Handle, error) {
	if len(r.nodes) == 0 {
		return NoNode, ErrEmptyRing
	}
	best := Handle(0)
	for i := range r.nodes {
		if r.nodes[i].id < r.nodes[best].id {
			best = Handle(i)
		}
	}
	return best, nil
}
