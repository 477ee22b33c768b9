package ring

import (
	"fmt"

	"chordring/internal/ident"
)

// FindSuccessor returns the node that owns key, starting the search at from.
//
// At each node n with successor s the key is owned by s when it lies in
// (n.id, s.id]; otherwise the search moves on to s. A node that is its own
// successor owns every key.
func (r *Ring) FindSuccessor(from Handle, key ident.ID) (Handle, error) {
	h, _, err := r.FindSuccessorHops(from, key)
	return h, err
}

// FindSuccessorHops is FindSuccessor that also reports how many nodes were
// visited after the starting one.
func (r *Ring) FindSuccessorHops(from Handle, key ident.ID) (Handle, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findSuccessor(from, key)
}

// Lookup resolves the owner of key like FindSuccessor, but forwards each
// query to the closest finger preceding the key. Missing or stale fingers
// only cost extra hops; the owner returned is the same.
func (r *Ring) Lookup(from Handle, key ident.ID) (Handle, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if err := r.checkQuery(from, key); err != nil {
		return NoNode, 0, err
	}

	cur := from
	hops := 0
	for {
		nd := &r.nodes[cur]
		if !r.exists(nd.successor) {
			return NoNode, hops, fmt.Errorf("%w: node %d has dangling successor %d",
				ErrRingInconsistency, nd.id, nd.successor)
		}
		if nd.successor == cur {
			return cur, hops, nil
		}
		if r.space.InRange(key, nd.id, r.nodes[nd.successor].id, false, true) {
			return nd.successor, hops + 1, nil
		}

		next := r.closestPrecedingFinger(cur, key)
		if next == NoNode {
			next = nd.successor
		}
		cur = next
		hops++
		if hops >= len(r.nodes) {
			return NoNode, hops, fmt.Errorf("%w: lookup for %d exceeded %d hops",
				ErrRingInconsistency, key, len(r.nodes))
		}
	}
}

// Owner resolves key starting at the node with the lowest identifier.
func (r *Ring) Owner(key ident.ID) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, err := r.first()
	if err != nil {
		return NoNode, err
	}
	h, _, err := r.findSuccessor(start, key)
	return h, err
}

// Locate hashes an arbitrary key into the identifier space and returns the
// node responsible for it.
func (r *Ring) Locate(key string) (Handle, ident.ID, error) {
	id := r.space.Hash(key)
	h, err := r.Owner(id)
	return h, id, err
}

// OwnedRange returns the half-open range (lo, hi] of keys owned by h. ok is
// false when h has no predecessor yet; a singleton's range is the whole ring
// and is reported as (id, id].
func (r *Ring) OwnedRange(h Handle) (lo, hi ident.ID, ok bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.exists(h) {
		return 0, 0, false, fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	nd := &r.nodes[h]
	if nd.successor == h {
		return nd.id, nd.id, true, nil
	}
	if !r.exists(nd.predecessor) {
		return 0, nd.id, false, nil
	}
	return r.nodes[nd.predecessor].id, nd.id, true, nil
}

// findSuccessor walks successor links (must be called with lock held).
func (r *Ring) findSuccessor(from Handle, key ident.ID) (Handle, int, error) {
	if err := r.checkQuery(from, key); err != nil {
		return NoNode, 0, err
	}

	cur := from
	hops := 0
	for {
		nd := &r.nodes[cur]
		if !r.exists(nd.successor) {
			return NoNode, hops, fmt.Errorf("%w: node %d has dangling successor %d",
				ErrRingInconsistency, nd.id, nd.successor)
		}
		if nd.successor == cur {
			return cur, hops, nil
		}
		if r.space.InRange(key, nd.id, r.nodes[nd.successor].id, false, true) {
			return nd.successor, hops + 1, nil
		}

		cur = nd.successor
		hops++
		if hops >= len(r.nodes) {
			return NoNode, hops, fmt.Errorf("%w: successor walk for %d exceeded %d hops",
				ErrRingInconsistency, key, len(r.nodes))
		}
	}
}

// closestPrecedingFinger returns the highest finger of h strictly between
// h and key, or NoNode (must be called with lock held).
func (r *Ring) closestPrecedingFinger(h Handle, key ident.ID) Handle {
	nd := &r.nodes[h]
	for i := len(nd.fingers) - 1; i >= 0; i-- {
		f := nd.fingers[i]
		if f == h || !r.exists(f) {
			continue
		}
		if r.space.InRange(r.nodes[f].id, nd.id, key, false, false) {
			return f
		}
	}
	return NoNode
}

func (r *Ring) checkQuery(from Handle, key ident.ID) error {
	if !r.exists(from) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, from)
	}
	if !r.space.Valid(key) {
		return fmt.Errorf("%w: %d with %d bits", ErrKeyOutOfRange, key, r.space.Bits)
	}
	return nil
}
