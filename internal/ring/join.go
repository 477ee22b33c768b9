package ring

import "fmt"

// Join inserts h into the ring that contains existing.
//
// With existing == NoNode (or h itself) h stays a singleton ring. Otherwise
// h's successor is existing's answer for h's id, h's predecessor is that
// successor's old predecessor, and both neighbours are re-pointed at h.
// Afterwards h owns (predecessor.id, h.id], which it takes over from its
// successor; no other ranges change.
func (r *Ring) Join(h, existing Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.exists(h) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	self := &r.nodes[h]
	if existing == NoNode || existing == h {
		r.logger.Debug().Uint64("id", uint64(self.id)).Msg("Bootstrapped singleton ring")
		return nil
	}
	if !r.exists(existing) {
		return fmt.Errorf("%w: existing node %d", ErrUnknownNode, existing)
	}
	if self.successor != h || self.predecessor != NoNode {
		return fmt.Errorf("%w: %d", ErrAlreadyJoined, self.id)
	}

	succ, _, err := r.findSuccessor(existing, self.id)
	if err != nil {
		return fmt.Errorf("failed to find successor for %d: %w", self.id, err)
	}
	pred := r.nodes[succ].predecessor
	if pred == NoNode {
		// The successor was never linked from behind (for instance a
		// singleton); recover its predecessor from the successor chain.
		pred, err = r.precedingNode(succ)
		if err != nil {
			return err
		}
	}

	self.successor = succ
	self.predecessor = pred
	r.nodes[succ].predecessor = h
	r.nodes[pred].successor = h

	r.logger.Debug().
		Uint64("id", uint64(self.id)).
		Uint64("successor", uint64(r.nodes[succ].id)).
		Uint64("predecessor", uint64(r.nodes[pred].id)).
		Msg("Joined ring")
	return nil
}

// precedingNode finds the node whose successor is h by walking forward from
// h (must be called with lock held).
func (r *Ring) precedingNode(h Handle) (Handle, error) {
	cur := h
	for hops := 0; hops < len(r.nodes); hops++ {
		next := r.nodes[cur].successor
		if !r.exists(next) {
			return NoNode, fmt.Errorf("%w: node %d has dangling successor %d",
				ErrRingInconsistency, r.nodes[cur].id, next)
		}
		if next == h {
			return cur, nil
		}
		cur = next
	}
	return NoNode, fmt.Errorf("%w: successor chain from %d never returns", ErrRingInconsistency, r.nodes[h].id)
}

// relinkSorted rewrites successor and predecessor links so that nodes follow
// each other in ascending id order. It returns the handles in that order.
func (r *Ring) relinkSorted() []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := r.sortedHandles()
	n := len(handles)
	for i, h := range handles {
		r.nodes[h].successor = handles[(i+1)%n]
		if n == 1 {
			r.nodes[h].predecessor = NoNode
			continue
		}
		r.nodes[h].predecessor = handles[(i-1+n)%n]
	}
	return handles
}
