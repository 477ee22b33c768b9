package ring

import (
	"fmt"
	"sort"

	"chordring/internal/ident"
)

// Snapshot is the membership a finger table is built for: the identifiers of
// every member in ascending order and the epoch they were observed at.
type Snapshot struct {
	Epoch uint64
	IDs   []ident.ID
}

// Contains reports whether id is a member of the snapshot.
func (s Snapshot) Contains(id ident.ID) bool {
	idx := sort.Search(len(s.IDs), func(i int) bool {
		return s.IDs[i] >= id
	})
	return idx < len(s.IDs) && s.IDs[idx] == id
}

// Snapshot returns the current arena membership tagged with epoch.
func (r *Ring) Snapshot(epoch uint64) Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ident.ID, 0, len(r.nodes))
	for _, h := range r.sortedHandles() {
		ids = append(ids, r.nodes[h].id)
	}
	return Snapshot{Epoch: epoch, IDs: ids}
}

// UpdateFingerTable recomputes every finger of h:
// fingers[i] = FindSuccessor(h, (id + 2^i) mod 2^m).
//
// Every identifier in snap must belong to a node of the arena. The table is
// tagged with snap.Epoch. When h's links are out of date the table is stale
// but still consistent with those links.
func (r *Ring) UpdateFingerTable(h Handle, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkSnapshot(snap); err != nil {
		return err
	}
	return r.updateFingerTable(h, snap.Epoch)
}

// UpdateAllFingerTables rebuilds the finger table of every node for snap.
func (r *Ring) UpdateAllFingerTables(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkSnapshot(snap); err != nil {
		return err
	}
	for i := range r.nodes {
		if err := r.updateFingerTable(Handle(i), snap.Epoch); err != nil {
			return err
		}
	}
	return nil
}

// Fingers returns a copy of h's finger table. The table is empty until the
// first UpdateFingerTable.
func (r *Ring) Fingers(h Handle) ([]Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.exists(h) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	return append([]Handle(nil), r.nodes[h].fingers...), nil
}

// FingerEpoch returns the epoch h's table was built for, or false if it was
// never built.
func (r *Ring) FingerEpoch(h Handle) (uint64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.exists(h) {
		return 0, false, fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	return r.nodes[h].fingerEpoch, r.nodes[h].fingersSet, nil
}

// FingersStale reports whether h's table is missing or older than epoch.
func (r *Ring) FingersStale(h Handle, epoch uint64) (bool, error) {
	built, ok, err := r.FingerEpoch(h)
	if err != nil {
		return false, err
	}
	return !ok || built < epoch, nil
}

// updateFingerTable must be called with the write lock held.
func (r *Ring) updateFingerTable(h Handle, epoch uint64) error {
	if !r.exists(h) {
		return fmt.Errorf("%w: %d", ErrUnknownNode, h)
	}
	nd := &r.nodes[h]
	fingers := make([]Handle, r.space.Bits)
	for i := uint(0); i < r.space.Bits; i++ {
		start := r.space.FingerStart(nd.id, i)
		f, _, err := r.findSuccessor(h, start)
		if err != nil {
			return fmt.Errorf("failed to resolve finger %d of %d: %w", i, nd.id, err)
		}
		fingers[i] = f
	}
	nd.fingers = fingers
	nd.fingerEpoch = epoch
	nd.fingersSet = true
	return nil
}

// checkSnapshot must be called with the lock held.
func (r *Ring) checkSnapshot(snap Snapshot) error {
	for _, id := range snap.IDs {
		if _, exists := r.byID[id]; !exists {
			return fmt.Errorf("%w: %d", ErrUnknownMember, id)
		}
	}
	return nil
}
