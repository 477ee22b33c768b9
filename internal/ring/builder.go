package ring

import (
	"fmt"
	"strconv"

	"chordring/internal/ident"
)

// Build assembles members into a consistent ring.
//
// Each member is hashed to an id, created and joined through the first
// member. Joins without stabilization can leave links that reflect an older
// view, so the nodes are then re-linked authoritatively in id order before
// finger tables are computed. Handles are returned in ascending id order.
func Build(space ident.Space, members []Member, opts ...Option) (*Ring, []Handle, error) {
	ids := make([]ident.ID, len(members))
	for i, m := range members {
		ids[i] = space.Hash(m.Name)
	}
	return build(space, ids, members, opts...)
}

// BuildNames is Build for members that only have a name.
func BuildNames(space ident.Space, names []string, opts ...Option) (*Ring, []Handle, error) {
	members := make([]Member, len(names))
	for i, name := range names {
		members[i] = Member{Name: name}
	}
	return Build(space, members, opts...)
}

// BuildWithIDs assembles nodes with explicit identifiers. Each node is
// named after its id.
func BuildWithIDs(space ident.Space, ids []ident.ID, opts ...Option) (*Ring, []Handle, error) {
	members := make([]Member, len(ids))
	for i, id := range ids {
		members[i] = Member{Name: strconv.FormatUint(uint64(id), 10)}
	}
	return build(space, ids, members, opts...)
}

func build(space ident.Space, ids []ident.ID, members []Member, opts ...Option) (*Ring, []Handle, error) {
	if err := space.Validate(); err != nil {
		return nil, nil, err
	}
	if len(members) == 0 {
		return nil, nil, ErrEmptyRing
	}

	r := NewRing(space, opts...)
	created := make([]Handle, 0, len(members))
	for i, m := range members {
		h, err := r.AddNodeWithID(ids[i], m)
		if err != nil {
			return nil, nil, err
		}
		if len(created) > 0 {
			if err := r.Join(h, created[0]); err != nil {
				return nil, nil, fmt.Errorf("failed to join %q: %w", m.Name, err)
			}
		}
		created = append(created, h)
	}

	sorted := r.relinkSorted()
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}
	if err := r.UpdateAllFingerTables(r.Snapshot(0)); err != nil {
		return nil, nil, err
	}

	r.logger.Info().Int("nodes", len(sorted)).Uint("bits", space.Bits).Msg("Built ring")
	return r, sorted, nil
}
