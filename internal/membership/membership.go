package membership

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chordring/internal/ident"
	"chordring/internal/ring"
)

// Member is a roster entry.
type Member struct {
	ID       ident.ID
	Name     string
	Addr     string
	Epoch    uint64 // roster epoch at which the member was added
	JoinedAt time.Time
}

// RingMember converts the entry to the ring's member identity.
func (m Member) RingMember() ring.Member {
	return ring.Member{Name: m.Name, Addr: m.Addr}
}

// ChangeFunc is invoked after the roster changes with the new snapshot and
// the members added by the change.
type ChangeFunc func(snap ring.Snapshot, added []ring.Member)

// Membership is the roster of known ring members.
type Membership struct {
	mu        sync.RWMutex
	space     ident.Space
	localID   ident.ID
	localName string
	members   map[ident.ID]*Member
	epoch     uint64
	logger    zerolog.Logger

	onMembershipChanged ChangeFunc
}

// NewMembership creates a roster containing only the local member.
func NewMembership(local ring.Member, space ident.Space, logger zerolog.Logger) *Membership {
	id := space.Hash(local.Name)
	m := &Membership{
		space:     space,
		localID:   id,
		localName: local.Name,
		members:   make(map[ident.ID]*Member),
		epoch:     1,
		logger:    logger,
	}
	m.members[id] = &Member{
		ID:       id,
		Name:     local.Name,
		Addr:     local.Addr,
		Epoch:    1,
		JoinedAt: time.Now(),
	}
	return m
}

// SetOnMembershipChanged sets a callback that's invoked when membership changes.
func (m *Membership) SetOnMembershipChanged(callback ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMembershipChanged = callback
}

// AddSeedMembers adds the statically configured members in one change.
func (m *Membership) AddSeedMembers(seeds []ring.Member) error {
	m.mu.Lock()
	added := make([]ring.Member, 0, len(seeds))
	var addErr error
	for _, seed := range seeds {
		ok, err := m.addLocked(seed)
		if err != nil {
			addErr = err
			break
		}
		if ok {
			added = append(added, seed)
		}
	}
	// Seeds added before a failure stay in the roster and are announced.
	cb, snap := m.changedLocked(len(added) > 0)
	m.mu.Unlock()

	if cb != nil {
		cb(snap, added)
	}
	return addErr
}

// Add adds a single member. Re-adding an existing member is a no-op; a
// different name that hashes to an existing id is rejected.
func (m *Membership) Add(member ring.Member) (Member, error) {
	m.mu.Lock()
	ok, err := m.addLocked(member)
	if err != nil {
		m.mu.Unlock()
		return Member{}, err
	}
	entry := *m.members[m.space.Hash(member.Name)]
	cb, snap := m.changedLocked(ok)
	m.mu.Unlock()

	if cb != nil {
		cb(snap, []ring.Member{member})
	}
	return entry, nil
}

// Get returns the member with the given id.
func (m *Membership) Get(id ident.ID) (Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	member, exists := m.members[id]
	if !exists {
		return Member{}, false
	}
	return *member, true
}

// Epoch returns the current roster epoch. It starts at 1 and grows by one
// with every change.
func (m *Membership) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// Len returns the number of members, including the local one.
func (m *Membership) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.members)
}

// Snapshot returns a copy of all members ordered by id.
func (m *Membership) Snapshot() []Member {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make([]Member, 0, len(m.members))
	for _, member := range m.members {
		snapshot = append(snapshot, *member)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].ID < snapshot[j].ID
	})
	return snapshot
}

// View returns the members ordered by id together with the matching ring
// snapshot, both read under one lock.
func (m *Membership) View() ([]ring.Member, ring.Snapshot) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.ringSnapshotLocked()
	members := make([]ring.Member, 0, len(snap.IDs))
	for _, id := range snap.IDs {
		members = append(members, m.members[id].RingMember())
	}
	return members, snap
}

// RingSnapshot returns the member ids and epoch for finger table rebuilds.
func (m *Membership) RingSnapshot() ring.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ringSnapshotLocked()
}

// Members returns all members as ring identities ordered by id.
func (m *Membership) Members() []ring.Member {
	snapshot := m.Snapshot()
	members := make([]ring.Member, 0, len(snapshot))
	for _, member := range snapshot {
		members = append(members, member.RingMember())
	}
	return members
}

// addLocked inserts member (must be called with lock held). It reports
// whether the roster changed.
func (m *Membership) addLocked(member ring.Member) (bool, error) {
	if member.Name == "" {
		return false, fmt.Errorf("member name cannot be empty")
	}
	id := m.space.Hash(member.Name)
	if existing, exists := m.members[id]; exists {
		if existing.Name != member.Name {
			return false, fmt.Errorf("%w: %q and %q both map to %d",
				ring.ErrDuplicateID, existing.Name, member.Name, id)
		}
		return false, nil
	}

	m.members[id] = &Member{
		ID:       id,
		Name:     member.Name,
		Addr:     member.Addr,
		Epoch:    m.epoch + 1,
		JoinedAt: time.Now(),
	}
	m.logger.Info().Str("member", member.Name).Uint64("id", uint64(id)).Msg("Discovered new member")
	return true, nil
}

// changedLocked bumps the epoch if changed and returns the callback to run
// once the lock is released (must be called with lock held).
func (m *Membership) changedLocked(changed bool) (ChangeFunc, ring.Snapshot) {
	if !changed {
		return nil, ring.Snapshot{}
	}
	m.epoch++
	return m.onMembershipChanged, m.ringSnapshotLocked()
}

func (m *Membership) ringSnapshotLocked() ring.Snapshot {
	ids := make([]ident.ID, 0, len(m.members))
	for id := range m.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ring.Snapshot{Epoch: m.epoch, IDs: ids}
}
