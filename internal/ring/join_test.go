package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chordring/internal/ident"
)

func TestJoin_BootstrapStaysSingleton(t *testing.T) {
	r := NewRing(space8)
	h, err := r.AddNode(Member{Name: "n1", Addr: "127.0.0.1:7001"})
	require.NoError(t, err)

	require.NoError(t, r.Join(h, NoNode))
	require.NoError(t, r.Join(h, h))

	succ, err := r.Successor(h)
	require.NoError(t, err)
	assert.Equal(t, h, succ)
	_, ok, err := r.Predecessor(h)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, r.Validate())
}

func TestJoin_SingletonExisting(t *testing.T) {
	r := NewRing(space6)
	a, err := r.AddNodeWithID(10, Member{Name: "a"})
	require.NoError(t, err)
	b, err := r.AddNodeWithID(40, Member{Name: "b"})
	require.NoError(t, err)

	require.NoError(t, r.Join(b, a))
	require.NoError(t, r.Validate())

	succA, _ := r.Successor(a)
	succB, _ := r.Successor(b)
	assert.Equal(t, b, succA)
	assert.Equal(t, a, succB)

	owner, err := r.FindSuccessor(a, 25)
	require.NoError(t, err)
	assert.Equal(t, b, owner)
	owner, err = r.FindSuccessor(b, 50)
	require.NoError(t, err)
	assert.Equal(t, a, owner)
}

func TestJoin_IncrementalKeepsSingleCycle(t *testing.T) {
	r := NewRing(space8)
	var first Handle = NoNode

	for i, name := range names8 {
		h, err := r.AddNode(Member{Name: name})
		require.NoError(t, err)

		// Join through a different member each time.
		existing := first
		if i > 1 {
			handles := r.Handles()
			existing = handles[i%len(handles)]
			if existing == h {
				existing = first
			}
		}
		require.NoError(t, r.Join(h, existing), "join %s", name)
		if first == NoNode {
			first = h
		}

		require.NoError(t, r.Validate(), "after joining %s", name)
		assert.Equal(t, i+1, r.Len())
	}
}

func TestJoin_TransfersExactlyThePrefix(t *testing.T) {
	r, byID := scenarioRing(t)

	succLo, succHi, ok, err := r.OwnedRange(byID[31])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ident.ID(20), succLo)
	require.Equal(t, ident.ID(31), succHi)

	h, err := r.AddNodeWithID(25, Member{Name: "25"})
	require.NoError(t, err)
	require.NoError(t, r.Join(h, byID[58]))
	require.NoError(t, r.Validate())

	lo, hi, ok, err := r.OwnedRange(h)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ident.ID(20), lo)
	assert.Equal(t, ident.ID(25), hi)

	lo, hi, ok, err = r.OwnedRange(byID[31])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ident.ID(25), lo)
	assert.Equal(t, ident.ID(31), hi)

	// Other ranges are untouched.
	for _, id := range []ident.ID{4, 20, 58} {
		lo, hi, _, err := r.OwnedRange(byID[id])
		require.NoError(t, err)
		assert.Equal(t, id, hi)
		assert.NotEqual(t, ident.ID(25), lo)
	}

	for key := ident.ID(21); key <= 25; key++ {
		owner, err := r.FindSuccessor(byID[4], key)
		require.NoError(t, err)
		assert.Equal(t, h, owner, "key %d", key)
	}
}

func TestJoin_AlreadyJoined(t *testing.T) {
	r, byID := scenarioRing(t)
	err := r.Join(byID[20], byID[4])
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestJoin_UnknownExisting(t *testing.T) {
	r := NewRing(space6)
	h, err := r.AddNodeWithID(3, Member{Name: "3"})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Join(h, Handle(5)), ErrUnknownNode)
}
