package ring

import "errors"

var (
	// ErrRingInconsistency reports a broken successor cycle, a predecessor that
	// is not the inverse of its successor, or a walk that exceeded the hop ceiling.
	ErrRingInconsistency = errors.New("ring inconsistency")
	// ErrUnknownNode is returned for handles that are not in the arena.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownMember is returned when a membership snapshot names an
	// identifier that has no node in the arena.
	ErrUnknownMember = errors.New("unknown member")
	// ErrDuplicateID is returned when two nodes would share an identifier.
	ErrDuplicateID = errors.New("duplicate node identifier")
	// ErrAlreadyJoined is returned when Join is called on a linked node.
	ErrAlreadyJoined = errors.New("node already joined a ring")
	// ErrEmptyRing is returned by operations that need at least one node.
	ErrEmptyRing = errors.New("ring has no nodes")
	// ErrKeyOutOfRange is returned for keys outside the identifier space.
	ErrKeyOutOfRange = errors.New("key outside identifier space")
)
