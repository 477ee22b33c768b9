// Package ring implements the routing core of a Chord ring.
//
// Nodes live in an index-based arena owned by a Ring and refer to each other
// (successor, predecessor, fingers) by Handle. A node owns the keys in
// (predecessor.id, id]. FindSuccessor resolves an owner by walking successor
// links; Lookup does the same through finger tables in O(log n) hops.
//
// Limitations:
// - No stabilization, failure detection or leave; links only change on Join
//   or Build, and finger tables only on UpdateFingerTable.
// - Membership changes must be serialized by the caller; the Ring lock only
//   keeps individual operations atomic.
package ring
