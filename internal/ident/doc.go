// Package ident implements the identifier space of a Chord ring: m-bit
// identifiers with modular (circular) arithmetic, the circular interval
// predicate every successor comparison is built on, and the hash families
// used to map names and keys onto the ring.
package ident
