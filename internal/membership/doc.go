// Package membership keeps the roster of ring members a node knows about and
// hands out snapshots of it for finger table rebuilds.
//
// Limitations:
// - No failure detection or gossip; members are only ever added
// - Change callbacks run synchronously on the caller's goroutine
package membership
