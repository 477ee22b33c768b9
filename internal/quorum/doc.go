// Package quorum fans a query out to several hosts and checks that enough of
// them agree on the answer. It is used to cross-check routing decisions that
// each host computes from its own copy of the ring.
package quorum
