// Package config holds the configuration of a ring node: its identity, the
// statically known peers and the identifier space they share.
package config
