package config

import (
	"errors"
	"fmt"
	"strings"

	"chordring/internal/ident"
	"chordring/internal/ring"
)

const (
	// DefaultBits is the identifier width used when none is configured.
	DefaultBits = 32
	// DefaultListenAddr is the address a node serves on when none is configured.
	DefaultListenAddr = "127.0.0.1:50051"
)

// Peer represents a peer node in the cluster.
type Peer struct {
	ID   string
	Addr string
}

// Config holds the node configuration.
type Config struct {
	NodeID     string
	ListenAddr string
	Peers      []Peer
	Bits       uint
	HashFamily string
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.NodeID) == "" {
		return errors.New("node ID cannot be empty")
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Bits == 0 {
		c.Bits = DefaultBits
	}
	space, err := c.Space()
	if err != nil {
		return err
	}

	// Names must also be distinct once hashed into the ring.
	seen := make(map[string]bool, len(c.Peers))
	ids := map[ident.ID]string{space.Hash(c.NodeID): c.NodeID}
	for _, peer := range c.Peers {
		if seen[peer.ID] {
			return fmt.Errorf("duplicate peer ID: %s", peer.ID)
		}
		seen[peer.ID] = true
		if peer.ID == c.NodeID {
			continue
		}
		id := space.Hash(peer.ID)
		if other, exists := ids[id]; exists {
			return fmt.Errorf("%w: %q and %q both map to %d", ring.ErrDuplicateID, other, peer.ID, id)
		}
		ids[id] = peer.ID
	}
	return nil
}

// Space returns the identifier space described by Bits and HashFamily.
func (c *Config) Space() (ident.Space, error) {
	family, err := ident.ParseHashFamily(c.HashFamily)
	if err != nil {
		return ident.Space{}, err
	}
	return ident.NewSpace(c.Bits, family)
}

// Self returns the local node's ring identity.
func (c *Config) Self() ring.Member {
	return ring.Member{Name: c.NodeID, Addr: c.ListenAddr}
}

// BuildRingMembers converts config peers + self into ring members.
// Includes self in the list.
func (c *Config) BuildRingMembers() []ring.Member {
	members := make([]ring.Member, 0, len(c.Peers)+1)

	// Add self
	members = append(members, c.Self())

	// Add peers
	for _, peer := range c.Peers {
		// Skip self if it appears in peers list
		if peer.ID != c.NodeID {
			members = append(members, ring.Member{
				Name: peer.ID,
				Addr: peer.Addr,
			})
		}
	}

	return members
}
