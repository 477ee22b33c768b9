package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"chordring/internal/config"
	"chordring/internal/node"
	"chordring/internal/ring"
	"github.com/rs/zerolog"
)

// Cluster represents an in-process test cluster of hosts, each serving the
// Router service on its own loopback port.
type Cluster struct {
	hosts   []*Host
	bits    uint
	logger  zerolog.Logger
	clients *node.ClientManager
	mu      sync.Mutex
}

// Host represents a single host in the test cluster
type Host struct {
	ID   string
	Addr string
	node *node.Node
	lis  net.Listener
	done chan error
}

// NewCluster creates a new test cluster harness over a bits-wide ring.
func NewCluster(bits uint, logger zerolog.Logger) *Cluster {
	return &Cluster{
		hosts:   make([]*Host, 0),
		bits:    bits,
		logger:  logger,
		clients: node.NewClientManager(),
	}
}

// Clients returns the harness's own client manager.
func (c *Cluster) Clients() *node.ClientManager {
	return c.clients
}

// StartCluster starts one host per id, each configured with all the others
// as peers.
func (c *Cluster) StartCluster(ctx context.Context, nodeIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Reserve every port first so each host sees the full peer list.
	hosts := make([]*Host, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			closeListeners(hosts)
			return fmt.Errorf("failed to listen for %s: %w", id, err)
		}
		hosts = append(hosts, &Host{ID: id, Addr: lis.Addr().String(), lis: lis})
	}

	for _, h := range hosts {
		peers := make([]config.Peer, 0, len(hosts)-1)
		for _, other := range hosts {
			if other.ID != h.ID {
				peers = append(peers, config.Peer{ID: other.ID, Addr: other.Addr})
			}
		}
		if err := c.startHost(ctx, h, peers); err != nil {
			c.stopLocked()
			closeListeners(hosts)
			return err
		}
	}
	return nil
}

// StartNode starts a host that knows the running cluster and announces
// itself to every existing host through the Join RPC.
func (c *Cluster) StartNode(ctx context.Context, nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen for %s: %w", nodeID, err)
	}
	h := &Host{ID: nodeID, Addr: lis.Addr().String(), lis: lis}

	existing := append([]*Host(nil), c.hosts...)
	peers := make([]config.Peer, 0, len(existing))
	for _, other := range existing {
		peers = append(peers, config.Peer{ID: other.ID, Addr: other.Addr})
	}
	if err := c.startHost(ctx, h, peers); err != nil {
		lis.Close()
		return err
	}

	self := ring.Member{Name: h.ID, Addr: h.Addr}
	for _, other := range existing {
		joinCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := c.clients.Join(joinCtx, other.Addr, self)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to announce %s to %s: %w", nodeID, other.ID, err)
		}
	}
	return nil
}

// startHost must be called with c.mu held.
func (c *Cluster) startHost(ctx context.Context, h *Host, peers []config.Peer) error {
	cfg := &config.Config{
		NodeID:     h.ID,
		ListenAddr: h.Addr,
		Peers:      peers,
		Bits:       c.bits,
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config for %s: %w", h.ID, err)
	}

	n, err := node.NewNode(cfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to create node %s: %w", h.ID, err)
	}
	h.node = n
	h.done = make(chan error, 1)
	go func() {
		h.done <- n.Serve(h.lis)
	}()
	c.hosts = append(c.hosts, h)

	// Wait for host to be ready
	if err := c.waitForReady(ctx, h, 10*time.Second); err != nil {
		return fmt.Errorf("node %s failed to become ready: %w", h.ID, err)
	}
	return nil
}

// waitForReady waits for a host to be ready by checking the health endpoint
func (c *Cluster) waitForReady(ctx context.Context, h *Host, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-h.done:
			return fmt.Errorf("node %s exited: %v", h.ID, err)
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s to be ready", h.ID)
			}

			healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			_, err := c.clients.Health(healthCtx, h.Addr)
			cancel()

			if err == nil {
				return nil
			}
		}
	}
}

// GetNode returns a host by ID
func (c *Cluster) GetNode(nodeID string) *Host {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, h := range c.hosts {
		if h.ID == nodeID {
			return h
		}
	}
	return nil
}

// Hosts returns the running hosts in start order.
func (c *Cluster) Hosts() []*Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Host(nil), c.hosts...)
}

// Stop stops all hosts in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.clients.Close()
}

func (c *Cluster) stopLocked() {
	for _, h := range c.hosts {
		h.Stop()
	}
	c.hosts = nil
}

// Stop stops a single host
func (h *Host) Stop() {
	if h.node != nil {
		h.node.Stop()
	}
}

// Node returns the host's node.
func (h *Host) Node() *node.Node {
	return h.node
}

func closeListeners(hosts []*Host) {
	for _, h := range hosts {
		if h.node == nil {
			h.lis.Close()
		}
	}
}
