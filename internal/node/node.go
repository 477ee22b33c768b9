package node

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"chordring/internal/config"
	"chordring/internal/ident"
	"chordring/internal/membership"
	"chordring/internal/ring"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

// Node hosts one member of the ring. It keeps a full local copy of the ring
// built from the configured peers and answers routing queries for it.
type Node struct {
	nodeID     string
	listenAddr string
	grpcServer *grpc.Server
	ring       *ring.Ring
	ringMu     sync.Mutex // Serializes membership-driven ring changes
	self       ring.Handle
	membership *membership.Membership
	clientMgr  *ClientManager
	logger     zerolog.Logger
}

// NewNode creates a new node instance from a validated config.
func NewNode(cfg *config.Config, logger zerolog.Logger) (*Node, error) {
	space, err := cfg.Space()
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("node_id", cfg.NodeID).Logger()

	members := cfg.BuildRingMembers()
	rng, _, err := ring.Build(space, members, ring.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to build ring: %w", err)
	}
	self, ok := rng.HandleByName(cfg.NodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ring.ErrUnknownMember, cfg.NodeID)
	}

	roster := membership.NewMembership(cfg.Self(), space, logger)
	if err := roster.AddSeedMembers(members[1:]); err != nil {
		return nil, err
	}
	n := &Node{
		nodeID:     cfg.NodeID,
		listenAddr: cfg.ListenAddr,
		ring:       rng,
		self:       self,
		membership: roster,
		clientMgr:  NewClientManager(),
		logger:     logger,
	}
	// Align finger epochs with the roster before any change arrives.
	if err := n.syncRing(); err != nil {
		return nil, err
	}
	roster.SetOnMembershipChanged(n.onMembershipChanged)

	n.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
	RegisterRouterServer(n.grpcServer, NewServer(n.nodeID, rng, self, roster, n.syncRing, logger))
	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	return n, nil
}

// Ring returns the host's local ring.
func (n *Node) Ring() *ring.Ring {
	return n.ring
}

// Self returns the host's own handle in its ring.
func (n *Node) Self() ring.Handle {
	return n.self
}

// Membership returns the host's roster.
func (n *Node) Membership() *membership.Membership {
	return n.membership
}

// Clients returns the host's outbound client manager.
func (n *Node) Clients() *ClientManager {
	return n.clientMgr
}

// Start listens on the configured address and serves until Stop.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.listenAddr, err)
	}
	return n.Serve(lis)
}

// Serve serves the Router service on lis until Stop.
func (n *Node) Serve(lis net.Listener) error {
	n.logger.Info().Str("addr", lis.Addr().String()).Int("members", n.ring.Len()).Msg("Starting node")

	if err := n.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop gracefully stops the node.
func (n *Node) Stop() {
	n.logger.Info().Msg("Stopping node")
	n.grpcServer.GracefulStop()
	n.clientMgr.Close()
}

// onMembershipChanged runs after every roster change. Callbacks can arrive
// out of epoch order, so it ignores the delta it is given and syncs the ring
// to the roster's current view instead.
func (n *Node) onMembershipChanged(snap ring.Snapshot, added []ring.Member) {
	if err := n.syncRing(); err != nil {
		n.logger.Error().Err(err).Uint64("epoch", snap.Epoch).Msg("Failed to sync ring with roster")
	}
}

// syncRing adds every roster member missing from the ring, links members
// whose earlier join failed, and rebuilds all finger tables at the roster's
// current epoch. Finger tables are left untouched if any member could not
// be linked, so the next call retries.
func (n *Node) syncRing() error {
	n.ringMu.Lock()
	defer n.ringMu.Unlock()

	members, snap := n.membership.View()
	if stale, err := n.ring.FingersStale(n.self, snap.Epoch); err == nil && !stale {
		return nil
	}

	var errs []error
	for _, m := range members {
		h, exists := n.ring.HandleByName(m.Name)
		if !exists {
			var err error
			h, err = n.ring.AddNode(m)
			if err != nil {
				errs = append(errs, fmt.Errorf("failed to add member %q: %w", m.Name, err))
				continue
			}
		}
		if h == n.self {
			continue
		}
		// An unlinked node is its own successor.
		succ, err := n.ring.Successor(h)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if succ != h {
			continue
		}
		if err := n.ring.Join(h, n.self); err != nil {
			errs = append(errs, fmt.Errorf("failed to join member %q: %w", m.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if err := n.ring.UpdateAllFingerTables(snap); err != nil {
		return fmt.Errorf("failed to rebuild finger tables at epoch %d: %w", snap.Epoch, err)
	}
	n.logger.Info().Uint64("epoch", snap.Epoch).Int("members", len(snap.IDs)).Msg("Ring updated")
	return nil
}

// Owner resolves key from the host's own node.
func (n *Node) Owner(key ident.ID) (ring.NodeInfo, int, error) {
	h, hops, err := n.ring.Lookup(n.self, key)
	if err != nil {
		return ring.NodeInfo{}, 0, err
	}
	info, err := n.ring.Node(h)
	return info, hops, err
}
