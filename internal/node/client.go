package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chordring/internal/ident"
	"chordring/internal/quorum"
	"chordring/internal/ring"
	"github.com/rs/xid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// Metadata key carrying the caller's request id
	requestIDMetadataKey = "x-request-id"
	// Connection timeout
	dialTimeout = 5 * time.Second
)

// ClientManager manages gRPC clients to peer nodes.
type ClientManager struct {
	mu       sync.RWMutex
	clients  map[string]RouterClient
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
}

// NewClientManager creates a new client manager. Extra dial options are
// appended to the defaults, which lets tests swap in an in-memory dialer.
func NewClientManager(opts ...grpc.DialOption) *ClientManager {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	}
	return &ClientManager{
		clients:  make(map[string]RouterClient),
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: append(dialOpts, opts...),
	}
}

// GetClient returns a Router client for the given node address.
// Creates a new connection if one doesn't exist.
func (cm *ClientManager) GetClient(addr string) (RouterClient, error) {
	cm.mu.RLock()
	client, exists := cm.clients[addr]
	cm.mu.RUnlock()

	if exists {
		return client, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if client, exists := cm.clients[addr]; exists {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr, cm.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	client = NewRouterClient(conn)
	cm.clients[addr] = client
	cm.conns[addr] = conn
	return client, nil
}

// Close closes all client connections.
func (cm *ClientManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, conn := range cm.conns {
		_ = conn.Close()
	}
	cm.clients = make(map[string]RouterClient)
	cm.conns = make(map[string]*grpc.ClientConn)
}

// withRequestID tags the outgoing call with a fresh request id.
func withRequestID(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, requestIDMetadataKey, xid.New().String())
}

// FindSuccessor asks the node at addr to resolve key by successor walk.
func (cm *ClientManager) FindSuccessor(ctx context.Context, addr string, key ident.ID) (RouteResult, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return RouteResult{}, err
	}
	resp, err := client.FindSuccessor(withRequestID(ctx), wrapperspb.UInt64(uint64(key)))
	if err != nil {
		return RouteResult{}, err
	}
	return RouteFromProto(resp)
}

// Lookup asks the node at addr to resolve key using its finger table.
func (cm *ClientManager) Lookup(ctx context.Context, addr string, key ident.ID) (RouteResult, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return RouteResult{}, err
	}
	resp, err := client.Lookup(withRequestID(ctx), wrapperspb.UInt64(uint64(key)))
	if err != nil {
		return RouteResult{}, err
	}
	return RouteFromProto(resp)
}

// Locate asks the node at addr which member owns a string key.
func (cm *ClientManager) Locate(ctx context.Context, addr, key string) (RouteResult, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return RouteResult{}, err
	}
	req, err := structpb.NewStruct(map[string]any{"key": key})
	if err != nil {
		return RouteResult{}, err
	}
	resp, err := client.Locate(withRequestID(ctx), req)
	if err != nil {
		return RouteResult{}, err
	}
	return RouteFromProto(resp)
}

// Join announces member to the node at addr.
func (cm *ClientManager) Join(ctx context.Context, addr string, member ring.Member) (NodeView, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return NodeView{}, err
	}
	req, err := structpb.NewStruct(map[string]any{"name": member.Name, "addr": member.Addr})
	if err != nil {
		return NodeView{}, err
	}
	resp, err := client.Join(withRequestID(ctx), req)
	if err != nil {
		return NodeView{}, err
	}
	return NodeViewFromProto(resp)
}

// GetNode fetches a node's routing state from the host at addr. An empty
// name means the host itself.
func (cm *ClientManager) GetNode(ctx context.Context, addr, name string) (NodeView, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return NodeView{}, err
	}
	req, err := structpb.NewStruct(map[string]any{"name": name})
	if err != nil {
		return NodeView{}, err
	}
	resp, err := client.GetNode(withRequestID(ctx), req)
	if err != nil {
		return NodeView{}, err
	}
	return NodeViewFromProto(resp)
}

// Health checks the node at addr.
func (cm *ClientManager) Health(ctx context.Context, addr string) (HealthStatus, error) {
	client, err := cm.GetClient(addr)
	if err != nil {
		return HealthStatus{}, err
	}
	resp, err := client.Health(withRequestID(ctx), &emptypb.Empty{})
	if err != nil {
		return HealthStatus{}, err
	}
	return HealthFromProto(resp)
}

// AgreeOnOwner asks every host in addrs to resolve key with Lookup and checks
// that at least required of them name the same owner. required <= 0 means a
// majority.
func (cm *ClientManager) AgreeOnOwner(ctx context.Context, addrs []string, key ident.ID, required int) (quorum.Result[Peer], error) {
	res := quorum.Agree(ctx, addrs, required, func(ctx context.Context, addr string) (Peer, error) {
		route, err := cm.Lookup(ctx, addr, key)
		if err != nil {
			return Peer{}, err
		}
		return route.Owner, nil
	})
	if !res.Success {
		return res, fmt.Errorf("owner of %d: %s", key, res.ErrorMessage)
	}
	return res, nil
}
