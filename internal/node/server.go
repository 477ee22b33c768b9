package node

import (
	"context"
	"errors"
	"time"

	"chordring/internal/ident"
	"chordring/internal/membership"
	"chordring/internal/ring"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	healthServing  = "SERVING"
	healthDegraded = "DEGRADED"
)

// Server implements the chord.Router gRPC service. Every routed query starts
// at the host's own node.
type Server struct {
	nodeID     string
	ring       *ring.Ring
	self       ring.Handle
	membership *membership.Membership
	syncRing   func() error
	logger     zerolog.Logger
}

// NewServer creates a new gRPC server instance. syncRing brings the ring up
// to the roster's current view and may be nil when the ring is static.
func NewServer(nodeID string, rng *ring.Ring, self ring.Handle, members *membership.Membership, syncRing func() error, logger zerolog.Logger) *Server {
	return &Server{
		nodeID:     nodeID,
		ring:       rng,
		self:       self,
		membership: members,
		syncRing:   syncRing,
		logger:     logger,
	}
}

var _ RouterServer = (*Server)(nil)

// FindSuccessor walks successor pointers to the owner of the key.
func (s *Server) FindSuccessor(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	key := ident.ID(req.GetValue())
	h, hops, err := s.ring.FindSuccessorHops(s.self, key)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.route(h, key, hops)
}

// Lookup resolves the owner of the key using finger tables.
func (s *Server) Lookup(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	key := ident.ID(req.GetValue())
	h, hops, err := s.ring.Lookup(s.self, key)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.route(h, key, hops)
}

// Locate hashes a string key into the ring and resolves its owner.
func (s *Server) Locate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	raw := req.GetFields()["key"].GetStringValue()
	if raw == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}
	key := s.ring.Space().Hash(raw)
	h, hops, err := s.ring.FindSuccessorHops(s.self, key)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.route(h, key, hops)
}

// Join admits a new member into the roster. The host links it into the ring
// and rebuilds finger tables before answering.
func (s *Server) Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["name"].GetStringValue()
	addr := req.GetFields()["addr"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "name cannot be empty")
	}

	member, err := s.membership.Add(ring.Member{Name: name, Addr: addr})
	if err != nil {
		return nil, toStatus(err)
	}
	// A repeated Join can overtake the first one's ring update.
	if s.syncRing != nil {
		if err := s.syncRing(); err != nil {
			return nil, toStatus(err)
		}
	}

	h, ok := s.ring.HandleByName(name)
	if !ok {
		return nil, status.Errorf(codes.Internal, "member %q (id %d) was not linked into the ring", name, member.ID)
	}
	s.logger.Info().Str("member", name).Uint64("id", uint64(member.ID)).Msg("Member joined via RPC")
	return s.nodeView(h)
}

// GetNode returns the routing state of a named node, or of the host when no
// name is given.
func (s *Server) GetNode(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := req.GetFields()["name"].GetStringValue()
	h := s.self
	if name != "" {
		var ok bool
		h, ok = s.ring.HandleByName(name)
		if !ok {
			return nil, status.Errorf(codes.NotFound, "unknown node %q", name)
		}
	}
	return s.nodeView(h)
}

// Health reports whether the ring passes validation.
func (s *Server) Health(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	st := healthServing
	if err := s.ring.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("Ring failed validation")
		st = healthDegraded
	}
	out, err := healthToProto(HealthStatus{
		NodeID:  s.nodeID,
		Status:  st,
		Members: s.ring.Len(),
		Epoch:   s.membership.Epoch(),
	})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) route(h ring.Handle, key ident.ID, hops int) (*structpb.Struct, error) {
	info, err := s.ring.Node(h)
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := routeToProto(RouteResult{Owner: peerFromInfo(info), Key: key, Hops: hops})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) nodeView(h ring.Handle) (*structpb.Struct, error) {
	info, err := s.ring.Node(h)
	if err != nil {
		return nil, toStatus(err)
	}
	succ, err := s.ring.Node(info.Successor)
	if err != nil {
		return nil, toStatus(err)
	}
	view := NodeView{
		Peer:      peerFromInfo(info),
		Successor: peerFromInfo(succ),
	}

	if info.Predecessor != ring.NoNode {
		pred, err := s.ring.Node(info.Predecessor)
		if err != nil {
			return nil, toStatus(err)
		}
		p := peerFromInfo(pred)
		view.Predecessor = &p
	}

	fingers, err := s.ring.Fingers(h)
	if err != nil {
		return nil, toStatus(err)
	}
	for _, f := range fingers {
		fi, err := s.ring.Node(f)
		if err != nil {
			return nil, toStatus(err)
		}
		view.Fingers = append(view.Fingers, peerFromInfo(fi))
	}
	view.FingerEpoch, _, err = s.ring.FingerEpoch(h)
	if err != nil {
		return nil, toStatus(err)
	}

	out, err := nodeViewToProto(view)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps ring errors onto gRPC status codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, ring.ErrKeyOutOfRange):
		code = codes.InvalidArgument
	case errors.Is(err, ring.ErrDuplicateID):
		code = codes.AlreadyExists
	case errors.Is(err, ring.ErrUnknownNode), errors.Is(err, ring.ErrUnknownMember):
		code = codes.NotFound
	case errors.Is(err, ring.ErrRingInconsistency):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// requestID returns the caller's request id, if any.
func requestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(requestIDMetadataKey); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// loggingInterceptor logs every unary call with its request id and outcome.
func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("request_id", requestID(ctx)).
			Str("code", status.Code(err).String()).
			Dur("elapsed", time.Since(start)).
			Msg("Handled request")
		return resp, err
	}
}
