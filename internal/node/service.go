package node

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified name of the routing service.
const ServiceName = "chord.Router"

const (
	FindSuccessorMethod = "/" + ServiceName + "/FindSuccessor"
	LookupMethod        = "/" + ServiceName + "/Lookup"
	LocateMethod        = "/" + ServiceName + "/Locate"
	JoinMethod          = "/" + ServiceName + "/Join"
	GetNodeMethod       = "/" + ServiceName + "/GetNode"
	HealthMethod        = "/" + ServiceName + "/Health"
)

// RouterServer is the server API for the chord.Router service. Messages are
// protobuf well-known types so the service needs no generated code.
type RouterServer interface {
	FindSuccessor(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	Lookup(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	Locate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Join(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RouterServiceDesc describes the chord.Router service for grpc.Server.
var RouterServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RouterServer)(nil),
	Methods: []grpc.MethodDesc{
		unary[wrapperspb.UInt64Value]("FindSuccessor", RouterServer.FindSuccessor),
		unary[wrapperspb.UInt64Value]("Lookup", RouterServer.Lookup),
		unary[structpb.Struct]("Locate", RouterServer.Locate),
		unary[structpb.Struct]("Join", RouterServer.Join),
		unary[structpb.Struct]("GetNode", RouterServer.GetNode),
		unary[emptypb.Empty]("Health", RouterServer.Health),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chord/router",
}

// RegisterRouterServer registers srv on s.
func RegisterRouterServer(s grpc.ServiceRegistrar, srv RouterServer) {
	s.RegisterService(&RouterServiceDesc, srv)
}

// unary builds the method descriptor for a unary call that decodes a T.
func unary[T any, PT interface {
	*T
	proto.Message
}](name string, call func(RouterServer, context.Context, PT) (*structpb.Struct, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PT(new(T))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RouterServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(RouterServer), ctx, req.(PT))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// RouterClient is the client API for the chord.Router service.
type RouterClient interface {
	FindSuccessor(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error)
	Lookup(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error)
	Locate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Join(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetNode(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type routerClient struct {
	cc grpc.ClientConnInterface
}

// NewRouterClient creates a client for the chord.Router service.
func NewRouterClient(cc grpc.ClientConnInterface) RouterClient {
	return &routerClient{cc: cc}
}

func (c *routerClient) invoke(ctx context.Context, method string, in proto.Message, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *routerClient) FindSuccessor(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, FindSuccessorMethod, in, opts)
}

func (c *routerClient) Lookup(ctx context.Context, in *wrapperspb.UInt64Value, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, LookupMethod, in, opts)
}

func (c *routerClient) Locate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, LocateMethod, in, opts)
}

func (c *routerClient) Join(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, JoinMethod, in, opts)
}

func (c *routerClient) GetNode(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetNodeMethod, in, opts)
}

func (c *routerClient) Health(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, HealthMethod, in, opts)
}
