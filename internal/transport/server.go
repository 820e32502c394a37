package transport

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/ThinkParQ/beegfs-sub011/internal/logging"
	"github.com/ThinkParQ/beegfs-sub011/internal/wire"
)

const (
	ServiceName    = "beegfs.mirror.v1.Peer"
	MethodExchange = "/" + ServiceName + "/Exchange"
)

// Dispatcher answers one request frame with one response frame
type Dispatcher interface {
	Dispatch(ctx context.Context, req *wire.Frame) (*wire.Frame, error)
}

func exchangeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wire.Frame)
	if err := dec(in); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode frame: %v", err)
	}
	d := srv.(Dispatcher)
	if interceptor == nil {
		return d.Dispatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodExchange}
	handler := func(ctx context.Context, req any) (any, error) {
		return d.Dispatch(ctx, req.(*wire.Frame))
	}
	return interceptor(ctx, in, info, handler)
}

// peerServiceDesc describes the single unary exchange method. Frames are
// carried by the "frame" codec rather than generated protobuf types.
var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Dispatcher)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Exchange", Handler: exchangeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "beegfs/mirror/v1/peer.proto",
}

// Server is the peer transport endpoint of a node
type Server struct {
	address    string
	maxSize    int
	dispatcher Dispatcher
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	logger     *logging.Logger
}

// NewServer creates a server; nothing listens until Listen or Start
func NewServer(address string, dispatcher Dispatcher, maxMessageSize uint32, logger *logging.Logger) *Server {
	if maxMessageSize == 0 {
		maxMessageSize = wire.DefaultMaxFrameSize
	}
	return &Server{
		address:    address,
		maxSize:    int(maxMessageSize),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Listen binds the address and registers services
func (s *Server) Listen() error {
	s.grpcServer = grpc.NewServer(
		grpc.MaxRecvMsgSize(s.maxSize),
		grpc.MaxSendMsgSize(s.maxSize),
	)
	s.grpcServer.RegisterService(&peerServiceDesc, s.dispatcher)

	s.health = health.NewServer()
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	// Register reflection service (for debugging with grpcurl)
	reflection.Register(s.grpcServer)

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.listener = listener
	return nil
}

// Addr is the bound address, useful with port 0
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// Serve starts serving in the background
func (s *Server) Serve() {
	s.logger.Info("gRPC server starting", "address", s.Addr())
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			s.logger.Error("gRPC server error", "error", err)
		}
	}()
}

// Start listens, serves and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	s.Serve()

	<-ctx.Done()
	s.logger.Info("Shutting down gRPC server")
	s.Stop()
	return nil
}

// Stop marks the service not serving and stops gracefully
func (s *Server) Stop() {
	if s.grpcServer == nil {
		return
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.logger.Info("Stopping gRPC server")
	s.grpcServer.GracefulStop()
}
