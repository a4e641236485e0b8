package server

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	service "github.com/123bigmirros/electronic-grave/services"
	"github.com/123bigmirros/electronic-grave/utils"
)

// structMethod is the shape of every RPC served here: a Struct in, a Struct out.
type structMethod func(srv interface{}, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryStructHandler(fullMethod string, call structMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func loggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("elapsed", time.Since(start)).
			Msg("grpc call")
		return resp, err
	}
}

// NewGRPCServer builds the server with both the key rotation and the heritage
// services registered.
func NewGRPCServer(store *utils.PublicKeyStore, canvases *service.CanvasService, logger zerolog.Logger) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
	RegisterKeyRotationNotifyServer(s, NewKeyRotationNotifyServer(store, logger))
	RegisterHeritageServer(s, NewHeritageServer(canvases))
	return s
}

// RunGRPCServer serves on addr until ctx is cancelled.
func RunGRPCServer(ctx context.Context, addr string, s *grpc.Server, logger zerolog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.GracefulStop()
	}()
	logger.Info().Str("addr", addr).Msg("starting gRPC server")
	return s.Serve(lis)
}
