package grpc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/weiawesome/wes-io-live/pkg/log"
)

// ServiceName is the health service key reported for the engine.
const ServiceName = "studyroom.realtime"

// Pinger reports whether the store behind the engine is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes gRPC health and reflection for orchestrators. Health
// follows the store: NOT_SERVING while pings fail.
type Server struct {
	srv    *grpc.Server
	health *health.Server
	pinger Pinger
}

func NewServer(p Pinger, logger zerolog.Logger) *Server {
	s := &Server{
		srv: grpc.NewServer(
			grpc.UnaryInterceptor(log.UnaryServerInterceptor(logger)),
			grpc.StreamInterceptor(log.StreamServerInterceptor(logger)),
		),
		health: health.NewServer(),
		pinger: p,
	}
	healthpb.RegisterHealthServer(s.srv, s.health)
	reflection.Register(s.srv)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

// Watch pings the store every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Server) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.pinger.Ping(ctx); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Msg("store ping failed")
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}

func StartGRPCServer(ctx context.Context, addr string, p Pinger, logger zerolog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s := NewServer(p, logger)
	go s.Watch(ctx, 10*time.Second)
	go func() {
		l := log.L()
		l.Info().Str("address", addr).Msg("grpc server listening")
		if err := s.Serve(lis); err != nil {
			l.Error().Err(err).Msg("grpc server error")
		}
	}()
	return s, nil
}
