package grpc

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type flakyPinger struct{ down atomic.Bool }

func (p *flakyPinger) Ping(context.Context) error {
	if p.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func startTestServer(t *testing.T, p Pinger) (*Server, healthpb.HealthClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(p, zerolog.Nop())
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return s, healthpb.NewHealthClient(conn)
}

func status(t *testing.T, c healthpb.HealthClient) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func TestHealthFollowsStore(t *testing.T) {
	p := &flakyPinger{}
	s, client := startTestServer(t, p)

	if got := status(t, client); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("initial status = %v", got)
	}

	p.down.Store(true)
	s.check(context.Background())
	if got := status(t, client); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status with store down = %v", got)
	}

	p.down.Store(false)
	s.check(context.Background())
	if got := status(t, client); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after recovery = %v", got)
	}
}
