package observability

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth serves the standard grpc.health.v1 service so orchestrators
// that only speak gRPC health checks can watch the process. Serving status follows
// the same dependency checks as /ready.
type GRPCHealth struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	checks   map[string]HealthCheckFunc
	interval time.Duration
}

// NewGRPCHealth listens on addr. checks may be nil.
func NewGRPCHealth(addr string, checks map[string]HealthCheckFunc) (*GRPCHealth, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen grpc health on %s: %w", addr, err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &GRPCHealth{
		server:   srv,
		health:   hs,
		listener: lis,
		checks:   checks,
		interval: 15 * time.Second,
	}, nil
}

// Addr returns the bound listener address
func (g *GRPCHealth) Addr() string {
	return g.listener.Addr().String()
}

// Serve blocks until the server stops. Check results are refreshed until ctx
// is done.
func (g *GRPCHealth) Serve(ctx context.Context) error {
	g.refresh(ctx)
	go func() {
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				g.refresh(ctx)
			}
		}
	}()

	log.Info().Str("addr", g.Addr()).Msg("gRPC health server listening")
	if err := g.server.Serve(g.listener); err != nil && err != grpc.ErrServerStopped {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}

func (g *GRPCHealth) refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	for name, dep := range RunChecks(checkCtx, g.checks) {
		if dep.Status != "healthy" {
			log.Warn().Str("dependency", name).Str("error", dep.Message).Msg("Dependency unhealthy")
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Stop marks the service as not serving and stops the server gracefully
func (g *GRPCHealth) Stop() {
	g.health.Shutdown()
	g.server.GracefulStop()
}
