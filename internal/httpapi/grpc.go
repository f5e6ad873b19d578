package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "passport-api"

// GRPCHealth wraps the standard gRPC health service with a readiness probe so
// orchestrators can watch the same signal over gRPC as over /ready.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

// NewGRPCHealth builds a gRPC server exposing grpc.health.v1.Health.
func NewGRPCHealth(probe ReadyProbe) *GRPCHealth {
	h := health.NewServer()
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus(serviceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &GRPCHealth{server: s, health: h, probe: probe}
}

// Server returns the underlying gRPC server for Serve/GracefulStop.
func (g *GRPCHealth) Server() *grpc.Server { return g.server }

// Watch polls the probe until ctx ends, reflecting the result into the
// health service.
func (g *GRPCHealth) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	g.update(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.health.Shutdown()
			return
		case <-ticker.C:
			g.update(ctx)
		}
	}
}

func (g *GRPCHealth) update(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st := healthpb.HealthCheckResponse_SERVING
	if err := g.probe.Check(checkCtx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(serviceName, st)
	g.health.SetServingStatus("", st)
}
