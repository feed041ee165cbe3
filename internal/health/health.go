// Package health exposes liveness and readiness over HTTP and the standard
// gRPC health service.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name reported alongside "".
const ServiceName = "cityshift"

// Check returns nil when the dependency is usable.
type Check func(ctx context.Context) error

type namedCheck struct {
	name  string
	check Check
}

// Checker runs readiness checks and mirrors the result into a gRPC health
// server.
type Checker struct {
	mu      sync.Mutex
	checks  []namedCheck
	timeout time.Duration
	grpc    *health.Server
	logger  *zerolog.Logger
}

func NewChecker(logger *zerolog.Logger) *Checker {
	l := logger.With().Str("component", "health").Logger()
	return &Checker{
		timeout: time.Second,
		grpc:    health.NewServer(),
		logger:  &l,
	}
}

// Add registers a readiness check.
func (c *Checker) Add(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Ready runs every check and returns the first failure.
func (c *Checker) Ready(ctx context.Context) error {
	c.mu.Lock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	for _, nc := range checks {
		if err := nc.check(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", nc.name, err)
		}
	}
	return nil
}

// Refresh runs the checks once and updates the gRPC serving status.
func (c *Checker) Refresh(ctx context.Context) error {
	err := c.Ready(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		c.logger.Warn().Err(err).Msg("readiness check failed")
	}
	c.grpc.SetServingStatus("", status)
	c.grpc.SetServingStatus(ServiceName, status)
	return err
}

// Watch refreshes the gRPC status every interval until ctx is done.
func (c *Checker) Watch(ctx context.Context, interval time.Duration) {
	_ = c.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.grpc.Shutdown()
			return
		case <-ticker.C:
			_ = c.Refresh(ctx)
		}
	}
}

// GRPCServer returns the health server to register on a grpc.Server.
func (c *Checker) GRPCServer() *health.Server {
	return c.grpc
}

// Handler serves /healthz (process alive) and /readyz (checks pass).
func (c *Checker) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := c.Ready(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return mux
}

// ServeHTTP runs handler on port until ctx is done.
func ServeHTTP(ctx context.Context, port int, handler http.Handler, logger *zerolog.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	logger.Info().Int("port", port).Msg("http server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Int("port", port).Msg("http server error")
	}
}

// ServeGRPC serves the gRPC health service on port until ctx is done.
func (c *Checker) ServeGRPC(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen grpc health: %w", err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, c.grpc)

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	c.logger.Info().Int("port", port).Msg("grpc health server listening")
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}
