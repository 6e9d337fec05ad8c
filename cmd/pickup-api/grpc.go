package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// healthService is the service name reported by the gRPC health server.
const healthService = "pickupbox.Packages"

func runGRPCServer(ctx context.Context, lis net.Listener, hs *health.Server, logger *zap.Logger) error {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			s.Stop()
		}
	}()

	logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return ctx.Err()
}

// watchHealth keeps the health status in line with the store until ctx is done.
func watchHealth(ctx context.Context, hs *health.Server, ready func(ctx context.Context) error, every time.Duration, logger *zap.Logger) error {
	if ready == nil {
		hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
		<-ctx.Done()
		return ctx.Err()
	}
	if every <= 0 {
		every = 10 * time.Second
	}

	last := healthpb.HealthCheckResponse_UNKNOWN
	check := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := ready(checkCtx)
		cancel()

		status := healthpb.HealthCheckResponse_SERVING
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if status != last {
			logger.Info("health status changed", zap.Stringer("status", status), zap.Error(err))
			last = status
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus(healthService, status)
	}

	check()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			check()
		}
	}
}

// newGatewayMux exposes the gRPC health check over HTTP at GET /readyz.
func newGatewayMux(conn grpc.ClientConnInterface) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	client := healthpb.NewHealthClient(conn)
	marshaler := &runtime.JSONPb{}

	err := mux.HandlePath(http.MethodGet, "/readyz", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: healthService})
		if err != nil {
			runtime.HTTPError(ctx, mux, marshaler, w, r, err)
			return
		}
		b, err := protojson.Marshal(resp)
		if err != nil {
			runtime.HTTPError(ctx, mux, marshaler, w, r, err)
			return
		}

		code := http.StatusOK
		if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write(b)
	})
	if err != nil {
		return nil, err
	}
	return mux, nil
}

// dialAddr turns a listen address like ":50051" into one a client can dial.
func dialAddr(listenAddr string) string {
	host, port, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return listenAddr
	}
	switch host {
	case "", "::", "0.0.0.0":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
