package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	packagesapi "github.com/BearBump/PickupBox/internal/api/packages_api"
	"github.com/BearBump/PickupBox/internal/cache/rediscache"
	"github.com/BearBump/PickupBox/internal/extractor"
	"github.com/BearBump/PickupBox/internal/metrics"
	"github.com/BearBump/PickupBox/internal/services/packages"
	"github.com/BearBump/PickupBox/internal/services/sessions"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func newTestAPI(t *testing.T) (*packagesapi.PackagesAPI, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	mgr := sessions.New(rc, time.Hour).WithLocker(rc)
	backend := packagesapi.NewSessionBackend(mgr, func(st packages.Store) *packages.Service {
		return packages.New(st, extractor.Default()).WithMetrics(m)
	})
	return packagesapi.New(backend).WithMetrics(m), reg
}

func TestRouter_HealthMetricsAndAPI(t *testing.T) {
	api, reg := newTestAPI(t)
	h := newRouter("", api, nil, reg, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/v1/packages",
		strings.NewReader(`{"text":"您的快递:*83226已到燕山区4栋快递站，请凭6A28前往人工货架领取"}`))
	req.Header.Set(packagesapi.SessionHeader, "s1")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "pickupbox_packages_created_total 1")

	// без swaggerPath документация не подключается
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger.json", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_SwaggerServed(t *testing.T) {
	dir := t.TempDir()
	sw := filepath.Join(dir, "swagger.json")
	require.NoError(t, os.WriteFile(sw, []byte(`{"swagger":"2.0"}`), 0o600))

	api, reg := newTestAPI(t)
	h := newRouter(sw, api, nil, reg, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/swagger.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"swagger"`)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRunPickupAPI_ServesUntilCanceled(t *testing.T) {
	api, reg := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrCh := make(chan string, 1)
	opts := pickupAPIOpts{
		grpcAddr: "127.0.0.1:0",
		httpAddr: "127.0.0.1:0",
		onListen: func(_, httpAddr string) { addrCh <- httpAddr },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runPickupAPI(ctx, opts, api, reg, zaptest.NewLogger(t))
	}()

	httpAddr := <-addrCh

	resp, err := http.Get("http://" + httpAddr + "/v1/packages/pending")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(packagesapi.SessionHeader))
	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), `"count":0`)

	requireReady(t, "http://"+httpAddr+"/readyz", http.StatusOK)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestRunPickupAPI_MissingSwaggerFile(t *testing.T) {
	api, reg := newTestAPI(t)
	err := runPickupAPI(context.Background(), pickupAPIOpts{
		grpcAddr:    "127.0.0.1:0",
		httpAddr:    "127.0.0.1:0",
		swaggerPath: filepath.Join(t.TempDir(), "nope.json"),
	}, api, reg, zaptest.NewLogger(t))
	require.Error(t, err)
}

// requireReady polls url until it answers with want, the health watcher runs asynchronously.
func requireReady(t *testing.T, url string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == want
	}, 3*time.Second, 20*time.Millisecond)
}

func TestRunPickupAPI_ReadyzFollowsStore(t *testing.T) {
	api, reg := newTestAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var storeErr error
	var mu sync.Mutex
	addrCh := make(chan [2]string, 1)
	opts := pickupAPIOpts{
		grpcAddr: "127.0.0.1:0",
		httpAddr: "127.0.0.1:0",
		ready: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			return storeErr
		},
		readyInterval: 20 * time.Millisecond,
		onListen:      func(grpcAddr, httpAddr string) { addrCh <- [2]string{grpcAddr, httpAddr} },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- runPickupAPI(ctx, opts, api, reg, zaptest.NewLogger(t))
	}()
	addrs := <-addrCh
	readyz := "http://" + addrs[1] + "/readyz"

	requireReady(t, readyz, http.StatusOK)

	// тот же статус виден напрямую по gRPC
	conn, err := grpc.NewClient(addrs[0], grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: healthService})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	mu.Lock()
	storeErr = errors.New("postgres down")
	mu.Unlock()
	requireReady(t, readyz, http.StatusServiceUnavailable)

	mu.Lock()
	storeErr = nil
	mu.Unlock()
	requireReady(t, readyz, http.StatusOK)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting server to stop")
	}
}

func TestGatewayMux_Readyz(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hs := health.NewServer()
	go func() { _ = runGRPCServer(ctx, lis, hs, zaptest.NewLogger(t)) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	gw, err := newGatewayMux(conn)
	require.NoError(t, err)

	api, reg := newTestAPI(t)
	h := newRouter("", api, gw, reg, zaptest.NewLogger(t))

	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"NOT_SERVING"}`, rec.Body.String())

	hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"SERVING"}`, rec.Body.String())

	// /v1 и /healthz по-прежнему обслуживает chi
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_RateLimitKeyedOnSocketAddress(t *testing.T) {
	api, reg := newTestAPI(t)
	api.WithRateLimiter(rediscache.NewRateLimiter(miniredis.RunT(t).Addr()), 2)
	h := newRouter("", api, nil, reg, zaptest.NewLogger(t))

	codes := make([]int, 0, 3)
	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/messages/parse", strings.NewReader(`{"text":"请凭6A28领取"}`))
		req.Header.Set(packagesapi.SessionHeader, "s1")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.Header.Set("X-Real-IP", fmt.Sprintf("203.0.113.%d", i))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestDialAddr(t *testing.T) {
	require.Equal(t, "127.0.0.1:50051", dialAddr(":50051"))
	require.Equal(t, "127.0.0.1:50051", dialAddr("[::]:50051"))
	require.Equal(t, "127.0.0.1:50051", dialAddr("0.0.0.0:50051"))
	require.Equal(t, "10.0.0.5:50051", dialAddr("10.0.0.5:50051"))
	require.Equal(t, "bad", dialAddr("bad"))
}
