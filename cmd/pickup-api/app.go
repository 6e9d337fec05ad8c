package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	packagesapi "github.com/BearBump/PickupBox/internal/api/packages_api"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
)

type pickupAPIOpts struct {
	grpcAddr    string
	httpAddr    string
	swaggerPath string

	// ready проверяет хранилище; nil означает "всегда готов"
	ready         func(ctx context.Context) error
	readyInterval time.Duration

	onListen func(grpcAddr, httpAddr string)
}

func runPickupAPI(ctx context.Context, opts pickupAPIOpts, api *packagesapi.PackagesAPI, gatherer prometheus.Gatherer, logger *zap.Logger) error {
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}
	if opts.onListen != nil {
		opts.onListen(grpcLis.Addr().String(), httpLis.Addr().String())
	}

	conn, err := grpc.NewClient(dialAddr(grpcLis.Addr().String()), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		_ = grpcLis.Close()
		_ = httpLis.Close()
		return err
	}
	defer conn.Close()

	gw, err := newGatewayMux(conn)
	if err != nil {
		_ = grpcLis.Close()
		_ = httpLis.Close()
		return err
	}

	hs := health.NewServer()
	srv := &http.Server{
		Handler:           newRouter(opts.swaggerPath, api, gw, gatherer, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return runGRPCServer(gctx, grpcLis, hs, logger)
	})
	g.Go(func() error {
		return watchHealth(gctx, hs, opts.ready, opts.readyInterval, logger.Named("health"))
	})
	g.Go(func() error {
		go func() {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logger.Info("HTTP server listening", zap.String("addr", httpLis.Addr().String()))
		if err := srv.Serve(httpLis); err != nil && err != http.ErrServerClosed {
			return err
		}
		return gctx.Err()
	})
	return g.Wait()
}

// newRouter собирает HTTP-роутер; клиентский адрес для rate limit берётся
// только из соединения, заголовки прокси не учитываются.
func newRouter(swaggerPath string, api *packagesapi.PackagesAPI, gw http.Handler, gatherer prometheus.Gatherer, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(accessLog(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, swaggerPath)
		})
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/swagger.json")))
	}

	api.Routes(r)

	// grpc-gateway (readyz)
	if gw != nil {
		r.Mount("/", gw)
	}
	return r
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
			)
		})
	}
}
