package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BearBump/FleetSync/internal/api/shipsapi"
	"github.com/BearBump/FleetSync/internal/broker/kafka"
	"github.com/BearBump/FleetSync/internal/broker/messages"
	"github.com/BearBump/FleetSync/internal/services/ships"
)

const serviceName = "fleetsync.ships"

type shipAPIOpts struct {
	grpcAddr     string
	httpAddr     string
	grpcDialAddr string
	swaggerPath  string

	shipChangedTopic   string
	catalogSyncedTopic string
	consumerGroup      string

	onListen func(grpcAddr, httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// consumers may be nil when Kafka is not configured.
type consumers struct {
	shipChanged   kafkaConsumer
	catalogSynced kafkaConsumer
}

type statusInvalidator interface {
	Invalidate()
}

func runShipAPI(ctx context.Context, opts shipAPIOpts, api *shipsapi.ShipsAPI, svc *ships.Service, status statusInvalidator, cons consumers) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
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

	dialAddr := opts.grpcDialAddr
	if dialAddr == "" || strings.HasSuffix(dialAddr, ":0") {
		dialAddr = grpcLis.Addr().String()
	}

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- runGRPCServer(ctx, grpcLis)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runGatewayServer(ctx, httpLis, dialAddr, opts.swaggerPath, api)
	}()

	if cons.shipChanged != nil {
		go runConsumer(ctx, opts.shipChangedTopic, opts.consumerGroup, cons.shipChanged, shipChangedHandler(ctx, opts.shipChangedTopic, svc))
	}
	if cons.catalogSynced != nil {
		go runConsumer(ctx, opts.catalogSyncedTopic, opts.consumerGroup, cons.catalogSynced, catalogSyncedHandler(ctx, opts.catalogSyncedTopic, svc, status))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-grpcErr:
		return err
	case err := <-httpErr:
		return err
	}
}

// runConsumer restarts consumption after a handler or broker failure.
func runConsumer(ctx context.Context, topic, group string, c kafkaConsumer, h func(key, value []byte) error) {
	slog.Info("kafka consumer started", "topic", topic, "group", group)
	for {
		err := c.Consume(ctx, h)
		if ctx.Err() != nil {
			return
		}
		slog.Error("kafka consumer stopped, restarting", "topic", topic, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func shipChangedHandler(ctx context.Context, topic string, svc *ships.Service) func(key, value []byte) error {
	return kafka.DecodeJSON(topic, func(m messages.ShipChanged) error {
		return svc.ApplyShipChanged(ctx, m)
	})
}

func catalogSyncedHandler(ctx context.Context, topic string, svc *ships.Service, status statusInvalidator) func(key, value []byte) error {
	return kafka.DecodeJSON(topic, func(m messages.CatalogSynced) error {
		if status != nil {
			status.Invalidate()
		}
		slog.Info("catalog synced", "run_id", m.RunID, "sync_version", m.SyncVersion, "ship_count", m.ShipCount)
		return svc.ApplyCatalogSynced(ctx, m)
	})
}

func runGRPCServer(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
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
		_ = lis.Close()
	}()

	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}

func runGatewayServer(ctx context.Context, lis net.Listener, grpcAddr string, swaggerPath string, api *shipsapi.ShipsAPI) error {
	r := chi.NewRouter()
	// Serve swagger with no-cache + cachebuster, иначе браузер держит старую схему.
	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	swaggerURL := "/swagger.json"
	if fi, err := os.Stat(swaggerPath); err == nil {
		swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
	}
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL(swaggerURL),
	))

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	mux := runtime.NewServeMux(runtime.WithHealthzEndpoint(healthpb.NewHealthClient(conn)))
	if err := api.Register(mux); err != nil {
		return err
	}
	r.Mount("/", mux)

	srv := &http.Server{Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP gateway listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
