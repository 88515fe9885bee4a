package server

import (
	"TroveLedger/internal/observability"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	healthServer  *health.Server
	grpcAddr      string
	httpAddr      string
	service       *LedgerService
	healthChecker *observability.HealthChecker
	gatherer      prometheus.Gatherer
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the servers.
type ServerDeps struct {
	Service       *LedgerService
	HealthChecker *observability.HealthChecker
	Gatherer      prometheus.Gatherer // nil serves prometheus.DefaultGatherer
	Logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			loggingUnaryInterceptor(deps.Logger),
			recoveryUnaryInterceptor(deps.Logger),
		),
	)
	RegisterLedgerServer(grpcServer, deps.Service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &GRPCServer{
		grpcServer:    grpcServer,
		healthServer:  healthServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       deps.Service,
		healthChecker: deps.HealthChecker,
		gatherer:      gatherer,
		logger:        deps.Logger,
	}
}

// SetServing flips the gRPC health status. Call it once recovery is done.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	s.healthServer.SetServingStatus(ServiceName, st)
}

// Serve serves gRPC on lis until ctx is cancelled.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.healthServer.Shutdown()
		s.grpcServer.GracefulStop()
	}()
	return s.grpcServer.Serve(lis)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.Serve(ctx, lis)
}

// Handler is the HTTP side: the JSON gateway plus health and metrics.
func (s *GRPCServer) Handler() (http.Handler, error) {
	gateway, err := NewGatewayMux(s.service)
	if err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	httpMux.Handle("/", gateway)
	return httpMux, nil
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP gateway shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP gateway listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func loggingUnaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (_ any, err error) {
		start := time.Now()
		defer func() {
			code := status.Code(err)
			ev := logger.Debug()
			if code == codes.Internal || code == codes.Unknown {
				ev = logger.Warn().Err(err)
			}
			ev.Str("method", info.FullMethod).
				Str("code", code.String()).
				Dur("took", time.Since(start)).
				Msg("grpc unary")
		}()
		return handler(ctx, req)
	}
}

func recoveryUnaryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (_ any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("method", info.FullMethod).Msg("panic in unary handler")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
