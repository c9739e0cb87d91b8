// HTTP API наград и gRPC health
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	api "github.com/glkeru/rewards/internal/api"
	app "github.com/glkeru/rewards/internal/app"
	config "github.com/glkeru/rewards/internal/config"
	rabbit "github.com/glkeru/rewards/internal/external/rabbitmq"
	interf "github.com/glkeru/rewards/internal/interfaces"
	services "github.com/glkeru/rewards/internal/services"
	tracing "github.com/glkeru/rewards/observability/otel"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// log
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// config
	port, err := config.Required("REWARDS_PORT")
	if err != nil {
		panic(err)
	}
	grpcPort := config.String("REWARDS_GRPC_PORT", "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// tracing
	shutdown, err := tracing.InitTracer(ctx, "rewards", logger)
	if err != nil {
		logger.Error("tracer init", zap.Error(err))
		shutdown = func() {}
	}
	defer shutdown()

	// database
	storage, err := app.NewStorage(ctx, logger)
	if err != nil {
		logger.Error(err.Error())
		panic(err)
	}
	defer storage.Close()

	// reloads
	var dispatcher interf.ReloadDispatcher
	if config.String("RABBIT_URL", "") != "" {
		reloads, err := rabbit.NewRabbitReloads()
		if err != nil {
			logger.Error("reload dispatcher is disabled", zap.Error(err))
		} else {
			defer reloads.Close()
			dispatcher = reloads
		}
	}

	// services
	serv := services.NewRewardsService(storage.Deps(dispatcher), logger)

	// api handlers
	r := api.NewHandler(serv, storage.Rules, logger)
	srv := &http.Server{
		Handler:      otelhttp.NewHandler(r, "rewards"),
		Addr:         ":" + port,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// health
	var grpcServer *grpc.Server
	if grpcPort != "" {
		lis, err := net.Listen("tcp", "0.0.0.0:"+grpcPort)
		if err != nil {
			panic(err)
		}
		grpcServer = grpc.NewServer()
		hs := health.NewServer()
		hs.SetServingStatus("rewards", healthpb.HealthCheckResponse_SERVING)
		healthpb.RegisterHealthServer(grpcServer, hs)
		g.Go(func() error {
			return grpcServer.Serve(lis)
		})
	}

	// shutdown
	g.Go(func() error {
		<-gctx.Done()
		timeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return srv.Shutdown(timeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
