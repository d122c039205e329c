package main

import (
	"context"
	"flag"
	"net"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/handler"
	"github.com/hive-corporation/varonis-dsp/internal/adapter/metrics"
	"github.com/hive-corporation/varonis-dsp/internal/bootstrap"
	"github.com/hive-corporation/varonis-dsp/internal/config"
	"github.com/hive-corporation/varonis-dsp/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.Bootstrap("dsp-grpc")
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log, closer, err := logger.New(cfg.Logging, "dsp-grpc")
	if err != nil {
		bootLog := logger.Bootstrap("dsp-grpc")
		bootLog.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer closer.Close()

	metrics.Init()

	lis, err := net.Listen("tcp", cfg.API.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.API.GRPCAddr).Msg("failed to listen")
	}

	s := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLoggingInterceptor(log)))
	handler.RegisterCommandsServer(s, handler.NewGrpcServer(bootstrap.NewService(cfg, log), log))
	reflection.Register(s)

	go func() {
		log.Info().Str("addr", cfg.API.GRPCAddr).Msg("gRPC API listening")
		if err := s.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("failed to serve")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down server")
	s.GracefulStop()
}
