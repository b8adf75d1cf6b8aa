package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/streamgate/streamgate/config"
	"github.com/streamgate/streamgate/media"
	"github.com/streamgate/streamgate/media/secret"
	"github.com/streamgate/streamgate/media/storage"
	jwttoken "github.com/streamgate/streamgate/media/token/jwt"
	"github.com/streamgate/streamgate/pkg/middleware"
)

func main() {
	var (
		configFile string
		addr       string
		debug      bool
	)

	flag.StringVar(&configFile, "config", "", "Configuration file")
	flag.StringVar(&addr, "addr", "", "Address to listen on (overrides the configuration)")
	flag.BoolVar(&debug, "debug", false, "Debug mode")

	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	if debug {
		logger, err = zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
	}

	defer logger.Sync() //nolint:errcheck

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Sugar().Fatalf("Error loading configuration: %v", err)
	}

	if addr != "" {
		cfg.Server.Addr = addr
	}

	if err := cfg.Validate(); err != nil {
		logger.Sugar().Fatalf("Invalid configuration: %v", err)
	}

	if cfg.Token.Secret == "" {
		cfg.Token.Secret, err = secret.NewMasterSecret()
		if err != nil {
			logger.Sugar().Fatalf("Error generating master secret: %v", err)
		}

		logger.Warn("no master secret configured, tokens will not survive a restart", zap.String("env", config.SecretKeyEnv))
	}

	codec, err := jwttoken.NewCodec([]byte(cfg.Token.Secret), cfg.Token.Algorithm)
	if err != nil {
		logger.Sugar().Fatalf("Error creating token codec: %v", err)
	}

	layout, err := storage.NewLayout(cfg.Media.Root)
	if err != nil {
		logger.Sugar().Fatalf("Error preparing media root %s: %v", cfg.Media.Root, err)
	}

	store, err := cfg.Store.Config.CreateStore(logger)
	if err != nil {
		logger.Sugar().Fatalf("Error opening %s store: %v", cfg.Store.Type, err)
	}

	if closer, ok := store.(io.Closer); ok {
		defer closer.Close()
	}

	encoder, err := cfg.Encoder.Config.CreateEncoder(logger)
	if err != nil {
		logger.Sugar().Fatalf("Error creating %s encoder: %v", cfg.Encoder.Type, err)
	}

	service := media.ServiceImpl{
		Store:   store,
		Tokens:  codec,
		Storage: layout,
		Encoder: encoder,
		Logger:  logger.Named("service"),
	}

	server := media.Server{
		Service:        service,
		Logger:         logger.Named("server"),
		PublicURL:      cfg.Server.PublicURL,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer(logger), middleware.Logger(logger.Named("http")))

	server.RegisterRoutes(router, middleware.RateLimit(cfg.Server.UploadRateLimit))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Janitor.Interval > 0 {
		go service.RunJanitor(ctx, cfg.Janitor.Interval)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutting down server", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Type))

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Sugar().Errorf("Error serving: %v", err)
	}
}
