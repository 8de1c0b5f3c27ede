package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/ahmadimabudeyah-ops/school-platform/internal/catalog"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/config"
	classroomgrpc "github.com/ahmadimabudeyah-ops/school-platform/internal/grpc"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/handler"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/hub"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/presence"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/relay"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/room"
	"github.com/ahmadimabudeyah-ops/school-platform/internal/service"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/database"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/jwt"
	pkglog "github.com/ahmadimabudeyah-ops/school-platform/pkg/log"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/middleware"
	"github.com/ahmadimabudeyah-ops/school-platform/pkg/pubsub"
)

const serviceName = "classroom-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: serviceName})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting " + serviceName)

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.AutoMigrate(db, &catalog.LiveSessionModel{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("connected to database")

	catalogSvc := catalog.NewService(catalog.NewGormRepository(db))

	// Identity is optional; without a secret the socket stays anonymous
	var tokens *jwt.Manager
	if cfg.JWT.Secret != "" {
		tokens, err = jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Duration)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create jwt manager")
		}
	} else {
		logger.Warn().Msg("jwt secret not set, authentication disabled")
	}

	// Initialize lifecycle event publisher
	publisher, err := pubsub.NewPublisher(cfg.PubSub)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to create publisher, lifecycle events disabled")
		publisher = pubsub.NopPublisher{}
	}
	defer publisher.Close()

	// Initialize presence mirror
	var mirror presence.Mirror
	if cfg.Presence.Enabled {
		rm, err := presence.NewRedisMirror(cfg.Presence)
		if err != nil {
			logger.Warn().Err(err).Str("address", cfg.Presence.Address).Msg("failed to connect presence mirror, presence disabled")
		} else {
			mirror = rm
			defer rm.Close()
			logger.Info().Str("address", cfg.Presence.Address).Msg("presence mirror connected")
		}
	}

	// Initialize relay
	broadcasterPolicy, err := relay.ParseBroadcasterPolicy(cfg.Relay.BroadcasterPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid relay configuration")
	}
	chatPolicy, err := relay.ParseChatPolicy(cfg.Relay.ChatPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid relay configuration")
	}
	rel := relay.New(room.NewRegistry(), relay.Options{
		BroadcasterPolicy: broadcasterPolicy,
		ChatPolicy:        chatPolicy,
		NoTeacherMessage:  cfg.Relay.NoTeacherMessage,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize hub
	wsHub := hub.NewHub(cfg.WebSocket)
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go wsHub.Run(hubCtx)

	// Initialize service
	opts := service.Options{
		Gate:        catalogSvc,
		Publisher:   publisher,
		Mirror:      mirror,
		EnforceJoin: cfg.Catalog.EnforceJoin,
	}
	if tokens != nil {
		opts.Tokens = tokens
	}
	classroomSvc := service.NewClassroomService(wsHub, rel, opts)

	// Initialize handlers
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), pkglog.GinMiddleware(logger))
	if tokens != nil {
		handler.NewHandler(catalogSvc, classroomSvc, wsHub, middleware.NewAuthMiddleware(tokens)).RegisterRoutes(router)
	} else {
		handler.NewHandler(catalogSvc, classroomSvc, wsHub, nil).RegisterRoutes(router)
	}

	wsMux := http.NewServeMux()
	handler.NewWSHandler(wsHub, classroomSvc, cfg.WebSocket).RegisterRoutes(wsMux)

	mux := http.NewServeMux()
	mux.Handle("/ws", pkglog.HTTPMiddleware(logger)(wsMux))
	mux.Handle("/", router)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg(serviceName + " listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if mirror != nil {
		g.Go(func() error {
			classroomSvc.RunPresence(gCtx, cfg.Presence.ReconcileInterval)
			return nil
		})
	}

	var grpcServer *classroomgrpc.Server
	if cfg.GRPC.Enabled {
		lis, err := classroomgrpc.Listen(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port))
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start grpc server")
		}
		grpcServer = classroomgrpc.NewServer(logger)
		g.Go(func() error {
			return grpcServer.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info().Msg("shutting down " + serviceName)

		if grpcServer != nil {
			grpcServer.Stop()
		}

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server forced to shutdown")
		}

		// Closing the hub drops every socket; each disconnect is
		// reconciled before the client is unregistered.
		stopHub()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg(serviceName + " exited with error")
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logger.Info().Msg(serviceName + " stopped")
}
