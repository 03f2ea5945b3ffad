// README: Entry point; loads config, wires location, pricing and trip services, starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"afyaride/internal/config"
	httptransport "afyaride/internal/http"
	"afyaride/internal/infra"
	"afyaride/internal/maps"
	"afyaride/internal/modules/location"
	"afyaride/internal/modules/pricing"
	"afyaride/internal/service"
	"afyaride/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Log.Env)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.Log.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	telemetry.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("cannot connect to db", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		logger.Fatal("cannot connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	var devices location.DeviceSource
	if cfg.Firebase.ProjectID != "" || cfg.Firebase.DatabaseURL != "" || cfg.Firebase.CredentialsFile != "" {
		rtdb, err := infra.NewFirebaseDatabase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile, cfg.Firebase.DatabaseURL)
		if err != nil {
			logger.Fatal("firebase init", zap.Error(err))
		}
		devices = location.NewFirebaseSource(rtdb, cfg.Firebase.PollInterval)
		logger.Info("device locations read from firebase", zap.Duration("poll_interval", cfg.Firebase.PollInterval))
	} else {
		logger.Warn("firebase not configured; device location endpoints will report unavailable")
	}

	var (
		geocoder location.Geocoder
		router   service.Router
	)
	if cfg.Maps.APIKey != "" {
		geo, err := maps.NewGeocodeService(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatal("maps geocoder init", zap.Error(err))
		}
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			logger.Fatal("maps route service init", zap.Error(err))
		}
		geocoder, router = geo, routes
	} else {
		logger.Warn("maps api key not set; using offline geocoder and straight-line estimates only")
	}

	pricingSvc := pricing.NewService(pricing.NewStore(dbPool), cfg.Location.Fare)

	locationStore := location.NewStore(dbPool, redisClient)
	locationSvc := location.NewService(nil, geocoder, locationStore, logger.Named("location"), cfg.Location)

	planner := service.NewTripPlanner(locationSvc, pricingSvc, router, logger.Named("trips"))

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Location: locationSvc,
		Pricing:  pricingSvc,
		Planner:  planner,
		Devices:  devices,
		Log:      logger.Named("http"),
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exiting")
}
