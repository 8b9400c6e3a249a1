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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/cropdoc/api/docs" // Swagger docs
	"github.com/cropdoc/api/internal/bootstrap"
	"github.com/cropdoc/api/internal/config"
	"github.com/cropdoc/api/internal/database"
	"github.com/cropdoc/api/internal/handlers"
	"github.com/cropdoc/api/internal/inference"
	"github.com/cropdoc/api/internal/metrics"
	"github.com/cropdoc/api/internal/middleware"
	"github.com/cropdoc/api/internal/telemetry"
)

const version = "0.1.0"

// @title cropdoc API
// @version 0.1.0
// @description Maize leaf disease diagnosis with explanation overlays, plus the crop, disease and treatment catalog.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http
func main() {
	ctx := context.Background()

	logger, err := bootstrap.Logger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	logger.Info("cropdoc API starting",
		zap.String("version", version),
		zap.String("environment", cfg.Environment),
	)

	tp, shutdownTelemetry, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName:    "cropdoc-api",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       !cfg.IsProduction(),
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", zap.Error(err))
	} else {
		defer func() {
			if err := shutdownTelemetry(ctx); err != nil {
				logger.Error("failed to shutdown telemetry", zap.Error(err))
			}
		}()
	}

	if cfg.RunMigration {
		if _, err := database.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// The model must be fully loaded before the listener opens.
	m := metrics.New()
	opts := []inference.Option{inference.WithObserver(m)}
	if tp != nil {
		opts = append(opts, inference.WithTracerProvider(tp))
	}
	pipeline, handle, err := bootstrap.Pipeline(ctx, cfg, logger, opts...)
	if err != nil {
		logger.Fatal("failed to load model", zap.Error(err))
	}
	defer handle.Close()
	logger.Info("model loaded",
		zap.String("device", handle.Device()),
		zap.Strings("classes", handle.Labels()),
	)

	svc, err := bootstrap.Connect(ctx, cfg, pipeline, logger)
	if err != nil {
		logger.Fatal("failed to connect dependencies", zap.Error(err))
	}
	defer svc.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS())
	router.Use(m.Middleware())

	deps := map[string]handlers.Pinger{"database": svc.DB, "redis": nil, "nats": nil}
	if svc.Redis != nil {
		deps["redis"] = svc.Redis
	}
	if svc.Bus != nil {
		deps["nats"] = svc.Bus
	}
	healthHandler := handlers.NewHealthHandler(version, deps, handle)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/deep", healthHandler.DeepHealth)
	router.GET("/metrics", gin.WrapH(m.Handler()))
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.Static("/media", cfg.MediaRoot)

	userHandler := handlers.NewUserHandler(svc.Store, logger)
	cropHandler := handlers.NewCropHandler(svc.Store, svc.Catalog, logger)
	diseaseHandler := handlers.NewDiseaseHandler(svc.Store, svc.Catalog, logger)
	treatmentHandler := handlers.NewTreatmentHandler(svc.Store, svc.Catalog, logger)
	mediaHandler := handlers.NewMediaHandler(cfg.SampleImagesDir, "/media/sample_images/", logger)
	predictHandler := handlers.NewPredictHandler(svc.Diagnosis, int64(cfg.MaxUploadMB)<<20, logger)

	defaultLimiter := middleware.NewRateLimiter(100, 100, time.Minute)
	strictLimiter := middleware.NewRateLimiter(20, 20, time.Minute)
	breaker := middleware.NewCircuitBreaker()
	breaker.OnStateChange = func(from, to middleware.CircuitState) {
		logger.Warn("predict circuit changed state", zap.Stringer("from", from), zap.Stringer("to", to))
	}

	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimitMiddleware(defaultLimiter))
	{
		users := v1.Group("/users")
		{
			users.GET("", userHandler.List)
			users.POST("", userHandler.Create)
			users.GET("/:id", userHandler.Get)
			users.PUT("/:id", userHandler.Update)
			users.DELETE("/:id", userHandler.Delete)
		}

		crops := v1.Group("/crops")
		{
			crops.GET("", cropHandler.List)
			crops.POST("", cropHandler.Create)
			crops.GET("/:id", cropHandler.Get)
			crops.PUT("/:id", cropHandler.Update)
			crops.DELETE("/:id", cropHandler.Delete)
		}

		diseases := v1.Group("/diseases")
		{
			diseases.GET("", diseaseHandler.List)
			diseases.POST("", diseaseHandler.Create)
			diseases.GET("/:id", diseaseHandler.Get)
			diseases.PUT("/:id", diseaseHandler.Update)
			diseases.DELETE("/:id", diseaseHandler.Delete)
		}

		treatments := v1.Group("/treatments")
		{
			treatments.GET("", treatmentHandler.List)
			treatments.POST("", treatmentHandler.Create)
			treatments.GET("/:id", treatmentHandler.Get)
			treatments.PUT("/:id", treatmentHandler.Update)
			treatments.DELETE("/:id", treatmentHandler.Delete)
		}

		v1.GET("/get-treatment", treatmentHandler.Lookup)
		v1.GET("/user-stats", userHandler.Stats)
		v1.GET("/sample-images", mediaHandler.SampleImages)
		v1.GET("/diagnoses/:id", predictHandler.GetDiagnosis)

		// Inference is CPU heavy: stricter limit and a breaker that opens on
		// repeated server errors.
		v1.POST("/predict",
			middleware.RateLimitMiddleware(strictLimiter),
			middleware.CircuitBreakerMiddleware(breaker),
			predictHandler.Predict,
		)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}
