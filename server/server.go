package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/elektrine/domainstack/api"
	"github.com/elektrine/domainstack/config"
	"github.com/elektrine/domainstack/internal/cron"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/repository"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/services"
)

type Server struct {
	config       *config.Config
	httpServer   *http.Server
	router       *gin.Engine
	services     *services.Services
	repositories *repository.Repositories
	cronManager  *cron.CronManager
	tracerCloser io.Closer
}

func NewServer(cfg *config.Config, db *gorm.DB) (*Server, error) {
	// Initialize logger
	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()

	// Initialize tracing
	tracer, closer, err := tracing.NewJaegerTracer(cfg.Tracing, appLogger)
	if err != nil {
		log.Fatalf("Could not initialize jaeger tracer: %s", err.Error())
	}
	opentracing.SetGlobalTracer(tracer)

	// Initialize repositories
	repos := repository.InitRepositories(db)

	// Redis backs job dedup and the email-readiness cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Addr,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})

	// Initialize services
	svcs, err := services.InitServices(cfg, appLogger, repos, redisClient)
	if err != nil {
		return nil, err
	}

	cronManager := cron.NewCronManager(cfg, appLogger, kubernetesClient(appLogger), repos, svcs.JobsService, svcs.DomainRegistry)

	// Initialize Gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.Default()

	return &Server{
		config:       cfg,
		router:       router,
		services:     svcs,
		repositories: repos,
		cronManager:  cronManager,
		tracerCloser: closer,
		httpServer: &http.Server{
			Addr:    ":" + cfg.AppConfig.APIPort,
			Handler: router,
		},
	}, nil
}

// kubernetesClient returns nil outside a cluster; the cron manager then
// runs without leader election.
func kubernetesClient(appLogger logger.Logger) kubernetes.Interface {
	restConfig, err := rest.InClusterConfig()
	if err != nil {
		appLogger.Infof("No in-cluster kubernetes config, cron runs in local mode: %v", err)
		return nil
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		appLogger.Warnf("Could not create kubernetes client, cron runs in local mode: %v", err)
		return nil
	}
	return client
}

func (s *Server) Initialize(ctx context.Context) error {
	// The cache must hold every issued certificate before the first TLS
	// handshake is answered.
	log.Println("Warming certificate cache...")
	if err := s.services.CertificateCache.Warm(ctx); err != nil {
		return err
	}

	// Setup API routes
	api.RegisterRoutes(s.router, s.services, s.config.AppConfig.APIKey)

	return nil
}

func (s *Server) recoverWithJaeger(name string) {
	if r := recover(); r != nil {
		span := opentracing.GlobalTracer().StartSpan(
			fmt.Sprintf("panic.%s", name),
		)
		defer span.Finish()

		ext.Error.Set(span, true)

		span.LogKV(
			"event", "panic",
			"process", name,
			"error", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)

		log.Printf("❌ Panic in %s: %v\n%s", name, r, debug.Stack())
	}
}

func (s *Server) wrapGoroutine(name string, fn func()) {
	defer s.recoverWithJaeger(name)
	fn()
}

func (s *Server) Run() error {
	// Create root context for the application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize server components
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	// Start the job consumer with panic recovery
	log.Println("Starting jobs service...")
	s.wrapGoroutine("jobs_service", func() {
		if err := s.services.JobsService.Start(ctx); err != nil {
			log.Printf("❌ Jobs service error: %v", err)
		}
	})
	log.Println("✅ Jobs service started successfully")

	// Start scheduled jobs
	log.Println("Starting cron manager...")
	if err := s.cronManager.Start(os.Getenv("POD_NAME"), os.Getenv("POD_NAMESPACE")); err != nil {
		return err
	}
	log.Println("✅ Cron manager started successfully")

	// Start HTTP server in a goroutine with panic recovery
	go s.wrapGoroutine("http_server", func() {
		log.Println("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("❌ HTTP server error: %v", err)
		}
	})
	log.Println("✅ HTTP server started successfully")
	log.Println("DomainStack is now running. Press Ctrl+C to exit.")

	return s.waitForShutdown()
}

// RunWorker starts only the job consumer, for deployments that scale
// certificate issuance separately from the API.
func (s *Server) RunWorker() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Println("Starting jobs service...")
	s.wrapGoroutine("jobs_service", func() {
		if err := s.services.JobsService.Start(ctx); err != nil {
			log.Printf("❌ Jobs service error: %v", err)
		}
	})
	log.Println("✅ Jobs service started successfully")
	log.Println("DomainStack worker is now running. Press Ctrl+C to exit.")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("Shutting down...")

	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}
	s.services.JobsService.Stop()
	return nil
}

func (s *Server) waitForShutdown() error {
	defer s.recoverWithJaeger("shutdown")

	// Set up signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Wait for termination signal
	<-stop
	log.Println("Shutting down...")

	// Create a context with timeout for shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Shut down HTTP server
	log.Println("Shutting down HTTP server...")
	if s.tracerCloser != nil {
		s.tracerCloser.Close()
	}

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ HTTP server shutdown error: %v", err)
	} else {
		log.Println("✅ HTTP server shut down successfully")
	}

	// Stop crons before the job consumer so no new work is scheduled
	log.Println("Stopping cron manager...")
	s.cronManager.Stop()

	// Stop the job consumer with timeout and panic recovery
	log.Println("Stopping jobs service...")
	stopDone := make(chan struct{})
	go s.wrapGoroutine("jobs_service_shutdown", func() {
		defer close(stopDone)
		s.services.JobsService.Stop()
		log.Println("✅ Jobs service stopped successfully")
	})

	select {
	case <-stopDone:
		log.Println("Jobs service stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Println("⚠️ Jobs service stop timed out, forcing exit")
	}

	return nil
}
