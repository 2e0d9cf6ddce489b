package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/elektrine/domainstack/api/handlers"
	"github.com/elektrine/domainstack/api/middleware"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/services"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, s *services.Services, apikey string) {
	if s == nil {
		panic("Services cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	// setup handlers
	apiHandlers := handlers.InitHandlers(s.DomainRegistry)

	// Health check (no auth, no custom context)
	r.GET("/health", handlers.HealthCheck)

	// HTTP-01 validation endpoint; the CA calls this without credentials.
	// It sits outside the /v1 middleware chain so it carries its own span.
	r.GET("/.well-known/acme-challenge/:token",
		tracing.TracingEnhancer(context.Background(), "GET /.well-known/acme-challenge/:token"),
		apiHandlers.Acme.ServeChallenge())

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  "X-API-KEY",
		ValidAPIKey: apikey,
	})

	// API group with version and custom context
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.UserIdMiddleware())
	api.Use(middleware.CustomContextMiddleware("domainstack")) // Add custom context for all /v1/* endpoints
	api.Use(middleware.TracingMiddleware())                    // Add tracing for all /v1/* endpoints
	{
		// Domain lifecycle endpoints
		domains := api.Group("/domains")
		{
			domains.POST("", apiHandlers.Domains.RegisterDomain())
			domains.GET("", apiHandlers.Domains.ListDomains())
			domains.GET("/:domain", apiHandlers.Domains.GetDomain())
			domains.DELETE("/:domain", apiHandlers.Domains.DeleteDomain())
			domains.POST("/:domain/verify", apiHandlers.Domains.VerifyDomain())
			domains.POST("/:domain/provision-ssl", apiHandlers.Domains.ProvisionSSL())
			domains.GET("/:domain/dns-records", apiHandlers.Domains.DNSRecords())

			// Email configuration
			domains.POST("/:domain/email/refresh-dns", apiHandlers.Domains.RefreshEmailDNS())
			domains.POST("/:domain/email/enable", apiHandlers.Domains.EnableEmail())
			domains.POST("/:domain/email/disable", apiHandlers.Domains.DisableEmail())
			domains.PUT("/:domain/email/catch-all", apiHandlers.Domains.SetCatchAll())

			// Address endpoints
			domains.POST("/:domain/addresses", apiHandlers.Addresses.AddAddress())
			domains.GET("/:domain/addresses", apiHandlers.Addresses.ListAddresses())
			domains.PUT("/:domain/addresses/:id", apiHandlers.Addresses.UpdateAddress())
			domains.DELETE("/:domain/addresses/:id", apiHandlers.Addresses.RemoveAddress())
		}
	}
}
