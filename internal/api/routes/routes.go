package routes

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/EtherealVisions/sentinel/internal/api/handlers"
	"github.com/EtherealVisions/sentinel/internal/api/middleware"
	"github.com/EtherealVisions/sentinel/internal/config"
	"github.com/EtherealVisions/sentinel/internal/jobs"
	"github.com/EtherealVisions/sentinel/internal/logger"
	"github.com/EtherealVisions/sentinel/internal/metrics"
	"github.com/EtherealVisions/sentinel/internal/models"
	"github.com/EtherealVisions/sentinel/internal/pipeline"
	"github.com/EtherealVisions/sentinel/internal/services"
	"github.com/EtherealVisions/sentinel/internal/store"
)

// Register wires up API routes, performs automatic migrations and starts the
// background machinery. The returned teardown stops the event bus and the
// job scheduler; call it on shutdown.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (func(), error) {
	if err := db.AutoMigrate(
		&models.AuditEvent{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.SecurityAlert{},
		&models.SecurityIncident{},
		&models.Notification{},
		&models.NotificationPreferences{},
		&models.User{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	// Core services. The audit service is the single event sink; everything
	// else writes through it.
	auditStore := store.NewGormAuditStore(db)
	auditService := services.NewSecurityAuditService(auditStore)

	transports := []services.NotificationTransport{
		services.NewInAppTransport(db),
		services.NewShoutrrrTransport(models.ChannelEmail, cfg.NotifyURLs),
		services.NewLogTransport(models.ChannelSMS),
		services.NewLogTransport(models.ChannelPush),
	}
	notificationService := services.NewSecurityNotificationService(db, auditService, transports)

	monitoringService := services.NewSecurityMonitoringService(db, auditService, notificationService)
	tracker := services.NewSecurityEventTracker(db, auditService, monitoringService, notificationService, nil)

	// Detection pipeline: scored ingestion, rule evaluation, automated
	// response with an IP blocklist enforced at the edge.
	intel := pipeline.NewStaticThreatIntel()
	scorer := pipeline.NewRiskScorer(intel)
	blocklist := pipeline.NewBlocklist()
	responder := pipeline.NewResponder(auditService, notificationService, blocklist)
	detector := pipeline.NewIncidentDetector(pipeline.DefaultRules(intel), tracker, responder)
	bus := pipeline.NewEventBus(auditService, detector, scorer,
		pipeline.WithFlushInterval(cfg.FlushInterval),
		pipeline.WithBatchSize(cfg.BatchSize),
	)

	authService := services.NewAuthService(db, cfg)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	healthHandler := handlers.NewHealthHandler()
	router.GET("/api/v1/health", healthHandler.Health)

	api := router.Group("/api/v1")
	api.Use(middleware.BlocklistMiddleware(blocklist))

	authHandler := handlers.NewAuthHandler(authService, cfg)
	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/register", authHandler.Register)

	webhookHandler := handlers.NewWebhookHandler(tracker, cfg.WebhookSecret)
	api.POST("/webhooks/identity", webhookHandler.HandleIdentityWebhook)

	eventHandler := handlers.NewEventHandler(tracker, bus)
	api.POST("/events/auth", eventHandler.TrackAuthEvent)
	api.POST("/events", eventHandler.PublishEvent)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(authService))
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)

		securityHandler := handlers.NewSecurityHandler(auditService, monitoringService)
		protected.GET("/security/events", securityHandler.GetEvents)
		protected.GET("/security/summary", securityHandler.GetSummary)
		protected.GET("/security/metrics", securityHandler.GetMetrics)
		protected.GET("/security/suspicious/:userId", securityHandler.GetSuspiciousActivity)
		protected.GET("/security/alerts", securityHandler.ListAlerts)
		protected.POST("/security/alerts/:id/resolve", securityHandler.ResolveAlert)

		incidentHandler := handlers.NewIncidentHandler(tracker)
		protected.GET("/security/incidents", incidentHandler.List)
		protected.POST("/security/incidents", incidentHandler.Create)
		protected.POST("/security/incidents/:id/resolve", incidentHandler.Resolve)

		notificationHandler := handlers.NewNotificationHandler(notificationService)
		protected.GET("/notifications/preferences/:userId", notificationHandler.GetPreferences)
		protected.PUT("/notifications/preferences/:userId", notificationHandler.UpdatePreferences)
		protected.GET("/notifications", notificationHandler.List)
		protected.POST("/notifications/:id/read", notificationHandler.MarkAsRead)
		protected.POST("/notifications/read-all", notificationHandler.MarkAllAsRead)
	}

	scheduler := jobs.NewScheduler(auditService, tracker, notificationService)
	if err := scheduler.Start(); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	teardown := func() {
		scheduler.Stop()
		bus.Close()
		logger.Log().Info("Background machinery stopped")
	}
	return teardown, nil
}
