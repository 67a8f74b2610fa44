package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sync-service/internal/adapter"
	"sync-service/internal/adapter/googlecal"
	"sync-service/internal/adapter/roster"
	"sync-service/internal/archive"
	"sync-service/internal/config"
	"sync-service/internal/conflict"
	"sync-service/internal/email"
	"sync-service/internal/fcm"
	"sync-service/internal/notifier"
	"sync-service/internal/scheduler"
	"sync-service/internal/store"
	"sync-service/internal/syncjob"
	transport "sync-service/internal/transport/http"
	"sync-service/pkg/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

var startTime time.Time

func main() {
	startTime = time.Now()
	cfg := config.Load()
	store.InitDB(cfg)
	db := store.GetDB()

	scheduleStore := store.NewScheduleStore(db)
	executionStore := store.NewExecutionStore(db)
	integrationStore := store.NewIntegrationStore(db)
	linkStore := store.NewLinkStore(db)
	entityStore := store.NewEntityStore(db)

	cipher, err := store.NewCipher(cfg.CredentialKey)
	if err != nil {
		log.Fatalf("❌ [CRYPTO] Failed to initialize credential cipher: %v", err)
	}

	adapters := adapter.NewRegistry()
	adapters.Register(models.SourceGoogleCalendar, googlecal.New)
	log.Printf("✅ [ADAPTERS] Registered providers: %v", adapters.Supported())

	rosterFeed := roster.NewClient(cfg.RosterServiceURL, cfg.ServiceExpectedToken)
	log.Printf("🔄 [ROSTER] Feed client initialized (RosterServiceURL: %s)", cfg.RosterServiceURL)

	strategies := conflict.NewRegistry()
	conflict.RegisterDefaults(strategies)
	detector := conflict.NewDetector(entityStore.TeamExists)
	resolver := conflict.NewResolver(strategies, entityStore)

	runner := syncjob.NewRunner(adapters, linkStore, entityStore, detector, resolver, rosterFeed)

	emailSender := email.NewSender(cfg)

	// Initialize FCM client
	var push notifier.PushSender
	fcmCredsJSON := os.Getenv("FIREBASE_CREDENTIALS_JSON")
	if fcmCredsJSON != "" {
		client, err := fcm.NewClient(context.Background(), []byte(fcmCredsJSON))
		if err != nil {
			log.Fatalf("❌ Failed to initialize FCM: %v", err)
		}
		push = client
		log.Println("✅ FCM client initialized")
	} else {
		log.Println("⚠️ FCM disabled (no FIREBASE_CREDENTIALS_JSON)")
	}
	notifySvc := notifier.New(emailSender, push)

	// Execution archive is optional; without R2 the janitor purges without
	// archiving.
	var archiver scheduler.Archiver
	if cfg.R2AccountID != "" {
		r2, err := archive.NewR2Archiver(archive.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
		})
		if err != nil {
			log.Fatalf("❌ [R2] Failed to initialize archive client: %v", err)
		}
		archiver = r2
		log.Printf("✅ [R2] Execution archive initialized (bucket: %s)", cfg.R2BucketName)
	} else {
		log.Println("⚠️ Execution archive disabled (no R2_ACCOUNT_ID)")
	}

	sched := scheduler.New(scheduler.Deps{
		Schedules:     scheduleStore,
		Executions:    executionStore,
		Integrations:  integrationStore,
		Runner:        runner,
		Credentials:   cipher,
		Notifier:      notifySvc,
		Archiver:      archiver,
		RetentionDays: cfg.ExecutionRetentionDays,
	})
	if err := sched.Start(context.Background()); err != nil {
		log.Fatalf("❌ [SCHEDULER] Failed to start: %v", err)
	}
	log.Println("✅ [SCHEDULER] Started")

	handler := transport.NewHandler(sched, integrationStore, linkStore, entityStore, detector, resolver, cipher, adapters)

	app := fiber.New(fiber.Config{
		AppName:      "sync-service",
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,X-Tenant-ID,X-User-ID,X-Service-Token,Cache-Control",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Use(logger.New(logger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path} | ${ua}\n",
	}))

	// 1. Gateway routes (browser traffic, tenant context from Gateway headers)
	gatewayRoutes := app.Group("/v1/sync", gatewayAuth())
	registerRoutes(gatewayRoutes, handler)
	log.Println("✅ [ROUTES] Registered gateway routes: /v1/sync/*")

	// 2. Service-to-service routes
	serviceRoutes := app.Group("/svc/v1/sync", serviceAuth(cfg))
	registerRoutes(serviceRoutes, handler)
	log.Println("✅ [ROUTES] Registered service routes: /svc/v1/sync/*")

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		uptime := time.Since(startTime).Round(time.Second)
		return c.JSON(fiber.Map{
			"status":      "ok",
			"service":     "sync-service",
			"uptime":      uptime.String(),
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"providers":   adapters.Supported(),
			"fcm_enabled": push != nil,
			"r2_enabled":  archiver != nil,
			"roster_url":  cfg.RosterServiceURL,
		})
	})
	log.Println("✅ [ROUTES] Registered /health")

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("🛑 [SHUTDOWN] Graceful shutdown initiated...")
		if err := app.Shutdown(); err != nil {
			log.Printf("❌ [SHUTDOWN] Error: %v", err)
		}
		sched.Stop()
	}()

	log.Printf("🚀 sync-service starting...")
	log.Printf("   🔗 Listening on port: %s", cfg.ServerPort)
	log.Printf("   🌐 CORS allowed origins: %s", cfg.AllowedOrigins)
	log.Printf("   🔄 Roster feed URL: %s", cfg.RosterServiceURL)
	log.Printf("   🗄️  Execution retention: %d days", cfg.ExecutionRetentionDays)
	log.Printf("   🛡️  Service token prefix: %s******", tokenPrefix(cfg.ServiceExpectedToken))
	log.Println("✅ Server ready.")

	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		log.Fatalf("❌ [STARTUP] Server failed to start: %v", err)
	}
}

func registerRoutes(r fiber.Router, handler *transport.Handler) {
	r.Post("/schedules", handler.CreateSchedule)
	r.Get("/schedules", handler.ListSchedules)
	r.Get("/schedules/:id", handler.GetSchedule)
	r.Put("/schedules/:id", handler.UpdateSchedule)
	r.Delete("/schedules/:id", handler.DeleteSchedule)
	r.Post("/schedules/:id/execute", handler.ExecuteSchedule)
	r.Get("/schedules/:id/executions", handler.ExecutionHistory)

	r.Get("/executions/:execution_id", handler.GetExecution)
	r.Get("/executions/:execution_id/logs", handler.ExecutionLogs)
	r.Post("/executions/:execution_id/cancel", handler.CancelExecution)

	r.Post("/conflicts/detect", handler.DetectConflicts)
	r.Post("/conflicts/resolve", handler.ResolveConflicts)

	r.Post("/integrations", handler.CreateIntegration)
	r.Get("/integrations", handler.ListIntegrations)
	r.Get("/integrations/:id", handler.GetIntegration)
	r.Put("/integrations/:id", handler.UpdateIntegration)
	r.Delete("/integrations/:id", handler.DeleteIntegration)
}

// tokenPrefix returns at most the first 6 characters for log output.
func tokenPrefix(token string) string {
	if len(token) > 6 {
		return token[:6]
	}
	return token
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var errMsg string
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		errMsg = e.Message
	} else {
		errMsg = err.Error()
	}
	log.Printf("🔥 [ERROR] [%d] %s %s → %v | IP=%s | UA=%s",
		code,
		c.Method(),
		c.Path(),
		errMsg,
		c.IP(),
		c.Get("User-Agent"),
	)
	return c.Status(code).JSON(fiber.Map{
		"error":      "something went wrong",
		"request_id": c.Get("X-Request-ID"),
	})
}

func gatewayAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		tenant := c.Get("X-Tenant-ID")
		if userID == "" || tenant == "" {
			log.Printf("[GATEWAY-AUTH] ❌ REJECTED | IP=%s | Path=%s | UserID=%q | TenantID=%q",
				c.IP(), c.Path(), userID, tenant)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: missing user/tenant context from Gateway",
			})
		}
		return c.Next()
	}
}

func serviceAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" {
			authHeader := c.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				token = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}
		maskedToken := "<empty>"
		if token != "" {
			if len(token) > 6 {
				maskedToken = token[:6] + "..."
			} else {
				maskedToken = token
			}
		}
		if token != cfg.ServiceExpectedToken {
			log.Printf("[SERVICE-AUTH] ❌ REJECTED | IP=%s | Path=%s | Token=%s",
				c.IP(), c.Path(), maskedToken)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized: invalid or missing service token",
			})
		}
		return c.Next()
	}
}
