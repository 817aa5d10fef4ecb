package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/database"
	"github.com/wardenhq/warden/internal/handlers"
	"github.com/wardenhq/warden/internal/models"
	"github.com/wardenhq/warden/internal/routes"
	"github.com/wardenhq/warden/internal/services"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Warden", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	// ─── Database ────────────────────────────────────────────────────────
	if err := database.Connect(cfg); err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	db := database.DB

	if err := seed(cfg); err != nil {
		slog.Error("Bootstrap seeding failed", "error", err)
		os.Exit(1)
	}

	// ─── Services ────────────────────────────────────────────────────────
	auditService := services.NewAuditService(db)
	hub := services.NewAgentHub()
	dispatcher := services.NewQueueDispatcher(db, hub)
	resolver := services.NewTargetResolver(db)
	inventory := services.NewInventoryProvider(db)

	remediationScheduler := services.NewRemediationScheduler(db, auditService, dispatcher,
		cfg.DispatchMaxAttempts, time.Duration(cfg.DispatchBackoffSeconds)*time.Second)

	scanScheduler := services.NewScanScheduler(db, auditService, resolver, inventory,
		remediationScheduler,
		time.Duration(cfg.ScanIntervalSeconds)*time.Second, cfg.ScanWorkers)
	remediationScheduler.Verify = scanScheduler.TriggerVerification

	scanScheduler.Start()

	// ─── Handlers ───────────────────────────────────────────────────────
	authHandler := handlers.NewAuthHandler(cfg, db)
	policyHandler := handlers.NewPolicyHandler(db, auditService, scanScheduler, remediationScheduler, inventory)
	deviceHandler := handlers.NewDeviceHandler(db)
	agentHandler := handlers.NewAgentHandler(cfg, db, auditService, remediationScheduler)
	agentChannel := handlers.NewAgentChannelHandler(hub)
	auditHandler := handlers.NewAuditHandler(db)
	systemHandler := handlers.NewSystemHandler(db, hub)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "warden v" + handlers.Version,
		ServerHeader: "warden",
		BodyLimit:    5 * 1024 * 1024, // 5MB for large inventory reports
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, policyHandler, deviceHandler,
		agentHandler, agentChannel, auditHandler, systemHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Warden...")

		scanScheduler.Stop()

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if sqlDB, err := database.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("Warden listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// seed creates the bootstrap org and admin user on first start.
func seed(cfg *config.Config) error {
	db := database.DB

	var org models.Org
	err := db.First(&org, "name = ?", cfg.OrgName).Error
	if err != nil {
		org = models.Org{Name: cfg.OrgName, EnrollmentKey: cfg.EnrollmentKey}
		if err := db.Create(&org).Error; err != nil {
			return err
		}
		slog.Info("Bootstrap org created", "name", org.Name)
	}

	if cfg.AdminPassword == "" {
		slog.Warn("ADMIN_PASSWORD not set, skipping admin user seeding")
		return nil
	}

	var count int64
	db.Model(&models.User{}).Where("username = ?", cfg.AdminUsername).Count(&count)
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user := models.User{
		OrgID:        org.ID,
		Username:     cfg.AdminUsername,
		PasswordHash: string(hash),
		DisplayName:  cfg.AdminDisplayName,
		Role:         "admin",
	}
	if err := db.Create(&user).Error; err != nil {
		return err
	}
	slog.Info("Admin user created", "username", user.Username)
	return nil
}
