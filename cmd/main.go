package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/dispatch"
	"github.com/agentplane/agentplane/internal/handler"
	"github.com/agentplane/agentplane/internal/handler/middleware"
	"github.com/agentplane/agentplane/internal/repository/postgres"
	"github.com/agentplane/agentplane/internal/service"
	"github.com/agentplane/agentplane/internal/worker"
	"github.com/agentplane/agentplane/pkg/jwt"
	"github.com/agentplane/agentplane/pkg/quota"
	"github.com/agentplane/agentplane/pkg/revocation"
	"github.com/agentplane/agentplane/pkg/validator"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	db, err := initDB(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database connection: %v", err)
		}
	}()
	log.Println("✓ Database connection established")

	// Initialize Redis client
	redisClient, err := initRedis(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize Redis: %v", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Printf("Error closing Redis connection: %v", err)
		}
	}()
	log.Println("✓ Redis connection established")

	// Initialize JWT token service
	tokenService, err := jwt.NewTokenService(
		[]byte(cfg.JWT.SigningKey),
		cfg.JWT.AccessTokenExpiry,
		cfg.JWT.RefreshTokenExpiry,
		cfg.JWT.Issuer,
	)
	if err != nil {
		log.Fatalf("Failed to initialize token service: %v", err)
	}

	// Initialize validator
	validate := validator.NewValidator()

	// Initialize repositories
	tenantRepo := postgres.NewTenantRepository(db)
	userRepo := postgres.NewUserRepository(db)
	sessionRepo := postgres.NewSessionRepository(db)
	invitationRepo := postgres.NewInvitationRepository(db)
	agentRepo := postgres.NewAgentRepository(db)
	taskRepo := postgres.NewTaskRepository(db)
	auditRepo := postgres.NewAuditRepository(db)

	// Redis-backed revocation and quota
	revoker := revocation.NewStore(redisClient)
	quotaLimiter := quota.NewLimiter(redisClient)

	// Initialize services
	guard := service.NewGuard(auditRepo)
	authService := service.NewAuthService(
		userRepo, tenantRepo, sessionRepo, invitationRepo, auditRepo,
		tokenService, revoker, cfg.Auth, cfg.Tiers,
	)
	tenantService := service.NewTenantService(
		tenantRepo, userRepo, invitationRepo, auditRepo, guard, cfg.Auth, cfg.Tiers,
	)
	userService := service.NewUserService(userRepo, sessionRepo, auditRepo, revoker, guard)
	agentService := service.NewAgentService(agentRepo, tenantRepo, auditRepo, guard)
	auditService := service.NewAuditService(auditRepo, guard)

	dispatcher := dispatch.New()
	taskService := service.NewTaskService(
		taskRepo, agentRepo, tenantRepo, auditRepo, guard,
		quotaLimiter, dispatcher, cfg.Tasks,
	)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(authService, validate)
	agentHandler := handler.NewAgentHandler(agentService, validate)
	taskHandler := handler.NewTaskHandler(taskService, validate)
	tenantHandler := handler.NewTenantHandler(tenantService, validate)
	userHandler := handler.NewUserHandler(userService, validate)
	auditHandler := handler.NewAuditHandler(auditService)
	healthHandler := handler.NewHealthHandler(db, redisClient)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "AgentPlane v1.0",
		ErrorHandler: customErrorHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	// Setup global middlewares
	app.Use(middleware.RecoveryMiddleware())
	app.Use(middleware.LoggerMiddleware())
	app.Use(middleware.CORSMiddleware())

	authMiddleware := middleware.AuthMiddleware(tokenService, revoker)

	// Setup routes
	handler.SetupRoutes(
		app,
		authHandler,
		agentHandler,
		taskHandler,
		tenantHandler,
		userHandler,
		auditHandler,
		healthHandler,
		authMiddleware,
	)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Start background workers
	pool := worker.NewPool(taskService, cfg.Worker)
	pool.Start(ctx)

	// Start server in goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Server.Port)
		log.Printf("🚀 Server starting on http://localhost%s", addr)
		log.Printf("📝 Environment: %s", cfg.Server.Environment)
		if err := app.Listen(addr); err != nil {
			log.Printf("❌ Server failed to start: %v", err)
			stop()
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	log.Println("⏳ Shutting down server gracefully...")

	// Shutdown server
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("❌ Server forced to shutdown: %v", err)
	}

	// Let in-flight tasks finish
	pool.Wait()

	log.Println("✓ Server stopped")
}

// initDB initializes PostgreSQL database connection with retry logic
func initDB(cfg *config.Config) (*sqlx.DB, error) {
	dsn := cfg.Database.DSN()

	var db *sqlx.DB
	var err error

	maxRetries := 5
	retryInterval := 2 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			break
		}

		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			time.Sleep(retryInterval)
		}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", maxRetries, err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("Error closing database after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// initRedis initializes Redis client and verifies connection
func initRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			log.Printf("Error closing Redis after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

// customErrorHandler handles Fiber errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	log.Printf("Error handling request [%s %s]: %v", c.Method(), c.Path(), err)

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
