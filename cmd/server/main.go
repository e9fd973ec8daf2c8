package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/docflow/backend/internal/application/services"
	"github.com/docflow/backend/internal/bootstrap"
	"github.com/docflow/backend/internal/infrastructure/database"
	"github.com/docflow/backend/internal/interfaces/middleware"
	"github.com/docflow/backend/internal/interfaces/rest"
	"github.com/docflow/backend/pkg/constants"
)

func main() {
	// Load .env if present; real deployments set env vars directly
	_ = godotenv.Load()

	// Get port from environment
	port := os.Getenv("PORT")
	if port == "" {
		port = constants.DefaultPort
	}

	// Initialize database connection
	db, err := database.GetInstance()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("✅ Database connection established")

	// Create tables on first boot
	if err := bootstrap.InitializeSchema(db); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	// Initialize service manager
	svcMgr, err := services.NewServiceManager(db)
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	log.Println("🔧 Service manager initialized")

	// Create Gin router
	router := gin.Default()

	// CORS middleware - Allow credentials from any origin
	router.Use(middleware.Cors())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"server": "golang",
		})
	})

	// Initialize handlers
	authHandler := rest.NewAuthHandler(svcMgr.Auth)
	templateHandler := rest.NewTemplateHandler(svcMgr.Templates)
	workflowHandler := rest.NewWorkflowHandler(svcMgr.Orchestration, svcMgr.Templates)
	decisionHandler := rest.NewDecisionHandler(svcMgr.Orchestration, svcMgr.Tokens)
	notificationHandler := rest.NewNotificationHandler(svcMgr.Notifications)

	// Initialize middleware
	requireAuth := middleware.RequireAuth()

	// API routes
	api := router.Group("/api")
	{
		// Auth routes
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.GET("/me", requireAuth, authHandler.Me)
		}

		// Protected circuit template routes
		templates := api.Group("/templates")
		templates.Use(requireAuth)
		{
			templates.POST("", templateHandler.Create)
			templates.GET("", templateHandler.List)
			templates.GET("/:id", templateHandler.Get)
			templates.PUT("/:id", templateHandler.Update)
			templates.DELETE("/:id", templateHandler.Delete)
		}

		// Protected workflow lifecycle routes
		workflows := api.Group("/workflows")
		workflows.Use(requireAuth)
		{
			workflows.POST("", workflowHandler.Launch)
			workflows.GET("/:id", workflowHandler.Progress)
			workflows.POST("/:id/cancel", workflowHandler.Cancel)
			workflows.POST("/:id/archive", workflowHandler.Archive)
		}

		// Protected decision route for logged-in validators
		steps := api.Group("/steps")
		steps.Use(requireAuth)
		{
			steps.POST("/:stepId/decide", decisionHandler.Decide)
		}

		// Public decision-link routes: the single-use token IS the credential,
		// so validators can act straight from their email without an account
		decide := api.Group("/decide")
		{
			decide.GET("/:token", decisionHandler.Peek)
			decide.POST("/:token", decisionHandler.Resolve)
		}

		// Protected notification routes
		notifications := api.Group("/notifications")
		notifications.Use(requireAuth)
		{
			notifications.GET("", notificationHandler.List)
			notifications.POST("/:id/read", notificationHandler.MarkRead)
		}
	}

	// Start background workers
	go svcMgr.Start()
	log.Println("⏰ Reminder worker started")

	// Start server
	log.Println("\n═══════════════════════════════════════════════════════════════════════════")
	log.Println("🚀 DocFlow Approval Backend Started Successfully")
	log.Println("═══════════════════════════════════════════════════════════════════════════")
	log.Printf("\n📍 Server:         http://localhost:%s", port)
	log.Printf("🔐 Auth API:       http://localhost:%s/api/auth", port)
	log.Printf("📋 Templates API:  http://localhost:%s/api/templates", port)
	log.Printf("🔁 Workflows API:  http://localhost:%s/api/workflows", port)
	log.Printf("✉️  Decision links: http://localhost:%s/api/decide/:token", port)
	log.Printf("💚 Health check:   http://localhost:%s/health\n", port)

	// Create HTTP Server
	srv := &http.Server{
		Addr:    "0.0.0.0:" + port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Stop background workers
	svcMgr.Stop()
	log.Println("🛑 Reminder worker stopped")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Println("Server exiting")
}
