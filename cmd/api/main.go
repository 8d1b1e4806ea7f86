package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"procurement/internal/config"
	"procurement/internal/database"
	"procurement/internal/handler"
	"procurement/internal/middleware"
	"procurement/internal/repository"
	"procurement/internal/service"
	"procurement/internal/storage"
	"procurement/internal/websocket"

	_ "procurement/api/swagger" // swagger docs

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Procurement Approval API
// @version         1.0
// @description     Purchase request workflow: staff submissions, two-level approval, receipt three-way matching, finance invoicing.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg := config.Load()

	db, err := database.NewConnection(cfg.DSN())
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Connected to PostgreSQL successfully.")

	// Document store
	var store storage.Store
	if cfg.Storage.Backend == "s3" {
		s3Store, err := storage.NewS3Store(context.Background(), storage.S3Options{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.Endpoint + "/" + cfg.Storage.Bucket,
		})
		if err != nil {
			log.Fatalf("Object storage setup failed: %v", err)
		}
		store = s3Store
	} else {
		store = storage.NewLocalStore(cfg.Storage.LocalDir, cfg.Server.PublicURL)
	}

	// Set up WebSocket Hub
	wsHub := websocket.NewHub()
	go wsHub.Run()

	// Background three-way match worker
	matcher := service.NewMatchService(db, wsHub, time.Duration(cfg.Match.WorkerDelayMillis)*time.Millisecond)
	go matcher.Run(context.Background())

	middleware.Init([]byte(cfg.JWT.Secret))

	// Set up dependencies (Repository -> Service -> Handler)
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	userService := service.NewUserService(
		userRepo, tokenRepo,
		[]byte(cfg.JWT.Secret),
		time.Duration(cfg.JWT.AccessExpMinutes)*time.Minute,
		time.Duration(cfg.JWT.RefreshExpHours)*time.Hour,
		time.Duration(cfg.JWT.VerifyTokenExpHrs)*time.Hour,
	)
	poService := service.NewPOService(store)
	requestService := service.NewRequestService(db, requestRepo, matcher, poService, wsHub, service.MatchTolerances{
		AmountPercent:   cfg.Match.AmountTolerancePercent,
		QuantityPercent: cfg.Match.QuantityTolerancePercent,
	})
	auditService := service.NewAuditService(db)

	// Initialize Handlers
	userHandler := handler.NewUserHandler(userService, store)
	requestHandler := handler.NewRequestHandler(requestService, store)
	auditHandler := handler.NewAuditHandler(auditService)

	// Set up Gin Router
	router := gin.Default()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	if len(cfg.Server.CorsAllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.CorsAllowedOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Accept"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	router.Use(cors.New(corsConfig))

	// Swagger route
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "OK"})
	})

	// Locally stored documents are served straight from the media dir
	if cfg.Storage.Backend != "s3" {
		router.Static("/media", cfg.Storage.LocalDir)
	}

	// WebSocket endpoint
	router.GET("/ws", func(c *gin.Context) {
		websocket.ServeWs(wsHub, c, []byte(cfg.JWT.Secret))
	})

	// Register API Routes
	userHandler.RegisterRoutes(router.Group(""))
	requestHandler.RegisterRoutes(router.Group(""))
	auditHandler.RegisterRoutes(router.Group(""))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Server listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
