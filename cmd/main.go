package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tas-context-cache/auth"
	"github.com/tas-context-cache/config"
	"github.com/tas-context-cache/handlers"
	"github.com/tas-context-cache/models"
	"github.com/tas-context-cache/services"
	"github.com/tas-context-cache/services/impl"
	"github.com/tas-context-cache/services/memory"
	"github.com/tas-context-cache/services/retrieval"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Durable record store: postgres when the database is enabled, in-memory
	// otherwise
	var recordStore services.RecordStore
	if cfg.Database.Enabled {
		db, err := initDB(cfg)
		if err != nil {
			log.Fatal("Failed to connect to database:", err)
		}
		if err := db.AutoMigrate(&models.ContextRecord{}); err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		recordStore = impl.NewRecordStore(db)
		log.Println("Record store backed by postgres")
	} else {
		recordStore = impl.NewInMemoryRecordStore()
		log.Println("Record store running in-memory (DB_ENABLED=false)")
	}

	// Response cache: redis when reachable, in-memory fallback otherwise
	responseCache := impl.NewResponseCache(cfg.Cache, cfg.Redis)

	// Retrieval collaborators: remote clients when a base URL is configured,
	// in-process implementations otherwise
	var vectorStore services.VectorStore
	if cfg.Vector.BaseURL != "" {
		vectorStore = impl.NewVectorStoreClient(cfg.Vector)
		log.Printf("Vector store: %s", cfg.Vector.BaseURL)
	} else {
		vectorStore = impl.NewInMemoryVectorStore()
		log.Println("Vector store running in-memory")
	}

	var graphStore services.GraphStore
	if cfg.Graph.BaseURL != "" {
		graphStore = impl.NewGraphStoreClient(cfg.Graph)
		log.Printf("Graph store: %s", cfg.Graph.BaseURL)
	} else {
		graphStore = impl.NewInMemoryGraphStore()
		log.Println("Graph store running in-memory")
	}

	var embedder services.EmbeddingProvider
	if cfg.Embedding.BaseURL != "" {
		embedder = impl.NewEmbeddingClient(cfg.Embedding)
		log.Printf("Embedding provider: %s (model %s)", cfg.Embedding.BaseURL, cfg.Embedding.Model)
	} else {
		embedder = impl.NewLocalEmbedder(cfg.Embedding.Dim)
		log.Println("Embedding provider running locally")
	}

	// Assemble the tiers and the orchestrator
	clock := services.SystemClock{}
	chunker := retrieval.NewChunker(cfg.Chunker)
	keywordIndex := retrieval.NewKeywordIndex(cfg.Keyword)
	immediateTier := memory.NewImmediateTier(cfg.Immediate, clock)
	sessionTier := memory.NewSessionTier(cfg.Session, clock)
	longTermTier := memory.NewLongTermTier(chunker, keywordIndex, vectorStore, graphStore, recordStore, embedder, clock)
	fusionEngine := impl.NewFusionEngine(cfg.Fusion)

	contextService := impl.NewOrchestratorService(
		cfg,
		immediateTier,
		sessionTier,
		longTermTier,
		keywordIndex,
		fusionEngine,
		responseCache,
		vectorStore,
		graphStore,
		embedder,
		clock,
	)

	// Rebuild the long-term tier from persisted records
	if restored, err := longTermTier.Restore(context.Background()); err != nil {
		log.Printf("Warning: long-term restore failed: %v", err)
	} else if restored > 0 {
		log.Printf("Restored %d long-term items from records", restored)
	}

	contextHandlers := handlers.NewContextHandlers(contextService)

	// Setup router
	router := setupRouter(contextHandlers, cfg)

	// Start server
	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Context cache server starting on %s", cfg.GetServerAddress())
		log.Printf("Environment: %s", os.Getenv("ENVIRONMENT"))

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exited")
}

func initDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseDSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.MaxLifetime) * time.Second)

	return db, nil
}

func setupRouter(contextHandlers *handlers.ContextHandlers, cfg *config.Config) *gin.Engine {
	// Set gin mode based on environment
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Auth.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"service":   "context-cache",
		})
	})

	// API v1 routes
	v1 := router.Group("/api/v1")

	if cfg.Auth.Enabled {
		jwtValidator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.AllowedIssuers)
		v1.Use(authMiddleware(jwtValidator))
	}

	contextGroup := v1.Group("/context")
	{
		contextGroup.POST("/store", contextHandlers.StoreContext)
		contextGroup.POST("/retrieve", contextHandlers.RetrieveContext)
		contextGroup.DELETE("/:id", contextHandlers.DeleteContext)
		contextGroup.POST("/clear", contextHandlers.ClearContext)
		contextGroup.GET("/stats", contextHandlers.GetStats)
	}

	return router
}

// authMiddleware validates JWT bearer tokens on API routes
func authMiddleware(validator *auth.JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip auth for health check
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		// Check for Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header required",
			})
			c.Abort()
			return
		}

		// Validate token
		claims, err := validator.ValidateToken(authHeader)
		if err != nil {
			log.Printf("Token validation failed: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		// Set user context in Gin context
		c.Set("user_id", validator.ExtractUserID(claims))
		c.Set("user_email", claims.Email)
		c.Set("user_name", claims.Name)

		c.Next()
	}
}
