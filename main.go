package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"studybattle/battle"
	"studybattle/database"
	"studybattle/handlers"
	"studybattle/middleware"
	"studybattle/services"
	"studybattle/utils"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}

	validateEnvironment()

	// Initialize database
	database.InitDB()
	defer database.CloseDB()
	db := database.GetDB()

	// Battle services
	roomStore := battle.NewGormRoomStore(db)
	statsStore := battle.NewGormStatsStore(db)
	content := battle.NewGormContentProvider(db)
	lobby := battle.NewLobby(roomStore, content)
	runtime := battle.NewRuntime()
	updater := battle.NewUpdater(statsStore)
	hub := handlers.NewHub()
	engine := battle.NewEngine(roomStore, runtime, updater, hub, battle.DefaultConfig())

	// Runtime state does not survive a restart: any room left waiting or
	// active by a previous process is unplayable and gets swept.
	if swept, err := roomStore.SweepStale(context.Background()); err != nil {
		log.Printf("⚠️  Stale room sweep failed: %v", err)
	} else if swept > 0 {
		log.Printf("🧹 Swept %d stale rooms from a previous run", swept)
	}

	cleanup := services.NewCleanupService(db)
	cleanup.Start()
	defer cleanup.Stop()

	battleAPI := handlers.NewBattleAPI(lobby)
	statsAPI := handlers.NewStatsAPI(db)
	leaderboardAPI := handlers.NewLeaderboardAPI(db)
	debugAPI := handlers.NewDebugAPI(lobby, runtime, hub)
	wsServer := handlers.NewWSServer(lobby, engine, hub)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024, // 4MB
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path} (${latency})\n",
	}))

	// CORS configuration
	corsOrigins := os.Getenv("CORS_ORIGINS")
	if corsOrigins == "" {
		corsOrigins = "http://localhost:3000"
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
	}))

	app.Use(middleware.FiberRateLimitMiddleware())

	// API Routes
	api := app.Group("/api")

	// Battle routes
	api.Post("/battles", middleware.AuthMiddleware, battleAPI.CreateBattle)
	api.Get("/battles/:code", battleAPI.GetBattle)
	api.Get("/battles/:code/detail", battleAPI.GetBattleDetail)

	// User routes (require authentication)
	userGroup := api.Group("/users/me")
	userGroup.Use(middleware.AuthMiddleware)
	userGroup.Get("/stats", statsAPI.GetMyStats)
	userGroup.Get("/battles", statsAPI.GetMyBattles)
	userGroup.Get("/achievements", statsAPI.GetMyAchievements)

	// Leaderboard routes
	api.Get("/leaderboard", leaderboardAPI.GetLeaderboard)
	api.Get("/leaderboard/around/:id", leaderboardAPI.GetLeaderboardAround)

	// Debug endpoints for troubleshooting live battles (remove in production)
	api.Get("/debug/rooms", debugAPI.GetActiveRooms)
	api.Get("/debug/rooms/:code", debugAPI.GetRoomByCode)

	// WebSocket clients connect straight to the WS port; tell them where.
	wsPort := getEnv("WS_PORT", "4000")
	app.Get("/ws", func(c *fiber.Ctx) error {
		wsURL := "ws://localhost:" + wsPort + "/ws"
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{
			"error":   "WebSocket endpoint moved",
			"message": "Please connect to " + wsURL,
			"ws_url":  wsURL,
		})
	})

	// Health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"version":   "1.0.0",
		})
	})

	// Start WebSocket server (pure net/http)
	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", wsServer)
	wsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_ = utils.JSONSuccess(w, map[string]interface{}{
			"active_rooms": runtime.ActiveCount(),
			"timestamp":    time.Now().Unix(),
		})
	})

	wsHandler := middleware.HTTPRecoverMiddleware(
		middleware.HTTPCORSMiddleware(strings.Split(corsOrigins, ","))(
			middleware.RateLimitMiddleware(wsMux)))

	wsHTTPServer := &http.Server{
		Addr:    ":" + wsPort,
		Handler: wsHandler,
	}

	go func() {
		log.Printf("🌐 WebSocket server starting on port %s", wsPort)
		if err := wsHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("WebSocket server failed:", err)
		}
	}()

	// Start Fiber HTTP/REST server
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	log.Printf("🚀 HTTP server starting on port %s", port)
	log.Printf("📊 Environment: %s", getEnv("APP_ENV", "development"))
	log.Printf("🔐 JWT Secret configured: %v", os.Getenv("JWT_SECRET") != "")
	log.Printf("🌐 WebSocket available at ws://localhost:%s/ws", wsPort)

	if err := app.Listen(":" + port); err != nil {
		log.Fatal("Failed to start HTTP server:", err)
	}
}

// validateEnvironment checks for required environment variables
func validateEnvironment() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("FATAL: JWT_SECRET environment variable must be set. Generate one with: openssl rand -base64 64")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("FATAL: JWT_SECRET must be at least 32 characters long")
	}

	if os.Getenv("APP_ENV") == "production" {
		corsOrigins := os.Getenv("CORS_ORIGINS")
		if corsOrigins == "" || corsOrigins == "http://localhost:3000" {
			log.Println("WARNING: CORS_ORIGINS not properly configured for production")
		}
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Don't expose internal errors in production
	if os.Getenv("APP_ENV") == "production" && code == 500 {
		message = "An error occurred. Please try again later."
	}

	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
