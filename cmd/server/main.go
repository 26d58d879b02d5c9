package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/kiviatgo/kiviatgo-backend/internal/config"
	"github.com/kiviatgo/kiviatgo-backend/internal/database"
	"github.com/kiviatgo/kiviatgo-backend/internal/handlers"
	"github.com/kiviatgo/kiviatgo-backend/internal/middleware"
	"github.com/kiviatgo/kiviatgo-backend/internal/routes"
	"github.com/kiviatgo/kiviatgo-backend/internal/services"
	"github.com/kiviatgo/kiviatgo-backend/pkg/utils"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := config.Load()

	// Check encryption key (warn if not set, but don't fail)
	if cfg.EncryptionKey == "" {
		log.Println("⚠️  WARNING: ENCRYPTION_KEY not set. Strava refresh tokens will be stored unencrypted.")
		log.Println("   To generate a key, run: openssl rand -base64 32")
	} else if _, err := utils.GetEncryptionKey(); err != nil {
		log.Printf("⚠️  WARNING: ENCRYPTION_KEY is invalid: %v", err)
		log.Println("   Key must be base64-encoded 32 bytes. Generate with: openssl rand -base64 32")
	} else {
		log.Println("✅ Encryption key configured")
	}

	if cfg.StravaClientID == "" || cfg.StravaClientSecret == "" {
		log.Println("⚠️  WARNING: Strava credentials not set. Token exchange will return 500.")
	}

	// Connect to PostgreSQL (accounts)
	log.Printf("Connecting to PostgreSQL...")
	if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}
	defer database.DisconnectPostgres()

	// Connect to Redis (sessions, rate limiting, caches)
	log.Printf("Connecting to Redis...")
	if err := database.ConnectRedis(cfg.RedisURI); err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer database.DisconnectRedis()

	// Connect to MongoDB (profile documents, meals, progress)
	log.Printf("Connecting to MongoDB...")
	if err := database.Connect(cfg.MongoURI); err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer database.Disconnect()

	// Wire the core services
	profileStore := services.NewMongoProfileStore()
	stravaService := services.NewStravaService(cfg)
	profileHub := services.NewProfileHub()
	reconciler := services.NewReconciler(profileStore, stravaService, profileHub)
	handlers.Init(profileStore, reconciler, stravaService, profileHub)

	// Cloudinary is optional; meal photos just won't be stored without it
	if cfg.CloudinaryName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		if err := handlers.InitCloudinaryService(cfg); err != nil {
			log.Printf("Warning: Failed to initialize Cloudinary: %v", err)
			log.Println("Meal photo storage will not be available")
		} else {
			log.Println("✅ Cloudinary service initialized")
		}
	} else {
		log.Println("Warning: Cloudinary credentials not found. Meal photo storage will not be available")
	}

	// Gemini is optional; meal photo analysis returns 500 without it
	if cfg.GeminiAPIKey != "" {
		vision, err := services.NewMealVisionService(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Printf("Warning: Failed to initialize Gemini: %v", err)
		} else {
			handlers.InitMealVision(vision)
			log.Println("✅ Meal vision service initialized")
		}
	} else {
		log.Println("Warning: GEMINI_API_KEY not found. Meal photo analysis will not be available")
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
		Debug:            !cfg.IsProduction(),
	}))

	r.Use(middleware.RateLimit)

	// Health check (no auth)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	routes.SetupRoutes(r)

	log.Printf("🚀 KiviatGo backend running on :%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
