// cmd/api/main.go
// Main entry point for the application
// This file bootstraps all components and starts the server

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orincore/circle-backend/internal/auth"
	"github.com/orincore/circle-backend/internal/common/database"
	"github.com/orincore/circle-backend/internal/config"
	"github.com/orincore/circle-backend/internal/matchmaking"
	"github.com/orincore/circle-backend/internal/notify"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	log.Println("========================================")
	log.Println("🚀 Starting Circle Matchmaking API")
	log.Println("========================================")

	// 1. Load environment variables
	log.Println("📁 Step 1: Loading .env file...")
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  Warning: No .env file found (%v), using environment variables", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// 2. Load configuration
	log.Println("📋 Step 2: Loading configuration...")
	cfg := config.Load()
	log.Printf("✅ Configuration loaded (env=%s)", cfg.Environment)

	// 3. Connect to PostgreSQL
	log.Println("🗄️  Step 3: Connecting to PostgreSQL...")
	db, err := database.NewPostgresDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("❌ Failed to connect to PostgreSQL:", err)
	}
	defer db.Close()
	log.Println("✅ Connected to PostgreSQL successfully")

	// 4. Run database migrations
	log.Println("🔨 Step 4: Running database migrations...")
	if err := runMigrations(db); err != nil {
		log.Fatal("❌ Failed to run migrations:", err)
	}
	log.Println("✅ Database migrations completed")

	// 5. Connect to Redis (optional; falls back to in-process state)
	log.Println("📮 Step 5: Connecting to Redis...")
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable (%v), using in-memory state store", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			log.Println("✅ Connected to Redis successfully")
		}
	} else {
		log.Println("⚠️  Redis URL not configured, using in-memory state store")
	}

	var stateStore matchmaking.AtomicUserStateStore
	if redisClient != nil {
		stateStore = matchmaking.NewRedisStateStore(redisClient)
	} else {
		// Single-instance deployments only; Redis is required once more
		// than one API process runs.
		stateStore = matchmaking.NewMemoryStateStore()
	}

	// 6. Initialize matchmaking core
	log.Println("🧩 Step 6: Initializing matchmaking core...")
	repo := matchmaking.NewPostgresRepository(db)
	engine := matchmaking.NewMatchEngine()

	hub := matchmaking.NewHub()
	go hub.Run()

	notifiers := []matchmaking.MatchNotifier{hub}
	if cfg.EnableEmailNotifications {
		var emailProvider notify.EmailProvider
		switch cfg.EmailProvider {
		case "sendgrid":
			emailProvider = notify.NewSendGridEmailProvider(cfg.SendGridAPIKey, cfg.EmailFrom)
			log.Println("   ✅ Using SendGrid for emails")
		default:
			emailProvider = notify.NewMockEmailProvider()
			log.Println("   ✅ Using mock email provider")
		}
		notifiers = append(notifiers, notify.NewMatchEmailNotifier(emailProvider, repo))
	}

	queue := matchmaking.NewQueueManager(
		stateStore, repo, repo, repo, engine,
		matchmaking.CompositeNotifier(notifiers),
		matchmaking.QueueConfig{
			ProposalTTL:        cfg.ProposalTTL,
			ExclusionTTL:       cfg.ExclusionTTL,
			SessionIdleTimeout: cfg.SessionIdleTimeout,
			MinScore:           cfg.MinScore,
			AllowFriends:       cfg.AllowFriends,
		},
	)

	service := matchmaking.NewService(repo, repo, repo, engine, queue, matchmaking.ServiceConfig{
		DefaultRadiusKm: cfg.SearchRadiusKm,
		CandidateLimit:  cfg.CandidateLimit,
		MinScore:        cfg.MinScore,
		AllowFriends:    cfg.AllowFriends,
	})
	log.Println("✅ Matchmaking core ready")

	// 7. Start background sweep
	log.Println("⏱️  Step 7: Starting expiry sweep...")
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	matchmaking.NewScheduler(queue, cfg.SweepInterval).Start(sweepCtx)
	log.Printf("✅ Expiry sweep running every %s", cfg.SweepInterval)

	// 8. Set up routes
	log.Println("🌐 Step 8: Setting up routes...")
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)
	handler := matchmaking.NewHandler(service, hub)
	matchmaking.RegisterRoutes(router, handler, authMiddleware)
	log.Println("✅ Routes registered")

	// 9. Start server with graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🎧 Listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("❌ Server failed:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("🛑 Shutting down server...")
	stopSweep()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Forced shutdown: %v", err)
	}
	log.Println("👋 Server stopped")
}
