package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/aquaflow/sensorhub/internal/api"
	"github.com/aquaflow/sensorhub/internal/audit"
	"github.com/aquaflow/sensorhub/internal/config"
	"github.com/aquaflow/sensorhub/internal/data"
	"github.com/aquaflow/sensorhub/internal/events"
	"github.com/aquaflow/sensorhub/internal/middleware"
	"github.com/aquaflow/sensorhub/internal/ratelimit"
	"github.com/aquaflow/sensorhub/internal/sensor"
	"github.com/aquaflow/sensorhub/internal/tokens"
	"github.com/aquaflow/sensorhub/internal/ws"
)

const serviceName = "AquaFlow-SensorHub"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfgStore, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}
	cfgStore.StartWatcher(ctx)
	cfg := cfgStore.Current()

	dbHost := os.Getenv("DB_HOST")
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	redisAddr := os.Getenv("REDIS_ADDR")
	adminKey := os.Getenv("ADMIN_SIGNING_KEY")

	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	if adminKey == "" {
		adminKey = "dev-secret-do-not-use-in-prod"
	}

	// 2. Core state: history buffer, broadcast hub, ingestion service.
	history := sensor.NewHistoryStore(cfg.Sensor.HistoryCapacity)
	hub := ws.NewHub(history)

	var svcOpts []sensor.ServiceOption
	svcOpts = append(svcOpts, sensor.WithTrendWindow(cfg.Sensor.TrendWindow))

	// 3. Durable store (best effort: the service runs without it).
	var auditTrail api.AuditRecorder
	if dbHost != "" {
		connStr := fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable", dbUser, dbPass, dbHost, dbName)
		db, err := sql.Open("postgres", connStr)
		if err != nil {
			log.Fatalf("DB open error: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Printf("Warning: DB ping failed: %v. Reading persistence disabled.", err)
		} else {
			svcOpts = append(svcOpts, sensor.WithStore(data.ReadingModel{DB: db}))
			auditTrail = audit.Model{DB: db}
			defer db.Close()
		}
	} else {
		log.Printf("DB_HOST not set, reading persistence disabled")
	}

	// 4. Optional NATS fan-out for downstream consumers.
	if cfg.Nats.Enabled {
		natsURL := os.Getenv("NATS_URL")
		if natsURL == "" {
			natsURL = cfg.Nats.URL
		}
		if natsURL == "" {
			natsURL = nats.DefaultURL
		}
		nc, err := nats.Connect(natsURL, nats.Name(serviceName))
		if err != nil {
			log.Printf("Warning: NATS connect failed: %v. Event publishing disabled.", err)
		} else {
			svcOpts = append(svcOpts, sensor.WithPublisher(events.NewReadingPublisher(nc, cfg.Nats.Subject, 3)))
			defer nc.Close()
		}
	}

	svc := sensor.NewService(history, hub, svcOpts...)

	// 5. Rate limiting (fails open when Redis is down).
	var submitGuard func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis ping failed: %v. Submit rate limiting disabled.", err)
		} else {
			limiter := ratelimit.NewLimiter(rdb, os.Getenv("RATELIMIT_SALT"))
			submitGuard = middleware.NewSubmitLimiter(limiter, cfgStore).Middleware
		}
	}

	// 6. Admin guard for the destructive clear endpoint.
	tokenMgr := tokens.NewManager(adminKey)
	adminGuard := middleware.NewAdminAuth(tokenMgr).Middleware

	handler := api.NewSensorHandler(svc, hub)
	handler.Audit = auditTrail

	// 7. Routing
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	// CORS for browser dashboards
	allowedOrigins := map[string]bool{}
	for _, origin := range cfg.Server.AllowedOrigins {
		allowedOrigins[origin] = true
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(allowedOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	handler.Register(r, submitGuard, adminGuard)

	// 8. Serve
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		log.Printf("Starting %s on :%s", serviceName, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("Shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown error: %v", err)
	}
	log.Printf("Server stopped gracefully")
}
