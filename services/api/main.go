package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/studyhub/internal/config"
	"github.com/studyhub/internal/handler"
	"github.com/studyhub/internal/logger"
	"github.com/studyhub/internal/middleware"
	"github.com/studyhub/internal/seed"
	"github.com/studyhub/internal/service"
	"github.com/studyhub/internal/storage"
	redisstorage "github.com/studyhub/internal/storage/redis"
	"github.com/studyhub/internal/startup"
	"github.com/studyhub/internal/ws"
)

const maxBodyBytes = 64 << 10

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	defer logger.Sync()
	logger.Info("starting API service")

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Errorf("open store: %v", err)
		os.Exit(1)
	}
	defer st.close()
	if *migrate && !*dev {
		logger.Info("migrations applied, exiting")
		return
	}
	// Память и -dev стартуют пустыми: подгружаем справочник университетов, если файл есть.
	if *dev || cfg.StoreBackend == config.StoreBackendMemory {
		seedDevUniversities(st.store)
	}

	var authorizer ws.SubscribeAuthorizer
	if cfg.WSEnforceRoomAccess {
		authorizer = service.NewRoomAccess(st.store)
		logger.Info("ws: подписка на комнаты проверяет членство")
	}
	hub := ws.NewHub(ws.Options{
		MaxConns:       cfg.MaxWSConnections,
		SendBufSize:    cfg.WSSendBufferSize,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
		Authorizer:     authorizer,
	})
	health := handler.NewHealthHandler(hub.ClientCount)
	for name, p := range st.checks {
		health.Add(name, p)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	var bus service.Broadcaster = hub
	if cfg.Redis.URL != "" {
		rc := startup.ConnectRedisWithRetry(cfg.Redis.URL, 30*time.Second, "")
		defer rc.Close()
		relay := redisstorage.NewRelay(rc, cfg.Redis.Channel, hub)
		bus = relay
		health.Add("redis", rc)
		g.Go(func() error { return relay.Run(gctx) })
		logger.Infof("redis relay enabled, channel %s", cfg.Redis.Channel)
	}

	svc := service.New(st.store, bus, service.Options{
		MaxCASAttempts:   cfg.MaxCASAttempts,
		MaxMessageLength: cfg.MaxMessageLength,
	})

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerIP, cfg.RateLimitPerUser, time.Minute)
	sweepDone := make(chan struct{})
	go limiter.Sweep(sweepDone)
	defer close(sweepDone)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(cfg.CORSAllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	auth := middleware.PrincipalAuth([]byte(cfg.JWTSecret))
	r.Get("/health", health.Health)
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", promhttp.Handler())
	handler.MountAPI(r, svc, auth, limiter.Handler)
	r.With(auth).Get("/ws", handler.NewWSHandler(hub, cfg.CORSAllowedOrigins).ServeWS)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	g.Go(func() error {
		logger.Infof("server listening on %s (store: %s)", cfg.ServerAddr, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("server shutdown: %v", err)
		}
		logger.Info("server stopped accepting connections")
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Errorf("server error: %v", err)
	}
	hubCancel()
	<-hubDone
	logger.Info("hub stopped")
}

func seedDevUniversities(store storage.Store) {
	path := os.Getenv("SEED_FILE")
	if path == "" {
		path = "data/universities.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := seed.ApplyFile(ctx, store, path, time.Now().UTC())
	if err != nil {
		logger.Errorf("dev seed: %v", err)
		return
	}
	logger.Infof("dev seed: %s, добавлено %d, пропущено %d", path, res.Created, res.Skipped)
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
