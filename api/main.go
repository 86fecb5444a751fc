package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"hearth/api/activity"
	"hearth/api/allocations"
	"hearth/api/auth"
	"hearth/api/config"
	"hearth/api/console"
	"hearth/api/daemon"
	"hearth/api/events"
	"hearth/api/files"
	"hearth/api/handler"
	"hearth/api/health"
	"hearth/api/hub"
	"hearth/api/lifecycle"
	"hearth/api/metrics"
	"hearth/api/placement"
	"hearth/api/schedule"
	"hearth/api/storage"
	"hearth/api/store"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, acts := openStore(ctx, cfg)
	defer s.Close()

	ws := hub.New(cfg.AllowedOrigins)
	go ws.Run()

	pub := events.Multi{
		&events.HubPublisher{Hub: ws},
		&activity.Recorder{Store: acts},
	}
	if cfg.NATSURL != "" {
		np, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			log.Printf("WARNING: NATS unavailable (%v), events stay local", err)
		} else {
			defer np.Close()
			pub = append(pub, np)
			log.Println("publishing events to NATS at " + cfg.NATSURL)
		}
	}

	var objects *storage.Client
	if cfg.S3Enabled() {
		c, err := storage.NewClient(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err == nil {
			err = c.EnsureBucket(ctx)
		}
		if err != nil {
			log.Printf("WARNING: S3 storage unavailable (%v), backups stay on nodes", err)
		} else {
			objects = c
			log.Println("S3 storage connected at " + cfg.S3Endpoint)
		}
	}

	client := daemon.New(cfg.DaemonTimeout)
	locks := placement.NewNodeLocks()

	orch := lifecycle.New(s, client, locks, pub)
	if objects != nil {
		orch.Objects = objects
	}
	allocs := allocations.New(s, orch, locks, pub, lifecycle.RandomPort)

	proxy := console.NewProxy(s, cfg.PanelURL)
	proxy.TokenTTL = cfg.ConsoleTTL
	proxy.DaemonBrand = cfg.DaemonBrand
	proxy.PanelBrand = cfg.PanelBrand

	scheduler := schedule.New(s, orch)
	if err := scheduler.Load(ctx); err != nil {
		log.Printf("WARNING: schedules not loaded: %v", err)
	}
	scheduler.Start()

	poller := &health.Poller{Store: s, Daemon: client, Events: pub, Interval: cfg.HealthInterval}
	go poller.Run(ctx)

	if cfg.SessionSecret == "" && cfg.JWKSURL == "" && cfg.APIToken == "" {
		log.Println("WARNING: no session secret, JWKS URL or API token configured; every authenticated request will be refused")
	}
	sessions := auth.NewSessionValidator(auth.SessionConfig{
		Secret:   cfg.SessionSecret,
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		APIToken: cfg.APIToken,
	})

	h := handler.New(handler.Deps{
		Store:       s,
		Config:      cfg,
		Lifecycle:   orch,
		Allocations: allocs,
		Files:       files.New(s, client),
		Schedules:   scheduler,
		Console:     proxy,
		Activity:    acts,
		SFTP:        auth.NewSFTPAuthenticator(s),
		Daemon:      client,
		Objects:     objects,
		Health:      poller,
		Hub:         ws,
		Version:     Version,
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	h.Routes(r, sessions.Middleware)
	r.Handle("/metrics", metrics.Handler())
	r.With(sessions.Middleware, auth.RequireAdmin).Get("/ws", ws.HandleConnect)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("hearth %s listening on :%s", Version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	cancel()
	scheduler.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}

// openStore picks the record backend. The activity log lives in Postgres
// when the records do and in memory otherwise.
func openStore(ctx context.Context, cfg *config.Config) (*store.Store, activity.Store) {
	switch cfg.StoreBackend {
	case "memory":
		log.Println("WARNING: using the in-memory store, nothing survives a restart")
		return store.NewMemory(), activity.NewMemoryStore()
	case "badger":
		s, err := store.OpenBadger(cfg.BadgerDir)
		if err != nil {
			log.Fatalf("badger: %v", err)
		}
		log.Printf("badger store at %s; activity log kept in memory", cfg.BadgerDir)
		return s, activity.NewMemoryStore()
	case "postgres":
	default:
		log.Fatalf("unknown store backend %q (memory, postgres, badger)", cfg.StoreBackend)
	}

	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		log.Fatalf("migration: %v", err)
	}
	acts := activity.NewPostgresStore(db.Pool)
	if err := acts.Migrate(ctx); err != nil {
		log.Fatalf("activity migration: %v", err)
	}
	return db.Store(), acts
}
