// Package main runs the NeoGuard server: the recovery vault services, the
// deployment registry, and the HTTP API in a single process.
package main

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/neoguard/internal/app"
	"github.com/R3E-Network/neoguard/internal/app/httpapi"
	"github.com/R3E-Network/neoguard/internal/app/storage/postgres"
	"github.com/R3E-Network/neoguard/internal/app/storage/rediscache"
	"github.com/R3E-Network/neoguard/internal/config"
	"github.com/R3E-Network/neoguard/internal/events"
	"github.com/R3E-Network/neoguard/internal/events/archive"
	"github.com/R3E-Network/neoguard/internal/logging"
	"github.com/R3E-Network/neoguard/internal/platform/migrations"
	"github.com/R3E-Network/neoguard/pkg/logger"
)

func main() {
	// Best-effort: without a .env file the real environment applies.
	_ = godotenv.Load()

	configPath := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	svcLog := logger.New("neoguardd", cfg.Logging.Level)
	httpLog, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		Dev:     cfg.Logging.Dev,
		Service: "neoguard",
	})
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer httpLog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ring := events.NewRingBuffer(cfg.Events.BufferSize)

	var (
		stores app.Stores
		db     *sql.DB
	)
	if cfg.Database.DSN != "" {
		db, err = openDatabase(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		defer db.Close()

		if cfg.Database.Migrate {
			if err := migrations.Apply(ctx, db); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}

		pg := postgres.New(db)
		stores = app.Stores{Vaults: pg, Registry: pg, Settings: pg}
		svcLog.Info("postgres storage enabled")
	} else {
		svcLog.Warn("no database configured, state is in-memory only")
	}

	if cfg.Redis.Addr != "" {
		if stores.Registry == nil {
			svcLog.Warn("redis cache configured without a database, skipping")
		} else {
			client, err := rediscache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				log.Fatalf("connect redis: %v", err)
			}
			defer client.Close()
			stores.Registry = rediscache.New(stores.Registry, client, cfg.Redis.TTL)
			svcLog.WithField("addr", cfg.Redis.Addr).Info("registry cache enabled")
		}
	}

	application, err := app.New(app.Options{
		Stores:            stores,
		Events:            ring,
		Log:               svcLog,
		Admin:             cfg.Registry.Admin,
		Implementation:    cfg.Registry.Implementation,
		DefaultTimelock:   cfg.Registry.DefaultTimelock,
		ReconcileSchedule: cfg.Registry.ReconcileSchedule,
	})
	if err != nil {
		log.Fatalf("build application: %v", err)
	}

	var arc *archive.Archive
	if cfg.Events.Archive {
		archiveDB, err := archive.Open(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open event archive: %v", err)
		}
		defer archiveDB.Close()

		arc = archive.New(archive.Config{
			DB:     archiveDB,
			Source: ring,
			Log:    svcLog.WithField("service", "event-archive"),
			Buffer: cfg.Events.ArchiveBuffer,
		})
		if err := application.Attach(arc); err != nil {
			log.Fatalf("attach event archive: %v", err)
		}
	}

	jwtKey, err := loadPublicKey(cfg.Auth.JWTPublicKeyFile)
	if err != nil {
		log.Fatalf("load JWT public key: %v", err)
	}
	relayerKey, err := loadPublicKey(cfg.Auth.RelayerPublicKeyFile)
	if err != nil {
		log.Fatalf("load relayer public key: %v", err)
	}

	api, err := httpapi.New(httpapi.Config{
		App:                application,
		Log:                httpLog,
		Archive:            arc,
		JWTPublicKey:       jwtKey,
		RelayerPublicKey:   relayerKey,
		AllowedRelayers:    cfg.Auth.AllowedRelayers,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		RateLimitPerSecond: cfg.Auth.RateLimitPerSecond,
		RateLimitBurst:     cfg.Auth.RateLimitBurst,
	})
	if err != nil {
		log.Fatalf("build http api: %v", err)
	}
	if err := application.Attach(api); err != nil {
		log.Fatalf("attach http api: %v", err)
	}

	if err := application.Start(ctx); err != nil {
		log.Fatalf("start application: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		svcLog.WithField("addr", cfg.Server.ListenAddr).Info("neoguard listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	svcLog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		svcLog.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		svcLog.WithError(err).Warn("application stop")
	}
	svcLog.Info("stopped")
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func loadPublicKey(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return jwt.ParseRSAPublicKeyFromPEM(pem)
}
