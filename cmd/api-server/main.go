package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/api"
	"github.com/dentalops/clinic-scheduler/internal/availability"
	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/config"
	"github.com/dentalops/clinic-scheduler/internal/core"
	"github.com/dentalops/clinic-scheduler/internal/db"
	"github.com/dentalops/clinic-scheduler/internal/lock"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	redisclient "github.com/dentalops/clinic-scheduler/internal/redis"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/session"
	"github.com/dentalops/clinic-scheduler/internal/store/jsonstore"
	"github.com/dentalops/clinic-scheduler/internal/store/pgstore"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg.Env)
	defer log.Sync()

	log.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store_backend", cfg.StoreBackend))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rules, err := loadRules(cfg)
	if err != nil {
		log.Fatal("clinic rules load error", zap.Error(err))
	}

	var (
		patientRepo patient.Repository
		bookingRepo booking.Repository
		pgPool      *pgxpool.Pool
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			log.Fatal("postgres connection error", zap.Error(err))
		}
		defer pgPool.Close()
		log.Info("connected to Postgres")

		st := pgstore.New(pgPool)
		patientRepo, bookingRepo = st, st
	default:
		st, err := jsonstore.Open(cfg.DataDir, log)
		if err != nil {
			log.Fatal("json store open error", zap.Error(err), zap.String("dir", cfg.DataDir))
		}
		patientRepo, bookingRepo = st, st
	}

	var (
		rdb      *redis.Client
		locker   lock.Locker
		sessions session.Tracker
	)
	if cfg.RedisAddr != "" {
		rdb, err = redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		log.Info("connected to Redis")

		locker = redisclient.NewResourceLocker(rdb, cfg.LockTTL, cfg.LockWait)
		sessions = redisclient.NewSessionTracker(rdb, cfg.SessionTTL)
	} else {
		locker = lock.NewMemoryLocker(cfg.LockWait)
		tracker := session.NewMemoryTracker(cfg.SessionTTL, time.Minute)
		defer tracker.Close()
		sessions = tracker
	}

	resolver := patient.NewResolver(patientRepo, log)
	bookings := booking.NewService(bookingRepo, patientRepo, locker, rules, availability.Policy{GridStep: cfg.SlotGrid}, log)
	scheduler := core.NewScheduler(resolver, bookings, sessions, cfg.OfferLimit, log)

	router := api.NewRouter(api.RouterConfig{
		Scheduler: scheduler,
		PgPool:    pgPool,
		Redis:     rdb,
		Env:       cfg.Env,
		Version:   version,
		Logger:    log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()

	log.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("graceful shutdown failed", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	if env == "prod" {
		log, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return log
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return log
}

func loadRules(cfg config.Config) (schedule.Rules, error) {
	if cfg.ClinicRulesPath == "" {
		return schedule.Default(), nil
	}
	return schedule.LoadFile(cfg.ClinicRulesPath)
}
