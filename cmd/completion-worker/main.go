package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/availability"
	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/config"
	"github.com/dentalops/clinic-scheduler/internal/db"
	"github.com/dentalops/clinic-scheduler/internal/lock"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	redisclient "github.com/dentalops/clinic-scheduler/internal/redis"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/store/jsonstore"
	"github.com/dentalops/clinic-scheduler/internal/store/pgstore"
)

// The completion worker sweeps confirmed appointments whose interval has
// fully passed and marks them completed. It shares the store and locker with
// the api-server, so a sweep never races a live transition.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("completion-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		patientRepo patient.Repository
		bookingRepo booking.Repository
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
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
			log.Fatal("json store open error", zap.Error(err))
		}
		patientRepo, bookingRepo = st, st
	}

	var locker lock.Locker
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewResourceLocker(rdb, cfg.LockTTL, cfg.LockWait)
	} else {
		locker = lock.NewMemoryLocker(cfg.LockWait)
	}

	rules := schedule.Default()
	if cfg.ClinicRulesPath != "" {
		rules, err = schedule.LoadFile(cfg.ClinicRulesPath)
		if err != nil {
			log.Fatal("clinic rules load error", zap.Error(err))
		}
	}

	svc := booking.NewService(bookingRepo, patientRepo, locker, rules, availability.Policy{GridStep: cfg.SlotGrid}, log)

	runOnce(rootCtx, svc, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping completion worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, log)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CompleteElapsed(runCtx, time.Now().UTC())
	if err != nil {
		log.Error("completion run error", zap.Error(err))
		return
	}
	log.Info("completion run complete",
		zap.Int("completed", n),
		zap.Duration("took", time.Since(start)))
}
