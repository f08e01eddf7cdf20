package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/core"
)

type RouterConfig struct {
	Scheduler *core.Scheduler
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Env       string
	Version   string
	Logger    *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/patients/resolve", resolvePatientHandler(cfg.Scheduler))
	r.Post("/patients", registerPatientHandler(cfg.Scheduler))
	r.Get("/patients", queryPatientsHandler(cfg.Scheduler))
	r.Patch("/patients/{id}", updatePatientHandler(cfg.Scheduler))

	r.Get("/availability", availabilityHandler(cfg.Scheduler))

	r.Post("/appointments", bookAppointmentHandler(cfg.Scheduler))
	r.Get("/appointments", queryAppointmentsHandler(cfg.Scheduler))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Scheduler))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Scheduler))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Scheduler))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Scheduler))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Scheduler))

	r.Post("/sessions/{id}/accept-offer", acceptOfferHandler(cfg.Scheduler))

	return r
}
