package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dentalops/clinic-scheduler/internal/booking"
	"github.com/dentalops/clinic-scheduler/internal/config"
	"github.com/dentalops/clinic-scheduler/internal/db"
	"github.com/dentalops/clinic-scheduler/internal/patient"
	"github.com/dentalops/clinic-scheduler/internal/schedule"
	"github.com/dentalops/clinic-scheduler/internal/store/jsonstore"
	"github.com/dentalops/clinic-scheduler/internal/store/pgstore"
)

var resources = []string{
	"dr-smith",
	"dr-jones",
	"dr-garcia",
	"hygienist-1",
	"hygienist-2",
}

var apptTypes = []schedule.AppointmentType{
	schedule.TypeRegularCheckup,
	schedule.TypeFollowUp,
	schedule.TypeDeepCleaning,
	schedule.TypeFilling,
	schedule.TypeCrown,
}

// Seeds the configured backend with fake patients and a spread of upcoming
// appointments, enough to exercise availability and booking against real
// looking data.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var (
		patientRepo patient.Repository
		bookingRepo booking.Repository
	)
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal("connect postgres", zap.Error(err))
		}
		defer pool.Close()
		st := pgstore.New(pool)
		patientRepo, bookingRepo = st, st
	default:
		st, err := jsonstore.Open(cfg.DataDir, log)
		if err != nil {
			log.Fatal("open json store", zap.Error(err))
		}
		patientRepo, bookingRepo = st, st
	}

	gofakeit.Seed(time.Now().UnixNano())

	patients, err := seedPatients(ctx, patientRepo, 200, log)
	if err != nil {
		log.Fatal("seed patients", zap.Error(err))
	}

	if err := seedAppointments(ctx, bookingRepo, patients, log); err != nil {
		log.Fatal("seed appointments", zap.Error(err))
	}

	log.Info("seed complete")
}

func seedPatients(ctx context.Context, repo patient.Repository, count int, log *zap.Logger) ([]patient.Patient, error) {
	log.Info("seeding patients", zap.Int("count", count))

	now := time.Now().UTC()
	out := make([]patient.Patient, 0, count)
	for i := 0; i < count; i++ {
		dob := gofakeit.DateRange(
			time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2010, 12, 31, 0, 0, 0, 0, time.UTC),
		)
		p := patient.Patient{
			ID:          uuid.New(),
			Name:        gofakeit.Name(),
			Phone:       gofakeit.Phone(),
			Email:       patient.NormalizeEmail(gofakeit.Email()),
			DateOfBirth: time.Date(dob.Year(), dob.Month(), dob.Day(), 0, 0, 0, 0, time.UTC),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if gofakeit.Bool() {
			p.InsuranceNote = fmt.Sprintf("%s policy %s", gofakeit.Company(), gofakeit.DigitN(8))
		}
		if err := repo.PutPatient(ctx, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}

	log.Info("patients seeded")
	return out, nil
}

func seedAppointments(ctx context.Context, repo booking.Repository, patients []patient.Patient, log *zap.Logger) error {
	rules := schedule.Default()
	now := time.Now().UTC()

	created := 0
	// One appointment per open morning hour per resource over the next week,
	// roughly half the capacity so availability queries still return slots.
	for dayOffset := 1; dayOffset <= 7; dayOffset++ {
		day := now.AddDate(0, 0, dayOffset)
		hours, open := rules.Hours[day.Weekday()]
		if !open || rules.IsHoliday(day) {
			continue
		}

		for _, res := range resources {
			for minute := hours.Open; minute < rules.LunchStart; minute += 120 {
				p := patients[gofakeit.Number(0, len(patients)-1)]
				t := apptTypes[gofakeit.Number(0, len(apptTypes)-1)]
				dur, err := rules.Duration(t)
				if err != nil {
					return err
				}

				start := time.Date(day.Year(), day.Month(), day.Day(), 0, minute, 0, 0, time.UTC)
				status := booking.StatusScheduled
				if gofakeit.Bool() {
					status = booking.StatusConfirmed
				}

				appt := booking.Appointment{
					ID:          uuid.New(),
					PatientID:   p.ID,
					PatientName: p.Name,
					ResourceID:  res,
					Start:       start,
					Duration:    dur,
					Type:        t,
					Status:      status,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := repo.PutAppointments(ctx, &appt); err != nil {
					return err
				}
				created++
			}
		}
	}

	log.Info("appointments seeded", zap.Int("count", created))
	return nil
}
