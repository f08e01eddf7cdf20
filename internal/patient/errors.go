package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrPatientNotFound = errors.New("patient not found")

// ValidationError reports malformed or missing required input. It is local
// to the failing call and is never retried automatically.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid patient attributes: %s", strings.Join(e.Fields, ", "))
}

// Repository is the durable-store surface the resolver needs. Resolution only
// reads; registration is the single writing path.
type Repository interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	PutPatient(ctx context.Context, p *Patient) error
	QueryPatients(ctx context.Context, f Filter) ([]Patient, error)
}
