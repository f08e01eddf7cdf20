package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeNoMatch   Outcome = "no_match"
	OutcomeUnique    Outcome = "unique"
	OutcomeAmbiguous Outcome = "ambiguous"
)

// ResolveResult carries the outcome of an identity resolution. On ambiguous
// it includes the candidate set and the next field worth asking the patient
// for; resolution itself never writes, so an ambiguous result has no side
// effects to undo.
type ResolveResult struct {
	Outcome    Outcome
	Patient    *Patient
	Candidates []Patient
	Clarify    string
}

type Resolver struct {
	repo Repository
	log  *zap.Logger
}

func NewResolver(repo Repository, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{repo: repo, log: log}
}

// Resolve maps partial identifying attributes to zero, one, or many patient
// records. Exact equality on normalized patient ID, phone, and email is
// authoritative; name plus date of birth is the weaker fallback (collisions
// expected there).
func (r *Resolver) Resolve(ctx context.Context, attrs Attributes) (ResolveResult, error) {
	if attrs.PatientID != "" {
		id, err := uuid.Parse(attrs.PatientID)
		if err != nil {
			return ResolveResult{}, &ValidationError{Fields: []string{"patient_id"}}
		}
		p, err := r.repo.GetPatient(ctx, id)
		if errors.Is(err, ErrPatientNotFound) {
			return ResolveResult{Outcome: OutcomeNoMatch}, nil
		}
		if err != nil {
			return ResolveResult{}, fmt.Errorf("lookup patient by id: %w", err)
		}
		return ResolveResult{Outcome: OutcomeUnique, Patient: p}, nil
	}

	filter := Filter{
		Phone: NormalizePhone(attrs.Phone),
		Email: NormalizeEmail(attrs.Email),
	}
	strong := filter.Phone != "" || filter.Email != ""

	if !strong {
		// Fallback: name, optionally narrowed by date of birth.
		if strings.TrimSpace(attrs.Name) == "" {
			return ResolveResult{}, &ValidationError{Fields: []string{"phone", "email", "name"}}
		}
		filter.Name = strings.TrimSpace(attrs.Name)
		if dob, ok := parseDate(attrs.DateOfBirth); ok {
			filter.DateOfBirth = &dob
		}
	}

	candidates, err := r.repo.QueryPatients(ctx, filter)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("query patients: %w", err)
	}

	if strong && len(candidates) > 1 {
		candidates = narrow(candidates, attrs)
	}

	switch len(candidates) {
	case 0:
		return ResolveResult{Outcome: OutcomeNoMatch}, nil
	case 1:
		p := candidates[0]
		return ResolveResult{Outcome: OutcomeUnique, Patient: &p}, nil
	default:
		return ResolveResult{
			Outcome:    OutcomeAmbiguous,
			Candidates: candidates,
			Clarify:    clarifyField(attrs),
		}, nil
	}
}

// narrow applies name and date of birth on top of a multi-record strong-key
// match. If the extra fields cut the set to exactly one record that record
// wins; if they eliminate everyone the original set stands and the caller is
// asked to disambiguate rather than the resolver guessing.
func narrow(candidates []Patient, attrs Attributes) []Patient {
	sub := Filter{Name: strings.TrimSpace(attrs.Name)}
	if dob, ok := parseDate(attrs.DateOfBirth); ok {
		sub.DateOfBirth = &dob
	}
	if sub.Name == "" && sub.DateOfBirth == nil {
		return candidates
	}

	var kept []Patient
	for _, p := range candidates {
		if sub.Match(p) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 1 {
		return kept
	}
	return candidates
}

// clarifyField picks the first identifying field the caller has not supplied
// yet, in decreasing order of selectivity.
func clarifyField(attrs Attributes) string {
	switch {
	case attrs.Phone == "":
		return "phone"
	case attrs.Email == "":
		return "email"
	case attrs.DateOfBirth == "":
		return "date_of_birth"
	default:
		return "patient_id"
	}
}

// Register validates the attributes, assigns a fresh identifier, and persists
// the new patient. When the caller supplies an idempotency token a repeated
// identical registration returns the originally created record instead of
// inserting a duplicate.
func (r *Resolver) Register(ctx context.Context, attrs Attributes) (*Patient, error) {
	var missing []string

	name := strings.TrimSpace(attrs.Name)
	if len(name) < 2 {
		missing = append(missing, "name")
	}

	phone := strings.TrimSpace(attrs.Phone)
	email := strings.TrimSpace(attrs.Email)
	if phone == "" && email == "" {
		missing = append(missing, "phone or email")
	}
	if phone != "" && len(NormalizePhone(phone)) < 10 {
		missing = append(missing, "phone")
	}
	if email != "" && !strings.Contains(email, "@") {
		missing = append(missing, "email")
	}

	dob, ok := parseDate(attrs.DateOfBirth)
	if !ok {
		missing = append(missing, "date_of_birth")
	}

	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	if attrs.IdempotencyToken != "" {
		existing, err := r.repo.QueryPatients(ctx, Filter{RegistrationToken: attrs.IdempotencyToken})
		if err != nil {
			return nil, fmt.Errorf("check registration token: %w", err)
		}
		if len(existing) > 0 {
			p := existing[0]
			r.log.Info("registration replayed via idempotency token",
				zap.String("patient_id", p.ID.String()))
			return &p, nil
		}
	}

	now := time.Now().UTC()
	p := &Patient{
		ID:                uuid.New(),
		Name:              name,
		Phone:             phone,
		Email:             NormalizeEmail(email),
		DateOfBirth:       dob,
		InsuranceNote:     strings.TrimSpace(attrs.InsuranceNote),
		Notes:             strings.TrimSpace(attrs.Notes),
		RegistrationToken: attrs.IdempotencyToken,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := r.repo.PutPatient(ctx, p); err != nil {
		return nil, fmt.Errorf("persist patient: %w", err)
	}

	r.log.Info("registered patient",
		zap.String("patient_id", p.ID.String()),
		zap.String("name", p.Name))

	return p, nil
}

// Update applies an explicit field change to an existing record. Contact
// details are never merged implicitly during resolution; this is the only
// path that mutates a patient.
func (r *Resolver) Update(ctx context.Context, id uuid.UUID, attrs Attributes) (*Patient, error) {
	p, err := r.repo.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(attrs.Name); name != "" {
		p.Name = name
	}
	if phone := strings.TrimSpace(attrs.Phone); phone != "" {
		if len(NormalizePhone(phone)) < 10 {
			return nil, &ValidationError{Fields: []string{"phone"}}
		}
		p.Phone = phone
	}
	if email := strings.TrimSpace(attrs.Email); email != "" {
		if !strings.Contains(email, "@") {
			return nil, &ValidationError{Fields: []string{"email"}}
		}
		p.Email = NormalizeEmail(email)
	}
	if attrs.InsuranceNote != "" {
		p.InsuranceNote = strings.TrimSpace(attrs.InsuranceNote)
	}
	if attrs.Notes != "" {
		p.Notes = strings.TrimSpace(attrs.Notes)
	}
	p.UpdatedAt = time.Now().UTC()

	if err := r.repo.PutPatient(ctx, p); err != nil {
		return nil, fmt.Errorf("persist patient update: %w", err)
	}
	return p, nil
}

// Query exposes filtered patient retrieval to boundary callers.
func (r *Resolver) Query(ctx context.Context, f Filter) ([]Patient, error) {
	return r.repo.QueryPatients(ctx, f)
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
