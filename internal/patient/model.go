package patient

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient is the durable patient record. The ID is assigned at registration
// and never changes; records are never deleted, only updated explicitly.
type Patient struct {
	ID                uuid.UUID
	Name              string
	Phone             string
	Email             string
	DateOfBirth       time.Time
	InsuranceNote     string
	Notes             string
	RegistrationToken string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Attributes is the partial identifying input callers hand to the resolver.
// DateOfBirth is an ISO date string (YYYY-MM-DD) since it arrives from
// free-text extraction.
type Attributes struct {
	PatientID        string
	Name             string
	Phone            string
	Email            string
	DateOfBirth      string
	InsuranceNote    string
	Notes            string
	IdempotencyToken string
}

// Filter selects patients by conjunction of the set predicates.
type Filter struct {
	ID                *uuid.UUID
	Phone             string // normalized, exact
	Email             string // normalized, exact
	Name              string // case-insensitive exact
	DateOfBirth       *time.Time
	Search            string // substring over name and notes
	RegistrationToken string
}

// Match reports whether the patient satisfies every set predicate. The
// file-backed store evaluates filters with this; the Postgres store compiles
// the same predicates to SQL.
func (f Filter) Match(p Patient) bool {
	if f.ID != nil && *f.ID != p.ID {
		return false
	}
	if f.Phone != "" && NormalizePhone(p.Phone) != f.Phone {
		return false
	}
	if f.Email != "" && NormalizeEmail(p.Email) != f.Email {
		return false
	}
	if f.Name != "" && !strings.EqualFold(strings.TrimSpace(p.Name), f.Name) {
		return false
	}
	if f.DateOfBirth != nil && !sameDate(p.DateOfBirth, *f.DateOfBirth) {
		return false
	}
	if f.RegistrationToken != "" && p.RegistrationToken != f.RegistrationToken {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Notes), needle) {
			return false
		}
	}
	return true
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

var nonDigits = regexp.MustCompile(`\D`)

// NormalizePhone strips everything but digits so "+1-555-0101" and
// "15550101" style inputs compare equal.
func NormalizePhone(phone string) string {
	return nonDigits.ReplaceAllString(phone, "")
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
