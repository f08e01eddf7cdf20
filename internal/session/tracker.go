// Package session tracks short-lived per-conversation context so multi-turn
// exchanges can resume. It is a cache over the durable core, never a source
// of truth: losing a session only restarts the conversation from identity
// resolution.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dentalops/clinic-scheduler/internal/schedule"
)

var ErrSessionNotFound = errors.New("session not found")

type PendingAction string

const (
	PendingNone         PendingAction = ""
	PendingSlotChoice   PendingAction = "awaiting_slot_choice"
	PendingRegistration PendingAction = "awaiting_registration_fields"
	PendingClarifyField PendingAction = "awaiting_disambiguation"
)

// Context is one conversation's working state: who the patient is (once
// resolved), what the caller is waiting on, and the slot candidates last
// offered.
type Context struct {
	SessionID       string
	PatientID       *uuid.UUID
	Pending         PendingAction
	ClarifyField    string
	ResourceID      string
	AppointmentType schedule.AppointmentType
	OfferedSlots    []time.Time
	UpdatedAt       time.Time
}

type Tracker interface {
	Get(ctx context.Context, sessionID string) (*Context, error)
	Put(ctx context.Context, sc *Context) error
	Delete(ctx context.Context, sessionID string) error
}
