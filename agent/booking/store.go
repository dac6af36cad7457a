package booking

import (
	"context"
	"time"
)

type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "booked"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusModified  AppointmentStatus = "modified"
)

// User is keyed by normalized 10-digit phone number; identification is an
// upsert and never duplicates a row.
type User struct {
	PhoneNumber string    `json:"phone_number"`
	Name        string    `json:"name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Slot is a pre-seeded bookable (date, time) pair. The store only toggles the
// booked flag and never invents new slots.
type Slot struct {
	Date   string `json:"date"`
	Time   string `json:"time"`
	Booked bool   `json:"is_booked"`
}

type Appointment struct {
	ID          string            `json:"id"`
	PhoneNumber string            `json:"phone_number"`
	Date        string            `json:"date"`
	Time        string            `json:"time"`
	Status      AppointmentStatus `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Store is the authoritative calendar state shared by all concurrent call
// sessions. Implementations must serialize conflicting operations on the same
// slot so that at most one appointment with status booked references a given
// slot at any time.
//
// Cancel and Modify are scoped by phone number: a session can only mutate
// appointments owned by its identified user.
type Store interface {
	// IdentifyUser upserts a user by normalized phone number. The boolean
	// reports whether a new row was created.
	IdentifyUser(ctx context.Context, phone, name string) (*User, bool, error)

	// ListAvailable returns unbooked slots, optionally filtered by date,
	// ordered by (date, time).
	ListAvailable(ctx context.Context, dateFilter string) ([]Slot, error)

	// Book atomically claims a free slot and creates the appointment. A
	// taken slot yields contract.ErrConflict with no state change.
	Book(ctx context.Context, phone, date, timeOfDay, reason string) (*Appointment, error)

	// Cancel frees the slot and marks the appointment cancelled. A missing
	// or already-terminal appointment yields contract.ErrNotFound.
	Cancel(ctx context.Context, phone, date, timeOfDay string) (*Appointment, error)

	// Modify claims the new slot before releasing the old one; if the new
	// slot is taken it yields contract.ErrConflict and the original
	// appointment stays fully intact. On success the old record is marked
	// modified and a fresh booked record claims the new slot, atomically.
	Modify(ctx context.Context, phone, oldDate, oldTime, newDate, newTime string) (*Appointment, error)

	// ListForUser returns the user's appointments ordered by (date, time),
	// optionally filtered by status.
	ListForUser(ctx context.Context, phone string, status AppointmentStatus) ([]*Appointment, error)

	// SaveCallSummary persists the flattened end-of-call summary text.
	SaveCallSummary(ctx context.Context, phone, summaryText string) error
}
