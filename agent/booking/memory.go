package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/superbryn/callcore/agent/contract"
)

type slotKey struct {
	date string
	time string
}

// MemoryStore is the in-process Store used for tests and single-node runs.
// One mutex guards all calendar state, so the check-and-claim inside each
// operation is atomic: racing Book/Modify calls on the same slot resolve to
// exactly one winner.
type MemoryStore struct {
	mu           sync.Mutex
	users        map[string]*User
	slots        map[slotKey]*Slot
	appointments []*Appointment
	summaries    []string

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*User),
		slots: make(map[slotKey]*Slot),
		now:   time.Now,
	}
}

// SeedSlots provisions bookable slots. Existing entries for the same
// (date, time) are left untouched.
func (s *MemoryStore) SeedSlots(slots []Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range slots {
		key := slotKey{date: slot.Date, time: slot.Time}
		if _, ok := s.slots[key]; ok {
			continue
		}
		copied := slot
		s.slots[key] = &copied
	}
}

func (s *MemoryStore) IdentifyUser(ctx context.Context, phone, name string) (*User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[phone]; ok {
		if name != "" && existing.Name == "" {
			existing.Name = name
		}
		u := *existing
		return &u, false, nil
	}

	user := &User{
		PhoneNumber: phone,
		Name:        name,
		CreatedAt:   s.now().UTC(),
	}
	s.users[phone] = user
	log.Info().Str("phone_number", phone).Msg("created new user")
	u := *user
	return &u, true, nil
}

func (s *MemoryStore) ListAvailable(ctx context.Context, dateFilter string) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Slot
	for _, slot := range s.slots {
		if slot.Booked {
			continue
		}
		if dateFilter != "" && slot.Date != dateFilter {
			continue
		}
		out = append(out, *slot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (s *MemoryStore) Book(ctx context.Context, phone, date, timeOfDay, reason string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, err := s.claimLocked(phone, date, timeOfDay, reason)
	if err != nil {
		return nil, err
	}
	log.Info().Str("phone_number", phone).Str("date", date).Str("time", timeOfDay).Msg("booked appointment")
	out := *appt
	return &out, nil
}

// claimLocked flips a free slot to booked and appends the appointment record.
// Callers must hold s.mu.
func (s *MemoryStore) claimLocked(phone, date, timeOfDay, reason string) (*Appointment, error) {
	slot, ok := s.slots[slotKey{date: date, time: timeOfDay}]
	if !ok || slot.Booked {
		return nil, fmt.Errorf("%w: slot %s %s is not available", contractx.ErrConflict, date, timeOfDay)
	}

	slot.Booked = true
	now := s.now().UTC()
	appt := &Appointment{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		Date:        date,
		Time:        timeOfDay,
		Status:      StatusBooked,
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.appointments = append(s.appointments, appt)
	return appt, nil
}

func (s *MemoryStore) Cancel(ctx context.Context, phone, date, timeOfDay string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt := s.findBookedLocked(phone, date, timeOfDay)
	if appt == nil {
		return nil, fmt.Errorf("%w: no active appointment on %s at %s", contractx.ErrNotFound, date, timeOfDay)
	}

	appt.Status = StatusCancelled
	appt.UpdatedAt = s.now().UTC()
	if slot, ok := s.slots[slotKey{date: date, time: timeOfDay}]; ok {
		slot.Booked = false
	}
	log.Info().Str("phone_number", phone).Str("date", date).Str("time", timeOfDay).Msg("cancelled appointment")
	out := *appt
	return &out, nil
}

func (s *MemoryStore) Modify(ctx context.Context, phone, oldDate, oldTime, newDate, newTime string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.findBookedLocked(phone, oldDate, oldTime)
	if old == nil {
		return nil, fmt.Errorf("%w: no active appointment on %s at %s", contractx.ErrNotFound, oldDate, oldTime)
	}

	// Claim the new slot first; the old slot is only released once the new
	// claim succeeded.
	replacement, err := s.claimLocked(phone, newDate, newTime, old.Reason)
	if err != nil {
		return nil, err
	}

	old.Status = StatusModified
	old.UpdatedAt = s.now().UTC()
	if slot, ok := s.slots[slotKey{date: oldDate, time: oldTime}]; ok {
		slot.Booked = false
	}
	log.Info().
		Str("phone_number", phone).
		Str("from", oldDate+" "+oldTime).
		Str("to", newDate+" "+newTime).
		Msg("modified appointment")
	out := *replacement
	return &out, nil
}

func (s *MemoryStore) ListForUser(ctx context.Context, phone string, status AppointmentStatus) ([]*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Appointment
	for _, appt := range s.appointments {
		if appt.PhoneNumber != phone {
			continue
		}
		if status != "" && appt.Status != status {
			continue
		}
		copied := *appt
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (s *MemoryStore) SaveCallSummary(ctx context.Context, phone, summaryText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if phone == "" {
		phone = "unknown"
	}
	s.summaries = append(s.summaries, phone+": "+summaryText)
	return nil
}

// Summaries returns the persisted summary lines, oldest first.
func (s *MemoryStore) Summaries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.summaries...)
}

func (s *MemoryStore) findBookedLocked(phone, date, timeOfDay string) *Appointment {
	for _, appt := range s.appointments {
		if appt.Status == StatusBooked &&
			appt.PhoneNumber == phone &&
			appt.Date == date &&
			appt.Time == timeOfDay {
			return appt
		}
	}
	return nil
}
