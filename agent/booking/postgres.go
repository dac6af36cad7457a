package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/superbryn/callcore/agent/contract"
)

type PostgresConfig struct {
	DSN          string `envconfig:"DSN" split_words:"true" required:"true"`
	MaxOpenConns int    `envconfig:"MAX_OPEN_CONNS" split_words:"true" default:"10"`
}

type userRow struct {
	bun.BaseModel `bun:"table:users"`

	PhoneNumber string    `bun:"phone_number,pk"`
	Name        string    `bun:"name"`
	CreatedAt   time.Time `bun:"created_at"`
}

type slotRow struct {
	bun.BaseModel `bun:"table:slots"`

	Date     string `bun:"date,pk"`
	Time     string `bun:"time,pk"`
	IsBooked bool   `bun:"is_booked"`
}

type appointmentRow struct {
	bun.BaseModel `bun:"table:appointments"`

	ID          string    `bun:"id,pk"`
	PhoneNumber string    `bun:"phone_number"`
	Date        string    `bun:"date"`
	Time        string    `bun:"time"`
	Status      string    `bun:"status"`
	Reason      string    `bun:"reason"`
	CreatedAt   time.Time `bun:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at"`
}

type callSummaryRow struct {
	bun.BaseModel `bun:"table:call_summaries"`

	PhoneNumber string    `bun:"phone_number"`
	Summary     string    `bun:"summary"`
	CreatedAt   time.Time `bun:"created_at"`
}

// PostgresStore implements Store on Postgres. Slot exclusivity relies on
// conditional updates (`is_booked = FALSE` guard) inside a transaction, so a
// book/modify race on one slot resolves to exactly one winner and the loser
// observes Conflict.
type PostgresStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	db := bun.NewDB(sqldb, pgdialect.New())
	return &PostgresStore{db: db, now: time.Now}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) IdentifyUser(ctx context.Context, phone, name string) (*User, bool, error) {
	now := s.now().UTC()
	row := userRow{PhoneNumber: phone, Name: name, CreatedAt: now}

	res, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (phone_number) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("upsert user: %w", err)
	}

	var stored userRow
	if err := s.db.NewSelect().
		Model(&stored).
		Where("phone_number = ?", phone).
		Scan(ctx); err != nil {
		return nil, false, fmt.Errorf("load user: %w", err)
	}

	return &User{
		PhoneNumber: stored.PhoneNumber,
		Name:        stored.Name,
		CreatedAt:   stored.CreatedAt,
	}, inserted > 0, nil
}

func (s *PostgresStore) ListAvailable(ctx context.Context, dateFilter string) ([]Slot, error) {
	var rows []slotRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("is_booked = FALSE").
		Order("date", "time")
	if dateFilter != "" {
		q = q.Where("date = ?", dateFilter)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	out := make([]Slot, 0, len(rows))
	for _, row := range rows {
		out = append(out, Slot{Date: row.Date, Time: row.Time, Booked: row.IsBooked})
	}
	return out, nil
}

func (s *PostgresStore) Book(ctx context.Context, phone, date, timeOfDay, reason string) (*Appointment, error) {
	var appt *Appointment
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := claimSlot(ctx, tx, date, timeOfDay); err != nil {
			return err
		}
		created, err := insertAppointment(ctx, tx, phone, date, timeOfDay, reason, s.now().UTC())
		if err != nil {
			return err
		}
		appt = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *PostgresStore) Cancel(ctx context.Context, phone, date, timeOfDay string) (*Appointment, error) {
	var appt *Appointment
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.now().UTC()
		var updated appointmentRow
		err := tx.NewUpdate().
			Model(&updated).
			Set("status = ?", string(StatusCancelled)).
			Set("updated_at = ?", now).
			Where("phone_number = ?", phone).
			Where("date = ?", date).
			Where("time = ?", timeOfDay).
			Where("status = ?", string(StatusBooked)).
			Returning("*").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no active appointment on %s at %s", contractx.ErrNotFound, date, timeOfDay)
		}
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		if err := releaseSlot(ctx, tx, date, timeOfDay); err != nil {
			return err
		}
		appt = rowToAppointment(updated)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *PostgresStore) Modify(ctx context.Context, phone, oldDate, oldTime, newDate, newTime string) (*Appointment, error) {
	var appt *Appointment
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := s.now().UTC()

		// Mark the old record first so a missing appointment surfaces as
		// NotFound rather than Conflict; the transaction rolls everything
		// back if the new slot cannot be claimed.
		var old appointmentRow
		err := tx.NewUpdate().
			Model(&old).
			Set("status = ?", string(StatusModified)).
			Set("updated_at = ?", now).
			Where("phone_number = ?", phone).
			Where("date = ?", oldDate).
			Where("time = ?", oldTime).
			Where("status = ?", string(StatusBooked)).
			Returning("*").
			Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: no active appointment on %s at %s", contractx.ErrNotFound, oldDate, oldTime)
		}
		if err != nil {
			return fmt.Errorf("modify appointment: %w", err)
		}

		if err := claimSlot(ctx, tx, newDate, newTime); err != nil {
			return err
		}
		if err := releaseSlot(ctx, tx, oldDate, oldTime); err != nil {
			return err
		}

		created, err := insertAppointment(ctx, tx, phone, newDate, newTime, old.Reason, now)
		if err != nil {
			return err
		}
		appt = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, phone string, status AppointmentStatus) ([]*Appointment, error) {
	var rows []appointmentRow
	q := s.db.NewSelect().
		Model(&rows).
		Where("phone_number = ?", phone).
		Order("date", "time")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	out := make([]*Appointment, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToAppointment(row))
	}
	return out, nil
}

func (s *PostgresStore) SaveCallSummary(ctx context.Context, phone, summaryText string) error {
	if phone == "" {
		phone = "unknown"
	}
	row := callSummaryRow{
		PhoneNumber: phone,
		Summary:     summaryText,
		CreatedAt:   s.now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return fmt.Errorf("save call summary: %w", err)
	}
	return nil
}

// claimSlot flips a free slot to booked. Zero rows affected means the slot is
// taken or does not exist; either way the caller observes Conflict.
func claimSlot(ctx context.Context, tx bun.Tx, date, timeOfDay string) error {
	res, err := tx.NewUpdate().
		Model((*slotRow)(nil)).
		Set("is_booked = TRUE").
		Where("date = ?", date).
		Where("time = ?", timeOfDay).
		Where("is_booked = FALSE").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim slot: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: slot %s %s is not available", contractx.ErrConflict, date, timeOfDay)
	}
	return nil
}

func releaseSlot(ctx context.Context, tx bun.Tx, date, timeOfDay string) error {
	if _, err := tx.NewUpdate().
		Model((*slotRow)(nil)).
		Set("is_booked = FALSE").
		Where("date = ?", date).
		Where("time = ?", timeOfDay).
		Exec(ctx); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func insertAppointment(ctx context.Context, tx bun.Tx, phone, date, timeOfDay, reason string, now time.Time) (*Appointment, error) {
	row := appointmentRow{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		Date:        date,
		Time:        timeOfDay,
		Status:      string(StatusBooked),
		Reason:      reason,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := tx.NewInsert().Model(&row).Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return rowToAppointment(row), nil
}

func rowToAppointment(row appointmentRow) *Appointment {
	return &Appointment{
		ID:          row.ID,
		PhoneNumber: row.PhoneNumber,
		Date:        row.Date,
		Time:        row.Time,
		Status:      AppointmentStatus(row.Status),
		Reason:      row.Reason,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
