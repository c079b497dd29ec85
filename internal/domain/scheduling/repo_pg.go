package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/medibook/internal/platform/db"
	"github.com/medibook/medibook/pkg/civil"
)

// DATE columns travel as midnight UTC, TIME columns as pgtype.Time.

func dateParam(d civil.Date) time.Time {
	return d.In(time.UTC)
}

func timeParam(t civil.TimeOfDay) pgtype.Time {
	return pgtype.Time{Microseconds: t.Duration().Microseconds(), Valid: true}
}

func timeOfDay(t pgtype.Time) civil.TimeOfDay {
	return civil.FromDuration(time.Duration(t.Microseconds) * time.Microsecond)
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// =========== Slot Repository ===========

type slotRepoPG struct{ pool *pgxpool.Pool }

func NewSlotRepoPG(pool *pgxpool.Pool) SlotRepository { return &slotRepoPG{pool: pool} }

func (r *slotRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const slotCols = `id, COALESCE(doctor_id, ''), COALESCE(hospital_id, ''), slot_date, start_time, end_time,
	is_available, appointment_type, notes, version, created_at, updated_at`

func (r *slotRepoPG) scanSlot(row pgx.Row) (*ScheduleSlot, error) {
	var (
		s          ScheduleSlot
		date       time.Time
		start, end pgtype.Time
	)
	err := row.Scan(&s.ID, &s.DoctorID, &s.HospitalID, &date, &start, &end,
		&s.IsAvailable, &s.AppointmentType, &s.Notes, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Date = civil.DateOf(date)
	s.StartTime = timeOfDay(start)
	s.EndTime = timeOfDay(end)
	return &s, nil
}

func (r *slotRepoPG) Create(ctx context.Context, s *ScheduleSlot) error {
	s.ID = uuid.New()
	s.Version = 1
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO schedule_slot (id, doctor_id, hospital_id, slot_date, start_time, end_time,
			is_available, appointment_type, notes, version)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.HospitalID, dateParam(s.Date), timeParam(s.StartTime), timeParam(s.EndTime),
		s.IsAvailable, s.AppointmentType, s.Notes, s.Version,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *slotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleSlot, error) {
	s, err := r.scanSlot(r.conn(ctx).QueryRow(ctx, `SELECT `+slotCols+` FROM schedule_slot WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "slot "+id.String())
	}
	return s, nil
}

func (r *slotRepoPG) ListAvailable(ctx context.Context, owner Owner, from civil.Date) ([]*ScheduleSlot, error) {
	var column string
	switch owner.Kind {
	case OwnerDoctor:
		column = "doctor_id"
	case OwnerHospital:
		column = "hospital_id"
	default:
		return nil, fmt.Errorf("slots cannot be listed by %s", owner.Kind)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+slotCols+` FROM schedule_slot
		WHERE `+column+` = $1 AND is_available AND slot_date >= $2
		ORDER BY slot_date, start_time`, owner.ID, dateParam(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ScheduleSlot
	for rows.Next() {
		s, err := r.scanSlot(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

func (r *slotRepoPG) Reserve(ctx context.Context, id uuid.UUID, version int) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule_slot SET is_available = FALSE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2 AND is_available`, id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotTaken
	}
	return nil
}

func (r *slotRepoPG) Release(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule_slot SET is_available = TRUE, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND NOT is_available`, id)
	return err
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const apptCols = `id, slot_id, patient_id, patient_name, COALESCE(doctor_id, ''), doctor_name,
	COALESCE(hospital_id, ''), type, appt_date, appt_time, status, reason, notes, prescription,
	version, created_at, updated_at`

func (r *appointmentRepoPG) scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a     Appointment
		date  time.Time
		start pgtype.Time
	)
	err := row.Scan(&a.ID, &a.SlotID, &a.PatientID, &a.PatientName, &a.DoctorID, &a.DoctorName,
		&a.HospitalID, &a.Type, &date, &start, &a.Status, &a.Reason, &a.Notes, &a.Prescription,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Date = civil.DateOf(date)
	a.Time = timeOfDay(start)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.Version = 1
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment (id, slot_id, patient_id, patient_name, doctor_id, doctor_name,
			hospital_id, type, appt_date, appt_time, status, reason, notes, prescription, version)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		a.ID, a.SlotID, a.PatientID, a.PatientName, a.DoctorID, a.DoctorName,
		a.HospitalID, a.Type, dateParam(a.Date), timeParam(a.Time), a.Status, a.Reason, a.Notes, a.Prescription,
		a.Version,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "appointment "+id.String())
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE appointment SET slot_id = $3, appt_date = $4, appt_time = $5, status = $6,
			notes = $7, prescription = $8, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		a.ID, a.Version, a.SlotID, dateParam(a.Date), timeParam(a.Time), a.Status,
		a.Notes, a.Prescription,
	).Scan(&a.Version, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConcurrentUpdate
	}
	return err
}

func (r *appointmentRepoPG) List(ctx context.Context, owner Owner) ([]*Appointment, error) {
	query := `SELECT ` + apptCols + ` FROM appointment`
	var args []interface{}
	if owner.ID != "" {
		switch owner.Kind {
		case OwnerDoctor:
			query += ` WHERE doctor_id = $1`
		case OwnerHospital:
			query += ` WHERE hospital_id = $1`
		case OwnerPatient:
			query += ` WHERE patient_id = $1`
		default:
			return nil, fmt.Errorf("unknown owner kind %q", owner.Kind)
		}
		args = append(args, owner.ID)
	}
	query += ` ORDER BY appt_date, appt_time, created_at`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
