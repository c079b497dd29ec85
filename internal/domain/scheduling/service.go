package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/db"
	"github.com/medibook/medibook/internal/platform/events"
	"github.com/medibook/medibook/pkg/civil"
)

// Actor is the caller on whose behalf the service acts.
type Actor struct {
	UserID string
	Name   string
	Roles  []string
}

func (a Actor) has(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (a Actor) IsAdmin() bool { return a.has("admin") }

// Is reports whether the actor is the doctor, hospital or patient id.
func (a Actor) Is(kind OwnerKind, id string) bool {
	return id != "" && a.UserID == id && (a.has(string(kind)) || a.IsAdmin())
}

// canManage reports whether the actor may change appt's status, schedule or
// notes: the assigned doctor, the facility, or an admin.
func (a Actor) canManage(appt *Appointment) bool {
	return a.IsAdmin() || a.Is(OwnerDoctor, appt.DoctorID) || a.Is(OwnerHospital, appt.HospitalID)
}

func (a Actor) canView(appt *Appointment) bool {
	return a.canManage(appt) || a.Is(OwnerPatient, appt.PatientID)
}

func (a Actor) canViewOwner(o Owner) bool {
	return a.IsAdmin() || a.Is(o.Kind, o.ID)
}

type Service struct {
	slots        SlotRepository
	appointments AppointmentRepository
	tx           db.TxRunner
	events       events.Publisher
	logger       zerolog.Logger
	loc          *time.Location
	now          func() time.Time
}

// NewService wires the appointment lifecycle. loc is the zone in which slot
// dates and "today" are read; nil means UTC.
func NewService(slots SlotRepository, appts AppointmentRepository, tx db.TxRunner, pub events.Publisher, logger zerolog.Logger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		slots:        slots,
		appointments: appts,
		tx:           tx,
		events:       pub,
		logger:       logger.With().Str("component", "scheduling").Logger(),
		loc:          loc,
		now:          time.Now,
	}
}

func (s *Service) publish(ctx context.Context, name events.Name, a *Appointment) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, events.Event{
		Name:          name,
		AppointmentID: a.ID.String(),
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		HospitalID:    a.HospitalID,
		Status:        string(a.Status),
		At:            s.now().UTC(),
	})
}

// Get returns one appointment visible to the actor.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	a, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.canView(a) {
		return nil, ErrForbidden
	}
	return a, nil
}

// List returns every appointment of a doctor, hospital or patient. An empty
// owner id lists everything and is reserved to admins.
func (s *Service) List(ctx context.Context, actor Actor, owner Owner) ([]*Appointment, error) {
	if !actor.canViewOwner(owner) {
		return nil, ErrForbidden
	}
	items, err := s.appointments.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list appointments for %s: %w", owner, err)
	}
	return items, nil
}

// TransitionInput carries the optional extras of a status change.
type TransitionInput struct {
	Note         string `json:"note,omitempty"`
	Prescription string `json:"prescription,omitempty"`
}

// Transition applies action to the appointment. Cancelling an appointment
// that is already cancelled returns it unchanged without publishing.
func (s *Service) Transition(ctx context.Context, actor Actor, id uuid.UUID, action Action, in TransitionInput) (*Appointment, error) {
	if action != ActionComplete && (in.Note != "" || in.Prescription != "") {
		return nil, invalid("note", "notes and prescriptions are recorded on completion or via AddNote")
	}

	var (
		appt    *Appointment
		changed bool
	)
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.canManage(a) {
			return ErrForbidden
		}
		appt = a
		if action == ActionCancel && a.Status == StatusCancelled {
			return nil
		}

		next, err := Next(a.Status, action)
		if err != nil {
			return err
		}
		a.Status = next
		if action == ActionComplete {
			if strings.TrimSpace(in.Note) != "" {
				a.Notes = AppendNote(a.Notes, in.Note, s.now().In(s.loc))
			}
			if in.Prescription != "" {
				a.Prescription = in.Prescription
			}
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		if action == ActionCancel && a.SlotID != nil {
			if err := s.slots.Release(ctx, *a.SlotID); err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.publish(ctx, events.AppointmentUpdated, appt)
		if appt.Status == StatusCompleted {
			s.publish(ctx, events.AppointmentCompleted, appt)
		}
		s.logger.Info().
			Str("appointment_id", appt.ID.String()).
			Str("action", string(action)).
			Str("status", string(appt.Status)).
			Str("actor", actor.UserID).
			Msg("appointment transitioned")
	}
	return appt, nil
}

func (s *Service) Approve(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, actor, id, ActionApprove, TransitionInput{})
}

func (s *Service) Cancel(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	return s.Transition(ctx, actor, id, ActionCancel, TransitionInput{})
}

func (s *Service) Complete(ctx context.Context, actor Actor, id uuid.UUID, in TransitionInput) (*Appointment, error) {
	return s.Transition(ctx, actor, id, ActionComplete, in)
}

// RescheduleRequest moves an appointment. When SlotID is set the new date and
// time are taken from that slot, which is reserved, and the previous slot is
// released.
type RescheduleRequest struct {
	Date   civil.Date      `json:"date"`
	Time   civil.TimeOfDay `json:"time"`
	SlotID *uuid.UUID      `json:"slotId,omitempty"`
}

// Reschedule replaces the date and time of a pending or upcoming appointment
// without changing its status.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	if req.SlotID == nil {
		if req.Date.IsZero() {
			return nil, invalid("date", "date is required")
		}
		if !req.Time.Valid() {
			return nil, invalid("time", "time is invalid")
		}
		if !req.Date.At(req.Time, s.loc).After(s.now()) {
			return nil, invalid("date", "new date and time must be in the future")
		}
	}

	var appt *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.canManage(a) {
			return ErrForbidden
		}
		if !CanReschedule(a.Status) {
			return &TransitionError{From: a.Status, Action: "reschedule"}
		}

		if req.SlotID != nil {
			target, err := s.slots.GetByID(ctx, *req.SlotID)
			if err != nil {
				return err
			}
			if err := checkSlotProvider(a, target); err != nil {
				return err
			}
			slot, err := s.reserve(ctx, target.ID)
			if err != nil {
				return err
			}
			if err := s.releaseSlot(ctx, a); err != nil {
				return err
			}
			a.SlotID = &slot.ID
			a.Date, a.Time = slot.Date, slot.StartTime
		} else {
			// A free-form time no longer matches the held slot.
			if err := s.releaseSlot(ctx, a); err != nil {
				return err
			}
			a.Date, a.Time = req.Date, req.Time
		}
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentUpdated, appt)
	return appt, nil
}

// AddNote appends a timestamped provider note. Terminal appointments still
// accept notes.
func (s *Service) AddNote(ctx context.Context, actor Actor, id uuid.UUID, text string) (*Appointment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, invalid("text", "note text is required")
	}
	var appt *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !actor.canManage(a) {
			return ErrForbidden
		}
		a.Notes = AppendNote(a.Notes, text, s.now().In(s.loc))
		if err := s.appointments.Update(ctx, a); err != nil {
			return err
		}
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.AppointmentUpdated, appt)
	return appt, nil
}

// releaseSlot frees the slot a holds, if any, and detaches it.
func (s *Service) releaseSlot(ctx context.Context, a *Appointment) error {
	if a.SlotID == nil {
		return nil
	}
	if err := s.slots.Release(ctx, *a.SlotID); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	a.SlotID = nil
	return nil
}

// reserve loads a slot and claims it for the current transaction.
func (s *Service) reserve(ctx context.Context, id uuid.UUID) (*ScheduleSlot, error) {
	slot, err := s.slots.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !slot.IsAvailable {
		return nil, ErrSlotTaken
	}
	if !slot.StartsAt(s.loc).After(s.now()) {
		return nil, ErrSlotUnavailable
	}
	if err := s.slots.Reserve(ctx, slot.ID, slot.Version); err != nil {
		return nil, err
	}
	slot.IsAvailable = false
	slot.Version++
	return slot, nil
}
