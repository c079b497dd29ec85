package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/medibook/medibook/internal/platform/events"
)

// BookingRequest is a patient's request for a slot. PatientID comes from the
// authenticated caller.
type BookingRequest struct {
	PatientID   string          `json:"patientId,omitempty"`
	PatientName string          `json:"patientName,omitempty"`
	DoctorID    string          `json:"doctorId,omitempty"`
	DoctorName  string          `json:"doctorName,omitempty"`
	HospitalID  string          `json:"hospitalId,omitempty"`
	SlotID      string          `json:"slotId"`
	Type        AppointmentType `json:"type"`
	Reason      string          `json:"reason"`
}

// Validate checks every field without touching the store and returns the
// first problem as a *ValidationError, or ErrUnauthenticated.
func (r BookingRequest) Validate() error {
	if strings.TrimSpace(r.PatientID) == "" {
		return ErrUnauthenticated
	}
	if r.Type == "" {
		return invalid("type", "appointment type is required")
	}
	if !appointmentTypes[r.Type] {
		return invalid("type", fmt.Sprintf("unknown appointment type %q", r.Type))
	}
	if r.Type == TypeHospital {
		if strings.TrimSpace(r.HospitalID) == "" {
			return invalid("hospitalId", "please select a hospital")
		}
	} else if strings.TrimSpace(r.DoctorID) == "" {
		return invalid("doctorId", "please select a doctor")
	}
	if strings.TrimSpace(r.SlotID) == "" {
		return invalid("slotId", "please select a time slot")
	}
	if _, err := uuid.Parse(r.SlotID); err != nil {
		return invalid("slotId", "slot id is malformed")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return invalid("reason", "please describe the reason for your visit")
	}
	return nil
}

// BookingResult is the created appointment and, for video bookings, the
// paired chat appointment when its creation succeeded.
type BookingResult struct {
	Appointment *Appointment `json:"appointment"`
	FollowUp    *Appointment `json:"followUp,omitempty"`
}

// Book reserves the slot and creates a pending appointment in one
// transaction. A video booking then creates a chat follow-up on a best-effort
// basis: if that fails the booking still stands.
func (s *Service) Book(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	slotID := uuid.MustParse(req.SlotID)

	var appt *Appointment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		slot, err := s.slots.GetByID(ctx, slotID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return invalid("slotId", "the selected slot does not exist")
			}
			return err
		}
		if err := checkSlotOwner(req, slot); err != nil {
			return err
		}
		if _, err := s.reserve(ctx, slot.ID); err != nil {
			return err
		}

		hospitalID := req.HospitalID
		if hospitalID == "" {
			hospitalID = slot.HospitalID
		}
		doctorID := req.DoctorID
		if doctorID == "" {
			doctorID = slot.DoctorID
		}
		appt = &Appointment{
			SlotID:      &slot.ID,
			PatientID:   req.PatientID,
			PatientName: req.PatientName,
			DoctorID:    doctorID,
			DoctorName:  req.DoctorName,
			HospitalID:  hospitalID,
			Type:        req.Type,
			Date:        slot.Date,
			Time:        slot.StartTime,
			Status:      StatusPending,
			Reason:      strings.TrimSpace(req.Reason),
		}
		return s.appointments.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", slotID.String()).
		Str("type", string(appt.Type)).
		Msg("appointment booked")
	s.publish(ctx, events.AppointmentUpdated, appt)

	res := &BookingResult{Appointment: appt}
	if appt.Type == TypeVideo {
		res.FollowUp = s.createFollowUp(ctx, appt)
	}
	return res, nil
}

// createFollowUp creates the chat appointment paired with a video booking.
// It shares date, time, doctor, patient and reason but no slot, and is an
// independent record from then on.
func (s *Service) createFollowUp(ctx context.Context, video *Appointment) *Appointment {
	chat := &Appointment{
		PatientID:   video.PatientID,
		PatientName: video.PatientName,
		DoctorID:    video.DoctorID,
		DoctorName:  video.DoctorName,
		HospitalID:  video.HospitalID,
		Type:        TypeChat,
		Date:        video.Date,
		Time:        video.Time,
		Status:      StatusPending,
		Reason:      video.Reason + FollowUpMarker,
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.appointments.Create(ctx, chat)
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("appointment_id", video.ID.String()).
			Msg("follow-up chat appointment could not be created")
		return nil
	}
	s.publish(ctx, events.AppointmentUpdated, chat)
	return chat
}

// checkSlotOwner rejects a booking that names a doctor or hospital the slot
// does not, or asks for a consultation type the slot is not offered for.
func checkSlotOwner(req BookingRequest, slot *ScheduleSlot) error {
	if req.DoctorID != "" && req.DoctorID != slot.DoctorID {
		if slot.DoctorID == "" {
			return invalid("slotId", "the selected slot is not offered by a doctor")
		}
		return invalid("slotId", "the selected slot belongs to a different doctor")
	}
	if req.HospitalID != "" && slot.HospitalID != "" && req.HospitalID != slot.HospitalID {
		return invalid("slotId", "the selected slot belongs to a different hospital")
	}
	if req.Type == TypeHospital && slot.HospitalID == "" {
		return invalid("slotId", "the selected slot is not offered by a hospital")
	}
	if slot.AppointmentType != "" && slot.AppointmentType != req.Type {
		return invalid("type", fmt.Sprintf("the selected slot is only offered for %s appointments", slot.AppointmentType))
	}
	return nil
}

// checkSlotProvider rejects moving a onto a slot held out by another provider.
func checkSlotProvider(a *Appointment, slot *ScheduleSlot) error {
	if a.DoctorID != "" && a.DoctorID != slot.DoctorID {
		return invalid("slotId", "the selected slot belongs to a different doctor")
	}
	if a.HospitalID != "" && a.HospitalID != slot.HospitalID && (slot.HospitalID != "" || a.DoctorID == "") {
		return invalid("slotId", "the selected slot belongs to a different hospital")
	}
	if slot.AppointmentType != "" && slot.AppointmentType != a.Type {
		return invalid("slotId", fmt.Sprintf("the selected slot is only offered for %s appointments", slot.AppointmentType))
	}
	return nil
}
