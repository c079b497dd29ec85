package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/medibook/medibook/pkg/civil"
)

func sortSlots(slots []*ScheduleSlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if c := slots[i].Date.Compare(slots[j].Date); c != 0 {
			return c < 0
		}
		return slots[i].StartTime.Minutes() < slots[j].StartTime.Minutes()
	})
}

// FilterAvailable keeps the slots that are available and start strictly
// after now, ordered by date then start time. Dates and times are read in loc.
func FilterAvailable(slots []*ScheduleSlot, now time.Time, loc *time.Location) []*ScheduleSlot {
	out := make([]*ScheduleSlot, 0, len(slots))
	for _, s := range slots {
		if s.IsAvailable && s.StartsAt(loc).After(now) {
			out = append(out, s)
		}
	}
	sortSlots(out)
	return out
}

// AvailableSlots lists the future, bookable slots of a doctor or hospital.
func (s *Service) AvailableSlots(ctx context.Context, owner Owner) ([]*ScheduleSlot, error) {
	if owner.ID == "" {
		return nil, invalid("owner", "doctor_id or hospital_id is required")
	}
	if owner.Kind != OwnerDoctor && owner.Kind != OwnerHospital {
		return nil, invalid("owner", "slots belong to a doctor or a hospital")
	}
	now := s.now().In(s.loc)
	slots, err := s.slots.ListAvailable(ctx, owner, civil.DateOf(now))
	if err != nil {
		return nil, fmt.Errorf("list slots for %s: %w", owner, err)
	}
	return FilterAvailable(slots, now, s.loc), nil
}

// SlotRequest publishes a new bookable window.
type SlotRequest struct {
	DoctorID        string          `json:"doctorId,omitempty"`
	HospitalID      string          `json:"hospitalId,omitempty"`
	Date            civil.Date      `json:"date"`
	StartTime       civil.TimeOfDay `json:"startTime"`
	EndTime         civil.TimeOfDay `json:"endTime"`
	AppointmentType AppointmentType `json:"appointmentType,omitempty"`
	Notes           string          `json:"notes,omitempty"`
}

func (r SlotRequest) Validate() error {
	if r.DoctorID == "" && r.HospitalID == "" {
		return invalid("doctorId", "a doctor or hospital must own the slot")
	}
	if r.Date.IsZero() {
		return invalid("date", "date is required")
	}
	if !r.StartTime.Valid() {
		return invalid("startTime", "start time is invalid")
	}
	if !r.EndTime.Valid() || r.EndTime.Minutes() <= r.StartTime.Minutes() {
		return invalid("endTime", "end time must be after start time")
	}
	return nil
}

// CreateSlot publishes a slot owned by the caller. Slots in the past are
// refused.
func (s *Service) CreateSlot(ctx context.Context, actor Actor, req SlotRequest) (*ScheduleSlot, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() &&
		!(req.DoctorID != "" && actor.Is(OwnerDoctor, req.DoctorID)) &&
		!(req.HospitalID != "" && actor.Is(OwnerHospital, req.HospitalID)) {
		return nil, ErrForbidden
	}
	slot := &ScheduleSlot{
		DoctorID:        req.DoctorID,
		HospitalID:      req.HospitalID,
		Date:            req.Date,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		IsAvailable:     true,
		AppointmentType: req.AppointmentType,
		Notes:           req.Notes,
	}
	if !slot.StartsAt(s.loc).After(s.now()) {
		return nil, invalid("date", "slot must start in the future")
	}
	if err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		return s.slots.Create(ctx, slot)
	}); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return slot, nil
}
