package scheduling

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/pkg/civil"
)

// Status is the lifecycle state of an appointment. Values are lowercase on
// the wire and parsed case-insensitively.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUpcoming  Status = "upcoming"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var statuses = map[Status]bool{
	StatusPending: true, StatusUpcoming: true, StatusCompleted: true, StatusCancelled: true,
}

// ParseStatus normalizes s, accepting any casing.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !statuses[st] {
		return "", fmt.Errorf("unknown appointment status %q", s)
	}
	return st, nil
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// AppointmentType is how the consultation takes place.
type AppointmentType string

const (
	TypeVideo    AppointmentType = "video"
	TypeChat     AppointmentType = "chat"
	TypeInPerson AppointmentType = "inperson"
	TypeHospital AppointmentType = "hospital"
)

var appointmentTypes = map[AppointmentType]bool{
	TypeVideo: true, TypeChat: true, TypeInPerson: true, TypeHospital: true,
}

// ParseAppointmentType normalizes s. "in-person" and "in_person" are
// accepted as spellings of inperson.
func ParseAppointmentType(s string) (AppointmentType, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	t := AppointmentType(norm)
	if !appointmentTypes[t] {
		return "", fmt.Errorf("unknown appointment type %q", s)
	}
	return t, nil
}

func (t *AppointmentType) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == "" {
		*t = ""
		return nil
	}
	at, err := ParseAppointmentType(raw)
	if err != nil {
		return err
	}
	*t = at
	return nil
}

// FollowUpMarker is appended to the reason of the chat appointment created
// alongside every video booking.
const FollowUpMarker = " (Follow-up chat for video consultation)"

// Appointment maps to the appointment table.
type Appointment struct {
	ID           uuid.UUID       `json:"id"`
	SlotID       *uuid.UUID      `json:"slotId,omitempty"`
	PatientID    string          `json:"patientId"`
	PatientName  string          `json:"patientName,omitempty"`
	DoctorID     string          `json:"doctorId,omitempty"`
	DoctorName   string          `json:"doctorName,omitempty"`
	HospitalID   string          `json:"hospitalId,omitempty"`
	Type         AppointmentType `json:"type"`
	Date         civil.Date      `json:"date"`
	Time         civil.TimeOfDay `json:"time"`
	Status       Status          `json:"status"`
	Reason       string          `json:"reason"`
	Notes        string          `json:"notes,omitempty"`
	Prescription string          `json:"prescription,omitempty"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// StartsAt returns the appointment start as an instant in loc.
func (a *Appointment) StartsAt(loc *time.Location) time.Time {
	return a.Date.At(a.Time, loc)
}

// Clone returns a copy that shares no pointers with a.
func (a *Appointment) Clone() *Appointment {
	cp := *a
	if a.SlotID != nil {
		id := *a.SlotID
		cp.SlotID = &id
	}
	return &cp
}

// ScheduleSlot maps to the schedule_slot table. Exactly one of DoctorID and
// HospitalID identifies the owner; a hospital slot may also name a doctor.
type ScheduleSlot struct {
	ID              uuid.UUID       `json:"id"`
	DoctorID        string          `json:"doctorId,omitempty"`
	HospitalID      string          `json:"hospitalId,omitempty"`
	Date            civil.Date      `json:"date"`
	StartTime       civil.TimeOfDay `json:"startTime"`
	EndTime         civil.TimeOfDay `json:"endTime"`
	IsAvailable     bool            `json:"isAvailable"`
	AppointmentType AppointmentType `json:"appointmentType,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// StartsAt returns the slot start as an instant in loc.
func (s *ScheduleSlot) StartsAt(loc *time.Location) time.Time {
	return s.Date.At(s.StartTime, loc)
}

// OwnerKind says which id an Owner carries.
type OwnerKind string

const (
	OwnerDoctor   OwnerKind = "doctor"
	OwnerHospital OwnerKind = "hospital"
	OwnerPatient  OwnerKind = "patient"
)

// Owner scopes slot and appointment queries.
type Owner struct {
	Kind OwnerKind
	ID   string
}

func DoctorOwner(id string) Owner   { return Owner{Kind: OwnerDoctor, ID: id} }
func HospitalOwner(id string) Owner { return Owner{Kind: OwnerHospital, ID: id} }
func PatientOwner(id string) Owner  { return Owner{Kind: OwnerPatient, ID: id} }

func (o Owner) String() string {
	return string(o.Kind) + ":" + o.ID
}

// Matches reports whether a belongs to o.
func (o Owner) Matches(a *Appointment) bool {
	switch o.Kind {
	case OwnerDoctor:
		return a.DoctorID == o.ID
	case OwnerHospital:
		return a.HospitalID == o.ID
	case OwnerPatient:
		return a.PatientID == o.ID
	}
	return false
}

// OwnsSlot reports whether s is published by o. Patients own no slots.
func (o Owner) OwnsSlot(s *ScheduleSlot) bool {
	switch o.Kind {
	case OwnerDoctor:
		return s.DoctorID == o.ID
	case OwnerHospital:
		return s.HospitalID == o.ID
	}
	return false
}
