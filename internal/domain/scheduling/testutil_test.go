package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medibook/medibook/internal/platform/events"
	"github.com/medibook/medibook/pkg/civil"
)

var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

var (
	doctorActor   = Actor{UserID: "doc-1", Name: "Dr. Rivera", Roles: []string{"doctor"}}
	otherDoctor   = Actor{UserID: "doc-2", Roles: []string{"doctor"}}
	hospitalActor = Actor{UserID: "hosp-1", Roles: []string{"hospital"}}
	patientActor  = Actor{UserID: "pat-1", Name: "Ana", Roles: []string{"patient"}}
	adminActor    = Actor{UserID: "admin", Roles: []string{"admin"}}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) names() []events.Name {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Name, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Name
	}
	return out
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}

// failingChatRepo refuses to create chat appointments.
type failingChatRepo struct {
	AppointmentRepository
}

func (r failingChatRepo) Create(ctx context.Context, a *Appointment) error {
	if a.Type == TypeChat {
		return errors.New("store unavailable")
	}
	return r.AppointmentRepository.Create(ctx, a)
}

// countingSlotRepo counts every call that reaches the slot store.
type countingSlotRepo struct {
	SlotRepository
	mu    sync.Mutex
	calls int
}

func (r *countingSlotRepo) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleSlot, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.SlotRepository.GetByID(ctx, id)
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	pub   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemoryStore()
	store.now = func() time.Time { return testNow }
	pub := &recordingPublisher{}
	svc := NewService(store.Slots(), store.Appointments(), store, pub, zerolog.Nop(), time.UTC)
	svc.now = func() time.Time { return testNow }
	return &fixture{svc: svc, store: store, pub: pub}
}

func mustDate(t *testing.T, s string) civil.Date {
	t.Helper()
	d, err := civil.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate(%q): %v", s, err)
	}
	return d
}

func mustTime(t *testing.T, s string) civil.TimeOfDay {
	t.Helper()
	tod, err := civil.ParseTimeOfDay(s)
	if err != nil {
		t.Fatalf("ParseTimeOfDay(%q): %v", s, err)
	}
	return tod
}

func (f *fixture) addSlot(t *testing.T, doctorID, hospitalID, date, start string, available bool) *ScheduleSlot {
	t.Helper()
	return f.addTypedSlot(t, doctorID, hospitalID, date, start, available, "")
}

func (f *fixture) addTypedSlot(t *testing.T, doctorID, hospitalID, date, start string, available bool, typ AppointmentType) *ScheduleSlot {
	t.Helper()
	startTime := mustTime(t, start)
	s := &ScheduleSlot{
		DoctorID:        doctorID,
		HospitalID:      hospitalID,
		Date:            mustDate(t, date),
		StartTime:       startTime,
		EndTime:         civil.FromDuration(startTime.Duration() + 30*time.Minute),
		IsAvailable:     available,
		AppointmentType: typ,
	}
	if err := f.store.Slots().Create(context.Background(), s); err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return s
}

func (f *fixture) addAppointment(t *testing.T, date string, status Status, patientID string) *Appointment {
	t.Helper()
	a := &Appointment{
		PatientID: patientID,
		DoctorID:  doctorActor.UserID,
		Type:      TypeInPerson,
		Date:      mustDate(t, date),
		Time:      mustTime(t, "10:00"),
		Status:    status,
		Reason:    "checkup",
	}
	if err := f.store.Appointments().Create(context.Background(), a); err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return a
}

func (f *fixture) book(t *testing.T, slot *ScheduleSlot, typ AppointmentType) *BookingResult {
	t.Helper()
	res, err := f.svc.Book(context.Background(), BookingRequest{
		PatientID:   patientActor.UserID,
		PatientName: patientActor.Name,
		DoctorID:    slot.DoctorID,
		HospitalID:  slot.HospitalID,
		SlotID:      slot.ID.String(),
		Type:        typ,
		Reason:      "persistent cough",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	return res
}
