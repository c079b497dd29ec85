package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medibook/medibook/pkg/civil"
)

type memoryTxKey struct{}

// MemoryStore keeps slots and appointments in process memory. It implements
// both repositories and db.TxRunner so the service behaves the same as on
// PostgreSQL: a failed transaction leaves both maps as they were.
type MemoryStore struct {
	txMu sync.Mutex // serializes transactions
	mu   sync.RWMutex

	slots        map[uuid.UUID]*ScheduleSlot
	appointments map[uuid.UUID]*Appointment
	now          func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:        make(map[uuid.UUID]*ScheduleSlot),
		appointments: make(map[uuid.UUID]*Appointment),
		now:          time.Now,
	}
}

// Slots returns the store as a SlotRepository.
func (m *MemoryStore) Slots() SlotRepository { return memorySlots{m} }

// Appointments returns the store as an AppointmentRepository.
func (m *MemoryStore) Appointments() AppointmentRepository { return memoryAppointments{m} }

// WithTx runs fn with exclusive access to the store, restoring the previous
// contents when fn fails. Nested calls join the outer transaction.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	slots, appts := m.snapshot()
	if err := fn(context.WithValue(ctx, memoryTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.slots, m.appointments = slots, appts
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) snapshot() (map[uuid.UUID]*ScheduleSlot, map[uuid.UUID]*Appointment) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := make(map[uuid.UUID]*ScheduleSlot, len(m.slots))
	for id, s := range m.slots {
		cp := *s
		slots[id] = &cp
	}
	appts := make(map[uuid.UUID]*Appointment, len(m.appointments))
	for id, a := range m.appointments {
		appts[id] = a.Clone()
	}
	return slots, appts
}

type memorySlots struct{ m *MemoryStore }

func (r memorySlots) Create(_ context.Context, s *ScheduleSlot) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s.ID = uuid.New()
	s.Version = 1
	s.CreatedAt = r.m.now()
	s.UpdatedAt = s.CreatedAt
	cp := *s
	r.m.slots[s.ID] = &cp
	return nil
}

func (r memorySlots) GetByID(_ context.Context, id uuid.UUID) (*ScheduleSlot, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	s, ok := r.m.slots[id]
	if !ok {
		return nil, fmt.Errorf("slot %s: %w", id, ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (r memorySlots) ListAvailable(_ context.Context, owner Owner, from civil.Date) ([]*ScheduleSlot, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var items []*ScheduleSlot
	for _, s := range r.m.slots {
		if !s.IsAvailable || !owner.OwnsSlot(s) || s.Date.Before(from) {
			continue
		}
		cp := *s
		items = append(items, &cp)
	}
	sortSlots(items)
	return items, nil
}

func (r memorySlots) Reserve(_ context.Context, id uuid.UUID, version int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.slots[id]
	if !ok || !s.IsAvailable || s.Version != version {
		return ErrSlotTaken
	}
	s.IsAvailable = false
	s.Version++
	s.UpdatedAt = r.m.now()
	return nil
}

func (r memorySlots) Release(_ context.Context, id uuid.UUID) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if s, ok := r.m.slots[id]; ok && !s.IsAvailable {
		s.IsAvailable = true
		s.Version++
		s.UpdatedAt = r.m.now()
	}
	return nil
}

type memoryAppointments struct{ m *MemoryStore }

func (r memoryAppointments) Create(_ context.Context, a *Appointment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a.ID = uuid.New()
	a.Version = 1
	a.CreatedAt = r.m.now()
	a.UpdatedAt = a.CreatedAt
	r.m.appointments[a.ID] = a.Clone()
	return nil
}

func (r memoryAppointments) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	a, ok := r.m.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

func (r memoryAppointments) Update(_ context.Context, a *Appointment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cur, ok := r.m.appointments[a.ID]
	if !ok {
		return fmt.Errorf("appointment %s: %w", a.ID, ErrNotFound)
	}
	if cur.Version != a.Version {
		return ErrConcurrentUpdate
	}
	a.Version++
	a.UpdatedAt = r.m.now()
	r.m.appointments[a.ID] = a.Clone()
	return nil
}

func (r memoryAppointments) List(_ context.Context, owner Owner) ([]*Appointment, error) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	var items []*Appointment
	for _, a := range r.m.appointments {
		if owner.ID != "" && !owner.Matches(a) {
			continue
		}
		items = append(items, a.Clone())
	}
	sort.Slice(items, func(i, j int) bool {
		if c := items[i].Date.Compare(items[j].Date); c != 0 {
			return c < 0
		}
		if items[i].Time != items[j].Time {
			return items[i].Time.Minutes() < items[j].Time.Minutes()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}
