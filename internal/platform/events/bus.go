package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Name identifies the kind of change an Event reports.
type Name string

const (
	// AppointmentUpdated follows every successful status, schedule or note change.
	AppointmentUpdated Name = "appointmentUpdated"
	// AppointmentCompleted additionally follows a completion.
	AppointmentCompleted Name = "appointmentCompleted"
)

// Event tells listeners that an appointment changed. Listeners re-query the
// store rather than apply the payload.
type Event struct {
	Name          Name      `json:"event"`
	AppointmentID string    `json:"appointmentId"`
	PatientID     string    `json:"patientId,omitempty"`
	DoctorID      string    `json:"doctorId,omitempty"`
	HospitalID    string    `json:"hospitalId,omitempty"`
	Status        string    `json:"status,omitempty"`
	At            time.Time `json:"at"`
}

// Publisher is the side of the bus the domain depends on.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Bus is an in-process fan-out of events. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	ch    chan Event
	names map[Name]bool
	bus   *Bus
	once  sync.Once
}

// Subscribe registers a listener for the given names, or for every event when
// none are given.
func (b *Bus) Subscribe(buffer int, names ...Name) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, ch: ch, bus: b}
	if len(names) > 0 {
		s.names = make(map[Name]bool, len(names))
		for _, n := range names {
			s.names[n] = true
		}
	}

	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (s *Subscription) wants(n Name) bool {
	return s.names == nil || s.names[n]
}

// Close unregisters the subscription and closes C. It is safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers ev to every interested subscriber.
func (b *Bus) Publish(_ context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !s.wants(ev.Name) {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			b.logger.Warn().
				Str("event", string(ev.Name)).
				Str("appointment_id", ev.AppointmentID).
				Msg("subscriber buffer full, event dropped")
		}
	}
}

// SubscriberCount returns the number of open subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
