package scheduling

import (
	"context"

	"github.com/google/uuid"

	"github.com/medibook/medibook/pkg/civil"
)

type SlotRepository interface {
	Create(ctx context.Context, s *ScheduleSlot) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleSlot, error)
	// ListAvailable returns the owner's available slots dated on or after
	// from. Callers apply the exact time-of-day cut and ordering.
	ListAvailable(ctx context.Context, owner Owner, from civil.Date) ([]*ScheduleSlot, error)
	// Reserve marks the slot unavailable if it is still available at the
	// given version, returning ErrSlotTaken otherwise.
	Reserve(ctx context.Context, id uuid.UUID, version int) error
	// Release makes a reserved slot bookable again.
	Release(ctx context.Context, id uuid.UUID) error
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes a if its version is unchanged since it was read,
	// returning ErrConcurrentUpdate otherwise. On success a.Version is bumped.
	Update(ctx context.Context, a *Appointment) error
	// List returns every appointment of the owner, or all of them when
	// owner.ID is empty.
	List(ctx context.Context, owner Owner) ([]*Appointment, error)
}
