package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Sink receives one event per mutating wallet operation. Emission is
// best-effort: the ledger write it describes has already committed, so
// implementations must never make the caller's operation fail.
type Sink interface {
	Record(ctx context.Context, event *Event) error
}

// Repository manages the archived audit trail with pagination support
type Repository interface {
	Create(ctx context.Context, event *Event) error
	GetByEventID(ctx context.Context, eventID uuid.UUID) (*Event, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Event, error)
	CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error)
	GetByTimeRange(ctx context.Context, startTime, endTime time.Time, limit, offset int) ([]*Event, error)
}

// ErrEventNotFound indicates a missing audit event
type ErrEventNotFound struct {
	EventID uuid.UUID
}

func (e ErrEventNotFound) Error() string {
	return "audit event not found: " + e.EventID.String()
}

// Is implements the errors.Is interface for ErrEventNotFound
func (e ErrEventNotFound) Is(target error) bool {
	t, ok := target.(ErrEventNotFound)
	if !ok {
		return false
	}
	// If the target EventID is empty, consider it a match for any ErrEventNotFound
	if t.EventID == uuid.Nil {
		return true
	}
	return e.EventID == t.EventID
}

// ErrDuplicateEvent indicates the event id was already archived. Redelivered
// messages hit it on replay and are safe to acknowledge.
type ErrDuplicateEvent struct {
	EventID uuid.UUID
}

func (e ErrDuplicateEvent) Error() string {
	return "duplicate audit event: " + e.EventID.String()
}

// Is implements the errors.Is interface for ErrDuplicateEvent
func (e ErrDuplicateEvent) Is(target error) bool {
	t, ok := target.(ErrDuplicateEvent)
	if !ok {
		return false
	}
	if t.EventID == uuid.Nil {
		return true
	}
	return e.EventID == t.EventID
}
