package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/storefront-wallet-ledger/internal/domain/audit"
)

const (
	// AuditCollectionName is the name of the audit trail collection in MongoDB
	AuditCollectionName = "audit_events"
)

// AuditRepository implements the audit.Repository interface for MongoDB
type AuditRepository struct {
	db     *mongo.Database
	logger *slog.Logger
}

// NewAuditRepository creates a new MongoDB audit repository
func NewAuditRepository(logger *slog.Logger, db *mongo.Database) audit.Repository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Create archives a new audit event after checking for duplicates.
// Returns ErrDuplicateEvent if an event with the same id was already archived,
// which lets redelivered messages be acknowledged safely.
func (r *AuditRepository) Create(ctx context.Context, event *audit.Event) error {
	collection := r.db.Collection(AuditCollectionName)

	existingEvent, err := r.GetByEventID(ctx, event.ID)
	if err != nil && !errors.Is(err, audit.ErrEventNotFound{}) {
		r.logger.Error("Failed to check for existing audit event",
			"event_id", event.ID.String(),
			"error", err)
		return fmt.Errorf("failed to check for existing audit event: %w", err)
	}

	if existingEvent != nil {
		return audit.ErrDuplicateEvent{EventID: event.ID}
	}

	_, err = collection.InsertOne(ctx, event)
	if err != nil {
		r.logger.Error("Failed to archive audit event",
			"event_id", event.ID.String(),
			"error", err)
		return fmt.Errorf("failed to archive audit event: %w", err)
	}

	return nil
}

// GetByEventID retrieves an archived audit event by its id.
// Returns ErrEventNotFound if no such event was archived.
func (r *AuditRepository) GetByEventID(ctx context.Context, eventID uuid.UUID) (*audit.Event, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"event_id": eventID}
	var event audit.Event
	err := collection.FindOne(ctx, filter).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, audit.ErrEventNotFound{EventID: eventID}
		}
		r.logger.Error("Failed to get audit event",
			"event_id", eventID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get audit event: %w", err)
	}

	return &event, nil
}

// GetByUserID retrieves paginated audit events for the user whose balance was
// touched. Results are sorted by occurrence time in descending order.
func (r *AuditRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*audit.Event, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"target_user": userID}
	opts := options.Find().
		SetSort(bson.M{"occurred_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get audit events",
			"target_user", userID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to get audit events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*audit.Event
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode audit events",
			"target_user", userID.String(),
			"error", err)
		return nil, fmt.Errorf("failed to decode audit events: %w", err)
	}

	return events, nil
}

// CountByUserID counts the archived audit events for a user
func (r *AuditRepository) CountByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{"target_user": userID}
	count, err := collection.CountDocuments(ctx, filter)
	if err != nil {
		r.logger.Error("Failed to count audit events",
			"target_user", userID.String(),
			"error", err)
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}

	return count, nil
}

// GetByTimeRange retrieves paginated audit events within the specified time
// window. Results are sorted by occurrence time in descending order for
// recent-first review.
func (r *AuditRepository) GetByTimeRange(ctx context.Context, startTime, endTime time.Time, limit, offset int) ([]*audit.Event, error) {
	collection := r.db.Collection(AuditCollectionName)

	filter := bson.M{
		"occurred_at": bson.M{
			"$gte": startTime,
			"$lte": endTime,
		},
	}
	opts := options.Find().
		SetSort(bson.M{"occurred_at": -1}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get audit events by time range",
			"start_time", startTime,
			"end_time", endTime,
			"error", err)
		return nil, fmt.Errorf("failed to get audit events by time range: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*audit.Event
	if err := cursor.All(ctx, &events); err != nil {
		r.logger.Error("Failed to decode audit events",
			"start_time", startTime,
			"end_time", endTime,
			"error", err)
		return nil, fmt.Errorf("failed to decode audit events: %w", err)
	}

	return events, nil
}
