// Package archiver consumes audit events from Kafka and writes them to the
// long-term archive. A message is acknowledged only once it is archived or
// parked on the DLQ, so broker redelivery never loses part of the trail.
package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/storefront-wallet-ledger/internal/domain/audit"
	"github.com/storefront-wallet-ledger/internal/platform/messaging/producers"
)

var errInvalidEvent = errors.New("audit event missing identifiers")

// AuditEventHandler handles incoming audit event messages from Kafka
type AuditEventHandler struct {
	repository audit.Repository
	producer   producers.DeadLetterPublisher
	logger     *slog.Logger
}

// NewAuditEventHandler creates a new handler
func NewAuditEventHandler(
	logger *slog.Logger,
	repository audit.Repository,
	producer producers.DeadLetterPublisher,
) *AuditEventHandler {
	return &AuditEventHandler{
		repository: repository,
		producer:   producer,
		logger:     logger,
	}
}

// HandleMessage archives one audit event. Returning nil commits the offset; a
// transient archive failure returns an error so the broker redelivers, while
// an unprocessable message is parked on the DLQ and acknowledged.
func (h *AuditEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var event audit.Event
	if err := json.Unmarshal(value, &event); err != nil {
		h.logger.Error("Failed to unmarshal audit event from Kafka message",
			"error", err,
			"message_key", string(key))
		return h.park(ctx, key, value, fmt.Sprintf("failed to unmarshal audit event: %s", err.Error()), err)
	}
	if event.ID == uuid.Nil || event.TransactionID == uuid.Nil {
		h.logger.Error("Audit event is missing its identifiers",
			"message_key", string(key))
		return h.park(ctx, key, value, errInvalidEvent.Error(), errInvalidEvent)
	}

	if err := h.repository.Create(ctx, &event); err != nil {
		if errors.Is(err, audit.ErrDuplicateEvent{}) {
			h.logger.Info("Audit event already archived",
				"event_id", event.ID,
				"action", string(event.Action))
			return nil
		}
		h.logger.Error("Failed to archive audit event",
			"event_id", event.ID,
			"action", string(event.Action),
			"error", err)
		return fmt.Errorf("archiving audit event %s failed: %w", event.ID, err)
	}

	h.logger.Info("Archived audit event",
		"event_id", event.ID,
		"action", string(event.Action),
		"target_user", event.UserID)
	return nil
}

// park routes an unprocessable message to the DLQ. When that works the
// message counts as handled; when it fails the original error is surfaced so
// the broker retries.
func (h *AuditEventHandler) park(ctx context.Context, key, value []byte, reason string, cause error) error {
	if h.producer != nil {
		if dlqErr := h.producer.PublishToDLQ(ctx, string(key), value, reason); dlqErr != nil {
			h.logger.Error("Failed to publish message to DLQ",
				"dlq_error", dlqErr,
				"original_error", cause,
				"message_key", string(key))
		} else {
			h.logger.Info("Parked unprocessable message on DLQ",
				"message_key", string(key),
				"reason", reason)
			return nil
		}
	}
	return fmt.Errorf("unprocessable audit message: %w", cause)
}
