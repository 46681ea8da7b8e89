package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/concerthall/reservations/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger records saga compensations and payment inconsistencies to a
// durable operator-visible trail. Write failures are logged, never propagated:
// auditing must not fail the flow it documents.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    uuid.UUID `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
	}
}

// LogCompensation records a compensating remote cancellation after a partial
// saga failure. cancelErr is nil when the compensation itself succeeded.
func (a *AuditLogger) LogCompensation(ctx context.Context, userID uuid.UUID, foreignReservationID, reason string, cancelErr error) {
	data := map[string]interface{}{
		"foreign_reservation_id": foreignReservationID,
		"reason":                 reason,
		"compensated":            cancelErr == nil,
	}
	if cancelErr != nil {
		data["cancel_error"] = cancelErr.Error()
	}
	a.LogEvent(ctx, "saga.compensation", userID, data)
}

// LogInconsistency records a remote payment confirmation that failed after the
// payment already succeeded. These rows drive manual reconciliation.
func (a *AuditLogger) LogInconsistency(ctx context.Context, userID, ticketID uuid.UUID, foreignReservationID, paymentID string, cause error) {
	a.LogEvent(ctx, "payment.inconsistency", userID, map[string]interface{}{
		"ticket_id":              ticketID.String(),
		"foreign_reservation_id": foreignReservationID,
		"payment_id":             paymentID,
		"cause":                  cause.Error(),
	})
}
