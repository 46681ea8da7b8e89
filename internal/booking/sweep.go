package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/observability"
)

const sweepBatchSize = 200

// Sweeper cancels PENDING_PAYMENT tickets whose payment hold has lapsed. Each
// transition is an individual compare-and-set keyed by ticket id, so a slow
// row never stalls the batch and a concurrent payment confirmation simply
// wins the status race. The grace window keeps the sweep off deadlines that
// passed only moments ago, where a confirmation may still be in flight.
type Sweeper struct {
	store    Store
	logger   observability.Logger
	interval time.Duration
	grace    time.Duration
}

func NewSweeper(store Store, logger observability.Logger, interval, grace time.Duration) *Sweeper {
	return &Sweeper{store: store, logger: logger, interval: interval, grace: grace}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired, err := s.SweepOnce(ctx, now)
			if err != nil {
				s.logger.WithError(err).Error("expiration sweep failed")
				continue
			}
			if expired > 0 {
				s.logger.WithField("count", expired).Info("expired unpaid tickets")
			}
		}
	}
}

// SweepOnce drains all currently expired holds and returns how many tickets
// it cancelled.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.UTC().Add(-s.grace)
	expired := 0
	for {
		batch, err := s.store.ExpiredPendingTickets(ctx, cutoff, sweepBatchSize)
		if err != nil {
			return expired, err
		}
		progressed := 0
		for _, ticket := range batch {
			err := s.store.UpdateTicketStatus(ctx, ticket.ID, domain.TicketPendingPayment, domain.TicketCancelled)
			if errors.Is(err, domain.ErrNotFound) {
				progressed++
				continue // transitioned under us, e.g. payment landed
			}
			if err != nil {
				s.logger.WithError(err).WithField("ticket_id", ticket.ID).Error("failed to expire ticket")
				continue
			}
			expired++
			progressed++
			observability.TicketsExpiredTotal.Inc()
			if err := s.store.AppendOutbox(ctx, "ticket.expired", ticket.ID, ticketEventPayload(&ticket)); err != nil {
				s.logger.WithError(err).Warn("failed to stage expiry event")
			}
		}
		if len(batch) < sweepBatchSize || progressed == 0 {
			return expired, nil
		}
	}
}
