// Package catalog presents the unified venue/event catalog: locally owned
// rows merged with the external provider's records, which are shadowed as
// refreshed local placeholder rows.
package catalog

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/concerthall/reservations/internal/domain"
	"github.com/concerthall/reservations/internal/extid"
	"github.com/concerthall/reservations/internal/observability"
	"github.com/concerthall/reservations/internal/provider"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Store is the persistence surface the catalog consumes. Upserts are keyed on
// the foreign id and must be idempotent; placeholder rows are never deleted.
type Store interface {
	VenueByID(ctx context.Context, id uuid.UUID) (*domain.Venue, error)
	VenueByForeignID(ctx context.Context, foreignID string) (*domain.Venue, error)
	UpsertVenue(ctx context.Context, v *domain.Venue) error
	ListVenuesBySource(ctx context.Context, source domain.VenueSource) ([]domain.Venue, error)

	EventByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	EventByForeignID(ctx context.Context, foreignID string) (*domain.Event, error)
	UpsertEvent(ctx context.Context, e *domain.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]domain.Event, error)

	ActiveTicketCount(ctx context.Context, eventID uuid.UUID) (int64, error)
	EventSales(ctx context.Context, eventID uuid.UUID) (sold int64, revenue decimal.Decimal, err error)
}

// EventFilter narrows the internal listing. LocalOnly excludes placeholder
// rows so the merge step does not double-count events also fetched live from
// the provider.
type EventFilter struct {
	Statuses  []domain.EventStatus
	VenueIDs  []uuid.UUID
	LocalOnly bool
}

// Remote is the slice of the provider client the catalog consumes.
type Remote interface {
	ListVenues(ctx context.Context, filters map[string]string) ([]provider.Venue, error)
	GetVenue(ctx context.Context, venueID string) (*provider.Venue, error)
	ListEvents(ctx context.Context, filters map[string]string) ([]provider.Event, error)
	GetEvent(ctx context.Context, eventID string) (*provider.Event, error)
}

type Service struct {
	store  Store
	remote Remote
	logger observability.Logger
}

func NewService(store Store, remote Remote, logger observability.Logger) *Service {
	return &Service{store: store, remote: remote, logger: logger}
}

// EventView augments an event with live availability for listing responses.
type EventView struct {
	domain.Event
	AvailableTickets int64
	VenueName        string
}

// GetOrCreateVenuePlaceholder upserts the local shadow row for a provider
// venue. Mutable display fields always take the remote values, so repeated
// calls converge on the latest remote state.
func (s *Service) GetOrCreateVenuePlaceholder(ctx context.Context, ext provider.Venue) (*domain.Venue, error) {
	venue, err := s.store.VenueByForeignID(ctx, ext.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if venue == nil {
		foreignID := ext.ID
		venue = &domain.Venue{
			ID:        extid.LocalID(extid.Venue, ext.ID),
			Source:    domain.VenueExternal,
			ForeignID: &foreignID,
		}
	}
	venue.Name = ext.Name
	venue.Address = joinAddress(ext)
	venue.Description = ext.Description
	venue.Capacity = ext.Capacity
	if err := s.store.UpsertVenue(ctx, venue); err != nil {
		return nil, err
	}
	return venue, nil
}

// GetOrCreateEventPlaceholder upserts the local shadow row for a provider
// event. The venue placeholder must exist first because every event row
// references a venue; when it cannot be resolved the upsert fails with
// ErrDependencyMissing.
func (s *Service) GetOrCreateEventPlaceholder(ctx context.Context, ext provider.Event) (*domain.Event, error) {
	event, err := s.store.EventByForeignID(ctx, ext.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if event == nil {
		venue, err := s.venuePlaceholderFor(ctx, ext.VenueID)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrDependencyMissing, "venue placeholder for external event %s: %v", ext.ID, err)
		}
		foreignID := ext.ID
		event = &domain.Event{
			ID:        extid.LocalID(extid.Event, ext.ID),
			VenueID:   venue.ID,
			ForeignID: &foreignID,
		}
	}
	event.Name = ext.Name
	event.Description = ext.Description
	event.EventAt = ext.EventAt
	event.Capacity = ext.Capacity
	event.Price = ext.Price.Amount
	event.Status = mapEventStatus(ext.Status)
	if err := s.store.UpsertEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Service) venuePlaceholderFor(ctx context.Context, foreignVenueID string) (*domain.Venue, error) {
	venue, err := s.store.VenueByForeignID(ctx, foreignVenueID)
	if err == nil {
		return venue, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if s.remote == nil {
		return nil, errors.New("external provider is disabled")
	}
	ext, err := s.remote.GetVenue(ctx, foreignVenueID)
	if err != nil {
		return nil, err
	}
	return s.GetOrCreateVenuePlaceholder(ctx, *ext)
}

// EventByForeignID fetches the event fresh from the provider and refreshes
// its placeholder. This is the resolution step of the external reservation
// saga.
func (s *Service) EventByForeignID(ctx context.Context, foreignID string) (*domain.Event, error) {
	if s.remote == nil {
		return nil, errors.Wrap(domain.ErrNotFound, "external provider is disabled")
	}
	ext, err := s.remote.GetEvent(ctx, foreignID)
	if err != nil {
		return nil, err
	}
	return s.GetOrCreateEventPlaceholder(ctx, *ext)
}

// GetEventByID serves a point lookup. Placeholder rows are cache keys only:
// the response is rebuilt from a fresh provider fetch so stale cached display
// fields never leak into a detail view.
func (s *Service) GetEventByID(ctx context.Context, id uuid.UUID) (*EventView, error) {
	event, err := s.store.EventByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event.External() {
		if s.remote == nil {
			return nil, errors.Wrap(domain.ErrNotFound, "external provider is disabled")
		}
		ext, err := s.remote.GetEvent(ctx, *event.ForeignID)
		if err != nil {
			s.logger.WithError(err).WithField("foreign_id", *event.ForeignID).Error("failed to refresh external event")
			return nil, errors.Wrapf(domain.ErrNotFound, "external event %s unavailable", *event.ForeignID)
		}
		fresh, err := s.GetOrCreateEventPlaceholder(ctx, *ext)
		if err != nil {
			return nil, err
		}
		return &EventView{Event: *fresh, AvailableTickets: ext.AvailableTickets, VenueName: ext.VenueName}, nil
	}
	return s.internalEventView(ctx, event)
}

// GetVenueByID mirrors GetEventByID for venues.
func (s *Service) GetVenueByID(ctx context.Context, id uuid.UUID) (*domain.Venue, error) {
	venue, err := s.store.VenueByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if venue.ForeignID == nil {
		return venue, nil
	}
	if s.remote == nil {
		return nil, errors.Wrap(domain.ErrNotFound, "external provider is disabled")
	}
	ext, err := s.remote.GetVenue(ctx, *venue.ForeignID)
	if err != nil {
		s.logger.WithError(err).WithField("foreign_id", *venue.ForeignID).Error("failed to refresh external venue")
		return nil, errors.Wrapf(domain.ErrNotFound, "external venue %s unavailable", *venue.ForeignID)
	}
	return s.GetOrCreateVenuePlaceholder(ctx, *ext)
}

// ListEvents unions role-filtered internal events with the provider's
// catalog. The two sources are fetched in parallel; provider failure degrades
// to internal results only. The merged list is sorted by schedule ascending.
func (s *Service) ListEvents(ctx context.Context, user *domain.User, customerView bool) ([]EventView, error) {
	var internal, external []EventView

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		internal, err = s.internalEvents(gctx, user, customerView)
		return err
	})
	g.Go(func() error {
		external = s.externalEvents(gctx, customerView)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := append(internal, external...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].EventAt.Before(merged[j].EventAt)
	})
	return merged, nil
}

func (s *Service) internalEvents(ctx context.Context, user *domain.User, customerView bool) ([]EventView, error) {
	filter := EventFilter{LocalOnly: s.remote != nil}
	switch {
	case customerView || user.Role == domain.RoleCustomer:
		filter.Statuses = []domain.EventStatus{domain.EventPublished}
	case user.Role == domain.RolePowerUser:
		// Empty assignment set means no events, never all of them.
		if len(user.AssignedVenues) == 0 {
			return nil, nil
		}
		filter.VenueIDs = user.AssignedVenues
	}

	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]EventView, 0, len(events))
	for i := range events {
		view, err := s.internalEventView(ctx, &events[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *view)
	}
	return views, nil
}

func (s *Service) externalEvents(ctx context.Context, customerView bool) []EventView {
	if s.remote == nil {
		return nil
	}
	externals, err := s.remote.ListEvents(ctx, nil)
	if err != nil {
		s.logger.WithError(err).Error("failed to fetch external events, returning internal results only")
		return nil
	}

	var views []EventView
	for _, ext := range externals {
		if customerView && ext.Status != provider.StatusAvailable {
			continue
		}
		event, err := s.GetOrCreateEventPlaceholder(ctx, ext)
		if err != nil {
			s.logger.WithError(err).WithField("foreign_id", ext.ID).Warn("skipping external event without placeholder")
			continue
		}
		views = append(views, EventView{Event: *event, AvailableTickets: ext.AvailableTickets, VenueName: ext.VenueName})
	}
	return views
}

func (s *Service) internalEventView(ctx context.Context, event *domain.Event) (*EventView, error) {
	active, err := s.store.ActiveTicketCount(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	view := &EventView{Event: *event, AvailableTickets: int64(event.Capacity) - active}
	if venue, err := s.store.VenueByID(ctx, event.VenueID); err == nil {
		view.VenueName = venue.Name
	}
	return view, nil
}

// ListVenues unions internally owned venues with the provider's, refreshing
// placeholders along the way, sorted by name. Provider failure degrades to
// internal venues only.
func (s *Service) ListVenues(ctx context.Context) ([]domain.Venue, error) {
	var internal []domain.Venue
	var external []domain.Venue

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		internal, err = s.store.ListVenuesBySource(gctx, domain.VenueInternal)
		return err
	})
	g.Go(func() error {
		external = s.externalVenues(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := append(internal, external...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })
	return merged, nil
}

func (s *Service) externalVenues(ctx context.Context) []domain.Venue {
	if s.remote == nil {
		return nil
	}
	externals, err := s.remote.ListVenues(ctx, nil)
	if err != nil {
		s.logger.WithError(err).Error("failed to fetch external venues, returning internal results only")
		return nil
	}
	var venues []domain.Venue
	for _, ext := range externals {
		venue, err := s.GetOrCreateVenuePlaceholder(ctx, ext)
		if err != nil {
			s.logger.WithError(err).WithField("foreign_id", ext.ID).Warn("skipping external venue without placeholder")
			continue
		}
		venues = append(venues, *venue)
	}
	return venues
}

// mapEventStatus folds provider catalog statuses into the local enum. A sold
// out event is still published, just without availability.
func mapEventStatus(status string) domain.EventStatus {
	switch status {
	case provider.StatusCancelled:
		return domain.EventCancelled
	default:
		return domain.EventPublished
	}
}

func joinAddress(v provider.Venue) string {
	addr := v.Address
	if v.City != "" {
		addr += ", " + v.City
	}
	if v.Country != "" {
		addr += ", " + v.Country
	}
	return addr
}
