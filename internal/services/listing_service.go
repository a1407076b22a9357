package services

import (
	"context"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	domain "github.com/baraholka/api/internal/domain"
	"github.com/baraholka/api/internal/repositories"
)

const defaultActiveWindow = 30 * 24 * time.Hour

// ListingServiceDeps bundles dependencies required to construct a ListingService implementation.
type ListingServiceDeps struct {
	Listings      repositories.ListingRepository
	Favorites     repositories.FavoriteRepository
	ViewCounters  repositories.ViewCounterRepository
	UnitOfWork    repositories.UnitOfWork
	Ledger        LedgerService
	Queue         ModerationQueue
	Notifications NotificationGateway
	// ActiveWindow is how long an approved listing stays active.
	ActiveWindow time.Duration
	Clock        Clock
	Logger       Logger
	IDs          IDGenerator
}

type listingService struct {
	listings     repositories.ListingRepository
	favorites    repositories.FavoriteRepository
	viewCounters repositories.ViewCounterRepository
	uow          repositories.UnitOfWork
	ledger       LedgerService
	queue        ModerationQueue
	notifier     NotificationGateway
	activeWindow time.Duration
	clock        Clock
	log          Logger
	newID        IDGenerator
	sanitizer    *bluemonday.Policy
}

// NewListingService wires a ListingService backed by the provided repositories.
func NewListingService(deps ListingServiceDeps) (ListingService, error) {
	if deps.Listings == nil || deps.Favorites == nil || deps.ViewCounters == nil || deps.UnitOfWork == nil {
		return nil, ErrRepositoriesMissing
	}
	if deps.Ledger == nil {
		return nil, ErrLedgerMissing
	}
	if deps.Queue == nil {
		return nil, ErrModerationQueueMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	ids := deps.IDs
	if ids == nil {
		ids = defaultIDGenerator
	}
	window := deps.ActiveWindow
	if window <= 0 {
		window = defaultActiveWindow
	}
	return &listingService{
		listings:     deps.Listings,
		favorites:    deps.Favorites,
		viewCounters: deps.ViewCounters,
		uow:          deps.UnitOfWork,
		ledger:       deps.Ledger,
		queue:        deps.Queue,
		notifier:     deps.Notifications,
		activeWindow: window,
		clock:        func() time.Time { return clock().UTC() },
		log:          log,
		newID:        ids,
		sanitizer:    bluemonday.StrictPolicy(),
	}, nil
}

func (s *listingService) CreateDraft(ctx context.Context, cmd CreateListingCommand) (Listing, error) {
	title := s.clean(cmd.Title)
	if title == "" {
		return Listing{}, ErrInvalidTransition
	}
	currency := strings.TrimSpace(cmd.Currency)
	if currency == "" {
		currency = defaultCurrency
	}

	now := s.clock()
	listing := Listing{
		ID:          s.newID(idPrefixListing),
		UserID:      cmd.UserID,
		Title:       title,
		Description: s.clean(cmd.Description),
		Price:       cmd.Price,
		Currency:    currency,
		Category:    s.clean(cmd.Category),
		Location:    s.clean(cmd.Location),
		Condition:   s.clean(cmd.Condition),
		Status:      domain.ListingStatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if listing.Price < 0 {
		listing.Price = 0
	}
	if err := s.listings.Insert(ctx, listing); err != nil {
		return Listing{}, err
	}

	s.log(ctx, "listing.draft_created", map[string]any{
		"listing_id": listing.ID,
		"user_id":    listing.UserID,
	})
	return listing, nil
}

func (s *listingService) GetListing(ctx context.Context, listingID string) (Listing, error) {
	return s.load(ctx, listingID)
}

func (s *listingService) ListByUser(ctx context.Context, userID string, limit int) ([]Listing, error) {
	return s.listings.ListByUser(ctx, userID, limit)
}

// UpdateContent applies a partial content edit. Edits are allowed in draft,
// active, and hidden; a listing under review cannot change so the moderator
// never approves content that was silently swapped mid-review.
func (s *listingService) UpdateContent(ctx context.Context, cmd UpdateListingCommand) (Listing, error) {
	var updated Listing
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		listing, err := s.loadOwned(ctx, cmd.UserID, cmd.ListingID)
		if err != nil {
			return err
		}

		switch listing.Status {
		case domain.ListingStatusDraft, domain.ListingStatusActive, domain.ListingStatusHidden:
		default:
			return ErrInvalidTransition
		}

		if cmd.Title != nil {
			title := s.clean(*cmd.Title)
			if title == "" {
				return ErrInvalidTransition
			}
			listing.Title = title
		}
		if cmd.Description != nil {
			listing.Description = s.clean(*cmd.Description)
		}
		if cmd.Price != nil && *cmd.Price >= 0 {
			listing.Price = *cmd.Price
		}
		if cmd.Category != nil {
			listing.Category = s.clean(*cmd.Category)
		}
		if cmd.Location != nil {
			listing.Location = s.clean(*cmd.Location)
		}
		if cmd.Condition != nil {
			listing.Condition = s.clean(*cmd.Condition)
		}
		listing.UpdatedAt = s.clock()

		if err := s.listings.Save(ctx, listing); err != nil {
			return err
		}
		updated = listing
		return nil
	})
	if err != nil {
		return Listing{}, err
	}
	return updated, nil
}

func (s *listingService) Submit(ctx context.Context, userID, listingID string) (Listing, error) {
	return s.submit(ctx, userID, listingID, false)
}

func (s *listingService) Reactivate(ctx context.Context, userID, listingID string) (Listing, error) {
	return s.submit(ctx, userID, listingID, true)
}

// submit runs the gated submission path. The status transition and ledger
// debit commit as one unit; a failed debit leaves the listing untouched.
func (s *listingService) submit(ctx context.Context, userID, listingID string, reactivation bool) (Listing, error) {
	var submitted Listing
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		listing, err := s.loadOwned(ctx, userID, listingID)
		if err != nil {
			return err
		}

		if reactivation {
			if listing.Status != domain.ListingStatusHidden && listing.Status != domain.ListingStatusExpired {
				return ErrInvalidTransition
			}
		} else if listing.Status != domain.ListingStatusDraft {
			return ErrInvalidTransition
		}
		if len(listing.Images) == 0 {
			return ErrMissingAssets
		}

		debit, err := s.ledger.DebitForListing(ctx, userID)
		if err != nil {
			return err
		}

		moderation := domain.ModerationStatusQueued
		listing.Status = domain.ListingStatusPendingModeration
		listing.ModerationStatus = &moderation
		listing.RejectionReason = nil
		listing.PaidWithCredit = debit.CreditUsed
		listing.UpdatedAt = s.clock()

		if err := s.listings.Save(ctx, listing); err != nil {
			return err
		}
		submitted = listing
		return nil
	})
	if err != nil {
		return Listing{}, err
	}

	// Queue acceptance is not part of the transaction. A failed submit
	// leaves the listing pending for manual recovery.
	if err := s.queue.Submit(ctx, ModerationSubmission{
		ListingID:    submitted.ID,
		UserID:       submitted.UserID,
		Reactivation: reactivation,
	}); err != nil {
		s.log(ctx, "listing.moderation_enqueue_failed", map[string]any{
			"listing_id": submitted.ID,
			"error":      err.Error(),
		})
	}

	s.log(ctx, "listing.submitted", map[string]any{
		"listing_id":   submitted.ID,
		"user_id":      submitted.UserID,
		"reactivation": reactivation,
	})
	return submitted, nil
}

func (s *listingService) Hide(ctx context.Context, userID, listingID string) (Listing, error) {
	return s.transition(ctx, userID, listingID, domain.ListingStatusActive, domain.ListingStatusHidden)
}

func (s *listingService) MarkSold(ctx context.Context, userID, listingID string) (Listing, error) {
	return s.transition(ctx, userID, listingID, domain.ListingStatusActive, domain.ListingStatusSold)
}

func (s *listingService) transition(ctx context.Context, userID, listingID string, from, to domain.ListingStatus) (Listing, error) {
	var updated Listing
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		listing, err := s.loadOwned(ctx, userID, listingID)
		if err != nil {
			return err
		}
		if listing.Status != from {
			return ErrInvalidTransition
		}
		listing.Status = to
		listing.UpdatedAt = s.clock()
		if err := s.listings.Save(ctx, listing); err != nil {
			return err
		}
		updated = listing
		return nil
	})
	if err != nil {
		return Listing{}, err
	}

	s.log(ctx, "listing.transitioned", map[string]any{
		"listing_id": listingID,
		"from":       string(from),
		"to":         string(to),
	})
	return updated, nil
}

// ExpireDue sweeps active listings whose window lapsed. Each listing is
// re-read inside its own transaction so a concurrent sale or hide wins.
func (s *listingService) ExpireDue(ctx context.Context, limit int) (int, error) {
	now := s.clock()
	due, err := s.listings.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range due {
		var swept *Listing
		err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
			listing, err := s.listings.FindByID(ctx, candidate.ID)
			if err != nil {
				if isRepoNotFound(err) {
					return nil
				}
				return err
			}
			if listing.Status != domain.ListingStatusActive || listing.ExpiresAt == nil || !listing.ExpiresAt.Before(now) {
				return nil
			}
			listing.Status = domain.ListingStatusExpired
			listing.UpdatedAt = now
			if err := s.listings.Save(ctx, listing); err != nil {
				return err
			}
			swept = &listing
			return nil
		})
		if err != nil {
			return expired, err
		}
		if swept == nil {
			continue
		}
		expired++

		if s.notifier != nil {
			if err := s.notifier.Send(ctx, Notification{
				UserID: swept.UserID,
				Kind:   NotificationListingExpired,
				Params: map[string]string{"listing_id": swept.ID, "title": swept.Title},
			}); err != nil {
				s.log(ctx, "listing.expiry_notify_failed", map[string]any{
					"listing_id": swept.ID,
					"error":      err.Error(),
				})
			}
		}
	}

	if expired > 0 {
		s.log(ctx, "listing.expired_sweep", map[string]any{"count": expired})
	}
	return expired, nil
}

func (s *listingService) RecordView(ctx context.Context, listingID string) (int64, error) {
	if _, err := s.load(ctx, listingID); err != nil {
		return 0, err
	}
	return s.viewCounters.Increment(ctx, listingID)
}

func (s *listingService) AddFavorite(ctx context.Context, userID, listingID string) error {
	if _, err := s.load(ctx, listingID); err != nil {
		return err
	}
	return s.favorites.Add(ctx, userID, listingID, s.clock())
}

func (s *listingService) RemoveFavorite(ctx context.Context, userID, listingID string) error {
	return s.favorites.Remove(ctx, userID, listingID)
}

func (s *listingService) ListFavorites(ctx context.Context, userID string, limit int) ([]string, error) {
	return s.favorites.ListByUser(ctx, userID, limit)
}

func (s *listingService) load(ctx context.Context, listingID string) (Listing, error) {
	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if isRepoNotFound(err) {
			return Listing{}, ErrListingNotFound
		}
		return Listing{}, err
	}
	return listing, nil
}

func (s *listingService) loadOwned(ctx context.Context, userID, listingID string) (Listing, error) {
	listing, err := s.load(ctx, listingID)
	if err != nil {
		return Listing{}, err
	}
	if listing.UserID != userID {
		return Listing{}, ErrNotListingOwner
	}
	return listing, nil
}

func (s *listingService) clean(in string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(in))
}
