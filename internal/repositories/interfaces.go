package repositories

import (
	"context"
	"time"

	domain "github.com/baraholka/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Users() UserRepository
	Listings() ListingRepository
	Promotions() PromotionPurchaseRepository
	Packages() PackagePurchaseRepository
	Transactions() TransactionRepository
	Favorites() FavoriteRepository
	ViewCounters() ViewCounterRepository
	Decisions() DecisionRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. All
// ledger and listing-state mutations run inside RunInTx so that concurrent
// callers never act on stale balances or statuses.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository persists marketplace accounts. Balance mutations must happen
// inside a unit of work that re-reads the account first.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
	Insert(ctx context.Context, user domain.User) error
	Save(ctx context.Context, user domain.User) error
}

// ListingRepository persists listing documents.
type ListingRepository interface {
	Insert(ctx context.Context, listing domain.Listing) error
	Save(ctx context.Context, listing domain.Listing) error
	FindByID(ctx context.Context, listingID string) (domain.Listing, error)
	// Delete physically removes the listing row. Deleting a missing listing
	// is not an error; the rejection saga retries.
	Delete(ctx context.Context, listingID string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Listing, error)
	// ListExpired returns active listings whose window lapsed before now.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error)
}

// PromotionPurchaseRepository persists promotion purchases per listing.
type PromotionPurchaseRepository interface {
	Insert(ctx context.Context, purchase domain.PromotionPurchase) error
	Save(ctx context.Context, purchase domain.PromotionPurchase) error
	FindByID(ctx context.Context, purchaseID string) (domain.PromotionPurchase, error)
	ListByListing(ctx context.Context, listingID string) ([]domain.PromotionPurchase, error)
	// DeleteByListing removes all purchase rows for the listing; idempotent.
	DeleteByListing(ctx context.Context, listingID string) error
}

// PackagePurchaseRepository records completed credit top-ups. Append-only.
type PackagePurchaseRepository interface {
	Append(ctx context.Context, purchase domain.PackagePurchase) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.PackagePurchase, error)
}

// TransactionRepository records the append-only monetary audit trail.
// Rows are never updated or deleted.
type TransactionRepository interface {
	Append(ctx context.Context, txn domain.Transaction) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Transaction, error)
}

// FavoriteRepository tracks which users bookmarked a listing.
type FavoriteRepository interface {
	Add(ctx context.Context, userID, listingID string, at time.Time) error
	Remove(ctx context.Context, userID, listingID string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]string, error)
	// DeleteByListing removes every favorite pointing at the listing; idempotent.
	DeleteByListing(ctx context.Context, listingID string) error
}

// ViewCounterRepository maintains per-listing view counts.
type ViewCounterRepository interface {
	Increment(ctx context.Context, listingID string) (int64, error)
	Get(ctx context.Context, listingID string) (int64, error)
	// Delete drops the counter; idempotent.
	Delete(ctx context.Context, listingID string) error
}

// DecisionRepository persists moderation decision records the outcome saga
// resumes from after a crash.
type DecisionRepository interface {
	FindByListing(ctx context.Context, listingID string) (domain.ModerationDecision, error)
	Save(ctx context.Context, decision domain.ModerationDecision) error
}

// HealthRepository reports backend connectivity for readiness probes.
type HealthRepository interface {
	Check(ctx context.Context) error
}
