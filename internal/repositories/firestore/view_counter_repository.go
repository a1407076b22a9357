package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/baraholka/api/internal/platform/firestore"
	"github.com/baraholka/api/internal/repositories"
)

const viewCountersCollection = "viewCounters"

type viewCounterDocument struct {
	Count int64 `firestore:"count"`
}

// ViewCounterRepository implements repositories.ViewCounterRepository with one
// counter document per listing.
type ViewCounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[viewCounterDocument]
}

// NewViewCounterRepository constructs a Firestore-backed view counter repository.
func NewViewCounterRepository(provider *pfirestore.Provider) (*ViewCounterRepository, error) {
	if provider == nil {
		return nil, errors.New("view counter repository requires firestore provider")
	}
	return &ViewCounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[viewCounterDocument](provider, viewCountersCollection),
	}, nil
}

// Increment bumps the counter inside its own transaction and returns the new
// value. A missing counter document starts at zero.
func (r *ViewCounterRepository) Increment(ctx context.Context, listingID string) (int64, error) {
	var next int64
	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		doc, err := r.counters.Get(txCtx, listingID)
		switch {
		case err == nil:
			next = doc.Data.Count + 1
		case isNotFound(err):
			next = 1
		default:
			return err
		}
		return r.counters.Set(txCtx, listingID, viewCounterDocument{Count: next})
	}, pfirestore.WithTxAttempts(3))
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Get returns the current count. A missing counter reads as zero.
func (r *ViewCounterRepository) Get(ctx context.Context, listingID string) (int64, error) {
	doc, err := r.counters.Get(ctx, listingID)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return doc.Data.Count, nil
}

// Delete drops the counter document; idempotent.
func (r *ViewCounterRepository) Delete(ctx context.Context, listingID string) error {
	return r.counters.Delete(ctx, listingID)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
