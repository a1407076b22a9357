package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/baraholka/api/internal/platform/firestore"
	"google.golang.org/api/iterator"
)

const healthProbeCollection = "healthProbes"

// HealthRepository implements repositories.HealthRepository by issuing a
// minimal read against the backend.
type HealthRepository struct {
	provider *pfirestore.Provider
}

// NewHealthRepository constructs a Firestore-backed health repository.
func NewHealthRepository(provider *pfirestore.Provider) (*HealthRepository, error) {
	if provider == nil {
		return nil, errors.New("health repository requires firestore provider")
	}
	return &HealthRepository{provider: provider}, nil
}

// Check verifies connectivity to the backing store.
func (r *HealthRepository) Check(ctx context.Context) error {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}

	iter := client.Collection(healthProbeCollection).Limit(1).Documents(ctx)
	defer iter.Stop()

	if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
		return pfirestore.WrapError("health.check", err)
	}
	return nil
}
