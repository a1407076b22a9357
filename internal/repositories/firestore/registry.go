package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	"github.com/baraholka/api/internal/platform/config"
	pfirestore "github.com/baraholka/api/internal/platform/firestore"
	"github.com/baraholka/api/internal/repositories"
)

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	users        *UserRepository
	listings     *ListingRepository
	promotions   *PromotionPurchaseRepository
	packages     *PackagePurchaseRepository
	transactions *TransactionRepository
	favorites    *FavoriteRepository
	viewCounters *ViewCounterRepository
	decisions    *DecisionRepository
	health       *HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds the repository registry on a shared Firestore provider.
func NewRegistry(cfg config.FirestoreConfig) (*Registry, error) {
	provider := pfirestore.NewProvider(pfirestore.Settings{
		ProjectID:    cfg.ProjectID,
		EmulatorHost: cfg.EmulatorHost,
	})
	return NewRegistryWithProvider(provider)
}

// NewRegistryWithProvider builds the registry on an existing provider. Used by
// tests pointing at the emulator.
func NewRegistryWithProvider(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	listings, err := NewListingRepository(provider)
	if err != nil {
		return nil, err
	}
	promotions, err := NewPromotionPurchaseRepository(provider)
	if err != nil {
		return nil, err
	}
	packages, err := NewPackagePurchaseRepository(provider)
	if err != nil {
		return nil, err
	}
	transactions, err := NewTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	favorites, err := NewFavoriteRepository(provider)
	if err != nil {
		return nil, err
	}
	viewCounters, err := NewViewCounterRepository(provider)
	if err != nil {
		return nil, err
	}
	decisions, err := NewDecisionRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := NewHealthRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:     provider,
		users:        users,
		listings:     listings,
		promotions:   promotions,
		packages:     packages,
		transactions: transactions,
		favorites:    favorites,
		viewCounters: viewCounters,
		decisions:    decisions,
		health:       health,
	}, nil
}

// RunInTx executes fn inside a Firestore transaction. Repositories invoked
// through the callback context join the transaction automatically. Firestore
// requires all reads to happen before the first write inside a transaction, so
// callbacks load their documents up front.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := pfirestore.TxFrom(ctx); ok {
		// Already inside a unit of work; nesting joins the outer transaction.
		return fn(ctx)
	}
	return r.provider.RunTransaction(ctx, func(txCtx context.Context, _ *firestore.Transaction) error {
		return fn(txCtx)
	})
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	return r.provider.Close(ctx)
}

// Users returns the account repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Listings returns the listing repository.
func (r *Registry) Listings() repositories.ListingRepository { return r.listings }

// Promotions returns the promotion purchase repository.
func (r *Registry) Promotions() repositories.PromotionPurchaseRepository { return r.promotions }

// Packages returns the package purchase repository.
func (r *Registry) Packages() repositories.PackagePurchaseRepository { return r.packages }

// Transactions returns the ledger transaction repository.
func (r *Registry) Transactions() repositories.TransactionRepository { return r.transactions }

// Favorites returns the favorite repository.
func (r *Registry) Favorites() repositories.FavoriteRepository { return r.favorites }

// ViewCounters returns the view counter repository.
func (r *Registry) ViewCounters() repositories.ViewCounterRepository { return r.viewCounters }

// Decisions returns the moderation decision repository.
func (r *Registry) Decisions() repositories.DecisionRepository { return r.decisions }

// Health returns the health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }
