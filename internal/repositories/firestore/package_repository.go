package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/baraholka/api/internal/domain"
	pfirestore "github.com/baraholka/api/internal/platform/firestore"
)

const packagePurchasesCollection = "packagePurchases"

type packagePurchaseDocument struct {
	UserID        string     `firestore:"userId"`
	PackageType   string     `firestore:"packageType"`
	Credits       int64      `firestore:"credits"`
	Price         int64      `firestore:"price"`
	Currency      string     `firestore:"currency"`
	PaymentMethod string     `firestore:"paymentMethod"`
	PurchasedAt   time.Time  `firestore:"purchasedAt"`
	ExpiresAt     *time.Time `firestore:"expiresAt,omitempty"`
}

// PackagePurchaseRepository implements repositories.PackagePurchaseRepository.
type PackagePurchaseRepository struct {
	purchases *pfirestore.BaseRepository[packagePurchaseDocument]
}

// NewPackagePurchaseRepository constructs a Firestore-backed package purchase repository.
func NewPackagePurchaseRepository(provider *pfirestore.Provider) (*PackagePurchaseRepository, error) {
	if provider == nil {
		return nil, errors.New("package purchase repository requires firestore provider")
	}
	return &PackagePurchaseRepository{
		purchases: pfirestore.NewBaseRepository[packagePurchaseDocument](provider, packagePurchasesCollection),
	}, nil
}

// Append records a completed top-up. Rows are never updated afterwards.
func (r *PackagePurchaseRepository) Append(ctx context.Context, purchase domain.PackagePurchase) error {
	return r.purchases.Create(ctx, purchase.ID, packagePurchaseDocument{
		UserID:        purchase.UserID,
		PackageType:   purchase.PackageType,
		Credits:       purchase.Credits,
		Price:         purchase.Price,
		Currency:      purchase.Currency,
		PaymentMethod: purchase.PaymentMethod,
		PurchasedAt:   purchase.PurchasedAt,
		ExpiresAt:     purchase.ExpiresAt,
	})
}

// ListByUser returns the user's top-ups, newest first.
func (r *PackagePurchaseRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.PackagePurchase, error) {
	docs, err := r.purchases.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).OrderBy("purchasedAt", firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PackagePurchase, 0, len(docs))
	for _, doc := range docs {
		out = append(out, domain.PackagePurchase{
			ID:            doc.ID,
			UserID:        doc.Data.UserID,
			PackageType:   doc.Data.PackageType,
			Credits:       doc.Data.Credits,
			Price:         doc.Data.Price,
			Currency:      doc.Data.Currency,
			PaymentMethod: doc.Data.PaymentMethod,
			PurchasedAt:   doc.Data.PurchasedAt,
			ExpiresAt:     doc.Data.ExpiresAt,
		})
	}
	return out, nil
}
