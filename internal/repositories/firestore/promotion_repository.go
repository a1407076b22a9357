package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/baraholka/api/internal/domain"
	pfirestore "github.com/baraholka/api/internal/platform/firestore"
)

const promotionPurchasesCollection = "promotionPurchases"

type promotionPurchaseDocument struct {
	ListingID     string     `firestore:"listingId"`
	UserID        string     `firestore:"userId"`
	PromotionType string     `firestore:"promotionType"`
	Price         int64      `firestore:"price"`
	Currency      string     `firestore:"currency"`
	DurationSec   int64      `firestore:"durationSec"`
	Status        string     `firestore:"status"`
	PaymentMethod string     `firestore:"paymentMethod"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
	StartsAt      *time.Time `firestore:"startsAt,omitempty"`
	EndsAt        *time.Time `firestore:"endsAt,omitempty"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

// PromotionPurchaseRepository implements repositories.PromotionPurchaseRepository.
type PromotionPurchaseRepository struct {
	purchases *pfirestore.BaseRepository[promotionPurchaseDocument]
}

// NewPromotionPurchaseRepository constructs a Firestore-backed promotion purchase repository.
func NewPromotionPurchaseRepository(provider *pfirestore.Provider) (*PromotionPurchaseRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion purchase repository requires firestore provider")
	}
	return &PromotionPurchaseRepository{
		purchases: pfirestore.NewBaseRepository[promotionPurchaseDocument](provider, promotionPurchasesCollection),
	}, nil
}

// Insert creates the purchase row, failing on duplicates.
func (r *PromotionPurchaseRepository) Insert(ctx context.Context, purchase domain.PromotionPurchase) error {
	return r.purchases.Create(ctx, purchase.ID, encodePromotionPurchase(purchase))
}

// Save overwrites the purchase row.
func (r *PromotionPurchaseRepository) Save(ctx context.Context, purchase domain.PromotionPurchase) error {
	return r.purchases.Set(ctx, purchase.ID, encodePromotionPurchase(purchase))
}

// FindByID loads the purchase row.
func (r *PromotionPurchaseRepository) FindByID(ctx context.Context, purchaseID string) (domain.PromotionPurchase, error) {
	doc, err := r.purchases.Get(ctx, purchaseID)
	if err != nil {
		return domain.PromotionPurchase{}, err
	}
	return decodePromotionPurchase(doc.ID, doc.Data), nil
}

// ListByListing returns all purchase rows for the listing, newest first.
func (r *PromotionPurchaseRepository) ListByListing(ctx context.Context, listingID string) ([]domain.PromotionPurchase, error) {
	docs, err := r.purchases.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("listingId", "==", listingID).OrderBy("createdAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PromotionPurchase, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodePromotionPurchase(doc.ID, doc.Data))
	}
	return out, nil
}

// DeleteByListing removes every purchase row for the listing; idempotent.
func (r *PromotionPurchaseRepository) DeleteByListing(ctx context.Context, listingID string) error {
	docs, err := r.purchases.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("listingId", "==", listingID)
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := r.purchases.Delete(ctx, doc.ID); err != nil {
			return err
		}
	}
	return nil
}

func encodePromotionPurchase(p domain.PromotionPurchase) promotionPurchaseDocument {
	return promotionPurchaseDocument{
		ListingID:     p.ListingID,
		UserID:        p.UserID,
		PromotionType: p.PromotionType,
		Price:         p.Price,
		Currency:      p.Currency,
		DurationSec:   int64(p.Duration / time.Second),
		Status:        string(p.Status),
		PaymentMethod: p.PaymentMethod,
		PaidAt:        p.PaidAt,
		StartsAt:      p.StartsAt,
		EndsAt:        p.EndsAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func decodePromotionPurchase(id string, doc promotionPurchaseDocument) domain.PromotionPurchase {
	return domain.PromotionPurchase{
		ID:            id,
		ListingID:     doc.ListingID,
		UserID:        doc.UserID,
		PromotionType: doc.PromotionType,
		Price:         doc.Price,
		Currency:      doc.Currency,
		Duration:      time.Duration(doc.DurationSec) * time.Second,
		Status:        domain.PromotionStatus(doc.Status),
		PaymentMethod: doc.PaymentMethod,
		PaidAt:        doc.PaidAt,
		StartsAt:      doc.StartsAt,
		EndsAt:        doc.EndsAt,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}
