package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/baraholka/api/internal/domain"
	pfirestore "github.com/baraholka/api/internal/platform/firestore"
)

const listingsCollection = "listings"

type listingImageDocument struct {
	ID            string    `firestore:"id"`
	Path          string    `firestore:"path"`
	OptimizedPath string    `firestore:"optimizedPath,omitempty"`
	ContentType   string    `firestore:"contentType"`
	SizeBytes     int64     `firestore:"sizeBytes"`
	UploadedAt    time.Time `firestore:"uploadedAt"`
}

type listingDocument struct {
	UserID           string                 `firestore:"userId"`
	Title            string                 `firestore:"title"`
	Description      string                 `firestore:"description"`
	Price            int64                  `firestore:"price"`
	Currency         string                 `firestore:"currency"`
	Category         string                 `firestore:"category"`
	Location         string                 `firestore:"location"`
	Condition        string                 `firestore:"condition"`
	Images           []listingImageDocument `firestore:"images"`
	Status           string                 `firestore:"status"`
	ModerationStatus *string                `firestore:"moderationStatus,omitempty"`
	RejectionReason  *string                `firestore:"rejectionReason,omitempty"`
	PaidWithCredit   bool                   `firestore:"paidWithCredit"`
	PromotionType    *string                `firestore:"promotionType,omitempty"`
	PromotionEnds    *time.Time             `firestore:"promotionEnds,omitempty"`
	PublishedAt      *time.Time             `firestore:"publishedAt,omitempty"`
	ExpiresAt        *time.Time             `firestore:"expiresAt,omitempty"`
	CreatedAt        time.Time              `firestore:"createdAt"`
	UpdatedAt        time.Time              `firestore:"updatedAt"`
}

// ListingRepository implements repositories.ListingRepository backed by Firestore.
type ListingRepository struct {
	listings *pfirestore.BaseRepository[listingDocument]
}

// NewListingRepository constructs a Firestore-backed listing repository.
func NewListingRepository(provider *pfirestore.Provider) (*ListingRepository, error) {
	if provider == nil {
		return nil, errors.New("listing repository requires firestore provider")
	}
	return &ListingRepository{
		listings: pfirestore.NewBaseRepository[listingDocument](provider, listingsCollection),
	}, nil
}

// Insert creates the listing document, failing on duplicates.
func (r *ListingRepository) Insert(ctx context.Context, listing domain.Listing) error {
	return r.listings.Create(ctx, listing.ID, encodeListing(listing))
}

// Save overwrites the listing document.
func (r *ListingRepository) Save(ctx context.Context, listing domain.Listing) error {
	return r.listings.Set(ctx, listing.ID, encodeListing(listing))
}

// FindByID loads the listing document.
func (r *ListingRepository) FindByID(ctx context.Context, listingID string) (domain.Listing, error) {
	doc, err := r.listings.Get(ctx, listingID)
	if err != nil {
		return domain.Listing{}, err
	}
	return decodeListing(doc.ID, doc.Data), nil
}

// Delete physically removes the listing document; idempotent.
func (r *ListingRepository) Delete(ctx context.Context, listingID string) error {
	return r.listings.Delete(ctx, listingID)
}

// ListByUser returns the user's listings, newest first.
func (r *ListingRepository) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Listing, error) {
	docs, err := r.listings.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).OrderBy("createdAt", firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeListings(docs), nil
}

// ListExpired returns active listings whose window lapsed before now.
func (r *ListingRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	docs, err := r.listings.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("status", "==", string(domain.ListingStatusActive)).Where("expiresAt", "<", now)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeListings(docs), nil
}

func decodeListings(docs []pfirestore.Document[listingDocument]) []domain.Listing {
	out := make([]domain.Listing, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeListing(doc.ID, doc.Data))
	}
	return out
}

func encodeListing(listing domain.Listing) listingDocument {
	images := make([]listingImageDocument, 0, len(listing.Images))
	for _, img := range listing.Images {
		images = append(images, listingImageDocument{
			ID:            img.ID,
			Path:          img.Path,
			OptimizedPath: img.OptimizedPath,
			ContentType:   img.ContentType,
			SizeBytes:     img.SizeBytes,
			UploadedAt:    img.UploadedAt,
		})
	}

	doc := listingDocument{
		UserID:          listing.UserID,
		Title:           listing.Title,
		Description:     listing.Description,
		Price:           listing.Price,
		Currency:        listing.Currency,
		Category:        listing.Category,
		Location:        listing.Location,
		Condition:       listing.Condition,
		Images:          images,
		Status:          string(listing.Status),
		RejectionReason: listing.RejectionReason,
		PaidWithCredit:  listing.PaidWithCredit,
		PromotionType:   listing.PromotionType,
		PromotionEnds:   listing.PromotionEnds,
		PublishedAt:     listing.PublishedAt,
		ExpiresAt:       listing.ExpiresAt,
		CreatedAt:       listing.CreatedAt,
		UpdatedAt:       listing.UpdatedAt,
	}
	if listing.ModerationStatus != nil {
		status := string(*listing.ModerationStatus)
		doc.ModerationStatus = &status
	}
	return doc
}

func decodeListing(id string, doc listingDocument) domain.Listing {
	images := make([]domain.AssetRef, 0, len(doc.Images))
	for _, img := range doc.Images {
		images = append(images, domain.AssetRef{
			ID:            img.ID,
			Path:          img.Path,
			OptimizedPath: img.OptimizedPath,
			ContentType:   img.ContentType,
			SizeBytes:     img.SizeBytes,
			UploadedAt:    img.UploadedAt,
		})
	}

	listing := domain.Listing{
		ID:              id,
		UserID:          doc.UserID,
		Title:           doc.Title,
		Description:     doc.Description,
		Price:           doc.Price,
		Currency:        doc.Currency,
		Category:        doc.Category,
		Location:        doc.Location,
		Condition:       doc.Condition,
		Images:          images,
		Status:          domain.ListingStatus(doc.Status),
		RejectionReason: doc.RejectionReason,
		PaidWithCredit:  doc.PaidWithCredit,
		PromotionType:   doc.PromotionType,
		PromotionEnds:   doc.PromotionEnds,
		PublishedAt:     doc.PublishedAt,
		ExpiresAt:       doc.ExpiresAt,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
	if doc.ModerationStatus != nil {
		status := domain.ModerationStatus(*doc.ModerationStatus)
		listing.ModerationStatus = &status
	}
	return listing
}
