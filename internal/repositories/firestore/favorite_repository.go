package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/baraholka/api/internal/platform/firestore"
)

const favoritesCollection = "favorites"

type favoriteDocument struct {
	UserID    string    `firestore:"userId"`
	ListingID string    `firestore:"listingId"`
	AddedAt   time.Time `firestore:"addedAt"`
}

// FavoriteRepository implements repositories.FavoriteRepository. Each bookmark
// is a single document keyed by user and listing so adds stay idempotent.
type FavoriteRepository struct {
	favorites *pfirestore.BaseRepository[favoriteDocument]
}

// NewFavoriteRepository constructs a Firestore-backed favorite repository.
func NewFavoriteRepository(provider *pfirestore.Provider) (*FavoriteRepository, error) {
	if provider == nil {
		return nil, errors.New("favorite repository requires firestore provider")
	}
	return &FavoriteRepository{
		favorites: pfirestore.NewBaseRepository[favoriteDocument](provider, favoritesCollection),
	}, nil
}

func favoriteDocID(userID, listingID string) string {
	return fmt.Sprintf("%s_%s", userID, listingID)
}

// Add bookmarks the listing for the user. Re-adding overwrites the timestamp.
func (r *FavoriteRepository) Add(ctx context.Context, userID, listingID string, at time.Time) error {
	return r.favorites.Set(ctx, favoriteDocID(userID, listingID), favoriteDocument{
		UserID:    userID,
		ListingID: listingID,
		AddedAt:   at,
	})
}

// Remove drops the bookmark; removing a missing bookmark is not an error.
func (r *FavoriteRepository) Remove(ctx context.Context, userID, listingID string) error {
	return r.favorites.Delete(ctx, favoriteDocID(userID, listingID))
}

// ListByUser returns the listing ids the user bookmarked, newest first.
func (r *FavoriteRepository) ListByUser(ctx context.Context, userID string, limit int) ([]string, error) {
	docs, err := r.favorites.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", userID).OrderBy("addedAt", firestore.Desc)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.ListingID)
	}
	return out, nil
}

// DeleteByListing removes every bookmark pointing at the listing; idempotent.
func (r *FavoriteRepository) DeleteByListing(ctx context.Context, listingID string) error {
	docs, err := r.favorites.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("listingId", "==", listingID)
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := r.favorites.Delete(ctx, doc.ID); err != nil {
			return err
		}
	}
	return nil
}
