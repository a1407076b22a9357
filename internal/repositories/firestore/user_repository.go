package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/baraholka/api/internal/domain"
	pfirestore "github.com/baraholka/api/internal/platform/firestore"
)

const usersCollection = "users"

type userDocument struct {
	TelegramID         int64     `firestore:"telegramId"`
	Balance            int64     `firestore:"balance"`
	Currency           string    `firestore:"currency"`
	PackageBalance     int64     `firestore:"packageBalance"`
	HasUsedFreeListing bool      `firestore:"hasUsedFreeListing"`
	CreatedAt          time.Time `firestore:"createdAt"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
}

// UserRepository implements repositories.UserRepository backed by Firestore.
type UserRepository struct {
	users *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{
		users: pfirestore.NewBaseRepository[userDocument](provider, usersCollection),
	}, nil
}

// FindByID loads the account document.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	doc, err := r.users.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return decodeUser(doc.ID, doc.Data), nil
}

// Insert creates the account, failing when it already exists.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	return r.users.Create(ctx, user.ID, encodeUser(user))
}

// Save overwrites the account document. Callers mutate balances only inside a
// unit of work that re-read the account first.
func (r *UserRepository) Save(ctx context.Context, user domain.User) error {
	return r.users.Set(ctx, user.ID, encodeUser(user))
}

func encodeUser(user domain.User) userDocument {
	return userDocument{
		TelegramID:         user.TelegramID,
		Balance:            user.Balance,
		Currency:           user.Currency,
		PackageBalance:     user.PackageBalance,
		HasUsedFreeListing: user.HasUsedFreeListing,
		CreatedAt:          user.CreatedAt,
		UpdatedAt:          user.UpdatedAt,
	}
}

func decodeUser(id string, doc userDocument) domain.User {
	return domain.User{
		ID:                 id,
		TelegramID:         doc.TelegramID,
		Balance:            doc.Balance,
		Currency:           doc.Currency,
		PackageBalance:     doc.PackageBalance,
		HasUsedFreeListing: doc.HasUsedFreeListing,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
}
