package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/baraholka/api/internal/domain"
	pfirestore "github.com/baraholka/api/internal/platform/firestore"
)

const moderationDecisionsCollection = "moderationDecisions"

type moderationDecisionDocument struct {
	ListingID          string          `firestore:"listingId"`
	UserID             string          `firestore:"userId"`
	Outcome            string          `firestore:"outcome"`
	Reason             string          `firestore:"reason,omitempty"`
	CreditRefunded     bool            `firestore:"creditRefunded"`
	PromotionsRefunded int             `firestore:"promotionsRefunded,omitempty"`
	RefundAmount       int64           `firestore:"refundAmount,omitempty"`
	RefundCurrency     string          `firestore:"refundCurrency,omitempty"`
	Steps              map[string]bool `firestore:"steps,omitempty"`
	Settled            bool            `firestore:"settled"`
	CreatedAt          time.Time       `firestore:"createdAt"`
	UpdatedAt          time.Time       `firestore:"updatedAt"`
}

// DecisionRepository implements repositories.DecisionRepository. Decisions are
// keyed by listing id so a redelivered webhook lands on the same record.
type DecisionRepository struct {
	decisions *pfirestore.BaseRepository[moderationDecisionDocument]
}

// NewDecisionRepository constructs a Firestore-backed decision repository.
func NewDecisionRepository(provider *pfirestore.Provider) (*DecisionRepository, error) {
	if provider == nil {
		return nil, errors.New("decision repository requires firestore provider")
	}
	return &DecisionRepository{
		decisions: pfirestore.NewBaseRepository[moderationDecisionDocument](provider, moderationDecisionsCollection),
	}, nil
}

// FindByListing loads the decision record for the listing.
func (r *DecisionRepository) FindByListing(ctx context.Context, listingID string) (domain.ModerationDecision, error) {
	doc, err := r.decisions.Get(ctx, listingID)
	if err != nil {
		return domain.ModerationDecision{}, err
	}
	return domain.ModerationDecision{
		ID:                 doc.ID,
		ListingID:          doc.Data.ListingID,
		UserID:             doc.Data.UserID,
		Outcome:            doc.Data.Outcome,
		Reason:             doc.Data.Reason,
		CreditRefunded:     doc.Data.CreditRefunded,
		PromotionsRefunded: doc.Data.PromotionsRefunded,
		RefundAmount:       doc.Data.RefundAmount,
		RefundCurrency:     doc.Data.RefundCurrency,
		Steps:              doc.Data.Steps,
		Settled:            doc.Data.Settled,
		CreatedAt:          doc.Data.CreatedAt,
		UpdatedAt:          doc.Data.UpdatedAt,
	}, nil
}

// Save upserts the decision record under its listing id.
func (r *DecisionRepository) Save(ctx context.Context, decision domain.ModerationDecision) error {
	return r.decisions.Set(ctx, decision.ListingID, moderationDecisionDocument{
		ListingID:          decision.ListingID,
		UserID:             decision.UserID,
		Outcome:            decision.Outcome,
		Reason:             decision.Reason,
		CreditRefunded:     decision.CreditRefunded,
		PromotionsRefunded: decision.PromotionsRefunded,
		RefundAmount:       decision.RefundAmount,
		RefundCurrency:     decision.RefundCurrency,
		Steps:              decision.Steps,
		Settled:            decision.Settled,
		CreatedAt:          decision.CreatedAt,
		UpdatedAt:          decision.UpdatedAt,
	})
}
