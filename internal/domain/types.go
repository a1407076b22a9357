package domain

import "time"

// ListingStatus enumerates the lifecycle states a listing moves through.
type ListingStatus string

const (
	ListingStatusDraft             ListingStatus = "draft"
	ListingStatusPendingModeration ListingStatus = "pending_moderation"
	ListingStatusActive            ListingStatus = "active"
	// ListingStatusRejected is transient: the rejection saga deletes the
	// listing immediately after settling refunds.
	ListingStatusRejected ListingStatus = "rejected"
	ListingStatusExpired  ListingStatus = "expired"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusHidden   ListingStatus = "hidden"
)

// ModerationStatus tracks the review gate while a listing is pending.
type ModerationStatus string

const (
	ModerationStatusQueued   ModerationStatus = "queued"
	ModerationStatusInReview ModerationStatus = "in_review"
)

// PromotionStatus enumerates the lifecycle of a promotion purchase.
type PromotionStatus string

const (
	PromotionStatusPending  PromotionStatus = "pending"
	PromotionStatusPaid     PromotionStatus = "paid"
	PromotionStatusActive   PromotionStatus = "active"
	PromotionStatusRefunded PromotionStatus = "refunded"
	PromotionStatusExpired  PromotionStatus = "expired"
)

// TransactionType classifies ledger entries.
type TransactionType string

const (
	TransactionTypePayment TransactionType = "payment"
	TransactionTypeUsage   TransactionType = "usage"
	TransactionTypeRefund  TransactionType = "refund"
)

// TransactionDirection records whether a ledger entry debits or credits the account.
type TransactionDirection string

const (
	TransactionDebit  TransactionDirection = "debit"
	TransactionCredit TransactionDirection = "credit"
)

// TransactionKind tells balance money apart from package credits. External
// rows record money captured by the payment provider; the stored balance
// never moved for those.
type TransactionKind string

const (
	TransactionKindBalance  TransactionKind = "balance"
	TransactionKindCredits  TransactionKind = "credits"
	TransactionKindExternal TransactionKind = "external"
)

// User is a marketplace account. Balance is in integer minor units and
// PackageBalance counts prepaid listing credits; both are mutated only through
// ledger operations inside a single transaction.
type User struct {
	ID                 string
	TelegramID         int64
	Balance            int64
	Currency           string
	PackageBalance     int64
	HasUsedFreeListing bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AssetRef points at a persisted image. Path is the original object of record;
// OptimizedPath is the derived rendition and may be empty.
type AssetRef struct {
	ID            string
	Path          string
	OptimizedPath string
	ContentType   string
	SizeBytes     int64
	UploadedAt    time.Time
}

// Listing is the unit of content moving through moderation and monetization.
type Listing struct {
	ID               string
	UserID           string
	Title            string
	Description      string
	Price            int64
	Currency         string
	Category         string
	Location         string
	Condition        string
	Images           []AssetRef
	Status           ListingStatus
	ModerationStatus *ModerationStatus
	RejectionReason  *string
	// PaidWithCredit records whether the pending submission consumed a
	// package credit, which drives the refund on rejection.
	PaidWithCredit bool
	PromotionType  *string
	PromotionEnds  *time.Time
	PublishedAt    *time.Time
	ExpiresAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PromotionActive reports whether the listing carries a live promotion at now.
func (l Listing) PromotionActive(now time.Time) bool {
	return l.PromotionType != nil && l.PromotionEnds != nil && now.Before(*l.PromotionEnds)
}

// PackagePurchase is an append-only record of a completed credit top-up.
type PackagePurchase struct {
	ID            string
	UserID        string
	PackageType   string
	Credits       int64
	Price         int64
	Currency      string
	PaymentMethod string
	PurchasedAt   time.Time
	ExpiresAt     *time.Time
}

// PromotionPurchase records a promotion bought against a listing. At most one
// row per listing may be pending, paid, or active at a time; the invariant is
// enforced at purchase time.
type PromotionPurchase struct {
	ID            string
	ListingID     string
	UserID        string
	PromotionType string
	Price         int64
	Currency      string
	Duration      time.Duration
	Status        PromotionStatus
	PaymentMethod string
	// PaidAt marks when the external capture landed; set once, so a
	// redelivered settlement callback is a no-op.
	PaidAt        *time.Time
	StartsAt      *time.Time
	EndsAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Settleable reports whether the purchase still holds money or an activation claim.
func (p PromotionPurchase) Settleable() bool {
	switch p.Status {
	case PromotionStatusPending, PromotionStatusPaid, PromotionStatusActive:
		return true
	}
	return false
}

// Transaction is an append-only monetary ledger entry. Every balance or
// package-balance mutation produces exactly one Transaction row; rows are
// never deleted, even when the listing they reference is.
type Transaction struct {
	ID        string
	UserID    string
	Type      TransactionType
	Direction TransactionDirection
	// Amount is minor units when Kind is balance and whole credits when
	// Kind is credits.
	Amount    int64
	Currency  string
	Kind      TransactionKind
	Reason    string
	Metadata  map[string]string
	CreatedAt time.Time
}

// ModerationDecision is the persisted record the outcome saga resumes from
// after a crash. Steps marks completed saga steps by name so a retry skips
// side effects that already ran. The refund summary fields are written
// alongside their step flags; a resumed saga builds the owner notification
// from them instead of from in-flight state.
type ModerationDecision struct {
	ID                 string
	ListingID          string
	UserID             string
	Outcome            string
	Reason             string
	CreditRefunded     bool
	PromotionsRefunded int
	RefundAmount       int64
	RefundCurrency     string
	Steps              map[string]bool
	Settled            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Outcome values for ModerationDecision.
const (
	DecisionOutcomeApproved = "approved"
	DecisionOutcomeRejected = "rejected"
)
