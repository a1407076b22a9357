package services

import (
	"context"
	"time"

	domain "github.com/baraholka/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	User               = domain.User
	Listing            = domain.Listing
	AssetRef           = domain.AssetRef
	PackagePurchase    = domain.PackagePurchase
	PromotionPurchase  = domain.PromotionPurchase
	Transaction        = domain.Transaction
	ModerationDecision = domain.ModerationDecision
	PromotionTier      = domain.PromotionTier
	PackageOption      = domain.PackageOption
)

// Logger is the hook services use for structured event logging. Implementations
// must tolerate a nil fields map.
type Logger func(ctx context.Context, event string, fields map[string]any)

// LedgerService owns every balance and package-credit mutation. Each mutation
// is atomic with its Transaction audit row.
type LedgerService interface {
	// EnsureAccount loads the account for the Telegram user, creating it on
	// first contact.
	EnsureAccount(ctx context.Context, telegramID int64) (User, error)
	GetAccount(ctx context.Context, userID string) (User, error)

	// DebitForListing charges one listing submission: free quota first, then
	// one package credit. When paid listings are disabled the call succeeds
	// at zero cost without touching the ledger.
	DebitForListing(ctx context.Context, userID string) (ListingDebit, error)
	// CreditPackage settles a package purchase: adds credits and records the
	// purchase row plus one payment Transaction.
	CreditPackage(ctx context.Context, cmd CreditPackageCommand) (PackagePurchase, error)
	// RequestPackageInvoice mints a provider checkout invoice for a direct
	// package purchase. Credits land only when the provider callback settles
	// through CreditPackage.
	RequestPackageInvoice(ctx context.Context, userID, packageType string) (Invoice, error)
	// DebitForPromotion charges the tier price from the monetary balance.
	DebitForPromotion(ctx context.Context, userID string, tier PromotionTier, metadata map[string]string) error
	// Refund credits the monetary balance. Refunds are compensating actions
	// and are never blocked by business rules.
	Refund(ctx context.Context, cmd RefundCommand) error
	// RefundPackageCredit returns exactly one listing credit.
	RefundPackageCredit(ctx context.Context, userID, reason string, metadata map[string]string) error

	ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	ListPackagePurchases(ctx context.Context, userID string, limit int) ([]PackagePurchase, error)
}

// ListingDebit reports how a submission charge was satisfied.
type ListingDebit struct {
	// FreeQuota is true when the charge consumed the one-time free listing.
	FreeQuota bool
	// CreditUsed is true when one package credit was debited.
	CreditUsed bool
	// TransactionID is set only when a ledger row was written.
	TransactionID string
}

// CreditPackageCommand settles a completed package top-up.
type CreditPackageCommand struct {
	UserID      string
	PackageType string
	// PaymentMethod is "balance" or "invoice". Balance purchases debit the
	// monetary balance in the same transaction.
	PaymentMethod string
}

// RefundCommand credits the monetary balance.
type RefundCommand struct {
	UserID   string
	Amount   int64
	Currency string
	Reason   string
	Metadata map[string]string
}

// ListingService owns the listing status state machine. Transitions outside
// the legal table fail with ErrInvalidTransition and perform no side effect.
type ListingService interface {
	CreateDraft(ctx context.Context, cmd CreateListingCommand) (Listing, error)
	GetListing(ctx context.Context, listingID string) (Listing, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Listing, error)
	// UpdateContent edits content fields without a state transition. Edits
	// while pending moderation are rejected to avoid racing the reviewer.
	UpdateContent(ctx context.Context, cmd UpdateListingCommand) (Listing, error)
	// Submit moves draft to pending_moderation. Requires at least one
	// persisted image and a successful ledger debit, then enqueues the
	// listing for review.
	Submit(ctx context.Context, userID, listingID string) (Listing, error)
	// Hide deactivates an active listing. Reversible.
	Hide(ctx context.Context, userID, listingID string) (Listing, error)
	// Reactivate resubmits a hidden or expired listing through the same
	// gated path as a fresh submission.
	Reactivate(ctx context.Context, userID, listingID string) (Listing, error)
	// MarkSold ends the listing for buying purposes; it stays visible.
	MarkSold(ctx context.Context, userID, listingID string) (Listing, error)
	// ExpireDue sweeps active listings whose window lapsed before now.
	// Driven by an external scheduler tick.
	ExpireDue(ctx context.Context, limit int) (int, error)

	RecordView(ctx context.Context, listingID string) (int64, error)
	AddFavorite(ctx context.Context, userID, listingID string) error
	RemoveFavorite(ctx context.Context, userID, listingID string) error
	ListFavorites(ctx context.Context, userID string, limit int) ([]string, error)
}

// CreateListingCommand carries the content fields for a new draft.
type CreateListingCommand struct {
	UserID      string
	Title       string
	Description string
	Price       int64
	Currency    string
	Category    string
	Location    string
	Condition   string
}

// UpdateListingCommand carries a partial content edit. Nil fields are left
// untouched.
type UpdateListingCommand struct {
	UserID      string
	ListingID   string
	Title       *string
	Description *string
	Price       *int64
	Category    *string
	Location    *string
	Condition   *string
}

// PromotionService sells and settles time-boxed visibility boosts. At most one
// purchase per listing may be pending, paid, or active at a time.
type PromotionService interface {
	Catalog() []PromotionTier
	// Purchase charges the tier from balance, or mints an external invoice
	// when the caller asked to pay directly.
	Purchase(ctx context.Context, cmd PurchasePromotionCommand) (PromotionPurchaseResult, error)
	// Activate turns the latest pending or paid purchase active and mirrors
	// the window onto the listing. Idempotent when nothing is activatable.
	Activate(ctx context.Context, listingID string) (*PromotionPurchase, error)
	// SettlePayment lands the provider's capture callback for an invoice
	// purchase: pending flips to paid. A capture arriving after the row was
	// refunded credits the money back instead. Idempotent on redelivery.
	SettlePayment(ctx context.Context, purchaseID string) (PromotionPurchase, error)
	// RefundForListing refunds every purchase still holding money and marks
	// the rows refunded. Returns what was refunded for notification copy.
	RefundForListing(ctx context.Context, listingID, reason string) (PromotionRefundSummary, error)
	ListByListing(ctx context.Context, listingID string) ([]PromotionPurchase, error)
}

// PurchasePromotionCommand requests a promotion against a listing.
type PurchasePromotionCommand struct {
	UserID        string
	ListingID     string
	PromotionType string
	// PayFromBalance selects the funding source. When false an external
	// invoice is minted and the row stays pending until the callback lands.
	PayFromBalance bool
}

// PromotionPurchaseResult reports the purchase outcome.
type PromotionPurchaseResult struct {
	Purchase PromotionPurchase
	// CheckoutURL is set when external payment is required.
	CheckoutURL string
}

// PromotionRefundSummary aggregates what a listing-level refund returned.
type PromotionRefundSummary struct {
	Count       int
	AmountTotal int64
	Currency    string
}

// ModerationService applies reviewer decisions. Both operations are backed by
// a persisted decision record with named idempotent steps so a crash
// mid-sequence resumes instead of re-running refunds.
type ModerationService interface {
	Approve(ctx context.Context, listingID string) error
	Reject(ctx context.Context, listingID, reason string) error
}

// AssetService persists listing images. Originals are the asset of record;
// optimized renditions are derived off the critical path.
type AssetService interface {
	// AttachImages validates and stores a batch of uploads, appending the
	// stored refs to the listing. Partial success is returned; zero stored
	// images is ErrStorageWrite.
	AttachImages(ctx context.Context, cmd AttachImagesCommand) (AttachImagesResult, error)
	// RemoveImage detaches the ref and deletes its objects.
	RemoveImage(ctx context.Context, userID, listingID, assetID string) (Listing, error)
	// DeleteAssets removes the stored objects for the refs. Idempotent.
	DeleteAssets(ctx context.Context, refs []AssetRef) error
	// RecordOptimized attaches a derived rendition path produced by the
	// background optimizer.
	RecordOptimized(ctx context.Context, listingID, assetID, optimizedPath string) error
}

// ImageUpload is one raw image in an upload batch.
type ImageUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AttachImagesCommand uploads a batch of images for a listing.
type AttachImagesCommand struct {
	UserID    string
	ListingID string
	Uploads   []ImageUpload
}

// UploadFailure reports one upload that could not be stored.
type UploadFailure struct {
	Index  int
	Reason string
}

// AttachImagesResult reports stored refs and per-file failures.
type AttachImagesResult struct {
	Listing  Listing
	Stored   []AssetRef
	Failures []UploadFailure
}

// SystemService reports backend readiness.
type SystemService interface {
	Health(ctx context.Context) error
}

// Notification is a user-facing status message delivered out of band.
type Notification struct {
	UserID string
	Kind   string
	Params map[string]string
}

// Notification kinds dispatched by the engine.
const (
	NotificationListingApproved = "listing_approved"
	NotificationListingRejected = "listing_rejected"
	NotificationListingExpired  = "listing_expired"
)

// NotificationGateway delivers user-facing status messages. Fire-and-forget:
// failures are logged and never roll back the triggering transaction.
type NotificationGateway interface {
	Send(ctx context.Context, notification Notification) error
}

// ModerationSubmission enqueues a listing for human review.
type ModerationSubmission struct {
	ListingID    string
	UserID       string
	Reactivation bool
}

// ModerationQueue hands listings to the external review pipeline. A failed
// submit leaves the listing pending for manual recovery.
type ModerationQueue interface {
	Submit(ctx context.Context, submission ModerationSubmission) error
}

// InvoiceRequest asks the payment provider for a checkout invoice.
type InvoiceRequest struct {
	UserID      string
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// Invoice is the minted checkout handle.
type Invoice struct {
	ID          string
	CheckoutURL string
}

// PaymentGateway mints checkout invoices for direct payments. Ledger
// operations run only after the provider's own success callback.
type PaymentGateway interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error)
}

// AssetOptimizeRequest asks the background optimizer to derive renditions.
type AssetOptimizeRequest struct {
	ListingID string
	Assets    []AssetRef
}

// JobDispatcher hands work to the background pipeline. Dispatch failures are
// logged only; they never fail the triggering operation.
type JobDispatcher interface {
	DispatchAssetOptimize(ctx context.Context, req AssetOptimizeRequest) error
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time
