package services

import "errors"

// User-facing, recoverable errors. Never retried automatically.
var (
	// ErrInsufficientCredits is returned when a submission charge finds no
	// free quota and no package credits.
	ErrInsufficientCredits = errors.New("services: insufficient listing credits")
	// ErrInsufficientBalance is returned when the monetary balance cannot
	// cover a charge.
	ErrInsufficientBalance = errors.New("services: insufficient balance")
	// ErrMissingAssets blocks submission of a listing without images.
	ErrMissingAssets = errors.New("services: listing has no images")
	// ErrInvalidTransition rejects a state change outside the legal table.
	ErrInvalidTransition = errors.New("services: invalid listing transition")
)

// Asset pipeline errors.
var (
	// ErrStorageWrite is returned when a whole upload batch failed, or per
	// file after bounded retries were exhausted.
	ErrStorageWrite = errors.New("services: asset storage write failed")
	// ErrImageTooLarge rejects an upload above the configured size cap.
	ErrImageTooLarge = errors.New("services: image exceeds maximum size")
	// ErrUnsupportedImageType rejects uploads outside the image allow list.
	ErrUnsupportedImageType = errors.New("services: unsupported image content type")
)

// ErrAuditInconsistency marks a balance mutation that could not be paired with
// its Transaction row. Fatal invariant violation; logged at error level and
// never swallowed.
var ErrAuditInconsistency = errors.New("services: ledger audit inconsistency")

// Lookup and ownership errors.
var (
	ErrUserNotFound     = errors.New("services: user not found")
	ErrListingNotFound  = errors.New("services: listing not found")
	ErrNotListingOwner  = errors.New("services: listing belongs to another user")
	ErrUnknownPackage   = errors.New("services: unknown package type")
	ErrUnknownPromotion = errors.New("services: unknown promotion type")
	// ErrPromotionInFlight enforces the single in-flight promotion rule: a
	// second purchase is rejected while one is pending, paid, or active.
	ErrPromotionInFlight = errors.New("services: promotion already in flight for listing")
	// ErrPromotionNotFound is returned when a settlement callback references
	// an unknown purchase.
	ErrPromotionNotFound = errors.New("services: promotion purchase not found")
	ErrDecisionNotFound  = errors.New("services: moderation decision not found")
)

// Construction errors returned when required dependencies are missing.
var (
	ErrRepositoriesMissing       = errors.New("services: repository registry is required")
	ErrLedgerMissing             = errors.New("services: ledger service is required")
	ErrPromotionLedgerMissing    = errors.New("services: promotion service is required")
	ErrBlobStoreMissing          = errors.New("services: blob store is required")
	ErrModerationQueueMissing    = errors.New("services: moderation queue is required")
	ErrNotificationsMissing      = errors.New("services: notification gateway is required")
	ErrPaymentGatewayMissing     = errors.New("services: payment gateway is required")
	ErrAssetConfigurationInvalid = errors.New("services: asset configuration is invalid")
)
