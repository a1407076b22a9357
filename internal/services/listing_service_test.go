package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/baraholka/api/internal/domain"
)

type listingFixture struct {
	service  ListingService
	listings *stubListingRepo
	users    *stubUserRepo
	txns     *stubTransactionRepo
	queue    *stubModerationQueue
	notifier *stubNotificationGateway
	counters *stubViewCounterRepo
	now      time.Time
}

func newListingFixture(t *testing.T, seed ...domain.Listing) *listingFixture {
	t.Helper()
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	users := newStubUserRepo(domain.User{ID: "usr_1", TelegramID: 1, Currency: "EUR"})
	txns := &stubTransactionRepo{}
	ledger, err := NewLedgerService(LedgerServiceDeps{
		Users:        users,
		Transactions: txns,
		Packages:     &stubPackageRepo{},
		UnitOfWork:   &stubUnitOfWork{},
		PaidListings: true,
		Clock:        fixedClock(now),
		IDs:          sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing ledger service: %v", err)
	}

	listings := newStubListingRepo(seed...)
	queue := &stubModerationQueue{}
	notifier := &stubNotificationGateway{}
	counters := newStubViewCounterRepo()
	service, err := NewListingService(ListingServiceDeps{
		Listings:      listings,
		Favorites:     newStubFavoriteRepo(),
		ViewCounters:  counters,
		UnitOfWork:    &stubUnitOfWork{},
		Ledger:        ledger,
		Queue:         queue,
		Notifications: notifier,
		Clock:         fixedClock(now),
		IDs:           sequentialIDs(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing listing service: %v", err)
	}
	return &listingFixture{
		service:  service,
		listings: listings,
		users:    users,
		txns:     txns,
		queue:    queue,
		notifier: notifier,
		counters: counters,
		now:      now,
	}
}

func draftListing(id string, images ...domain.AssetRef) domain.Listing {
	return domain.Listing{
		ID:       id,
		UserID:   "usr_1",
		Title:    "Road bike",
		Price:    12000,
		Currency: "EUR",
		Status:   domain.ListingStatusDraft,
		Images:   images,
	}
}

func testImage() domain.AssetRef {
	return domain.AssetRef{ID: "ast_1", Path: "listings/lst_1/ast_1.jpg", ContentType: "image/jpeg"}
}

func TestListingServiceCreateDraftSanitizesContent(t *testing.T) {
	fx := newListingFixture(t)

	listing, err := fx.service.CreateDraft(context.Background(), CreateListingCommand{
		UserID:      "usr_1",
		Title:       "  Road bike <script>alert(1)</script> ",
		Description: "<b>Great</b> condition",
		Price:       -50,
		Category:    "sports",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listing.Title != "Road bike" {
		t.Fatalf("expected sanitized title, got %q", listing.Title)
	}
	if listing.Description != "Great condition" {
		t.Fatalf("expected markup stripped, got %q", listing.Description)
	}
	if listing.Price != 0 {
		t.Fatalf("expected negative price clamped, got %d", listing.Price)
	}
	if listing.Status != domain.ListingStatusDraft {
		t.Fatalf("expected draft status, got %s", listing.Status)
	}
	if listing.Currency != "EUR" {
		t.Fatalf("expected default currency, got %q", listing.Currency)
	}
}

func TestListingServiceCreateDraftRequiresTitle(t *testing.T) {
	fx := newListingFixture(t)
	_, err := fx.service.CreateDraft(context.Background(), CreateListingCommand{
		UserID: "usr_1",
		Title:  "<script>only markup</script>",
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for empty title, got %v", err)
	}
}

func TestListingServiceSubmitFreeFirstListing(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_1", testImage()))

	listing, err := fx.service.Submit(context.Background(), "usr_1", "lst_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listing.Status != domain.ListingStatusPendingModeration {
		t.Fatalf("expected pending_moderation, got %s", listing.Status)
	}
	if listing.ModerationStatus == nil || *listing.ModerationStatus != domain.ModerationStatusQueued {
		t.Fatalf("expected queued moderation status, got %v", listing.ModerationStatus)
	}
	if listing.PaidWithCredit {
		t.Fatalf("first listing rides the free quota, not a credit")
	}

	if !fx.users.users["usr_1"].HasUsedFreeListing {
		t.Fatalf("expected free quota consumed")
	}
	if len(fx.txns.appended) != 0 {
		t.Fatalf("free submission must not write ledger rows, got %d", len(fx.txns.appended))
	}

	if len(fx.queue.submissions) != 1 {
		t.Fatalf("expected one moderation submission, got %d", len(fx.queue.submissions))
	}
	if fx.queue.submissions[0].ListingID != "lst_1" || fx.queue.submissions[0].Reactivation {
		t.Fatalf("unexpected submission %+v", fx.queue.submissions[0])
	}
}

func TestListingServiceSubmitSecondListingNeedsCredit(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_2", testImage()))
	user := fx.users.users["usr_1"]
	user.HasUsedFreeListing = true
	fx.users.users["usr_1"] = user

	_, err := fx.service.Submit(context.Background(), "usr_1", "lst_2")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if fx.listings.listings["lst_2"].Status != domain.ListingStatusDraft {
		t.Fatalf("failed submit must leave the listing in draft")
	}
	if len(fx.queue.submissions) != 0 {
		t.Fatalf("failed submit must not enqueue moderation")
	}
}

func TestListingServiceSubmitDebitsCreditAndRecordsIt(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_2", testImage()))
	user := fx.users.users["usr_1"]
	user.HasUsedFreeListing = true
	user.PackageBalance = 2
	fx.users.users["usr_1"] = user

	listing, err := fx.service.Submit(context.Background(), "usr_1", "lst_2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !listing.PaidWithCredit {
		t.Fatalf("expected PaidWithCredit recorded for the rejection refund")
	}
	if fx.users.users["usr_1"].PackageBalance != 1 {
		t.Fatalf("expected one credit consumed, got %d", fx.users.users["usr_1"].PackageBalance)
	}
	if len(fx.txns.appended) != 1 {
		t.Fatalf("expected one usage row, got %d", len(fx.txns.appended))
	}
}

func TestListingServiceSubmitRequiresImages(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_1"))

	_, err := fx.service.Submit(context.Background(), "usr_1", "lst_1")
	if !errors.Is(err, ErrMissingAssets) {
		t.Fatalf("expected ErrMissingAssets, got %v", err)
	}
	if fx.users.users["usr_1"].HasUsedFreeListing {
		t.Fatalf("failed submit must not consume the free quota")
	}
	if len(fx.queue.submissions) != 0 {
		t.Fatalf("failed submit must not enqueue moderation")
	}
}

func TestListingServiceSubmitWrongStatus(t *testing.T) {
	active := draftListing("lst_1", testImage())
	active.Status = domain.ListingStatusActive
	fx := newListingFixture(t, active)

	_, err := fx.service.Submit(context.Background(), "usr_1", "lst_1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestListingServiceSubmitOwnershipEnforced(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_1", testImage()))
	_, err := fx.service.Submit(context.Background(), "usr_2", "lst_1")
	if !errors.Is(err, ErrNotListingOwner) {
		t.Fatalf("expected ErrNotListingOwner, got %v", err)
	}
}

func TestListingServiceSubmitSurvivesQueueFailure(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_1", testImage()))
	fx.queue.submitErr = errors.New("broker down")

	listing, err := fx.service.Submit(context.Background(), "usr_1", "lst_1")
	if err != nil {
		t.Fatalf("queue failure must not fail the submit, got %v", err)
	}
	if listing.Status != domain.ListingStatusPendingModeration {
		t.Fatalf("expected pending_moderation, got %s", listing.Status)
	}
}

func TestListingServiceReactivateFromExpired(t *testing.T) {
	expired := draftListing("lst_1", testImage())
	expired.Status = domain.ListingStatusExpired
	fx := newListingFixture(t, expired)

	listing, err := fx.service.Reactivate(context.Background(), "usr_1", "lst_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listing.Status != domain.ListingStatusPendingModeration {
		t.Fatalf("expected pending_moderation, got %s", listing.Status)
	}
	if len(fx.queue.submissions) != 1 || !fx.queue.submissions[0].Reactivation {
		t.Fatalf("expected reactivation submission, got %+v", fx.queue.submissions)
	}
}

func TestListingServiceReactivateRejectsDraft(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_1", testImage()))
	_, err := fx.service.Reactivate(context.Background(), "usr_1", "lst_1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestListingServiceUpdateContentBlockedWhilePending(t *testing.T) {
	pending := draftListing("lst_1", testImage())
	pending.Status = domain.ListingStatusPendingModeration
	fx := newListingFixture(t, pending)

	title := "New title"
	_, err := fx.service.UpdateContent(context.Background(), UpdateListingCommand{
		UserID:    "usr_1",
		ListingID: "lst_1",
		Title:     &title,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while pending, got %v", err)
	}
}

func TestListingServiceUpdateContentAppliesPartialEdit(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_1"))

	desc := "<i>fresh</i> paint"
	price := int64(9000)
	listing, err := fx.service.UpdateContent(context.Background(), UpdateListingCommand{
		UserID:      "usr_1",
		ListingID:   "lst_1",
		Description: &desc,
		Price:       &price,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listing.Description != "fresh paint" {
		t.Fatalf("expected sanitized description, got %q", listing.Description)
	}
	if listing.Price != 9000 {
		t.Fatalf("expected price updated, got %d", listing.Price)
	}
	if listing.Title != "Road bike" {
		t.Fatalf("untouched fields must survive, got %q", listing.Title)
	}
}

func TestListingServiceHideAndMarkSold(t *testing.T) {
	active := draftListing("lst_1", testImage())
	active.Status = domain.ListingStatusActive
	fx := newListingFixture(t, active)

	hidden, err := fx.service.Hide(context.Background(), "usr_1", "lst_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hidden.Status != domain.ListingStatusHidden {
		t.Fatalf("expected hidden, got %s", hidden.Status)
	}

	// Sold requires active; a hidden listing cannot be sold directly.
	if _, err := fx.service.MarkSold(context.Background(), "usr_1", "lst_1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestListingServiceExpireDueSweepsLapsedOnly(t *testing.T) {
	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	lapsed := draftListing("lst_1", testImage())
	lapsed.Status = domain.ListingStatusActive
	lapsedAt := now.Add(-time.Hour)
	lapsed.ExpiresAt = &lapsedAt

	running := draftListing("lst_2", testImage())
	running.Status = domain.ListingStatusActive
	runningAt := now.Add(time.Hour)
	running.ExpiresAt = &runningAt

	fx := newListingFixture(t, lapsed, running)

	count, err := fx.service.ExpireDue(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one expiry, got %d", count)
	}
	if fx.listings.listings["lst_1"].Status != domain.ListingStatusExpired {
		t.Fatalf("expected lst_1 expired")
	}
	if fx.listings.listings["lst_2"].Status != domain.ListingStatusActive {
		t.Fatalf("expected lst_2 untouched")
	}

	if len(fx.notifier.sent) != 1 {
		t.Fatalf("expected one expiry notification, got %d", len(fx.notifier.sent))
	}
	if fx.notifier.sent[0].Kind != NotificationListingExpired {
		t.Fatalf("unexpected notification kind %q", fx.notifier.sent[0].Kind)
	}
}

func TestListingServiceRecordViewCountsPerListing(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_1", testImage()))

	for i := 0; i < 3; i++ {
		if _, err := fx.service.RecordView(context.Background(), "lst_1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	count, err := fx.service.RecordView(context.Background(), "lst_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 views, got %d", count)
	}

	if _, err := fx.service.RecordView(context.Background(), "lst_missing"); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}

func TestListingServiceFavoritesRoundTrip(t *testing.T) {
	fx := newListingFixture(t, draftListing("lst_1", testImage()))

	if err := fx.service.AddFavorite(context.Background(), "usr_1", "lst_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	favorites, err := fx.service.ListFavorites(context.Background(), "usr_1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(favorites) != 1 || favorites[0] != "lst_1" {
		t.Fatalf("unexpected favorites %v", favorites)
	}

	if err := fx.service.RemoveFavorite(context.Background(), "usr_1", "lst_1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	favorites, err = fx.service.ListFavorites(context.Background(), "usr_1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(favorites) != 0 {
		t.Fatalf("expected empty favorites, got %v", favorites)
	}

	if err := fx.service.AddFavorite(context.Background(), "usr_1", "lst_missing"); !errors.Is(err, ErrListingNotFound) {
		t.Fatalf("expected ErrListingNotFound, got %v", err)
	}
}
