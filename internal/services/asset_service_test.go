package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/baraholka/api/internal/domain"
	"github.com/baraholka/api/internal/platform/retry"
)

type assetFixture struct {
	service  AssetService
	listings *stubListingRepo
	blobs    *stubBlobStore
	jobs     *stubJobDispatcher
	now      time.Time
}

func newAssetFixture(t *testing.T, deps AssetServiceDeps, seed ...domain.Listing) *assetFixture {
	t.Helper()
	now := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	listings := newStubListingRepo(seed...)
	blobs := newStubBlobStore()
	jobs := &stubJobDispatcher{}

	deps.Listings = listings
	deps.UnitOfWork = &stubUnitOfWork{}
	deps.Blobs = blobs
	deps.Jobs = jobs
	deps.Clock = fixedClock(now)
	deps.IDs = sequentialIDs()
	if deps.Retry == nil {
		policy := retry.NewPolicy(retry.WithAttempts(1))
		deps.Retry = &policy
	}
	if deps.BatchConcurrency == 0 {
		deps.BatchConcurrency = 1
	}

	service, err := NewAssetService(deps)
	if err != nil {
		t.Fatalf("unexpected error constructing asset service: %v", err)
	}
	return &assetFixture{service: service, listings: listings, blobs: blobs, jobs: jobs, now: now}
}

func jpegUpload(name string, size int) ImageUpload {
	return ImageUpload{Filename: name, ContentType: "image/jpeg", Data: bytes.Repeat([]byte{0xAB}, size)}
}

func TestAssetServiceAttachImagesStoresBatch(t *testing.T) {
	fx := newAssetFixture(t, AssetServiceDeps{}, draftListing("lst_1"))

	result, err := fx.service.AttachImages(context.Background(), AttachImagesCommand{
		UserID:    "usr_1",
		ListingID: "lst_1",
		Uploads:   []ImageUpload{jpegUpload("a.jpg", 10), jpegUpload("b.jpg", 20)},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Stored) != 2 || len(result.Failures) != 0 {
		t.Fatalf("expected both uploads stored, got %+v", result)
	}
	if len(result.Listing.Images) != 2 {
		t.Fatalf("expected refs appended to listing, got %d", len(result.Listing.Images))
	}
	if len(fx.blobs.objects) != 2 {
		t.Fatalf("expected two stored objects, got %d", len(fx.blobs.objects))
	}
	for _, ref := range result.Stored {
		if !strings.HasPrefix(ref.Path, "listings/lst_1/") || !strings.HasSuffix(ref.Path, ".jpg") {
			t.Fatalf("unexpected object path %q", ref.Path)
		}
		if ref.SizeBytes == 0 || ref.UploadedAt.IsZero() {
			t.Fatalf("incomplete ref %+v", ref)
		}
	}

	if len(fx.jobs.requests) != 1 {
		t.Fatalf("expected one optimize dispatch, got %d", len(fx.jobs.requests))
	}
	if fx.jobs.requests[0].ListingID != "lst_1" || len(fx.jobs.requests[0].Assets) != 2 {
		t.Fatalf("unexpected optimize request %+v", fx.jobs.requests[0])
	}
}

func TestAssetServiceAttachImagesPartialFailure(t *testing.T) {
	fx := newAssetFixture(t, AssetServiceDeps{MaxImageSizeBytes: 100}, draftListing("lst_1"))

	result, err := fx.service.AttachImages(context.Background(), AttachImagesCommand{
		UserID:    "usr_1",
		ListingID: "lst_1",
		Uploads: []ImageUpload{
			jpegUpload("big.jpg", 200),
			{Filename: "doc.pdf", ContentType: "application/pdf", Data: []byte("pdf")},
			jpegUpload("ok.jpg", 50),
		},
	})
	if err != nil {
		t.Fatalf("partial success must not fail the batch, got %v", err)
	}
	if len(result.Stored) != 1 {
		t.Fatalf("expected one stored upload, got %d", len(result.Stored))
	}
	if len(result.Failures) != 2 {
		t.Fatalf("expected two failures, got %+v", result.Failures)
	}
	byIndex := map[int]string{}
	for _, failure := range result.Failures {
		byIndex[failure.Index] = failure.Reason
	}
	if !strings.Contains(byIndex[0], ErrImageTooLarge.Error()) {
		t.Fatalf("expected size failure for index 0, got %q", byIndex[0])
	}
	if !strings.Contains(byIndex[1], ErrUnsupportedImageType.Error()) {
		t.Fatalf("expected type failure for index 1, got %q", byIndex[1])
	}
}

func TestAssetServiceAttachImagesAllFailed(t *testing.T) {
	fx := newAssetFixture(t, AssetServiceDeps{}, draftListing("lst_1"))

	result, err := fx.service.AttachImages(context.Background(), AttachImagesCommand{
		UserID:    "usr_1",
		ListingID: "lst_1",
		Uploads:   []ImageUpload{{Filename: "doc.pdf", ContentType: "application/pdf", Data: []byte("pdf")}},
	})
	if !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("expected ErrStorageWrite when nothing stored, got %v", err)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected failure detail, got %+v", result)
	}
	if len(fx.listings.listings["lst_1"].Images) != 0 {
		t.Fatalf("failed batch must not touch the listing")
	}
}

func TestAssetServiceAttachImagesEmptyBatch(t *testing.T) {
	fx := newAssetFixture(t, AssetServiceDeps{}, draftListing("lst_1"))
	_, err := fx.service.AttachImages(context.Background(), AttachImagesCommand{UserID: "usr_1", ListingID: "lst_1"})
	if !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("expected ErrStorageWrite for empty batch, got %v", err)
	}
}

func TestAssetServiceAttachImagesStatusGate(t *testing.T) {
	pending := draftListing("lst_1")
	pending.Status = domain.ListingStatusPendingModeration
	fx := newAssetFixture(t, AssetServiceDeps{}, pending)

	_, err := fx.service.AttachImages(context.Background(), AttachImagesCommand{
		UserID:    "usr_1",
		ListingID: "lst_1",
		Uploads:   []ImageUpload{jpegUpload("a.jpg", 10)},
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition while pending, got %v", err)
	}
}

func TestAssetServiceAttachImagesOwnership(t *testing.T) {
	fx := newAssetFixture(t, AssetServiceDeps{}, draftListing("lst_1"))
	_, err := fx.service.AttachImages(context.Background(), AttachImagesCommand{
		UserID:    "usr_2",
		ListingID: "lst_1",
		Uploads:   []ImageUpload{jpegUpload("a.jpg", 10)},
	})
	if !errors.Is(err, ErrNotListingOwner) {
		t.Fatalf("expected ErrNotListingOwner, got %v", err)
	}
}

func TestAssetServiceWriteRetriesUntilSuccess(t *testing.T) {
	policy := retry.NewPolicy(
		retry.WithAttempts(3),
		retry.WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	fx := newAssetFixture(t, AssetServiceDeps{Retry: &policy}, draftListing("lst_1"))

	attempts := 0
	fx.blobs.writeErr = func(path string) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient write failure")
		}
		return nil
	}

	result, err := fx.service.AttachImages(context.Background(), AttachImagesCommand{
		UserID:    "usr_1",
		ListingID: "lst_1",
		Uploads:   []ImageUpload{jpegUpload("a.jpg", 10)},
	})
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if len(result.Stored) != 1 {
		t.Fatalf("expected upload stored on third attempt, got %+v", result)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestAssetServiceWriteExhaustsRetries(t *testing.T) {
	policy := retry.NewPolicy(
		retry.WithAttempts(2),
		retry.WithSleeper(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	fx := newAssetFixture(t, AssetServiceDeps{Retry: &policy}, draftListing("lst_1"))
	fx.blobs.writeErr = func(path string) error { return errors.New("bucket gone") }

	result, err := fx.service.AttachImages(context.Background(), AttachImagesCommand{
		UserID:    "usr_1",
		ListingID: "lst_1",
		Uploads:   []ImageUpload{jpegUpload("a.jpg", 10)},
	})
	if !errors.Is(err, ErrStorageWrite) {
		t.Fatalf("expected ErrStorageWrite after exhausted retries, got %v", err)
	}
	if len(result.Failures) != 1 || !strings.Contains(result.Failures[0].Reason, "bucket gone") {
		t.Fatalf("expected write failure detail, got %+v", result.Failures)
	}
}

func TestAssetServiceRemoveImageDeletesObjects(t *testing.T) {
	ref := domain.AssetRef{ID: "ast_1", Path: "listings/lst_1/ast_1.jpg", ContentType: "image/jpeg"}
	keep := domain.AssetRef{ID: "ast_2", Path: "listings/lst_1/ast_2.jpg", ContentType: "image/jpeg"}
	fx := newAssetFixture(t, AssetServiceDeps{}, draftListing("lst_1", ref, keep))
	fx.blobs.objects[ref.Path] = []byte("img")

	listing, err := fx.service.RemoveImage(context.Background(), "usr_1", "lst_1", "ast_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listing.Images) != 1 || listing.Images[0].ID != "ast_2" {
		t.Fatalf("expected only ast_2 kept, got %+v", listing.Images)
	}

	wantDeleted := map[string]bool{
		"listings/lst_1/ast_1.jpg":     false,
		"listings/lst_1/ast_1_opt.jpg": false,
	}
	for _, path := range fx.blobs.deleted {
		if _, ok := wantDeleted[path]; ok {
			wantDeleted[path] = true
		}
	}
	for path, seen := range wantDeleted {
		if !seen {
			t.Fatalf("expected %q deleted, got %v", path, fx.blobs.deleted)
		}
	}
}

func TestAssetServiceRemoveImageMissingAsset(t *testing.T) {
	ref := domain.AssetRef{ID: "ast_1", Path: "listings/lst_1/ast_1.jpg", ContentType: "image/jpeg"}
	fx := newAssetFixture(t, AssetServiceDeps{}, draftListing("lst_1", ref))

	listing, err := fx.service.RemoveImage(context.Background(), "usr_1", "lst_1", "ast_unknown")
	if err != nil {
		t.Fatalf("removing an unknown asset is not an error, got %v", err)
	}
	if len(listing.Images) != 1 {
		t.Fatalf("expected listing untouched, got %+v", listing.Images)
	}
	if len(fx.blobs.deleted) != 0 {
		t.Fatalf("expected no deletions, got %v", fx.blobs.deleted)
	}
}

func TestAssetServiceDeleteAssetsUsesRecordedOptimizedPath(t *testing.T) {
	fx := newAssetFixture(t, AssetServiceDeps{})
	refs := []AssetRef{{
		ID:            "ast_1",
		Path:          "listings/lst_1/ast_1.webp",
		OptimizedPath: "listings/lst_1/custom_rendition.webp",
	}}
	if err := fx.service.DeleteAssets(context.Background(), refs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fx.blobs.deleted) != 2 || fx.blobs.deleted[1] != "listings/lst_1/custom_rendition.webp" {
		t.Fatalf("expected recorded rendition path deleted, got %v", fx.blobs.deleted)
	}
}

func TestAssetServiceRecordOptimized(t *testing.T) {
	ref := domain.AssetRef{ID: "ast_1", Path: "listings/lst_1/ast_1.jpg", ContentType: "image/jpeg"}
	fx := newAssetFixture(t, AssetServiceDeps{}, draftListing("lst_1", ref))

	if err := fx.service.RecordOptimized(context.Background(), "lst_1", "ast_1", "listings/lst_1/ast_1_opt.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := fx.listings.listings["lst_1"].Images[0]
	if got.OptimizedPath != "listings/lst_1/ast_1_opt.jpg" {
		t.Fatalf("expected rendition recorded, got %q", got.OptimizedPath)
	}

	// The listing or the asset may be gone by the time the worker reports.
	if err := fx.service.RecordOptimized(context.Background(), "lst_missing", "ast_1", "x"); err != nil {
		t.Fatalf("missing listing is not an error, got %v", err)
	}
	if err := fx.service.RecordOptimized(context.Background(), "lst_1", "ast_missing", "x"); err != nil {
		t.Fatalf("missing asset is not an error, got %v", err)
	}
}
