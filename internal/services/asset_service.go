package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/baraholka/api/internal/domain"
	"github.com/baraholka/api/internal/platform/retry"
	"github.com/baraholka/api/internal/platform/storage"
	"github.com/baraholka/api/internal/repositories"
)

const (
	defaultMaxImageSize     = int64(10 * 1024 * 1024)
	defaultWriteTimeout     = 20 * time.Second
	defaultBatchConcurrency = 2
)

// BlobStore is the object storage contract the asset pipeline writes through.
type BlobStore interface {
	Write(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
}

// AssetServiceDeps bundles dependencies required to construct an AssetService implementation.
type AssetServiceDeps struct {
	Listings   repositories.ListingRepository
	UnitOfWork repositories.UnitOfWork
	Blobs      BlobStore
	Jobs       JobDispatcher
	// Retry bounds attempts per object write. Zero value uses the package
	// default policy.
	Retry *retry.Policy
	// MaxImageSizeBytes caps a single upload.
	MaxImageSizeBytes int64
	// WriteTimeout is the wall-clock budget per write attempt, independent
	// of the retry count.
	WriteTimeout time.Duration
	// BatchConcurrency bounds how many writes run at once.
	BatchConcurrency int
	Clock            Clock
	Logger           Logger
	IDs              IDGenerator
}

type assetService struct {
	listings    repositories.ListingRepository
	uow         repositories.UnitOfWork
	blobs       BlobStore
	jobs        JobDispatcher
	retry       retry.Policy
	maxSize     int64
	writeBudget time.Duration
	concurrency int
	clock       Clock
	log         Logger
	newID       IDGenerator
}

// NewAssetService wires an AssetService backed by the provided dependencies.
func NewAssetService(deps AssetServiceDeps) (AssetService, error) {
	if deps.Listings == nil || deps.UnitOfWork == nil {
		return nil, ErrRepositoriesMissing
	}
	if deps.Blobs == nil {
		return nil, ErrBlobStoreMissing
	}
	maxSize := deps.MaxImageSizeBytes
	if maxSize <= 0 {
		maxSize = defaultMaxImageSize
	}
	budget := deps.WriteTimeout
	if budget <= 0 {
		budget = defaultWriteTimeout
	}
	concurrency := deps.BatchConcurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	policy := retry.NewPolicy()
	if deps.Retry != nil {
		policy = *deps.Retry
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	log := deps.Logger
	if log == nil {
		log = func(context.Context, string, map[string]any) {}
	}
	ids := deps.IDs
	if ids == nil {
		ids = defaultIDGenerator
	}
	return &assetService{
		listings:    deps.Listings,
		uow:         deps.UnitOfWork,
		blobs:       deps.Blobs,
		jobs:        deps.Jobs,
		retry:       policy,
		maxSize:     maxSize,
		writeBudget: budget,
		concurrency: concurrency,
		clock:       func() time.Time { return clock().UTC() },
		log:         log,
		newID:       ids,
	}, nil
}

type uploadOutcome struct {
	ref    AssetRef
	stored bool
	reason string
}

// AttachImages validates the batch, writes originals with bounded retries two
// at a time, and appends whatever succeeded to the listing. Originals are the
// asset of record; optimized renditions are dispatched afterwards and never
// block the upload.
func (s *assetService) AttachImages(ctx context.Context, cmd AttachImagesCommand) (AttachImagesResult, error) {
	if len(cmd.Uploads) == 0 {
		return AttachImagesResult{}, ErrStorageWrite
	}

	listing, err := s.loadOwned(ctx, cmd.UserID, cmd.ListingID)
	if err != nil {
		return AttachImagesResult{}, err
	}
	switch listing.Status {
	case domain.ListingStatusDraft, domain.ListingStatusActive, domain.ListingStatusHidden:
	default:
		return AttachImagesResult{}, ErrInvalidTransition
	}

	outcomes := make([]uploadOutcome, len(cmd.Uploads))
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.concurrency)

	for i, upload := range cmd.Uploads {
		if reason := s.validate(upload); reason != "" {
			outcomes[i] = uploadOutcome{reason: reason}
			continue
		}

		wg.Add(1)
		go func(i int, upload ImageUpload) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = s.storeOriginal(ctx, cmd.ListingID, upload)
		}(i, upload)
	}
	wg.Wait()

	result := AttachImagesResult{}
	for i, outcome := range outcomes {
		if outcome.stored {
			result.Stored = append(result.Stored, outcome.ref)
			continue
		}
		result.Failures = append(result.Failures, UploadFailure{Index: i, Reason: outcome.reason})
	}
	if len(result.Stored) == 0 {
		// Some successes keep the batch alive; zero successes do not.
		return result, ErrStorageWrite
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.loadOwned(ctx, cmd.UserID, cmd.ListingID)
		if err != nil {
			return err
		}
		current.Images = append(current.Images, result.Stored...)
		current.UpdatedAt = s.clock()
		if err := s.listings.Save(ctx, current); err != nil {
			return err
		}
		result.Listing = current
		return nil
	})
	if err != nil {
		return AttachImagesResult{}, err
	}

	if s.jobs != nil {
		if err := s.jobs.DispatchAssetOptimize(ctx, AssetOptimizeRequest{
			ListingID: cmd.ListingID,
			Assets:    result.Stored,
		}); err != nil {
			s.log(ctx, "asset.optimize_dispatch_failed", map[string]any{
				"listing_id": cmd.ListingID,
				"error":      err.Error(),
			})
		}
	}

	s.log(ctx, "asset.batch_stored", map[string]any{
		"listing_id": cmd.ListingID,
		"stored":     len(result.Stored),
		"failed":     len(result.Failures),
	})
	return result, nil
}

func (s *assetService) validate(upload ImageUpload) string {
	if int64(len(upload.Data)) > s.maxSize {
		return ErrImageTooLarge.Error()
	}
	switch strings.ToLower(strings.TrimSpace(upload.ContentType)) {
	case "image/jpeg", "image/jpg", "image/png", "image/webp":
		return ""
	default:
		return ErrUnsupportedImageType.Error()
	}
}

// storeOriginal writes one object under the retry policy. Each attempt gets
// its own wall-clock budget so a stuck write cannot stall the batch.
func (s *assetService) storeOriginal(ctx context.Context, listingID string, upload ImageUpload) uploadOutcome {
	assetID := s.newID(idPrefixAsset)
	path := storage.ListingImagePath(listingID, assetID, upload.ContentType)

	err := s.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.writeBudget)
		defer cancel()
		if err := s.blobs.Write(attemptCtx, path, upload.Data, upload.ContentType); err != nil {
			s.log(ctx, "asset.write_retry", map[string]any{
				"path":    path,
				"attempt": attempt,
				"error":   err.Error(),
			})
			return err
		}
		return nil
	})
	if err != nil {
		return uploadOutcome{reason: fmt.Sprintf("%s: %v", ErrStorageWrite.Error(), err)}
	}

	return uploadOutcome{
		stored: true,
		ref: AssetRef{
			ID:          assetID,
			Path:        path,
			ContentType: upload.ContentType,
			SizeBytes:   int64(len(upload.Data)),
			UploadedAt:  s.clock(),
		},
	}
}

func (s *assetService) RemoveImage(ctx context.Context, userID, listingID, assetID string) (Listing, error) {
	var removed *AssetRef
	var updated Listing
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		listing, err := s.loadOwned(ctx, userID, listingID)
		if err != nil {
			return err
		}
		switch listing.Status {
		case domain.ListingStatusDraft, domain.ListingStatusActive, domain.ListingStatusHidden:
		default:
			return ErrInvalidTransition
		}

		kept := listing.Images[:0:0]
		for _, img := range listing.Images {
			if img.ID == assetID {
				ref := img
				removed = &ref
				continue
			}
			kept = append(kept, img)
		}
		if removed == nil {
			updated = listing
			return nil
		}
		listing.Images = kept
		listing.UpdatedAt = s.clock()
		if err := s.listings.Save(ctx, listing); err != nil {
			return err
		}
		updated = listing
		return nil
	})
	if err != nil {
		return Listing{}, err
	}

	if removed != nil {
		if err := s.DeleteAssets(ctx, []AssetRef{*removed}); err != nil {
			s.log(ctx, "asset.delete_failed", map[string]any{
				"listing_id": listingID,
				"asset_id":   assetID,
				"error":      err.Error(),
			})
		}
	}
	return updated, nil
}

// DeleteAssets removes the stored objects for the refs. Missing objects are
// not errors, so the rejection saga can retry.
func (s *assetService) DeleteAssets(ctx context.Context, refs []AssetRef) error {
	for _, ref := range refs {
		if err := s.blobs.Delete(ctx, ref.Path); err != nil {
			return err
		}
		optimized := ref.OptimizedPath
		if optimized == "" {
			optimized = storage.OptimizedPath(ref.Path)
		}
		if err := s.blobs.Delete(ctx, optimized); err != nil {
			return err
		}
	}
	return nil
}

// RecordOptimized attaches the derived rendition path. The asset may have been
// removed while the optimizer ran; that is not an error.
func (s *assetService) RecordOptimized(ctx context.Context, listingID, assetID, optimizedPath string) error {
	return s.uow.RunInTx(ctx, func(ctx context.Context) error {
		listing, err := s.listings.FindByID(ctx, listingID)
		if err != nil {
			if isRepoNotFound(err) {
				return nil
			}
			return err
		}

		found := false
		for i := range listing.Images {
			if listing.Images[i].ID == assetID {
				listing.Images[i].OptimizedPath = optimizedPath
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		listing.UpdatedAt = s.clock()
		return s.listings.Save(ctx, listing)
	})
}

func (s *assetService) loadOwned(ctx context.Context, userID, listingID string) (Listing, error) {
	listing, err := s.listings.FindByID(ctx, listingID)
	if err != nil {
		if isRepoNotFound(err) {
			return Listing{}, ErrListingNotFound
		}
		return Listing{}, err
	}
	if listing.UserID != userID {
		return Listing{}, ErrNotListingOwner
	}
	return listing, nil
}
