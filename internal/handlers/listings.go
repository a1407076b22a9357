package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/baraholka/api/internal/platform/httpx"
	"github.com/baraholka/api/internal/platform/requestctx"
	"github.com/baraholka/api/internal/services"
)

const (
	maxListingBodySize = 32 * 1024
	maxUploadBodySize  = 64 * 1024 * 1024
)

// ListingHandlers exposes the listing lifecycle endpoints.
type ListingHandlers struct {
	listings services.ListingService
	assets   services.AssetService
}

// NewListingHandlers constructs handlers for the /listings group.
func NewListingHandlers(listings services.ListingService, assets services.AssetService) *ListingHandlers {
	return &ListingHandlers{listings: listings, assets: assets}
}

// Routes wires the listing endpoints onto the provided router.
func (h *ListingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createDraft)
	r.Get("/{listingID}", h.getListing)
	r.Patch("/{listingID}", h.updateContent)
	r.Post("/{listingID}/submit", h.submit)
	r.Post("/{listingID}/hide", h.hide)
	r.Post("/{listingID}/reactivate", h.reactivate)
	r.Post("/{listingID}/sold", h.markSold)
	r.Post("/{listingID}/view", h.recordView)
	r.Post("/{listingID}/images", h.uploadImages)
	r.Delete("/{listingID}/images/{assetID}", h.removeImage)
}

type listingImagePayload struct {
	ID            string `json:"id"`
	Path          string `json:"path"`
	OptimizedPath string `json:"optimizedPath,omitempty"`
	ContentType   string `json:"contentType"`
	SizeBytes     int64  `json:"sizeBytes"`
}

type listingPayload struct {
	ID              string                `json:"id"`
	UserID          string                `json:"userId"`
	Title           string                `json:"title"`
	Description     string                `json:"description,omitempty"`
	Price           int64                 `json:"price"`
	Currency        string                `json:"currency"`
	Category        string                `json:"category,omitempty"`
	Location        string                `json:"location,omitempty"`
	Condition       string                `json:"condition,omitempty"`
	Images          []listingImagePayload `json:"images"`
	Status          string                `json:"status"`
	RejectionReason *string               `json:"rejectionReason,omitempty"`
	PromotionType   *string               `json:"promotionType,omitempty"`
	PromotionEnds   *time.Time            `json:"promotionEnds,omitempty"`
	PublishedAt     *time.Time            `json:"publishedAt,omitempty"`
	ExpiresAt       *time.Time            `json:"expiresAt,omitempty"`
	CreatedAt       time.Time             `json:"createdAt"`
	UpdatedAt       time.Time             `json:"updatedAt"`
}

func buildListingPayload(listing services.Listing) listingPayload {
	images := make([]listingImagePayload, 0, len(listing.Images))
	for _, img := range listing.Images {
		images = append(images, listingImagePayload{
			ID:            img.ID,
			Path:          img.Path,
			OptimizedPath: img.OptimizedPath,
			ContentType:   img.ContentType,
			SizeBytes:     img.SizeBytes,
		})
	}
	return listingPayload{
		ID:              listing.ID,
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
		PromotionType:   listing.PromotionType,
		PromotionEnds:   listing.PromotionEnds,
		PublishedAt:     listing.PublishedAt,
		ExpiresAt:       listing.ExpiresAt,
		CreatedAt:       listing.CreatedAt,
		UpdatedAt:       listing.UpdatedAt,
	}
}

type createListingRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Currency    string `json:"currency"`
	Category    string `json:"category"`
	Location    string `json:"location"`
	Condition   string `json:"condition"`
}

func (h *ListingHandlers) createDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}

	var req createListingRequest
	if !decodeJSONBody(ctx, w, r, maxListingBodySize, &req) {
		return
	}

	listing, err := h.listings.CreateDraft(ctx, services.CreateListingCommand{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Currency:    req.Currency,
		Category:    req.Category,
		Location:    req.Location,
		Condition:   req.Condition,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, buildListingPayload(listing))
}

func (h *ListingHandlers) getListing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	listing, err := h.listings.GetListing(ctx, chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildListingPayload(listing))
}

type updateListingRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Price       *int64  `json:"price"`
	Category    *string `json:"category"`
	Location    *string `json:"location"`
	Condition   *string `json:"condition"`
}

func (h *ListingHandlers) updateContent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}

	var req updateListingRequest
	if !decodeJSONBody(ctx, w, r, maxListingBodySize, &req) {
		return
	}

	listing, err := h.listings.UpdateContent(ctx, services.UpdateListingCommand{
		UserID:      userID,
		ListingID:   chi.URLParam(r, "listingID"),
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Category:    req.Category,
		Location:    req.Location,
		Condition:   req.Condition,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildListingPayload(listing))
}

func (h *ListingHandlers) submit(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.listings.Submit)
}

func (h *ListingHandlers) hide(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.listings.Hide)
}

func (h *ListingHandlers) reactivate(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.listings.Reactivate)
}

func (h *ListingHandlers) markSold(w http.ResponseWriter, r *http.Request) {
	h.runTransition(w, r, h.listings.MarkSold)
}

func (h *ListingHandlers) runTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userID, listingID string) (services.Listing, error)) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}
	listing, err := op(ctx, userID, chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildListingPayload(listing))
}

func (h *ListingHandlers) recordView(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	views, err := h.listings.RecordView(ctx, chi.URLParam(r, "listingID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int64{"views": views})
}

type uploadFailurePayload struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type uploadImagesResponse struct {
	Listing  listingPayload         `json:"listing"`
	Stored   []listingImagePayload  `json:"stored"`
	Failures []uploadFailurePayload `json:"failures,omitempty"`
}

func (h *ListingHandlers) uploadImages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
	if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "multipart form expected", http.StatusBadRequest))
		return
	}
	form := r.MultipartForm
	if form == nil || len(form.File["images"]) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "at least one image part named 'images' is required", http.StatusBadRequest))
		return
	}

	uploads := make([]services.ImageUpload, 0, len(form.File["images"]))
	for _, header := range form.File["images"] {
		file, err := header.Open()
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read uploaded file", http.StatusBadRequest))
			return
		}
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read uploaded file", http.StatusBadRequest))
			return
		}
		uploads = append(uploads, services.ImageUpload{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	result, err := h.assets.AttachImages(ctx, services.AttachImagesCommand{
		UserID:    userID,
		ListingID: chi.URLParam(r, "listingID"),
		Uploads:   uploads,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	resp := uploadImagesResponse{Listing: buildListingPayload(result.Listing)}
	for _, ref := range result.Stored {
		resp.Stored = append(resp.Stored, listingImagePayload{
			ID:          ref.ID,
			Path:        ref.Path,
			ContentType: ref.ContentType,
			SizeBytes:   ref.SizeBytes,
		})
	}
	for _, failure := range result.Failures {
		resp.Failures = append(resp.Failures, uploadFailurePayload{Index: failure.Index, Reason: failure.Reason})
	}

	status := http.StatusCreated
	if len(resp.Failures) > 0 {
		// Partial success still stores what it can.
		status = http.StatusMultiStatus
	}
	httpx.WriteJSON(w, status, resp)
}

func (h *ListingHandlers) removeImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}
	listing, err := h.assets.RemoveImage(ctx, userID, chi.URLParam(r, "listingID"), chi.URLParam(r, "assetID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildListingPayload(listing))
}

// authedUser pulls the authenticated user id placed on the context by the
// init data middleware.
func authedUser(ctx context.Context, w http.ResponseWriter) (string, bool) {
	userID := requestctx.UserID(ctx)
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return "", false
	}
	return userID, true
}

// decodeJSONBody reads and decodes a bounded JSON body, writing the error
// envelope on failure.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, target any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read body", http.StatusBadRequest))
		return false
	}
	if int64(len(body)) > limit {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body is not valid JSON", http.StatusBadRequest))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "body does not match the expected schema", http.StatusBadRequest))
		return false
	}
	return true
}
