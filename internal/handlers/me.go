package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/baraholka/api/internal/domain"
	"github.com/baraholka/api/internal/platform/httpx"
	"github.com/baraholka/api/internal/services"
)

const defaultPageLimit = 50

// MeHandlers exposes the authenticated user's account, ledger, and favorites.
type MeHandlers struct {
	ledger   services.LedgerService
	listings services.ListingService
}

// NewMeHandlers constructs handlers for the /me group.
func NewMeHandlers(ledger services.LedgerService, listings services.ListingService) *MeHandlers {
	return &MeHandlers{ledger: ledger, listings: listings}
}

// Routes wires the user scoped endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getAccount)
	r.Get("/listings", h.listListings)
	r.Get("/transactions", h.listTransactions)
	r.Get("/packages", h.listPackages)
	r.Post("/packages", h.buyPackage)
	r.Get("/packages/catalog", h.packageCatalog)
	r.Get("/favorites", h.listFavorites)
	r.Put("/favorites/{listingID}", h.addFavorite)
	r.Delete("/favorites/{listingID}", h.removeFavorite)
}

type accountPayload struct {
	ID                 string `json:"id"`
	TelegramID         int64  `json:"telegramId"`
	Balance            int64  `json:"balance"`
	Currency           string `json:"currency"`
	PackageBalance     int64  `json:"packageBalance"`
	HasUsedFreeListing bool   `json:"hasUsedFreeListing"`
}

func (h *MeHandlers) getAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}

	// First contact creates the account.
	telegramID, err := strconv.ParseInt(strings.TrimPrefix(userID, "usr_"), 10, 64)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	user, err := h.ledger.EnsureAccount(ctx, telegramID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, accountPayload{
		ID:                 user.ID,
		TelegramID:         user.TelegramID,
		Balance:            user.Balance,
		Currency:           user.Currency,
		PackageBalance:     user.PackageBalance,
		HasUsedFreeListing: user.HasUsedFreeListing,
	})
}

func (h *MeHandlers) listListings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}
	listings, err := h.listings.ListByUser(ctx, userID, pageLimit(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]listingPayload, 0, len(listings))
	for _, listing := range listings {
		payload = append(payload, buildListingPayload(listing))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"listings": payload})
}

type transactionPayload struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Direction string            `json:"direction"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Kind      string            `json:"kind"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (h *MeHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}
	transactions, err := h.ledger.ListTransactions(ctx, userID, pageLimit(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]transactionPayload, 0, len(transactions))
	for _, txn := range transactions {
		payload = append(payload, transactionPayload{
			ID:        txn.ID,
			Type:      string(txn.Type),
			Direction: string(txn.Direction),
			Amount:    txn.Amount,
			Currency:  txn.Currency,
			Kind:      string(txn.Kind),
			Reason:    txn.Reason,
			Metadata:  txn.Metadata,
			CreatedAt: txn.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"transactions": payload})
}

type packagePurchasePayload struct {
	ID            string     `json:"id"`
	PackageType   string     `json:"packageType"`
	Credits       int64      `json:"credits"`
	Price         int64      `json:"price"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"paymentMethod"`
	PurchasedAt   time.Time  `json:"purchasedAt"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

func (h *MeHandlers) listPackages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}
	purchases, err := h.ledger.ListPackagePurchases(ctx, userID, pageLimit(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]packagePurchasePayload, 0, len(purchases))
	for _, purchase := range purchases {
		payload = append(payload, packagePurchasePayload{
			ID:            purchase.ID,
			PackageType:   purchase.PackageType,
			Credits:       purchase.Credits,
			Price:         purchase.Price,
			Currency:      purchase.Currency,
			PaymentMethod: purchase.PaymentMethod,
			PurchasedAt:   purchase.PurchasedAt,
			ExpiresAt:     purchase.ExpiresAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"purchases": payload})
}

func (h *MeHandlers) packageCatalog(w http.ResponseWriter, r *http.Request) {
	options := make([]map[string]any, 0)
	for _, option := range domain.PackageOptions() {
		options = append(options, map[string]any{
			"type":     option.Type,
			"title":    option.Title,
			"credits":  option.Credits,
			"price":    option.Price,
			"currency": option.Currency,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"packages": options})
}

type buyPackageRequest struct {
	PackageType string `json:"packageType"`
	// PaymentMethod is "balance" (default) or "invoice". Invoice purchases
	// mint a checkout URL; credits land on the provider callback.
	PaymentMethod string `json:"paymentMethod"`
}

func (h *MeHandlers) buyPackage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}

	var req buyPackageRequest
	if !decodeJSONBody(ctx, w, r, maxListingBodySize, &req) {
		return
	}

	switch req.PaymentMethod {
	case "", services.PaymentMethodBalance:
	case services.PaymentMethodInvoice:
		invoice, err := h.ledger.RequestPackageInvoice(ctx, userID, req.PackageType)
		if err != nil {
			writeServiceError(ctx, w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]any{
			"invoiceId":   invoice.ID,
			"checkoutUrl": invoice.CheckoutURL,
		})
		return
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "paymentMethod must be balance or invoice", http.StatusBadRequest))
		return
	}

	purchase, err := h.ledger.CreditPackage(ctx, services.CreditPackageCommand{
		UserID:        userID,
		PackageType:   req.PackageType,
		PaymentMethod: services.PaymentMethodBalance,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, packagePurchasePayload{
		ID:            purchase.ID,
		PackageType:   purchase.PackageType,
		Credits:       purchase.Credits,
		Price:         purchase.Price,
		Currency:      purchase.Currency,
		PaymentMethod: purchase.PaymentMethod,
		PurchasedAt:   purchase.PurchasedAt,
		ExpiresAt:     purchase.ExpiresAt,
	})
}

func (h *MeHandlers) listFavorites(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}
	favorites, err := h.listings.ListFavorites(ctx, userID, pageLimit(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"favorites": favorites})
}

func (h *MeHandlers) addFavorite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}
	if err := h.listings.AddFavorite(ctx, userID, chi.URLParam(r, "listingID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) removeFavorite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := authedUser(ctx, w)
	if !ok {
		return
	}
	if err := h.listings.RemoveFavorite(ctx, userID, chi.URLParam(r, "listingID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pageLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultPageLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 200 {
		return defaultPageLimit
	}
	return limit
}
