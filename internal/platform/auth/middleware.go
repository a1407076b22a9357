package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/baraholka/api/internal/platform/httpx"
	"github.com/baraholka/api/internal/platform/requestctx"
)

const (
	initDataHeader  = "X-Telegram-Init-Data"
	signatureHeader = "X-Webhook-Signature"
)

// RequireInitData verifies the Telegram init data header on user-facing
// routes and stores the marketplace user id on the request context. The user
// id is the Telegram id rendered as usr_<id>.
func RequireInitData(verifier *InitDataVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(initDataHeader))
			if raw == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "init data is required", http.StatusUnauthorized))
				return
			}

			identity, err := verifier.Verify(raw)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "init data rejected", http.StatusUnauthorized))
				return
			}

			ctx := requestctx.WithUserID(r.Context(), UserIDFor(identity.TelegramID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFor maps a Telegram account to its marketplace user document id.
func UserIDFor(telegramID int64) string {
	return fmt.Sprintf("usr_%d", telegramID)
}

// RequireWebhookSignature verifies the shared-secret HMAC on webhook routes
// (moderation decisions, payment callbacks). The signature covers the raw body.
func RequireWebhookSignature(secret string) func(http.Handler) http.Handler {
	key := []byte(strings.TrimSpace(secret))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(key) == 0 {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "webhook secret not configured", http.StatusUnauthorized))
				return
			}

			provided := strings.TrimSpace(r.Header.Get(signatureHeader))
			if provided == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "signature is required", http.StatusUnauthorized))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "unable to read body", http.StatusBadRequest))
				return
			}
			r.Body = io.NopCloser(strings.NewReader(string(body)))

			mac := hmac.New(sha256.New, key)
			mac.Write(body)
			expected := hex.EncodeToString(mac.Sum(nil))

			if !hmac.Equal([]byte(expected), []byte(provided)) {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "signature rejected", http.StatusUnauthorized))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
