package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	webAppSecretSeed = "WebAppData"
	defaultClockSkew = 24 * time.Hour
)

var (
	// ErrInitDataInvalid indicates the init data payload failed validation.
	ErrInitDataInvalid = errors.New("auth: init data invalid")
	// ErrInitDataExpired indicates the auth_date is outside the accepted window.
	ErrInitDataExpired = errors.New("auth: init data expired")
)

// Identity describes the authenticated Telegram user extracted from init data.
type Identity struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	AuthDate   time.Time
}

// InitDataVerifier validates Telegram Mini App init data signatures.
type InitDataVerifier struct {
	secretKey []byte
	clockSkew time.Duration
	now       func() time.Time
}

// VerifierOption customises the verifier.
type VerifierOption func(*InitDataVerifier)

// WithClockSkew bounds how old the auth_date may be.
func WithClockSkew(skew time.Duration) VerifierOption {
	return func(v *InitDataVerifier) {
		if skew > 0 {
			v.clockSkew = skew
		}
	}
}

// WithClock injects a custom clock, used by tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *InitDataVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewInitDataVerifier derives the verification key from the bot token per the
// Telegram Web App signing scheme.
func NewInitDataVerifier(botToken string, opts ...VerifierOption) (*InitDataVerifier, error) {
	botToken = strings.TrimSpace(botToken)
	if botToken == "" {
		return nil, errors.New("auth: bot token is required")
	}

	mac := hmac.New(sha256.New, []byte(webAppSecretSeed))
	mac.Write([]byte(botToken))

	v := &InitDataVerifier{
		secretKey: mac.Sum(nil),
		clockSkew: defaultClockSkew,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// Verify checks the signature and freshness of the raw init data query string
// and returns the embedded user identity.
func (v *InitDataVerifier) Verify(initData string) (*Identity, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed query", ErrInitDataInvalid)
	}

	providedHash := values.Get("hash")
	if providedHash == "" {
		return nil, fmt.Errorf("%w: hash missing", ErrInitDataInvalid)
	}

	pairs := make([]string, 0, len(values))
	for key := range values {
		if key == "hash" {
			continue
		}
		pairs = append(pairs, key+"="+values.Get(key))
	}
	sort.Strings(pairs)

	mac := hmac.New(sha256.New, v.secretKey)
	mac.Write([]byte(strings.Join(pairs, "\n")))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(providedHash)) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInitDataInvalid)
	}

	authUnix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: auth_date missing", ErrInitDataInvalid)
	}
	authDate := time.Unix(authUnix, 0)
	if v.now().Sub(authDate) > v.clockSkew {
		return nil, ErrInitDataExpired
	}

	var payload struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	if raw := values.Get("user"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return nil, fmt.Errorf("%w: user payload malformed", ErrInitDataInvalid)
		}
	}
	if payload.ID == 0 {
		return nil, fmt.Errorf("%w: user id missing", ErrInitDataInvalid)
	}

	return &Identity{
		TelegramID: payload.ID,
		Username:   payload.Username,
		FirstName:  payload.FirstName,
		LastName:   payload.LastName,
		AuthDate:   authDate,
	}, nil
}
