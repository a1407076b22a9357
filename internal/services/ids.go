package services

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// Entity id prefixes. IDs render as <prefix>_<ULID>.
const (
	idPrefixListing     = "lst"
	idPrefixTransaction = "txn"
	idPrefixPromotion   = "pro"
	idPrefixPackage     = "pkg"
	idPrefixAsset       = "ast"
	idPrefixDecision    = "dec"
)

// IDGenerator mints prefixed ids. Injected so tests produce stable values.
type IDGenerator func(prefix string) string

func defaultIDGenerator(prefix string) string {
	id := ulid.Make().String()
	if strings.TrimSpace(prefix) == "" {
		return id
	}
	return prefix + "_" + id
}
