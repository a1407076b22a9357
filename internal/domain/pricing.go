package domain

import (
	"sort"
	"time"
)

// PromotionTier describes a purchasable visibility boost.
type PromotionTier struct {
	Type     string
	Title    string
	Price    int64
	Currency string
	Duration time.Duration
}

// PackageOption describes a purchasable bundle of listing credits.
type PackageOption struct {
	Type     string
	Title    string
	Credits  int64
	Price    int64
	Currency string
	// Validity bounds how long purchased credits remain usable; zero means
	// they never expire.
	Validity time.Duration
}

// Static price tables. Pure lookups, no state; amounts are minor units.
var (
	promotionTiers = map[string]PromotionTier{
		"highlight": {Type: "highlight", Title: "Highlighted", Price: 150, Currency: "EUR", Duration: 7 * 24 * time.Hour},
		"top":       {Type: "top", Title: "Top of category", Price: 300, Currency: "EUR", Duration: 7 * 24 * time.Hour},
		"vip":       {Type: "vip", Title: "VIP", Price: 500, Currency: "EUR", Duration: 14 * 24 * time.Hour},
	}

	packageOptions = map[string]PackageOption{
		"pack_1":  {Type: "pack_1", Title: "Single listing", Credits: 1, Price: 200, Currency: "EUR"},
		"pack_5":  {Type: "pack_5", Title: "5 listings", Credits: 5, Price: 800, Currency: "EUR", Validity: 365 * 24 * time.Hour},
		"pack_10": {Type: "pack_10", Title: "10 listings", Credits: 10, Price: 1400, Currency: "EUR", Validity: 365 * 24 * time.Hour},
	}
)

// PromotionTierByType resolves a promotion tier from the static catalog.
func PromotionTierByType(tierType string) (PromotionTier, bool) {
	tier, ok := promotionTiers[tierType]
	return tier, ok
}

// PackageOptionByType resolves a credit package from the static catalog.
func PackageOptionByType(packageType string) (PackageOption, bool) {
	option, ok := packageOptions[packageType]
	return option, ok
}

// PromotionTiers returns the catalog ordered by price.
func PromotionTiers() []PromotionTier {
	out := make([]PromotionTier, 0, len(promotionTiers))
	for _, tier := range promotionTiers {
		out = append(out, tier)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// PackageOptions returns the catalog ordered by credit count.
func PackageOptions() []PackageOption {
	out := make([]PackageOption, 0, len(packageOptions))
	for _, option := range packageOptions {
		out = append(out, option)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credits < out[j].Credits })
	return out
}
