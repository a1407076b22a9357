package storage

import (
	"fmt"
	"strings"
)

const optimizedSuffix = "_opt"

// ListingImagePath builds the canonical object path for a listing image original.
func ListingImagePath(listingID, assetID, contentType string) string {
	return fmt.Sprintf("listings/%s/%s%s", strings.TrimSpace(listingID), strings.TrimSpace(assetID), extensionFor(contentType))
}

// OptimizedPath derives the rendition path from an original object path.
func OptimizedPath(originalPath string) string {
	trimmed := strings.TrimSpace(originalPath)
	if trimmed == "" {
		return ""
	}
	if idx := strings.LastIndex(trimmed, "."); idx > strings.LastIndex(trimmed, "/") {
		return trimmed[:idx] + optimizedSuffix + trimmed[idx:]
	}
	return trimmed + optimizedSuffix
}

func extensionFor(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
