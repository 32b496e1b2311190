// Package fingerprint derives stable identities for listed photos from
// their thumbnail references. The fingerprint is the content-identifying
// base file name of the thumbnail: the same photo keeps the same thumbnail
// file name across cycles regardless of its position in the list, so the
// name works as a dedup key where position cannot.
package fingerprint

import (
	"fmt"
	"strings"
	"time"
)

// FallbackPrefix marks fingerprints generated without a usable thumbnail
// reference. Such identities are not stable across cycles.
const FallbackPrefix = "fallback_"

// cdnSuffixSeparator delimits CDN processing suffixes appended to the base
// file name, e.g. "1060536x354blur2.jpg~tplv-.../wst/3:480:1000:gif.avif".
// Everything from the separator on is a rendering variant, not identity.
const cdnSuffixSeparator = "~"

// Extract derives a fingerprint from a thumbnail reference.
//
// It normalizes protocol-relative references, strips query parameters and
// CDN variant suffixes, and returns the final path segment. It never fails:
// an empty or malformed reference yields a clock-and-seed fallback
// fingerprint with degraded=true, which the caller must surface as a
// warning since such items cannot be deduplicated across cycles.
func Extract(thumbnailRef string, fallbackSeed int) (fp string, degraded bool) {
	base := baseName(thumbnailRef)
	if base == "" {
		return fallback(fallbackSeed), true
	}
	return base, false
}

// ResolvedName extracts the destination file name from a full-resolution
// reference, applying the same query and CDN suffix stripping as Extract.
// Returns "" when no name can be derived.
func ResolvedName(fullRef string) string {
	return baseName(fullRef)
}

// NormalizeRef upgrades protocol-relative references ("//host/...") to
// absolute https form. Other references pass through unchanged.
func NormalizeRef(ref string) string {
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	return ref
}

// IsDegraded reports whether a fingerprint was generated by the fallback
// path rather than derived from a thumbnail reference.
func IsDegraded(fp string) bool {
	return strings.HasPrefix(fp, FallbackPrefix)
}

// baseName returns the content-identifying final path segment of ref, or
// "" when the reference is unusable.
func baseName(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}

	ref = NormalizeRef(ref)

	// Strip query parameters.
	if i := strings.IndexByte(ref, '?'); i >= 0 {
		ref = ref[:i]
	}

	// Strip the CDN suffix before taking the last segment: the suffix may
	// itself contain slashes, which would otherwise win the split.
	if i := strings.Index(ref, cdnSuffixSeparator); i >= 0 {
		ref = ref[:i]
	}

	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}

	return ref
}

func fallback(seed int) string {
	return fmt.Sprintf("%s%d_%d", FallbackPrefix, time.Now().UnixMilli(), seed)
}
