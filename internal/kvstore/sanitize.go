package kvstore

import "strings"

// DirSuffixMarker replaces a trailing path separator in keys sent to
// backends whose native key space cannot represent one (object stores
// treat "a/" and "a" as the same listing prefix). The marker is reserved:
// the engine never produces keys containing it.
const DirSuffixMarker = "%2F"

// SanitizeKey rewrites a key ending in "/" so it is representable by any
// backend. Keys without a trailing separator pass through unchanged.
func SanitizeKey(key string) string {
	if strings.HasSuffix(key, "/") {
		return strings.TrimSuffix(key, "/") + DirSuffixMarker
	}
	return key
}

// DesanitizeKey is the inverse of SanitizeKey.
func DesanitizeKey(key string) string {
	if strings.HasSuffix(key, DirSuffixMarker) {
		return strings.TrimSuffix(key, DirSuffixMarker) + "/"
	}
	return key
}
