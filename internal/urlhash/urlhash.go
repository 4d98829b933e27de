// Package urlhash derives stable content-addressed identifiers for page URLs.
package urlhash

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyLength is the number of hex characters kept from the digest. Screenshot
// files are namespaced per deployment, so 16 characters is plenty for the
// per-site page cardinality this system handles.
const KeyLength = 16

// Key returns the truncated SHA-256 digest of a URL as a hex string.
func Key(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:KeyLength]
}

// ThumbFile returns the thumbnail file name for a URL.
func ThumbFile(url string) string {
	return Key(url) + ".jpg"
}

// FullFile returns the full-page screenshot file name for a URL.
func FullFile(url string) string {
	return Key(url) + "_full.jpg"
}
