package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for content-addressed keys.
// Version suffix enables future algorithm migration.
const (
	DomainMetadata = "finder/metadata/v1"
)

// hashWithDomain computes SHA-256 over domain + 0x00 + each part, with a
// 0x00 between parts so that ("ab","c") and ("a","bc") never collide.
func hashWithDomain(domain string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write([]byte{0x00})
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MetadataKey computes the cache key of query metadata for one method and
// one rendered query text. The key is stable across processes.
func MetadataKey(methodID, queryText string) string {
	return hashWithDomain(DomainMetadata, methodID, queryText)
}
