// Package cache provides the content-addressed result cache that keeps the
// marker from paying twice for the same model work. Entries are keyed by a
// SHA-256 digest of the exact input bytes plus whatever context changes their
// meaning, and are persisted through a ports.CacheStore so a restarted
// process can serve them without calling a provider.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
)

// GuideKey returns the cache key for an uploaded marking guide.
func GuideKey(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ReportKey returns the cache key for a marked submission. Each field is
// length-prefixed so no two distinct (guide, student, file) triples can
// produce the same digest input.
func ReportKey(guideID, studentID string, data []byte) string {
	h := sha256.New()
	writeField(h, []byte(guideID))
	writeField(h, []byte(studentID))
	writeField(h, data)
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, field []byte) {
	var size [8]byte
	binary.BigEndian.PutUint64(size[:], uint64(len(field)))
	h.Write(size[:])
	h.Write(field)
}
