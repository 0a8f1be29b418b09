package core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// fingerprintPrefix bounds how much of each payload contributes to the
// fingerprint. A partial-content digest is sufficient for memoization; the
// payload lengths are mixed in to keep collisions between truncations rare.
const fingerprintPrefix = 64 * 1024

// PairFingerprint digests a (before, after) scene pair into a short cache key.
func PairFingerprint(before, after []byte) string {
	h := sha256.New()

	var lens [16]byte
	binary.BigEndian.PutUint64(lens[0:8], uint64(len(before)))
	binary.BigEndian.PutUint64(lens[8:16], uint64(len(after)))
	h.Write(lens[:])

	h.Write(prefixOf(before))
	h.Write(prefixOf(after))

	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}

func prefixOf(payload []byte) []byte {
	if len(payload) > fingerprintPrefix {
		return payload[:fingerprintPrefix]
	}
	return payload
}
