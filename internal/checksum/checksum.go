package checksum

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Fields returns the hex-encoded SHA-256 digest of the given fields. Each field
// is length-prefixed so that ("ab", "c") and ("a", "bc") hash differently.
func Fields(fields ...string) string {
	h := sha256.New()
	var n [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
