package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash sources recorded on entities.
const (
	SourceContent   = "sha256"
	SourceEphemeral = "id"
)

// hashObject computes the SHA-256 of the envelope "type vVERSION len\0content".
// The version token is 0 for values without mutable storage.
func hashObject(typeTag string, version uint64, data []byte) string {
	header := fmt.Sprintf("%s v%d %d\x00", typeTag, version, len(data))
	h := sha256.New()
	h.Write([]byte(header))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// hashDerived identifies a value reached from a parent without rehashing the parent's content.
func hashDerived(parentHash, accessor string) string {
	h := sha256.New()
	h.Write([]byte("derived\x00"))
	h.Write([]byte(parentHash))
	h.Write([]byte{0})
	h.Write([]byte(accessor))
	return hex.EncodeToString(h.Sum(nil))
}
