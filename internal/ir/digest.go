package ir

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ContentDigest returns the hex BLAKE3 digest adapters report in
// FileInfo.Digest and handlers compare against rendered content.
func ContentDigest(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}
