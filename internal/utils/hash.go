package utils

import (
	"encoding/hex"
	"hash/fnv"
)

// Digest is a fixed-width fnv-64a hex digest of parts. Parts are separated by
// a NUL byte so ("ab", "c") and ("a", "bc") differ.
func Digest(parts ...string) string {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}
