package core

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum hashes an email's subject and body. The separator byte keeps
// ("ab", "c") and ("a", "bc") apart.
func Checksum(subject, body string) string {
	h := sha256.New()
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}
