package value

import (
	"crypto/sha256"
	"encoding/hex"
)

// domainValue separates value hashes from any other hash in the system.
const domainValue = "fieldsync/value/v1"

// Hash returns a domain-separated SHA-256 of the canonical form of v.
// Format: SHA256(domain + 0x00 + canonical).
func Hash(v any) (string, error) {
	canonical, err := Canonical(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(domainValue))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}
