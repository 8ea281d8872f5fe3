package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Derive computes the attacker identity for an (ip, user agent) pair as the
// hex SHA-256 of "ip:userAgent". A missing user agent is treated as the
// literal "unknown". The hash carries no per-process salt so the same
// attacker maps to the same fingerprint across restarts; it exists for
// deduplication, not confidentiality.
func Derive(ip, userAgent string) string {
	if userAgent == "" {
		userAgent = "unknown"
	}
	sum := sha256.Sum256([]byte(ip + ":" + userAgent))
	return hex.EncodeToString(sum[:])
}
