package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content fingerprints. The version suffix leaves room
// for algorithm migration without ambiguity between old and new hashes.
const (
	DomainAction = "tollgate/action/v1"
)

// hashWithDomain computes SHA-256 over domain + 0x00 + data. The null
// separator prevents boundary ambiguity between domain and payload.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionFingerprint computes the content fingerprint of a staged action's
// arguments. Two proposals with structurally equal arguments fingerprint
// identically regardless of key order, number formatting, or Unicode
// normalization form in the input.
//
// Returns the canonical argument bytes alongside the fingerprint so
// callers can persist exactly what was hashed.
func ActionFingerprint(args map[string]any) (canonical []byte, fingerprint string, err error) {
	canonical, err = Marshal(args)
	if err != nil {
		return nil, "", fmt.Errorf("action fingerprint: %w", err)
	}
	return canonical, hashWithDomain(DomainAction, canonical), nil
}

// ActionFingerprintRaw is ActionFingerprint for callers holding arguments
// as raw JSON rather than a decoded map.
func ActionFingerprintRaw(raw []byte) (canonical []byte, fingerprint string, err error) {
	canonical, err = Normalize(raw)
	if err != nil {
		return nil, "", fmt.Errorf("action fingerprint: %w", err)
	}
	return canonical, hashWithDomain(DomainAction, canonical), nil
}
