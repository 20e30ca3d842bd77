package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes keep digests of different kinds of content from colliding.
const (
	DomainSnapshot  = "graphcache/snapshot/v1"
	DomainVariables = "graphcache/variables/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotDigest hashes a canonical rendering of store state.
// Two stores with the same records, fields and edge orders produce the same digest.
func SnapshotDigest(state IRObject) (string, error) {
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("SnapshotDigest: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}

// VariablesHash hashes mutation input variables for the transaction journal.
func VariablesHash(vars IRObject) (string, error) {
	if vars == nil {
		vars = IRObject{}
	}
	canonical, err := MarshalCanonical(vars)
	if err != nil {
		return "", fmt.Errorf("VariablesHash: %w", err)
	}
	return hashWithDomain(DomainVariables, canonical), nil
}
