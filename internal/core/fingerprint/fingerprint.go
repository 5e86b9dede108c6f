// Package fingerprint derives the deduplication key for a lead.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/crmsync/leadrelay/internal/core/domain"
)

// Compute returns the 32-hex-char dedup key for a lead. The digest covers
// only the normalized identity fields (email, names, phone), so the same
// human reported by two different sources collapses to one fingerprint.
// That cross-source collapse is a deliberate policy, not an accident;
// callers needing per-source identity use ComputeScoped.
func Compute(lead domain.Lead) string {
	return digest(canonical(lead))
}

// ComputeScoped mixes the originating source identifier into the digest so
// identical leads from different sources stay distinct.
func ComputeScoped(lead domain.Lead, sourceScope string) string {
	return digest(canonical(lead) + "|" + norm(sourceScope))
}

func canonical(lead domain.Lead) string {
	parts := []string{
		norm(lead.Email),
		norm(lead.FirstName),
		norm(lead.LastName),
		norm(lead.Phone),
	}
	return strings.Join(parts, "|")
}

func norm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func digest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
