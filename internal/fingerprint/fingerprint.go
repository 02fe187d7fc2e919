// Package fingerprint computes content hashes for change detection.
//
// The fingerprint covers only the note body: the leading YAML frontmatter
// block is excluded by contract, so edits that touch nothing but metadata
// never change a note's fingerprint. Fingerprints are compared for equality
// only; they carry no cryptographic meaning here.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/vaultlm/vaultlm/internal/frontmatter"
)

// Sum returns the hex-encoded SHA-256 digest of the note body after
// frontmatter exclusion. Deterministic: equal bodies always hash equal.
func Sum(content string) string {
	h := sha256.Sum256([]byte(Body(content)))
	return hex.EncodeToString(h[:])
}

// Body returns the note content with the frontmatter block stripped and line
// endings normalized, which is also the exact content pushed to the remote
// store.
func Body(content string) string {
	_, body, _ := frontmatter.Split(content)
	return strings.ReplaceAll(body, "\r\n", "\n")
}

// Empty reports whether the note body is effectively empty. The remote store
// rejects empty content, so empty notes are never synced.
func Empty(content string) bool {
	return strings.TrimSpace(Body(content)) == ""
}
