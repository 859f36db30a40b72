package pattern

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/vietddude/mender/internal/core/domain"
)

// Volatile tokens are replaced before hashing so that semantically identical
// errors collapse to one signature. The number pattern carries no boundary
// anchors and swallows unit suffixes, so "30s" and "code500x" collapse too.
var (
	uuidRe      = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	hexRe       = regexp.MustCompile(`0x[0-9a-fA-F]+|\b[0-9a-fA-F]{16,}\b`)
	numberRe    = regexp.MustCompile(`\d+(\.\d+)?[a-zA-Z]*`)
	quotedRe    = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

const volatileToken = "#"

// Normalize strips identifiers, timestamps and numeric literals from an error
// message, lowercases it and collapses whitespace.
func Normalize(message string) string {
	s := strings.TrimSpace(message)
	if s == "" {
		return "unknown"
	}
	s = timestampRe.ReplaceAllString(s, volatileToken)
	s = uuidRe.ReplaceAllString(s, volatileToken)
	s = hexRe.ReplaceAllString(s, volatileToken)
	s = quotedRe.ReplaceAllString(s, volatileToken)
	s = numberRe.ReplaceAllString(s, volatileToken)
	s = strings.ToLower(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Signature derives the deterministic dedup key for a failure.
func Signature(normalized string, failureType domain.FailureType, stage domain.ExecutionStage) string {
	h := sha256.Sum256([]byte(normalized + "|" + string(failureType) + "|" + string(stage)))
	return hex.EncodeToString(h[:])
}

// HashMessage hashes the raw (un-normalized) error message.
func HashMessage(message string) string {
	h := sha256.Sum256([]byte(message))
	return hex.EncodeToString(h[:])
}
