package consensus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Normalizer projects a raw worker output onto the key used for vote equality.
type Normalizer interface {
	Normalize(raw string) string
}

// WhitespaceNormalizer ignores leading/trailing whitespace per line, runs of
// internal whitespace, and blank lines.
type WhitespaceNormalizer struct{}

// Normalize returns the SHA-256 hex digest of the canonical form.
func (WhitespaceNormalizer) Normalize(raw string) string {
	return digest(canonicalLines(raw))
}

// LineSetNormalizer additionally ignores line order.
type LineSetNormalizer struct{}

// Normalize returns the SHA-256 hex digest of the sorted canonical lines.
func (LineSetNormalizer) Normalize(raw string) string {
	lines := canonicalLines(raw)
	sort.Strings(lines)
	return digest(lines)
}

// NormalizerByName resolves the configured normalizer.
func NormalizerByName(name string) (Normalizer, error) {
	switch name {
	case "", "whitespace":
		return WhitespaceNormalizer{}, nil
	case "lineset":
		return LineSetNormalizer{}, nil
	default:
		return nil, fmt.Errorf("unknown normalizer %q", name)
	}
}

func canonicalLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		out = append(out, strings.Join(fields, " "))
	}
	return out
}

func digest(lines []string) string {
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
