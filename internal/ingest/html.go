package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const truncationMarker = "\n\n[content truncated]"

// HTMLToText extracts readable text from article HTML. Script, style
// and noscript subtrees are removed before extraction.
func HTMLToText(rawHTML string) string {
	if strings.TrimSpace(rawHTML) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		// Fall back to the raw input; a bad parse should not lose
		// the article.
		return strings.TrimSpace(rawHTML)
	}
	doc.Find("script, style, noscript").Remove()
	return collapseWhitespace(doc.Text())
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.Join(strings.Fields(line), " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Truncate caps text at maxLen runes and appends a marker so the
// analysis prompt knows the tail was cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + truncationMarker
}

// Fingerprint builds a stable content hash over the title and body,
// used to detect already-seen content.
func Fingerprint(title, text string) string {
	sum := sha256.Sum256([]byte(title + "\n" + text))
	return hex.EncodeToString(sum[:])[:32]
}
