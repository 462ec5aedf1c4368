package fetch

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// HashText returns the sha256 hex digest of the normalized text. The
// normalization (collapsed whitespace, lowercased) keeps the hash stable
// across cosmetic formatting changes in the source document.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(normalizeForHash(text)))
	return hex.EncodeToString(sum[:])
}

func normalizeForHash(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = spaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.ToLower(strings.TrimSpace(text))
}

// htmlToText extracts readable text from an HTML document, dropping
// script/style content and inserting newlines at block boundaries.
func htmlToText(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		// Parse failures on fragments are rare; fall back to the raw text
		// with tags stripped by the whitespace normalizer downstream.
		return collapseWhitespace(raw)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "br":
				sb.WriteByte('\n')
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlockElement(n.Data) {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	return collapseWhitespace(sb.String())
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "li", "ul", "ol", "tr", "table", "section", "article",
		"header", "footer", "h1", "h2", "h3", "h4", "h5", "h6":
		return true
	default:
		return false
	}
}

func collapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\u00a0", " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// pdfToText extracts the plain text of all pages of a PDF document.
func pdfToText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}

	textReader, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}

	raw, err := io.ReadAll(textReader)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	return collapseWhitespace(string(raw)), nil
}
