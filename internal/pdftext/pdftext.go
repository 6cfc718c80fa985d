// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdftext pulls plain text out of stored datasheet PDFs. The
// content streams are parsed directly for text-showing operators, which
// is enough for the machine-generated datasheets the pipeline ingests;
// scanned documents without a text layer come back empty.
package pdftext

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Extractor reads PDF text. It satisfies the extraction engine's
// TextSource interface.
type Extractor struct{}

// Page is the text of one PDF page.
type Page struct {
	Number int
	Text   string
}

// Text returns the whole document as one string, pages joined by blank
// lines.
func (Extractor) Text(path string) (string, error) {
	pages, err := Pages(path)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n\n"), nil
}

// Pages returns per-page text for every page that has any.
func Pages(path string) ([]Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("reading PDF: %w", err)
	}

	var pages []Page
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		text := pageText(ctx, pageNr)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: pageNr, Text: text})
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no text content in PDF %s", path)
	}
	return pages, nil
}

// Match is one search hit with surrounding context.
type Match struct {
	Page    int
	Snippet string
}

// snippetRadius is how many characters of context surround a hit.
const snippetRadius = 80

// Search finds case-insensitive occurrences of query in the document and
// returns one snippet per page hit.
func Search(path, query string) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty search query")
	}
	pages, err := Pages(path)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var matches []Match
	for _, p := range pages {
		idx := strings.Index(strings.ToLower(p.Text), needle)
		if idx < 0 {
			continue
		}
		matches = append(matches, Match{Page: p.Number, Snippet: snippet(p.Text, idx, len(query))})
	}
	return matches, nil
}

func snippet(text string, idx, length int) string {
	start := idx - snippetRadius
	if start < 0 {
		start = 0
	}
	end := idx + length + snippetRadius
	if end > len(text) {
		end = len(text)
	}
	s := strings.TrimSpace(text[start:end])
	if start > 0 {
		s = "…" + s
	}
	if end < len(text) {
		s += "…"
	}
	return s
}

func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return parseContentStream(data)
}

// literalRe matches PDF string literals: (text here)
var literalRe = regexp.MustCompile(`\(([^)]*)\)`)

// parseContentStream walks a page content stream and collects the text
// shown by Tj, TJ and ' operators, inserting separators at positioning
// operators so words do not run together.
func parseContentStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range literalRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodeLiteral(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			for _, m := range literalRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodeLiteral(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return normalizeSpace(sb.String())
}

// decodeLiteral resolves PDF string escapes, including octal codes.
func decodeLiteral(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

// normalizeSpace collapses whitespace runs and drops non-printable runes.
func normalizeSpace(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsPrint(r):
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
