// Package sanitize cleans link text pasted from chats, documents and
// link lists before it is parsed.
//
// It removes:
//   - invisible Unicode characters (zero-width spaces, BOM, soft hyphens)
//   - surrounding whitespace, quotes and angle brackets
package sanitize

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

var invisibleChars = strings.NewReplacer(
	"\u200B", "", // Zero-width space
	"\u200C", "", // Zero-width non-joiner
	"\u200D", "", // Zero-width joiner
	"\uFEFF", "", // Zero-width no-break space (BOM)
	"\u00AD", "", // Soft hyphen
	"\u2060", "", // Word joiner
	"\u180E", "", // Mongolian vowel separator
)

// Link returns s with invisible characters and wrapping punctuation removed.
func Link(s string) string {
	if s == "" {
		return s
	}
	s = strings.TrimSpace(invisibleChars.Replace(s))
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '<' && last == '>') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}

// Links reads one link per line from r. Blank lines and lines starting
// with '#' are skipped.
func Links(r io.Reader) ([]string, error) {
	var links []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		link := Link(scanner.Text())
		if link == "" || strings.HasPrefix(link, "#") {
			continue
		}
		links = append(links, link)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read link list: %w", err)
	}
	return links, nil
}
