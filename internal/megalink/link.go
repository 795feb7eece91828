// Package megalink extracts the file id and node key from Mega.nz share links.
//
// Two link dialects are accepted:
//
//	https://mega.nz/file/ID#KEY   (current)
//	https://mega.nz/#!ID!KEY      (legacy)
//
// The key is returned re-alphabetised to standard base64 and padded, ready
// for decoding by the crypto package.
package megalink

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// MinLinkLength is the shortest link that can carry an 8-char id and a 43-char key.
	MinLinkLength = 52

	// FileIDLength is the fixed length of a Mega file handle.
	FileIDLength = 8

	// EncodedKeyLength is the padded base64 length of a 32-byte node key.
	EncodedKeyLength = 44

	legacyMarker = "#!"
)

// ErrLinkFormat is the kind of every error returned by Parse.
var ErrLinkFormat = errors.New("invalid mega link")

// FileID is the 8-character public handle of a Mega file.
type FileID string

// EncodedKey is a standard-alphabet, padded base64 node key.
type EncodedKey string

// Link is a parsed share link.
type Link struct {
	ID     FileID
	Key    EncodedKey
	Legacy bool
}

// Dialect returns "legacy" or "current" for logging.
func (l Link) Dialect() string {
	if l.Legacy {
		return "legacy"
	}
	return "current"
}

// Parse returns the file id and normalized key of a share link.
func Parse(link string) (FileID, EncodedKey, error) {
	l, err := ParseLink(link)
	if err != nil {
		return "", "", err
	}
	return l.ID, l.Key, nil
}

// ParseLink is Parse that also reports the detected dialect.
func ParseLink(link string) (Link, error) {
	if len(link) < MinLinkLength {
		return Link{}, linkError("link too short: %d characters, need at least %d", len(link), MinLinkLength)
	}

	legacy := strings.Contains(link, legacyMarker)

	start := strings.LastIndexByte(link, '/') + 1
	var end int
	if legacy {
		start += len(legacyMarker)
		end = strings.LastIndexByte(link, '!')
	} else {
		end = strings.LastIndexByte(link, '#')
	}

	if end < start {
		return Link{}, linkError("cannot locate file id")
	}

	id := link[start:end]
	if len(id) != FileIDLength {
		return Link{}, linkError("file id must be %d characters, got %d", FileIDLength, len(id))
	}
	if !isASCII(id) {
		return Link{}, linkError("file id contains non-ASCII characters")
	}

	key := normalizeKey(link[end+1:])
	if len(key) != EncodedKeyLength {
		return Link{}, linkError("key must be %d characters once padded, got %d", EncodedKeyLength, len(key))
	}

	return Link{ID: FileID(id), Key: EncodedKey(key), Legacy: legacy}, nil
}

// normalizeKey maps the URL-safe alphabet to the standard one and pads to a multiple of 4.
func normalizeKey(key string) string {
	key = strings.NewReplacer("_", "/", "-", "+").Replace(key)
	if rem := len(key) % 4; rem != 0 {
		key += strings.Repeat("=", 4-rem)
	}
	return key
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func linkError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrLinkFormat, fmt.Sprintf(format, args...))
}
