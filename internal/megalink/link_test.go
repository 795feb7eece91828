package megalink

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testKey(t *testing.T) ([]byte, string) {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	return raw, base64.RawURLEncoding.EncodeToString(raw)
}

func TestParse_BothDialects(t *testing.T) {
	_, key := testKey(t)

	tests := []struct {
		name       string
		link       string
		wantLegacy bool
	}{
		{"current", "https://mega.nz/file/abcd1234#" + key, false},
		{"current co.nz", "https://mega.co.nz/file/abcd1234#" + key, false},
		{"legacy", "https://mega.nz/#!abcd1234!" + key, true},
		{"legacy co.nz", "https://mega.co.nz/#!abcd1234!" + key, true},
	}

	var results []EncodedKey
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := ParseLink(tt.link)
			if err != nil {
				t.Fatalf("ParseLink(%q) failed: %v", tt.link, err)
			}
			if l.ID != "abcd1234" {
				t.Errorf("ID = %q, want %q", l.ID, "abcd1234")
			}
			if len(l.Key) != EncodedKeyLength {
				t.Errorf("key length = %d, want %d", len(l.Key), EncodedKeyLength)
			}
			if l.Legacy != tt.wantLegacy {
				t.Errorf("Legacy = %v, want %v", l.Legacy, tt.wantLegacy)
			}
			results = append(results, l.Key)
		})
	}

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Errorf("dialects produced different keys: %q vs %q", results[0], results[i])
		}
	}
}

func TestParse_NormalizesAlphabet(t *testing.T) {
	key := strings.Repeat("-", 20) + strings.Repeat("_", 20) + "AAA"
	id, encoded, err := Parse("https://mega.nz/#!AbCd_-12!" + key)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if id != "AbCd_-12" {
		t.Errorf("id = %q, want %q", id, "AbCd_-12")
	}
	want := strings.Repeat("+", 20) + strings.Repeat("/", 20) + "AAA="
	if string(encoded) != want {
		t.Errorf("key = %q, want %q", encoded, want)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	for i := 0; i < 50; i++ {
		raw, key := testKey(t)
		_, encoded, err := Parse("https://mega.nz/file/abcd1234#" + key)
		if err != nil {
			t.Fatalf("Parse failed: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			t.Fatalf("decode %q failed: %v", encoded, err)
		}
		if !bytes.Equal(decoded, raw) {
			t.Fatalf("round trip mismatch: got %x, want %x", decoded, raw)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	_, key := testKey(t)

	tests := []struct {
		name string
		link string
	}{
		{"empty", ""},
		{"length 51", strings.Repeat("a", 51)},
		{"id length 7", "https://mega.nz/file/abcd123#" + key},
		{"id length 9", "https://mega.nz/file/abcd12345#" + key},
		{"legacy id length 7", "https://mega.nz/#!abcd123!" + key},
		{"legacy id length 9", "https://mega.nz/#!abcd12345!" + key},
		{"no delimiter", "https://mega.nz/file/abcd1234" + key},
		{"key too short", "https://mega.nz/file/abcd1234#" + key[:30]},
		{"key too long", "https://mega.nz/file/abcd1234#" + key + "AAAA"},
		{"non ascii id", "https://mega.nz/file/abcdé23#" + key},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.link)
			if err == nil {
				t.Fatalf("Parse(%q) expected error, got nil", tt.link)
			}
			if !errors.Is(err, ErrLinkFormat) {
				t.Errorf("expected ErrLinkFormat, got %v", err)
			}
		})
	}
}

func TestParse_MinimumLength(t *testing.T) {
	// "/" + 8 id + "#" + 42 key chars = 52 characters
	key := strings.Repeat("A", 42)
	link := "/abcd1234#" + key
	if len(link) != MinLinkLength {
		t.Fatalf("test link length = %d, want %d", len(link), MinLinkLength)
	}
	_, encoded, err := Parse(link)
	if err != nil {
		t.Fatalf("Parse failed for %d-char link: %v", len(link), err)
	}
	if len(encoded) != EncodedKeyLength {
		t.Errorf("key length = %d, want %d", len(encoded), EncodedKeyLength)
	}

	if _, _, err := Parse(link[1:]); !errors.Is(err, ErrLinkFormat) {
		t.Errorf("expected ErrLinkFormat for %d-char link, got %v", len(link)-1, err)
	}
}
