package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/rescale/megadl/internal/megalink"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read failed: %v", err)
	}
	return b
}

// TestDeriveFromNodeKey_Layout checks the unpacking against a byte-wise XOR of the key halves.
func TestDeriveFromNodeKey_Layout(t *testing.T) {
	nodeKey := make([]byte, NodeKeySize)
	for i := range nodeKey {
		nodeKey[i] = byte(i * 7)
	}

	ctx, err := DeriveFromNodeKey(nodeKey)
	if err != nil {
		t.Fatalf("DeriveFromNodeKey failed: %v", err)
	}

	for i := 0; i < KeySize; i++ {
		if want := nodeKey[i] ^ nodeKey[i+16]; ctx.Key[i] != want {
			t.Errorf("key[%d] = %#x, want %#x", i, ctx.Key[i], want)
		}
	}
	if !bytes.Equal(ctx.IV[:8], nodeKey[16:24]) {
		t.Errorf("iv[:8] = %x, want %x", ctx.IV[:8], nodeKey[16:24])
	}
	if !bytes.Equal(ctx.IV[8:], make([]byte, 8)) {
		t.Errorf("iv[8:] = %x, want zeros", ctx.IV[8:])
	}
}

func TestDeriveCipherContext_Deterministic(t *testing.T) {
	key := megalink.EncodedKey(base64.StdEncoding.EncodeToString(randomBytes(t, NodeKeySize)))

	a, err := DeriveCipherContext(key)
	if err != nil {
		t.Fatalf("first DeriveCipherContext failed: %v", err)
	}
	b, err := DeriveCipherContext(key)
	if err != nil {
		t.Fatalf("second DeriveCipherContext failed: %v", err)
	}
	if *a != *b {
		t.Error("same key produced different cipher contexts")
	}
}

func TestDeriveCipherContext_FromLink(t *testing.T) {
	raw := randomBytes(t, NodeKeySize)
	link := "https://mega.nz/#!abcd1234!" + base64.RawURLEncoding.EncodeToString(raw)

	_, key, err := megalink.Parse(link)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	got, err := DeriveCipherContext(key)
	if err != nil {
		t.Fatalf("DeriveCipherContext failed: %v", err)
	}
	want, _ := DeriveFromNodeKey(raw)
	if *got != *want {
		t.Error("context from link differs from context of raw node key")
	}
}

func TestDeriveCipherContext_Errors(t *testing.T) {
	tests := []struct {
		name string
		key  megalink.EncodedKey
	}{
		{"31 bytes", megalink.EncodedKey(base64.StdEncoding.EncodeToString(make([]byte, 31)))},
		{"33 bytes", megalink.EncodedKey(base64.StdEncoding.EncodeToString(make([]byte, 33)))},
		{"16 bytes", megalink.EncodedKey(base64.StdEncoding.EncodeToString(make([]byte, 16)))},
		{"not base64", megalink.EncodedKey("!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!!")},
		{"empty", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DeriveCipherContext(tc.key)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrKeyDecode) {
				t.Errorf("expected ErrKeyDecode, got %v", err)
			}
		})
	}
}

func TestNewCTRStreamDecryptor_NilContext(t *testing.T) {
	if _, err := NewCTRStreamDecryptor(nil); err == nil {
		t.Error("expected error for nil context")
	}
}

// TestCTRStreamDecryptor_ChunkBoundaries verifies that any partition of the input
// produces the same output as a single call.
func TestCTRStreamDecryptor_ChunkBoundaries(t *testing.T) {
	ctx, err := DeriveFromNodeKey(randomBytes(t, NodeKeySize))
	if err != nil {
		t.Fatalf("DeriveFromNodeKey failed: %v", err)
	}
	data := randomBytes(t, 4099)

	whole, _ := NewCTRStreamDecryptor(ctx)
	want := whole.Transform(data)

	splits := [][]int{
		{1},
		{3, 5, 7},
		{15, 16, 17},
		{16},
		{1000, 1, 2048},
		{4098},
	}

	for _, sizes := range splits {
		dec, _ := NewCTRStreamDecryptor(ctx)
		var got []byte
		rest := data
		for i := 0; len(rest) > 0; i++ {
			n := sizes[i%len(sizes)]
			if n > len(rest) {
				n = len(rest)
			}
			got = append(got, dec.Transform(rest[:n])...)
			rest = rest[n:]
		}
		if !bytes.Equal(got, want) {
			t.Errorf("chunk sizes %v: output differs from single-chunk output", sizes)
		}
		if dec.Processed() != int64(len(data)) {
			t.Errorf("chunk sizes %v: Processed() = %d, want %d", sizes, dec.Processed(), len(data))
		}
	}
}

func TestCTRStreamDecryptor_Symmetric(t *testing.T) {
	ctx, _ := DeriveFromNodeKey(randomBytes(t, NodeKeySize))
	ciphertext := randomBytes(t, 777)

	dec, _ := NewCTRStreamDecryptor(ctx)
	plaintext := dec.Transform(ciphertext)

	enc, _ := NewCTRStreamDecryptor(ctx)
	if got := enc.Transform(plaintext); !bytes.Equal(got, ciphertext) {
		t.Error("re-encrypting the plaintext did not reproduce the ciphertext")
	}
}

// TestCTRStreamDecryptor_MatchesStdlib cross-checks against a plain cipher.NewCTR.
func TestCTRStreamDecryptor_MatchesStdlib(t *testing.T) {
	ctx, _ := DeriveFromNodeKey(randomBytes(t, NodeKeySize))
	data := randomBytes(t, 100)

	block, err := aes.NewCipher(ctx.Key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher failed: %v", err)
	}
	want := make([]byte, len(data))
	cipher.NewCTR(block, ctx.IV[:]).XORKeyStream(want, data)

	dec, _ := NewCTRStreamDecryptor(ctx)
	got := make([]byte, len(data))
	copy(got, data)
	dec.XORKeyStream(got, got) // in place
	if !bytes.Equal(got, want) {
		t.Error("in-place XORKeyStream differs from crypto/cipher CTR")
	}
}

func TestCTRStreamDecryptor_EmptyChunk(t *testing.T) {
	ctx, _ := DeriveFromNodeKey(randomBytes(t, NodeKeySize))
	dec, _ := NewCTRStreamDecryptor(ctx)
	if out := dec.Transform(nil); len(out) != 0 {
		t.Errorf("Transform(nil) returned %d bytes", len(out))
	}
	if dec.Processed() != 0 {
		t.Errorf("Processed() = %d after empty chunk", dec.Processed())
	}
}
