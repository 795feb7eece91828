package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// CTRStreamDecryptor applies the AES-CTR keystream of one file.
//
// Chunks may be any length and need not align to the block size; the
// keystream position carries over between calls, so splitting a stream
// into N chunks yields the same output as a single call. Encryption and
// decryption are the same operation.
//
// Not safe for concurrent use. Chunks must be fed in stream order.
type CTRStreamDecryptor struct {
	stream    cipher.Stream
	processed int64
}

// NewCTRStreamDecryptor initializes the keystream at the context's initial counter.
func NewCTRStreamDecryptor(ctx *CipherContext) (*CTRStreamDecryptor, error) {
	if ctx == nil {
		return nil, fmt.Errorf("cipher context is required")
	}

	block, err := aes.NewCipher(ctx.Key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// cipher.NewCTR copies the IV, so the context stays untouched.
	return &CTRStreamDecryptor{
		stream: cipher.NewCTR(block, ctx.IV[:]),
	}, nil
}

// Transform returns the plaintext for a ciphertext chunk.
func (d *CTRStreamDecryptor) Transform(chunk []byte) []byte {
	out := make([]byte, len(chunk))
	d.XORKeyStream(out, chunk)
	return out
}

// XORKeyStream transforms src into dst, which may overlap exactly.
func (d *CTRStreamDecryptor) XORKeyStream(dst, src []byte) {
	if len(src) == 0 {
		return
	}
	d.stream.XORKeyStream(dst, src)
	d.processed += int64(len(src))
}

// Processed returns the number of bytes consumed so far.
func (d *CTRStreamDecryptor) Processed() int64 {
	return d.processed
}
