package encryption

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/rescale/megadl/internal/megalink"
)

// CipherContext holds the AES key and initial counter block unpacked from a node key.
// It is immutable; the running counter lives in CTRStreamDecryptor.
type CipherContext struct {
	Key [KeySize]byte
	IV  [IVSize]byte
}

// DeriveCipherContext decodes a normalized link key and unpacks it.
func DeriveCipherContext(key megalink.EncodedKey) (*CipherContext, error) {
	nodeKey, err := base64.StdEncoding.DecodeString(string(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyDecode, err)
	}
	return DeriveFromNodeKey(nodeKey)
}

// DeriveFromNodeKey unpacks a raw 32-byte node key.
//
// The node key is four little-endian words w0..w3:
//
//	key = w0^w2 || w1^w3
//	iv  = w2 || 0x00 * 8
func DeriveFromNodeKey(nodeKey []byte) (*CipherContext, error) {
	if len(nodeKey) != NodeKeySize {
		return nil, fmt.Errorf("%w: node key must be %d bytes, got %d", ErrKeyDecode, NodeKeySize, len(nodeKey))
	}

	var w [4]uint64
	for i := range w {
		w[i] = binary.LittleEndian.Uint64(nodeKey[i*8:])
	}

	ctx := &CipherContext{}
	binary.LittleEndian.PutUint64(ctx.Key[0:8], w[0]^w[2])
	binary.LittleEndian.PutUint64(ctx.Key[8:16], w[1]^w[3])
	binary.LittleEndian.PutUint64(ctx.IV[0:8], w[2])

	return ctx, nil
}
