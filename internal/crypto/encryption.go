// Package encryption implements the Mega file-key unpacking and the
// AES-128-CTR stream used to decrypt file content.
package encryption

import (
	"crypto/aes"
	"errors"
)

const (
	// KeySize is the AES-128 key length derived from a node key.
	KeySize = 16

	// IVSize is the length of the initial counter block.
	IVSize = aes.BlockSize

	// NodeKeySize is the length of a decoded file node key.
	NodeKeySize = 32
)

// ErrKeyDecode is the kind of every error returned while decoding a node key.
var ErrKeyDecode = errors.New("invalid node key")
