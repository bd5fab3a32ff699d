package cache

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrCorrupt is returned for a cached file whose header or body is invalid.
var ErrCorrupt = errors.New("corrupt cache file")

// CachedFile is one on-disk entry. Content is only set when it was requested.
type CachedFile struct {
	Length  int64
	IV      []byte
	Content []byte
}

type fileHeader struct {
	_msgpack struct{} `msgpack:",as_array"` //nolint:unused

	Length int64
	IV     []byte
}

// encodeFile encrypts content under key with a fresh IV.
func encodeFile(key, content []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	hdr, err := msgpack.Marshal(fileHeader{Length: int64(len(content)), IV: iv})
	if err != nil {
		return nil, err
	}

	if len(hdr) > 0xff {
		return nil, fmt.Errorf("cache header of %d bytes does not fit", len(hdr))
	}

	padded := pad(content, aes.BlockSize)

	out := make([]byte, 1+len(hdr)+len(padded))
	out[0] = byte(len(hdr))
	copy(out[1:], hdr)

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[1+len(hdr):], padded)

	return out, nil
}

// readFile reads the entry at name. The body is decrypted only when
// withContent is set; its length must match the header.
func readFile(name string, key []byte, withContent bool) (*CachedFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}

	defer func() { _ = f.Close() }()

	var n [1]byte
	if _, err := io.ReadFull(f, n[:]); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	raw := make([]byte, n[0])
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}

	var hdr fileHeader
	if err := msgpack.Unmarshal(raw, &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrCorrupt, err)
	}

	if len(hdr.IV) != aes.BlockSize || hdr.Length < 0 {
		return nil, fmt.Errorf("%w: invalid header", ErrCorrupt)
	}

	cf := &CachedFile{Length: hdr.Length, IV: hdr.IV}
	if !withContent {
		return cf, nil
	}

	body, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext of %d bytes", ErrCorrupt, len(body))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	cipher.NewCBCDecrypter(block, hdr.IV).CryptBlocks(body, body)

	content, err := unpad(body, aes.BlockSize)
	if err != nil {
		return nil, err
	}

	if int64(len(content)) != hdr.Length {
		return nil, fmt.Errorf("%w: length %d, header says %d", ErrCorrupt, len(content), hdr.Length)
	}

	cf.Content = content

	return cf, nil
}

// pad applies PKCS#7 padding.
func pad(b []byte, size int) []byte {
	n := size - len(b)%size

	return append(append(make([]byte, 0, len(b)+n), b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrCorrupt)
	}

	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, fmt.Errorf("%w: bad padding", ErrCorrupt)
	}

	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrCorrupt)
		}
	}

	return b[:len(b)-n], nil
}
