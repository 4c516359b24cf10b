package core

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Compressor is the pluggable compression contract a Session's pipeline
// calls into ahead of encryption on send, and after decryption on receive.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// zstdCompressor implements Compressor with one encoder/decoder pair per
// instance; a mutex serializes Compress and Decompress calls on it.
type zstdCompressor struct {
	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstdCompressor returns the zstd-backed Compressor implementation.
// SessionOptions.ApplyDefaults does not use it; a session gets it only when
// it is set explicitly in SessionOptions.Compressor.
func NewZstdCompressor() (Compressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("core: building zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("core: building zstd decoder: %w", err)
	}
	return &zstdCompressor{enc: enc, dec: dec}, nil
}

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	z.mu.Lock()
	defer z.mu.Unlock()
	out, err := z.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("core: zstd decompress: %w", err)
	}
	return out, nil
}

// nopCompressor is what SessionOptions.ApplyDefaults fills in whenever no
// Compressor is set, whether or not compression is enabled.
type nopCompressor struct{}

// NewNopCompressor returns a Compressor that passes data through unchanged.
func NewNopCompressor() Compressor { return nopCompressor{} }

func (nopCompressor) Compress(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}

func (nopCompressor) Decompress(data []byte) ([]byte, error) {
	return bytes.Clone(data), nil
}
