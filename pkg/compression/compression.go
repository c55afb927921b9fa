// Package compression provides the payload codecs used by archive files.
package compression

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Type identifies a codec. The value is stored in archive headers and
// must not be renumbered.
type Type uint8

const (
	TypeNone Type = 0
	TypeGzip Type = 1
	TypeZstd Type = 2
)

// String returns the configuration name of the type.
func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeGzip:
		return "gzip"
	case TypeZstd:
		return "zstd"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ParseType parses a configuration name. The empty string selects zstd.
func ParseType(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return TypeZstd, nil
	case "gzip":
		return TypeGzip, nil
	case "none":
		return TypeNone, nil
	default:
		return TypeNone, fmt.Errorf("unknown compression %q (want zstd, gzip or none)", name)
	}
}

// DefaultMaxDecodedSize bounds how large a decoded payload may grow.
const DefaultMaxDecodedSize = 1 << 30

// Codec compresses and decompresses whole payloads.
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
	Type() Type
	Close()
}

// New returns the codec for t.
func New(t Type) (Codec, error) {
	switch t {
	case TypeNone:
		return noneCodec{}, nil
	case TypeGzip:
		return &gzipCodec{maxSize: DefaultMaxDecodedSize}, nil
	case TypeZstd:
		return newZstdCodec(DefaultMaxDecodedSize)
	default:
		return nil, fmt.Errorf("unsupported compression type %d", uint8(t))
	}
}

// NewByName returns the codec for a configuration name.
func NewByName(name string) (Codec, error) {
	t, err := ParseType(name)
	if err != nil {
		return nil, err
	}
	return New(t)
}

// Detect guesses the codec of data from its leading magic bytes.
func Detect(data []byte) Type {
	switch {
	case len(data) >= 4 && data[0] == 0x28 && data[1] == 0xb5 && data[2] == 0x2f && data[3] == 0xfd:
		return TypeZstd
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return TypeGzip
	default:
		return TypeNone
	}
}

// Decode decodes data with the codec Detect picks.
func Decode(data []byte) ([]byte, error) {
	c, err := New(Detect(data))
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Decode(data)
}

type noneCodec struct{}

func (noneCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) Decode(data []byte) ([]byte, error) { return data, nil }
func (noneCodec) Type() Type                         { return TypeNone }
func (noneCodec) Close()                             {}

type gzipCodec struct {
	maxSize int64
}

func (c *gzipCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write gzip data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCodec) Decode(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, c.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip data: %w", err)
	}
	if int64(len(out)) > c.maxSize {
		return nil, fmt.Errorf("decoded payload exceeds %d bytes", c.maxSize)
	}
	return out, nil
}

func (c *gzipCodec) Type() Type { return TypeGzip }
func (c *gzipCodec) Close()     {}

// zstdCodec reuses one encoder and one decoder; both are safe for
// concurrent EncodeAll/DecodeAll calls.
type zstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCodec(maxSize int64) (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxSize)))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdCodec{encoder: enc, decoder: dec}, nil
}

func (c *zstdCodec) Encode(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (c *zstdCodec) Decode(data []byte) ([]byte, error) {
	out, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decode zstd data: %w", err)
	}
	return out, nil
}

func (c *zstdCodec) Type() Type { return TypeZstd }

func (c *zstdCodec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
