// Package writer writes run reports as JSON, compressed with the archive
// codecs when the file name asks for it.
package writer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/classreg/pkg/compression"
)

// JSONWriter writes data as JSON.
type JSONWriter[T any] struct {
	// Indent specifies the indentation for pretty printing.
	// Empty string means compact output.
	Indent string
	// Compression is applied to the encoded document.
	Compression compression.Type
}

// NewJSONWriter creates a new JSON writer with compact output.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates a JSON writer with pretty printing.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// ForPath returns a pretty writer compressed according to the extension
// of path: .zst selects zstd and .gz selects gzip.
func ForPath[T any](path string) *JSONWriter[T] {
	w := NewPrettyJSONWriter[T]()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst":
		w.Compression = compression.TypeZstd
	case ".gz":
		w.Compression = compression.TypeGzip
	}
	return w
}

// Encode returns the encoded document and the size of its JSON form.
func (w *JSONWriter[T]) Encode(data T) ([]byte, int, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	if w.Indent != "" {
		encoder.SetIndent("", w.Indent)
	}
	if err := encoder.Encode(data); err != nil {
		return nil, 0, fmt.Errorf("failed to encode data: %w", err)
	}
	if w.Compression == compression.TypeNone {
		return buf.Bytes(), buf.Len(), nil
	}

	codec, err := compression.New(w.Compression)
	if err != nil {
		return nil, 0, err
	}
	defer codec.Close()
	out, err := codec.Encode(buf.Bytes())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to compress data: %w", err)
	}
	return out, buf.Len(), nil
}

// Write writes the data to the writer.
func (w *JSONWriter[T]) Write(data T, writer io.Writer) error {
	out, _, err := w.Encode(data)
	if err != nil {
		return err
	}
	_, err = writer.Write(out)
	return err
}

// WriteResult contains statistics about the written file.
type WriteResult struct {
	JSONSize       int64
	WrittenSize    int64
	CompressionPct float64
}

// WriteToFile writes the data to path through a temporary file in the
// same directory, so readers never see a partial document.
func (w *JSONWriter[T]) WriteToFile(data T, path string) (*WriteResult, error) {
	out, jsonSize, err := w.Encode(data)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to rename file: %w", err)
	}

	result := &WriteResult{JSONSize: int64(jsonSize), WrittenSize: int64(len(out))}
	if jsonSize > 0 {
		result.CompressionPct = (1 - float64(len(out))/float64(jsonSize)) * 100
	}
	return result, nil
}

// ReadFile decodes a document written by WriteToFile, whatever its
// compression.
func ReadFile[T any](path string) (T, error) {
	var v T
	raw, err := os.ReadFile(path)
	if err != nil {
		return v, err
	}
	data, err := compression.Decode(raw)
	if err != nil {
		return v, fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return v, nil
}
