package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/classreg/pkg/compression"
	apperrors "github.com/classreg/pkg/errors"
	"github.com/classreg/pkg/model"
)

// File layout, all integers little-endian:
//
//	magic       [5]byte "CRJSA"
//	version     uint16
//	compression uint8
//	reserved    uint8
//	rawLength   uint32  decoded payload size
//	length      uint32  stored payload size
//	checksum    uint32  CRC-32 (IEEE) of the stored payload
//	payload     [length]byte
const (
	Magic         = "CRJSA"
	FormatVersion = uint16(1)
	headerSize    = len(Magic) + 2 + 1 + 1 + 4 + 4 + 4
)

// maxRecords bounds every record count read from a file.
const maxRecords = 1 << 24

// Write encodes a to w, compressing the payload with codec.
func Write(w io.Writer, a *Archive, codec compression.Codec) error {
	if err := checkReferences(a); err != nil {
		return err
	}
	raw := encodePayload(a)
	stored, err := codec.Encode(raw)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeArchiveInvalid, "failed to compress archive payload", err)
	}
	if uint64(len(raw)) > math.MaxUint32 || uint64(len(stored)) > math.MaxUint32 {
		return apperrors.New(apperrors.CodeArchiveInvalid, "archive payload too large")
	}

	hdr := make([]byte, headerSize)
	copy(hdr, Magic)
	off := len(Magic)
	binary.LittleEndian.PutUint16(hdr[off:], FormatVersion)
	hdr[off+2] = byte(codec.Type())
	binary.LittleEndian.PutUint32(hdr[off+4:], uint32(len(raw)))
	binary.LittleEndian.PutUint32(hdr[off+8:], uint32(len(stored)))
	binary.LittleEndian.PutUint32(hdr[off+12:], crc32.ChecksumIEEE(stored))

	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("failed to write archive header: %w", err)
	}
	if _, err := w.Write(stored); err != nil {
		return fmt.Errorf("failed to write archive payload: %w", err)
	}
	a.Header.Version = FormatVersion
	a.Header.Compression = codec.Type()
	return nil
}

// WriteFile writes a to path, creating parent directories.
func WriteFile(path string, a *Archive, codec compression.Codec) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, a, codec); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return os.Rename(tmp, path)
}

// Read decodes an archive. Any structural problem is ARCHIVE_INVALID.
func Read(r io.Reader) (*Archive, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, invalid("failed to read header: %v", err)
	}
	if string(hdr[:len(Magic)]) != Magic {
		return nil, invalid("bad magic %q", hdr[:len(Magic)])
	}
	off := len(Magic)
	version := binary.LittleEndian.Uint16(hdr[off:])
	if version != FormatVersion {
		return nil, invalid("unsupported version %d", version)
	}
	ctype := compression.Type(hdr[off+2])
	rawLen := binary.LittleEndian.Uint32(hdr[off+4:])
	length := binary.LittleEndian.Uint32(hdr[off+8:])
	checksum := binary.LittleEndian.Uint32(hdr[off+12:])

	if int64(length) > compression.DefaultMaxDecodedSize {
		return nil, invalid("payload length %d exceeds limit", length)
	}
	stored := make([]byte, length)
	if _, err := io.ReadFull(r, stored); err != nil {
		return nil, invalid("truncated payload: %v", err)
	}
	if crc32.ChecksumIEEE(stored) != checksum {
		return nil, invalid("checksum mismatch")
	}

	codec, err := compression.New(ctype)
	if err != nil {
		return nil, invalid("%v", err)
	}
	defer codec.Close()
	raw, err := codec.Decode(stored)
	if err != nil {
		return nil, invalid("failed to decompress payload: %v", err)
	}
	if uint32(len(raw)) != rawLen {
		return nil, invalid("payload size %d, header says %d", len(raw), rawLen)
	}

	a, err := decodePayload(raw)
	if err != nil {
		return nil, err
	}
	a.Header.Version = version
	a.Header.Compression = ctype
	if err := checkReferences(a); err != nil {
		return nil, err
	}
	return a, nil
}

// ReadFile reads the archive at path.
func ReadFile(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeArchiveInvalid, "failed to open archive "+path, err)
	}
	defer f.Close()
	return Read(f)
}

func invalid(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeArchiveInvalid, "archive: "+format, args...)
}

// checkReferences verifies that every index in a names an existing record.
func checkReferences(a *Archive) error {
	inRange := func(i, n int, optional bool) bool {
		return (optional && i == NoIndex) || (i >= 0 && i < n)
	}
	for i, e := range a.Entries {
		if e.Index != i {
			return invalid("entry %d has index %d", i, e.Index)
		}
	}
	for i, m := range a.Modules {
		if !inRange(m.PathIndex, len(a.Entries), true) {
			return invalid("module %s: bad path index %d", m.Name, m.PathIndex)
		}
		for _, r := range m.Reads {
			if !inRange(r, len(a.Modules), false) {
				return invalid("module %d reads unknown module %d", i, r)
			}
		}
	}
	for _, p := range a.Packages {
		if !inRange(p.ModuleIndex, len(a.Modules), true) {
			return invalid("package %s: bad module index %d", p.Name, p.ModuleIndex)
		}
		for _, q := range p.QualifiedExports {
			if !inRange(q, len(a.Modules), false) {
				return invalid("package %s exports to unknown module %d", p.Name, q)
			}
		}
	}
	for i, t := range a.Types {
		// Super types and interfaces precede the types that use them.
		if !inRange(t.SuperIndex, i, true) {
			return invalid("type %s: bad super index %d", t.Name, t.SuperIndex)
		}
		for _, itf := range t.Interfaces {
			if !inRange(itf, i, false) {
				return invalid("type %s: bad interface index %d", t.Name, itf)
			}
		}
		if !inRange(t.PathIndex, len(a.Entries), true) {
			return invalid("type %s: bad path index %d", t.Name, t.PathIndex)
		}
		if !inRange(t.ModuleIndex, len(a.Modules), true) {
			return invalid("type %s: bad module index %d", t.Name, t.ModuleIndex)
		}
		if !inRange(t.PackageIndex, len(a.Packages), true) {
			return invalid("type %s: bad package index %d", t.Name, t.PackageIndex)
		}
	}
	for _, l := range a.LambdaProxies {
		if !inRange(l.CallerIndex, len(a.Types), false) {
			return invalid("lambda proxy %s: bad caller index %d", l.ProxyName, l.CallerIndex)
		}
	}
	return nil
}

// encoder appends little-endian fields to a buffer.
type encoder struct {
	buf     bytes.Buffer
	scratch [8]byte
}

func (e *encoder) u8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.scratch[:4], v)
	e.buf.Write(e.scratch[:4])
}

func (e *encoder) i32(v int) { e.u32(uint32(int32(v))) }

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.scratch[:8], v)
	e.buf.Write(e.scratch[:8])
}

func (e *encoder) i64(v int64) { e.u64(uint64(v)) }

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf.Write(b)
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) ints(v []int) {
	e.u32(uint32(len(v)))
	for _, x := range v {
		e.i32(x)
	}
}

func encodePayload(a *Archive) []byte {
	e := &encoder{}
	e.i64(a.Header.CreatedAt.UnixNano())
	e.str(a.Header.RootModule)

	e.u32(uint32(len(a.Entries)))
	for _, p := range a.Entries {
		e.i32(p.Index)
		e.str(p.Path)
		e.u8(uint8(p.Kind))
		e.i64(p.Size)
		e.i64(p.ModTime)
		e.bytes(p.ManifestBytes)
		e.bool(p.FromModulePath)
	}

	e.u32(uint32(len(a.Modules)))
	for _, m := range a.Modules {
		e.str(m.Name)
		e.str(m.Version)
		e.str(m.Location)
		e.u8(uint8(m.LoaderKind))
		e.bool(m.Open)
		e.i32(m.PathIndex)
		e.ints(m.Reads)
	}

	e.u32(uint32(len(a.Packages)))
	for _, p := range a.Packages {
		e.str(p.Name)
		e.u8(uint8(p.LoaderKind))
		e.i32(p.ModuleIndex)
		e.u8(p.ExportFlags)
		e.ints(p.QualifiedExports)
	}

	e.u32(uint32(len(a.Types)))
	for _, t := range a.Types {
		e.str(t.Name)
		e.i32(t.SuperIndex)
		e.ints(t.Interfaces)
		e.u8(uint8(t.LoaderKind))
		e.i32(t.PathIndex)
		e.i32(t.ModuleIndex)
		e.i32(t.PackageIndex)
		e.u64(t.Digest)
	}

	e.u32(uint32(len(a.LambdaProxies)))
	for _, l := range a.LambdaProxies {
		e.i32(l.CallerIndex)
		e.str(l.Key)
		e.str(l.ProxyName)
	}

	e.u32(uint32(len(a.LambdaFormLines)))
	for _, s := range a.LambdaFormLines {
		e.str(s)
	}
	return e.buf.Bytes()
}

// decoder reads fields written by encoder. The first error sticks; later
// reads return zero values.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.data) {
		d.err = invalid("payload truncated at offset %d", d.off)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) bool() bool { return d.u8() != 0 }

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) i32() int { return int(int32(d.u32())) }

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) count() int {
	n := d.u32()
	if d.err == nil && n > maxRecords {
		d.err = invalid("record count %d exceeds limit", n)
		return 0
	}
	return int(n)
}

func (d *decoder) bytes() []byte {
	n := d.u32()
	b := d.take(int(n))
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *decoder) str() string {
	n := d.u32()
	return string(d.take(int(n)))
}

func (d *decoder) ints() []int {
	n := d.count()
	if n == 0 {
		return nil
	}
	out := make([]int, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.i32())
	}
	return out
}

func decodePayload(raw []byte) (*Archive, error) {
	d := &decoder{data: raw}
	a := &Archive{}
	a.Header.CreatedAt = time.Unix(0, d.i64()).UTC()
	a.Header.RootModule = d.str()

	for i, n := 0, d.count(); i < n && d.err == nil; i++ {
		a.Entries = append(a.Entries, &PathEntry{
			Index:          d.i32(),
			Path:           d.str(),
			Kind:           EntryKind(d.u8()),
			Size:           d.i64(),
			ModTime:        d.i64(),
			ManifestBytes:  d.bytes(),
			FromModulePath: d.bool(),
		})
	}

	for i, n := 0, d.count(); i < n && d.err == nil; i++ {
		a.Modules = append(a.Modules, &ModuleRecord{
			Name:       d.str(),
			Version:    d.str(),
			Location:   d.str(),
			LoaderKind: model.LoaderKind(d.u8()),
			Open:       d.bool(),
			PathIndex:  d.i32(),
			Reads:      d.ints(),
		})
	}

	for i, n := 0, d.count(); i < n && d.err == nil; i++ {
		a.Packages = append(a.Packages, &PackageRecord{
			Name:             d.str(),
			LoaderKind:       model.LoaderKind(d.u8()),
			ModuleIndex:      d.i32(),
			ExportFlags:      d.u8(),
			QualifiedExports: d.ints(),
		})
	}

	for i, n := 0, d.count(); i < n && d.err == nil; i++ {
		a.Types = append(a.Types, &TypeRecord{
			Name:         d.str(),
			SuperIndex:   d.i32(),
			Interfaces:   d.ints(),
			LoaderKind:   model.LoaderKind(d.u8()),
			PathIndex:    d.i32(),
			ModuleIndex:  d.i32(),
			PackageIndex: d.i32(),
			Digest:       d.u64(),
		})
	}

	for i, n := 0, d.count(); i < n && d.err == nil; i++ {
		a.LambdaProxies = append(a.LambdaProxies, &LambdaProxyRecord{
			CallerIndex: d.i32(),
			Key:         d.str(),
			ProxyName:   d.str(),
		})
	}

	for i, n := 0, d.count(); i < n && d.err == nil; i++ {
		a.LambdaFormLines = append(a.LambdaFormLines, d.str())
	}

	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(d.data) {
		return nil, invalid("%d trailing bytes after payload", len(d.data)-d.off)
	}
	return a, nil
}
