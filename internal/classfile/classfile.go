// Package classfile reads and writes the header of a class file: the
// constant pool, access flags, this class, super class and interfaces.
// Fields, methods and attributes are not interpreted.
package classfile

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	apperrors "github.com/classreg/pkg/errors"
)

// Magic starts every class file.
const Magic uint32 = 0xCAFEBABE

// Access flags.
const (
	AccPublic    uint16 = 0x0001
	AccFinal     uint16 = 0x0010
	AccSuper     uint16 = 0x0020
	AccInterface uint16 = 0x0200
	AccAbstract  uint16 = 0x0400
	AccModule    uint16 = 0x8000
)

// DefaultMajorVersion is written by Encode when Info.MajorVersion is 0.
const DefaultMajorVersion uint16 = 52

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

// Info is the decoded class header.
type Info struct {
	MinorVersion uint16
	MajorVersion uint16
	AccessFlags  uint16
	Name         string
	SuperName    string
	Interfaces   []string
}

// IsInterface reports whether the class is an interface.
func (i *Info) IsInterface() bool { return i.AccessFlags&AccInterface != 0 }

// Digest identifies class bytes by length and CRC-32.
func Digest(data []byte) uint64 {
	return uint64(len(data))<<32 | uint64(crc32.ChecksumIEEE(data))
}

type cpEntry struct {
	tag  uint8
	utf8 string
	ref  uint16
}

// reader reads big-endian fields from a byte slice.
type reader struct {
	data []byte
	off  int
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, formatError("truncated class file at offset %d", r.off)
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) u1() (uint8, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) u2() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) u4() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func formatError(format string, args ...interface{}) error {
	return apperrors.Newf(apperrors.CodeParseError, "class format error: "+format, args...)
}

// Decode parses the header of a class file.
func Decode(data []byte) (*Info, error) {
	r := &reader{data: data}
	magic, err := r.u4()
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, formatError("bad magic 0x%08x", magic)
	}
	info := &Info{}
	if info.MinorVersion, err = r.u2(); err != nil {
		return nil, err
	}
	if info.MajorVersion, err = r.u2(); err != nil {
		return nil, err
	}

	pool, err := readConstantPool(r)
	if err != nil {
		return nil, err
	}

	if info.AccessFlags, err = r.u2(); err != nil {
		return nil, err
	}
	if info.AccessFlags&AccModule != 0 {
		return nil, formatError("module-info is not a class")
	}
	this, err := r.u2()
	if err != nil {
		return nil, err
	}
	if info.Name, err = className(pool, this); err != nil {
		return nil, err
	}
	super, err := r.u2()
	if err != nil {
		return nil, err
	}
	if super != 0 {
		if info.SuperName, err = className(pool, super); err != nil {
			return nil, err
		}
	}
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(count); i++ {
		idx, err := r.u2()
		if err != nil {
			return nil, err
		}
		name, err := className(pool, idx)
		if err != nil {
			return nil, err
		}
		info.Interfaces = append(info.Interfaces, name)
	}
	return info, nil
}

func readConstantPool(r *reader) ([]cpEntry, error) {
	count, err := r.u2()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, formatError("empty constant pool")
	}
	pool := make([]cpEntry, count)
	for i := 1; i < int(count); i++ {
		tag, err := r.u1()
		if err != nil {
			return nil, err
		}
		e := cpEntry{tag: tag}
		switch tag {
		case tagUtf8:
			n, err := r.u2()
			if err != nil {
				return nil, err
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return nil, err
			}
			e.utf8 = string(b)
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			if e.ref, err = r.u2(); err != nil {
				return nil, err
			}
		case tagMethodHandle:
			if _, err := r.bytes(3); err != nil {
				return nil, err
			}
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			if _, err := r.bytes(4); err != nil {
				return nil, err
			}
		case tagLong, tagDouble:
			if _, err := r.bytes(8); err != nil {
				return nil, err
			}
			pool[i] = e
			i++
			continue
		default:
			return nil, formatError("unknown constant pool tag %d at index %d", tag, i)
		}
		pool[i] = e
	}
	return pool, nil
}

func className(pool []cpEntry, idx uint16) (string, error) {
	if int(idx) <= 0 || int(idx) >= len(pool) || pool[idx].tag != tagClass {
		return "", formatError("invalid class index %d", idx)
	}
	ref := pool[idx].ref
	if int(ref) <= 0 || int(ref) >= len(pool) || pool[ref].tag != tagUtf8 {
		return "", formatError("invalid class name index %d", ref)
	}
	return pool[ref].utf8, nil
}

// Encode writes a minimal class file for info, with no fields, methods
// or attributes.
func Encode(info *Info) []byte {
	var pool bytes.Buffer
	next := uint16(1)
	classIndex := make(map[string]uint16)
	addClass := func(name string) uint16 {
		if i, ok := classIndex[name]; ok {
			return i
		}
		pool.WriteByte(tagUtf8)
		_ = binary.Write(&pool, binary.BigEndian, uint16(len(name)))
		pool.WriteString(name)
		pool.WriteByte(tagClass)
		_ = binary.Write(&pool, binary.BigEndian, next)
		classIndex[name] = next + 1
		next += 2
		return next - 1
	}

	this := addClass(info.Name)
	var super uint16
	if info.SuperName != "" {
		super = addClass(info.SuperName)
	}
	interfaces := make([]uint16, 0, len(info.Interfaces))
	for _, itf := range info.Interfaces {
		interfaces = append(interfaces, addClass(itf))
	}

	major := info.MajorVersion
	if major == 0 {
		major = DefaultMajorVersion
	}
	flags := info.AccessFlags
	if flags == 0 {
		flags = AccPublic | AccSuper
	}

	var out bytes.Buffer
	put := func(v interface{}) { _ = binary.Write(&out, binary.BigEndian, v) }
	put(Magic)
	put(info.MinorVersion)
	put(major)
	put(next)
	out.Write(pool.Bytes())
	put(flags)
	put(this)
	put(super)
	put(uint16(len(interfaces)))
	for _, i := range interfaces {
		put(i)
	}
	put(uint16(0)) // fields
	put(uint16(0)) // methods
	put(uint16(0)) // attributes
	return out.Bytes()
}
