package classfile

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/classreg/pkg/errors"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		info Info
	}{
		{"root", Info{Name: "java/lang/Object"}},
		{"class", Info{Name: "com/example/Bar", SuperName: "com/example/Foo"}},
		{"interfaces", Info{Name: "com/example/Impl", SuperName: "java/lang/Object",
			Interfaces: []string{"java/lang/Runnable", "java/io/Serializable"}}},
		{"interface", Info{Name: "com/example/I", SuperName: "java/lang/Object",
			AccessFlags: AccPublic | AccInterface | AccAbstract, MajorVersion: 61}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(Encode(&tt.info))
			require.NoError(t, err)
			assert.Equal(t, tt.info.Name, got.Name)
			assert.Equal(t, tt.info.SuperName, got.SuperName)
			assert.Equal(t, tt.info.Interfaces, got.Interfaces)
			if tt.info.MajorVersion != 0 {
				assert.Equal(t, tt.info.MajorVersion, got.MajorVersion)
				assert.True(t, got.IsInterface())
			} else {
				assert.Equal(t, DefaultMajorVersion, got.MajorVersion)
				assert.False(t, got.IsInterface())
			}
		})
	}
}

func TestEncode_SharesRepeatedNames(t *testing.T) {
	data := Encode(&Info{Name: "A", SuperName: "B", Interfaces: []string{"B"}})
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, got.Interfaces)
	// magic, minor, major, then the pool count: A and B use two slots each.
	assert.Equal(t, uint16(5), binary.BigEndian.Uint16(data[8:10]))
}

// handBuilt writes a class whose pool holds a long and a method ref
// ahead of the class entries.
func handBuilt() []byte {
	var b bytes.Buffer
	put := func(v interface{}) { _ = binary.Write(&b, binary.BigEndian, v) }
	put(Magic)
	put(uint16(0))
	put(uint16(55))
	put(uint16(7)) // pool count
	// 1-2: long
	put(uint8(tagLong))
	put(uint64(42))
	// 3: method ref
	put(uint8(tagMethodref))
	put(uint32(0))
	// 4: utf8 "X", 5: class X
	put(uint8(tagUtf8))
	put(uint16(1))
	b.WriteString("X")
	put(uint8(tagClass))
	put(uint16(4))
	// 6: method handle
	put(uint8(tagMethodHandle))
	put(uint8(1))
	put(uint16(3))
	put(AccPublic | AccSuper)
	put(uint16(5)) // this
	put(uint16(0)) // super
	put(uint16(0)) // interfaces
	return b.Bytes()
}

func TestDecode_WideConstants(t *testing.T) {
	info, err := Decode(handBuilt())
	require.NoError(t, err)
	assert.Equal(t, "X", info.Name)
	assert.Equal(t, "", info.SuperName)
	assert.Equal(t, uint16(55), info.MajorVersion)
}

func TestDecode_Errors(t *testing.T) {
	valid := Encode(&Info{Name: "A", SuperName: "B"})

	badThis := handBuilt()
	binary.BigEndian.PutUint16(badThis[len(badThis)-6:], 4) // points at a utf8 entry

	badTag := append([]byte(nil), valid...)
	badTag[10] = 99

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", []byte{0xde, 0xad, 0xbe, 0xef, 0, 0, 0, 52}},
		{"truncated", valid[:len(valid)-8]},
		{"bad this index", badThis},
		{"unknown tag", badTag},
		{"module-info", Encode(&Info{Name: "module-info", AccessFlags: AccModule})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeParseError, apperrors.GetErrorCode(err))
		})
	}
}

func TestDigest(t *testing.T) {
	a := Encode(&Info{Name: "A"})
	b := Encode(&Info{Name: "B"})
	assert.Equal(t, Digest(a), Digest(append([]byte(nil), a...)))
	assert.NotEqual(t, Digest(a), Digest(b))
	assert.Equal(t, uint64(len(a)), Digest(a)>>32)
}
