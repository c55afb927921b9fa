package classlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/classreg/pkg/errors"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "java/lang/Object", "java/lang/Object"},
		{"comment", "# whole line", ""},
		{"trailing comment", "Foo id: 1 # note", "Foo id: 1"},
		{"tabs", "Foo\tid:\t1\r", "Foo id: 1"},
		{"trailing spaces", "Foo   ", "Foo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestParse_Full(t *testing.T) {
	input := `# header
java/lang/Object id: 0
java/lang/String
com/example/Foo id:1 super:0 source: /app/foo.jar
com/example/Bar id: 2 super: 1 interfaces: 3 4 source: /app/bar.jar
com/example/I1 id: 3 super: 0 source: /app/bar.jar
com/example/I2 id: 4 super: 0 source: /app/bar.jar

@lambda-proxy com/example/Foo run ()Ljava/lang/Runnable; ()V REF_invokeStatic com/example/Foo lambda$0 ()V ()V
@lambda-form-invoker [LF_RESOLVE] java.lang.invoke.DirectMethodHandle$Holder invokeStatic L_L
`
	list, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, list.Lines, 6)

	obj := list.Lines[0]
	assert.Equal(t, "java/lang/Object", obj.Name)
	assert.Equal(t, 0, obj.ID)
	assert.False(t, obj.HasSource())

	str := list.Lines[1]
	assert.Equal(t, NoID, str.ID)
	assert.Equal(t, NoID, str.SuperID)

	bar := list.ByID(2)
	require.NotNil(t, bar)
	assert.Equal(t, "com/example/Bar", bar.Name)
	assert.Equal(t, 1, bar.SuperID)
	assert.Equal(t, []int{3, 4}, bar.Interfaces)
	assert.Equal(t, "/app/bar.jar", bar.Source)
	assert.Equal(t, 5, bar.LineNo)

	assert.Equal(t, []int{0, 1, 2, 3, 4}, list.IDs())

	require.Len(t, list.LambdaProxies, 1)
	proxy := list.LambdaProxies[0]
	assert.Equal(t, "com/example/Foo", proxy.Caller)
	assert.Equal(t, "run", proxy.Items[0])
	assert.Equal(t, 9, proxy.LineNo)
	assert.True(t, strings.HasPrefix(proxy.Key(), "run ()Ljava/lang/Runnable;"))

	require.Len(t, list.LambdaFormInvokers, 1)
	assert.True(t, strings.HasPrefix(list.LambdaFormInvokers[0], "[LF_RESOLVE]"))
}

func TestParse_ForwardReference(t *testing.T) {
	input := "A id:1 super:2 source: /src\nB id:2 super:1 source: /src\n"
	list, err := Parse(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "B", list.ByID(list.ByID(1).SuperID).Name)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"duplicate id", "A id: 1\nB id: 1\n", "duplicated id 1"},
		{"super without source", "A id: 1 super: 0\n", "super must not be specified"},
		{"interfaces without source", "A id: 1 interfaces: 0\n", "interfaces must not be specified"},
		{"source without id", "A super: 0 source: /x\n", "id must be specified"},
		{"source without super", "A id: 1 source: /x\n", "super must be specified"},
		{"unknown option", "A id: 1 color: red\n", "unknown input"},
		{"bad id", "A id: x\n", "non-negative integer"},
		{"negative id", "A id: -3\n", "non-negative integer"},
		{"empty interfaces", "A id: 1 super: 0 interfaces: source: /x\n", "at least one id"},
		{"undefined super", "A id: 1 super: 9 source: /x\n", "super id 9"},
		{"undefined interface", "O id: 0\nA id: 1 super: 0 interfaces: 7 source: /x\n", "interface id 7"},
		{"bad tag", "@bogus x\n", "invalid tag"},
		{"short proxy", "@lambda-proxy Foo\n", "requires a caller"},
		{"empty invoker", "@lambda-form-invoker\n", "requires a line"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeParseError, apperrors.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestParse_ObjectMayOmitSuper(t *testing.T) {
	list, err := Parse(strings.NewReader("java/lang/Object id: 0 source: jrt:/java.base\n"))
	require.NoError(t, err)
	assert.Equal(t, "jrt:/java.base", list.Lines[0].Source)
}

func TestParse_ErrorCarriesLineNumber(t *testing.T) {
	_, err := Parse(strings.NewReader("# c\n\nA id: 1\nA2 id: 1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classlist line 4")
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classlist")
	require.NoError(t, os.WriteFile(path, []byte("Foo id: 0\n"), 0644))

	list, err := ParseFile(path)
	require.NoError(t, err)
	assert.Len(t, list.Lines, 1)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
}
