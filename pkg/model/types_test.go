package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoaderKind_String(t *testing.T) {
	tests := []struct {
		kind     LoaderKind
		expected string
	}{
		{LoaderKindBoot, "boot"},
		{LoaderKindPlatform, "platform"},
		{LoaderKindApp, "app"},
		{LoaderKindCustom, "custom"},
		{LoaderKindHidden, "hidden"},
		{LoaderKind(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.kind.String())
			if tt.expected != "unknown" {
				parsed, ok := ParseLoaderKind(tt.expected)
				assert.True(t, ok)
				assert.Equal(t, tt.kind, parsed)
			}
		})
	}
}

func TestLoaderKind_IsBuiltin(t *testing.T) {
	assert.True(t, LoaderKindBoot.IsBuiltin())
	assert.True(t, LoaderKindPlatform.IsBuiltin())
	assert.True(t, LoaderKindApp.IsBuiltin())
	assert.False(t, LoaderKindCustom.IsBuiltin())
	assert.False(t, LoaderKindHidden.IsBuiltin())
}

func TestNewTypeDescriptor(t *testing.T) {
	td := NewTypeDescriptor("com/example/Bar", "com/example/Foo", "java/io/Serializable")

	assert.Equal(t, "com/example", td.PackageName())
	assert.Equal(t, NoSharedPathIndex, td.SharedPathIndex)
	assert.False(t, td.IsShared())
	assert.Equal(t, []string{"java/io/Serializable"}, td.Interfaces)
	assert.Equal(t, "com/example/Bar", td.String())
}

func TestPackageOf(t *testing.T) {
	assert.Equal(t, "java/lang", PackageOf("java/lang/Object"))
	assert.Equal(t, "", PackageOf("Foo"))
}

func TestProtectionDomain_String(t *testing.T) {
	var none *ProtectionDomain
	assert.Equal(t, "<none>", none.String())
	assert.Equal(t, "file:/app.jar", NewProtectionDomain("file:/app.jar").String())
}

func TestParseArrayName(t *testing.T) {
	tests := []struct {
		name string
		want ArrayName
		ok   bool
	}{
		{"[I", ArrayName{Dimensions: 1, Primitive: 'I'}, true},
		{"[[Z", ArrayName{Dimensions: 2, Primitive: 'Z'}, true},
		{"[Ljava/lang/String;", ArrayName{Dimensions: 1, Element: "java/lang/String"}, true},
		{"[[[Lcom/a/Foo;", ArrayName{Dimensions: 3, Element: "com/a/Foo"}, true},
		{"java/lang/String", ArrayName{}, false},
		{"[", ArrayName{}, false},
		{"[Q", ArrayName{}, false},
		{"[II", ArrayName{}, false},
		{"[Lcom/a/Foo", ArrayName{}, false},
		{"[L;", ArrayName{}, false},
		{"[L[I;", ArrayName{}, false},
		{strings.Repeat("[", MaxArrayDimensions+1) + "I", ArrayName{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseArrayName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArrayTypeName(t *testing.T) {
	assert.Equal(t, "[Ljava/lang/String;", ArrayTypeName("java/lang/String"))
	assert.Equal(t, "[[I", ArrayTypeName("[I"))
	assert.Equal(t, "com/a/Foo", StripEnvelope("Lcom/a/Foo;"))
	assert.Equal(t, "com/a/Foo", StripEnvelope("com/a/Foo"))
	assert.True(t, (&TypeDescriptor{Dimensions: 1}).IsArray())
	assert.False(t, NewTypeDescriptor("Foo", "").IsArray())
}
