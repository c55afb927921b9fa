package model

import "strings"

// MaxArrayDimensions is the largest number of dimensions an array type
// may have.
const MaxArrayDimensions = 255

// ArrayName is a parsed array type name such as "[[Ljava/lang/String;".
type ArrayName struct {
	Dimensions int
	// Element is the internal name of the element type of an object
	// array, empty for primitive arrays.
	Element string
	// Primitive is the descriptor character of a primitive element.
	Primitive byte
}

// IsArrayName reports whether name denotes an array type.
func IsArrayName(name string) bool {
	return strings.HasPrefix(name, "[")
}

// IsPrimitiveDescriptor reports whether c names a primitive element type.
func IsPrimitiveDescriptor(c byte) bool {
	switch c {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return true
	}
	return false
}

// ParseArrayName parses an array type name. It reports false for names
// that are not well-formed array names.
func ParseArrayName(name string) (ArrayName, bool) {
	var a ArrayName
	for a.Dimensions < len(name) && name[a.Dimensions] == '[' {
		a.Dimensions++
	}
	if a.Dimensions == 0 || a.Dimensions > MaxArrayDimensions {
		return ArrayName{}, false
	}
	elem := name[a.Dimensions:]
	switch {
	case len(elem) == 1 && IsPrimitiveDescriptor(elem[0]):
		a.Primitive = elem[0]
	case len(elem) > 2 && elem[0] == 'L' && elem[len(elem)-1] == ';':
		a.Element = elem[1 : len(elem)-1]
		if strings.ContainsAny(a.Element, "[;") {
			return ArrayName{}, false
		}
	default:
		return ArrayName{}, false
	}
	return a, true
}

// ArrayTypeName returns the name of the array type whose components are
// of type component, an internal name or an array name.
func ArrayTypeName(component string) string {
	if IsArrayName(component) {
		return "[" + component
	}
	return "[L" + component + ";"
}

// StripEnvelope turns a field descriptor of an object type ("Lp/C;") into
// its internal name ("p/C"). Other names are returned unchanged.
func StripEnvelope(name string) string {
	if len(name) > 2 && name[0] == 'L' && name[len(name)-1] == ';' {
		return name[1 : len(name)-1]
	}
	return name
}
