// Package variant implements the Godot 3 binary Variant encoding used by the
// engine's remote debugger.
//
// Every value on the wire starts with a 4-byte little-endian type word. The
// low byte selects the type and bit 16 is a format flag: it selects 64-bit
// integers, double precision floats, and object references sent as a bare
// instance id instead of an inline object. Strings are length prefixed and
// padded with zero bytes to a multiple of four.
//
// Decoded values are represented by the closed Value union below. Values are
// immutable once decoded; composite values own their children.
package variant

import "fmt"

// Type is the engine's variant type id (the low byte of the type word).
type Type uint32

const (
	TypeNil Type = iota
	TypeBool
	TypeInt
	TypeReal
	TypeString
	TypeVector2
	TypeRect2
	TypeVector3
	TypeTransform2D
	TypePlane
	TypeQuat
	TypeAABB
	TypeBasis
	TypeTransform
	TypeColor
	TypeNodePath
	TypeRID
	TypeObject
	TypeDictionary
	TypeArray
	TypePoolByteArray
	TypePoolIntArray
	TypePoolRealArray
	TypePoolStringArray
	TypePoolVector2Array
	TypePoolVector3Array
	TypePoolColorArray
	typeMax
)

const (
	typeMask = 0xff
	// flag64 marks 64-bit ints, double floats and objects encoded as ids.
	flag64 = 1 << 16
	// countMask strips the "shared" bit the engine sets on array and
	// dictionary counts.
	countMask = 0x7fffffff
)

var typeNames = [...]string{
	"Nil", "bool", "int", "float", "String",
	"Vector2", "Rect2", "Vector3", "Transform2D", "Plane",
	"Quat", "AABB", "Basis", "Transform", "Color",
	"NodePath", "RID", "Object", "Dictionary", "Array",
	"PoolByteArray", "PoolIntArray", "PoolRealArray", "PoolStringArray",
	"PoolVector2Array", "PoolVector3Array", "PoolColorArray",
}

func (t Type) String() string {
	if t < typeMax {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint32(t))
}

// Value is a decoded Variant. The set of implementations is closed.
type Value interface {
	// Type returns the wire type of the value.
	Type() Type
	isValue()
}

// Nil is the empty variant. Unknown wire types also decode to Nil.
type Nil struct{}

type Bool bool

type Int int64

// Float holds both 32- and 64-bit reals.
type Float float64

type String string

type Vector2 struct {
	X, Y float64
}

type Vector3 struct {
	X, Y, Z float64
}

type Rect2 struct {
	Position Vector2
	Size     Vector2
}

// Transform2D holds the two basis columns and the origin.
type Transform2D struct {
	X, Y, Origin Vector2
}

type Plane struct {
	Normal Vector3
	D      float64
}

type Quat struct {
	X, Y, Z, W float64
}

type AABB struct {
	Position Vector3
	Size     Vector3
}

type Basis struct {
	X, Y, Z Vector3
}

type Transform struct {
	Basis  Basis
	Origin Vector3
}

type Color struct {
	R, G, B, A float64
}

// NodePath is a scene tree path such as "/root/Player:position:x".
type NodePath struct {
	Names    []string
	SubNames []string
	Absolute bool
}

// ObjectID is an object reference sent as a bare instance id. Its class and
// properties are only known after an inspect round trip.
type ObjectID uint64

// Property is one named property of an inline Object.
type Property struct {
	Name  string
	Value Value
}

// Object is an object sent inline with its class name and properties.
type Object struct {
	Class      string
	Properties []Property
}

// Entry is one key/value pair of a Dictionary.
type Entry struct {
	Key   Value
	Value Value
}

// Dictionary keeps entries in wire order. The engine does not guarantee any
// particular order, so equality is defined on content (see Equal).
type Dictionary []Entry

type Array []Value

func (Nil) Type() Type         { return TypeNil }
func (Bool) Type() Type        { return TypeBool }
func (Int) Type() Type         { return TypeInt }
func (Float) Type() Type       { return TypeReal }
func (String) Type() Type      { return TypeString }
func (Vector2) Type() Type     { return TypeVector2 }
func (Vector3) Type() Type     { return TypeVector3 }
func (Rect2) Type() Type       { return TypeRect2 }
func (Transform2D) Type() Type { return TypeTransform2D }
func (Plane) Type() Type       { return TypePlane }
func (Quat) Type() Type        { return TypeQuat }
func (AABB) Type() Type        { return TypeAABB }
func (Basis) Type() Type       { return TypeBasis }
func (Transform) Type() Type   { return TypeTransform }
func (Color) Type() Type       { return TypeColor }
func (NodePath) Type() Type    { return TypeNodePath }
func (ObjectID) Type() Type    { return TypeObject }
func (Object) Type() Type      { return TypeObject }
func (Dictionary) Type() Type  { return TypeDictionary }
func (Array) Type() Type       { return TypeArray }

func (Nil) isValue()         {}
func (Bool) isValue()        {}
func (Int) isValue()         {}
func (Float) isValue()       {}
func (String) isValue()      {}
func (Vector2) isValue()     {}
func (Vector3) isValue()     {}
func (Rect2) isValue()       {}
func (Transform2D) isValue() {}
func (Plane) isValue()       {}
func (Quat) isValue()        {}
func (AABB) isValue()        {}
func (Basis) isValue()       {}
func (Transform) isValue()   {}
func (Color) isValue()       {}
func (NodePath) isValue()    {}
func (ObjectID) isValue()    {}
func (Object) isValue()      {}
func (Dictionary) isValue()  {}
func (Array) isValue()       {}

// Get returns the value stored under a string key.
func (d Dictionary) Get(key string) (Value, bool) {
	for _, e := range d {
		if s, ok := e.Key.(String); ok && string(s) == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Property returns the named property of an inline object.
func (o Object) Property(name string) (Value, bool) {
	for _, p := range o.Properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// AsInt converts numeric values to int64.
func AsInt(v Value) (int64, bool) {
	switch n := v.(type) {
	case Int:
		return int64(n), true
	case Float:
		return int64(n), true
	case Bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsString returns the content of a String value.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// AsBool reports the truthiness of a Bool or numeric value.
func AsBool(v Value) bool {
	switch b := v.(type) {
	case Bool:
		return bool(b)
	case Int:
		return b != 0
	}
	return false
}
