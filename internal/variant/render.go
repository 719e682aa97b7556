package variant

import (
	"math"
	"slices"
	"strconv"
	"strings"
)

// Render returns the display form of v. Output is stable for a given value:
// floats are fixed-point with at most two decimals and never use exponent
// notation, and containers render as their size only.
func Render(v Value) string {
	switch t := v.(type) {
	case nil, Nil:
		return "null"
	case Bool:
		return strconv.FormatBool(bool(t))
	case Int:
		return strconv.FormatInt(int64(t), 10)
	case Float:
		return formatFloat(float64(t))
	case String:
		return strconv.Quote(string(t))
	case Vector2:
		return tuple(t.X, t.Y)
	case Vector3:
		return tuple(t.X, t.Y, t.Z)
	case Rect2:
		return tuple(t.Position.X, t.Position.Y) + ", " + tuple(t.Size.X, t.Size.Y)
	case Transform2D:
		return "(" + Render(t.X) + ", " + Render(t.Y) + ", " + Render(t.Origin) + ")"
	case Plane:
		return tuple(t.Normal.X, t.Normal.Y, t.Normal.Z, t.D)
	case Quat:
		return tuple(t.X, t.Y, t.Z, t.W)
	case AABB:
		return Render(t.Position) + " - " + Render(t.Size)
	case Basis:
		return "(" + Render(t.X) + ", " + Render(t.Y) + ", " + Render(t.Z) + ")"
	case Transform:
		return Render(t.Basis) + " - " + Render(t.Origin)
	case Color:
		return tuple(t.R, t.G, t.B, t.A)
	case NodePath:
		return t.String()
	case ObjectID:
		return "Object<" + strconv.FormatUint(uint64(t), 10) + ">"
	case Object:
		return t.Class
	case Dictionary:
		return "Dictionary[" + strconv.Itoa(len(t)) + "]"
	case Array:
		return "Array[" + strconv.Itoa(len(t)) + "]"
	}
	return v.Type().String()
}

// String renders the path the way the engine writes it.
func (p NodePath) String() string {
	var b strings.Builder
	if p.Absolute {
		b.WriteByte('/')
	}
	b.WriteString(strings.Join(p.Names, "/"))
	for _, s := range p.SubNames {
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	s := strconv.FormatFloat(f, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func tuple(fs ...float64) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = formatFloat(f)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Field is one direct child of a composite value.
type Field struct {
	// Name is the label shown for the child: a key, a property name or an
	// index such as "[0]".
	Name string
	// Path is the suffix that joins the child onto its parent's path, for
	// example ".x", "[0]" or `["key with spaces"]`.
	Path  string
	Value Value
}

// Fields returns the direct children of v in a stable order. Scalars, node
// paths and unresolved object ids have none.
func Fields(v Value) []Field {
	switch t := v.(type) {
	case Array:
		out := make([]Field, len(t))
		for i, e := range t {
			idx := "[" + strconv.Itoa(i) + "]"
			out[i] = Field{Name: idx, Path: idx, Value: e}
		}
		return out
	case Dictionary:
		out := make([]Field, len(t))
		for i, e := range t {
			out[i] = dictField(e)
		}
		return out
	case Object:
		out := make([]Field, len(t.Properties))
		for i, p := range t.Properties {
			out[i] = named(p.Name, p.Value)
		}
		return out
	case Vector2:
		return floatFields([]string{"x", "y"}, t.X, t.Y)
	case Vector3:
		return floatFields([]string{"x", "y", "z"}, t.X, t.Y, t.Z)
	case Rect2:
		return []Field{named("position", t.Position), named("size", t.Size)}
	case Transform2D:
		return []Field{named("x", t.X), named("y", t.Y), named("origin", t.Origin)}
	case Plane:
		return []Field{named("normal", t.Normal), named("d", Float(t.D))}
	case Quat:
		return floatFields([]string{"x", "y", "z", "w"}, t.X, t.Y, t.Z, t.W)
	case AABB:
		return []Field{named("position", t.Position), named("size", t.Size)}
	case Basis:
		return []Field{named("x", t.X), named("y", t.Y), named("z", t.Z)}
	case Transform:
		return []Field{named("basis", t.Basis), named("origin", t.Origin)}
	case Color:
		return floatFields([]string{"r", "g", "b", "a"}, t.R, t.G, t.B, t.A)
	}
	return nil
}

func named(name string, v Value) Field {
	return Field{Name: name, Path: "." + name, Value: v}
}

func floatFields(names []string, fs ...float64) []Field {
	out := make([]Field, len(fs))
	for i, f := range fs {
		out[i] = named(names[i], Float(f))
	}
	return out
}

func dictField(e Entry) Field {
	if s, ok := e.Key.(String); ok {
		if isIdent(string(s)) {
			return named(string(s), e.Value)
		}
		q := strconv.Quote(string(s))
		return Field{Name: string(s), Path: "[" + q + "]", Value: e.Value}
	}
	r := Render(e.Key)
	return Field{Name: r, Path: "[" + r + "]", Value: e.Value}
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Equal reports whether a and b hold the same content. Dictionaries compare
// equal regardless of entry order; a nil Value equals Nil.
func Equal(a, b Value) bool {
	if a == nil {
		a = Nil{}
	}
	if b == nil {
		b = Nil{}
	}
	switch x := a.(type) {
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Dictionary:
		y, ok := b.(Dictionary)
		if !ok || len(x) != len(y) {
			return false
		}
		used := make([]bool, len(y))
	entries:
		for _, e := range x {
			for j, f := range y {
				if !used[j] && Equal(e.Key, f.Key) && Equal(e.Value, f.Value) {
					used[j] = true
					continue entries
				}
			}
			return false
		}
		return true
	case Object:
		y, ok := b.(Object)
		if !ok || x.Class != y.Class || len(x.Properties) != len(y.Properties) {
			return false
		}
		for i, p := range x.Properties {
			if p.Name != y.Properties[i].Name || !Equal(p.Value, y.Properties[i].Value) {
				return false
			}
		}
		return true
	case NodePath:
		y, ok := b.(NodePath)
		return ok && x.Absolute == y.Absolute &&
			slices.Equal(x.Names, y.Names) && slices.Equal(x.SubNames, y.SubNames)
	}
	// Every remaining implementation is a comparable value type.
	return a == b
}
