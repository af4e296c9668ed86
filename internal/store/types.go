// Package store - Element types
//
// LOCATION: internal/store/types.go
//
// The closed set of element types a variable or a sub-branch can carry.
// Every supported type appears once as a scalar and once as a vector.

package store

import (
	"fmt"
	"reflect"
)

// =============================================================================
// Kind
// =============================================================================

// Kind is the primitive type of a value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindFloat64
	KindFloat32
	KindInt32
	KindInt8
	KindBool
	KindUint32
	KindUint64
	KindInt64
)

// Kinds lists every supported kind in branch-creation order.
var Kinds = []Kind{
	KindFloat64,
	KindFloat32,
	KindInt32,
	KindInt8,
	KindBool,
	KindUint32,
	KindUint64,
	KindInt64,
}

var kindNames = map[Kind]string{
	KindFloat64: "double",
	KindFloat32: "float",
	KindInt32:   "int",
	KindInt8:    "char",
	KindBool:    "bool",
	KindUint32:  "uint",
	KindUint64:  "ulong64",
	KindInt64:   "long64",
}

var kindTypes = map[Kind]reflect.Type{
	KindFloat64: reflect.TypeOf(float64(0)),
	KindFloat32: reflect.TypeOf(float32(0)),
	KindInt32:   reflect.TypeOf(int32(0)),
	KindInt8:    reflect.TypeOf(int8(0)),
	KindBool:    reflect.TypeOf(false),
	KindUint32:  reflect.TypeOf(uint32(0)),
	KindUint64:  reflect.TypeOf(uint64(0)),
	KindInt64:   reflect.TypeOf(int64(0)),
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// =============================================================================
// ElementType
// =============================================================================

// ElementType is a kind, optionally as a per-event vector.
type ElementType struct {
	Kind   Kind
	Vector bool
}

// Scalar returns the scalar element type of k.
func Scalar(k Kind) ElementType { return ElementType{Kind: k} }

// Vector returns the vector element type of k.
func Vector(k Kind) ElementType { return ElementType{Kind: k, Vector: true} }

// String returns "float" or "vector<float>".
func (t ElementType) String() string {
	if t.Vector {
		return "vector<" + t.Kind.String() + ">"
	}
	return t.Kind.String()
}

// GoType returns the Go type holding one value of t.
func (t ElementType) GoType() reflect.Type {
	elem, ok := kindTypes[t.Kind]
	if !ok {
		return nil
	}
	if t.Vector {
		return reflect.SliceOf(elem)
	}
	return elem
}

// Valid reports whether t is supported.
func (t ElementType) Valid() bool { return t.Kind.Valid() }

// ElementTypes returns all supported element types, scalars before vectors.
func ElementTypes() []ElementType {
	out := make([]ElementType, 0, 2*len(Kinds))
	for _, k := range Kinds {
		out = append(out, Scalar(k))
	}
	for _, k := range Kinds {
		out = append(out, Vector(k))
	}
	return out
}

// =============================================================================
// Value constraint
// =============================================================================

// ScalarValue is the set of scalar Go types a variable may hold.
type ScalarValue interface {
	float64 | float32 | int32 | int8 | bool | uint32 | uint64 | int64
}

// Value is the set of Go types a variable may hold.
type Value interface {
	ScalarValue |
		[]float64 | []float32 | []int32 | []int8 | []bool | []uint32 | []uint64 | []int64
}

// TypeOf returns the element type of T.
func TypeOf[T Value]() ElementType {
	var zero T
	switch any(zero).(type) {
	case float64:
		return Scalar(KindFloat64)
	case float32:
		return Scalar(KindFloat32)
	case int32:
		return Scalar(KindInt32)
	case int8:
		return Scalar(KindInt8)
	case bool:
		return Scalar(KindBool)
	case uint32:
		return Scalar(KindUint32)
	case uint64:
		return Scalar(KindUint64)
	case int64:
		return Scalar(KindInt64)
	case []float64:
		return Vector(KindFloat64)
	case []float32:
		return Vector(KindFloat32)
	case []int32:
		return Vector(KindInt32)
	case []int8:
		return Vector(KindInt8)
	case []bool:
		return Vector(KindBool)
	case []uint32:
		return Vector(KindUint32)
	case []uint64:
		return Vector(KindUint64)
	case []int64:
		return Vector(KindInt64)
	}
	return ElementType{}
}

// ScalarTypeOf returns the kind of the scalar type T.
func ScalarTypeOf[T ScalarValue]() Kind {
	var zero T
	switch any(zero).(type) {
	case float64:
		return KindFloat64
	case float32:
		return KindFloat32
	case int32:
		return KindInt32
	case int8:
		return KindInt8
	case bool:
		return KindBool
	case uint32:
		return KindUint32
	case uint64:
		return KindUint64
	case int64:
		return KindInt64
	}
	return KindInvalid
}
