// Package sync builds deterministic content hashes of output schemas.
//
// Two trees written with the same path and the same ordered columns get
// the same hash, which readers use to check that friend trees and files
// written by different jobs can be merged.
package sync

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"sort"
)

// HashBuilder accumulates values into a 64-bit FNV-1a hash.
//
//	h := NewHashBuilder().String(path).Int(len(columns))
//	for _, c := range columns {
//	    h.String(c.Name).String(c.Type.String())
//	}
//	sum := h.Build()
//
// Order of operations matters.
type HashBuilder struct {
	h   hash.Hash64
	buf [8]byte
}

// NewHashBuilder creates an empty hash builder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{h: fnv.New64a()}
}

// String adds s followed by a separator, so "ab","c" and "a","bc" differ.
func (b *HashBuilder) String(s string) *HashBuilder {
	b.h.Write([]byte(s))
	b.h.Write([]byte{0})
	return b
}

// Strings adds the sorted set ss with a length prefix.
func (b *HashBuilder) Strings(ss []string) *HashBuilder {
	sorted := make([]string, len(ss))
	copy(sorted, ss)
	sort.Strings(sorted)

	b.Int(len(sorted))
	for _, s := range sorted {
		b.String(s)
	}
	return b
}

// Int adds i as eight little-endian bytes.
func (b *HashBuilder) Int(i int) *HashBuilder {
	return b.Uint64(uint64(i))
}

// Uint64 adds i as eight little-endian bytes.
func (b *HashBuilder) Uint64(i uint64) *HashBuilder {
	binary.LittleEndian.PutUint64(b.buf[:], i)
	b.h.Write(b.buf[:])
	return b
}

// Build returns the hash of everything added so far.
func (b *HashBuilder) Build() uint64 {
	return b.h.Sum64()
}
