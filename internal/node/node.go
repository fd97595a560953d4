/*
Copyright 2024 The Couchstore-Go Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package node encodes and decodes the on-disk representations
// described in §3 and §4.3: leaf and interior B+tree nodes, the
// key/value and node-pointer entries within them, and the three root
// descriptors embedded in a header.
package node

import (
	"encoding/binary"
	"errors"

	"couchstore.dev/internal/rawint"
)

// ErrCorrupt is returned when a buffer doesn't decode as a well-formed
// entry (a truncated length, an entry that runs past the end of the
// buffer, and so on).
var ErrCorrupt = errors.New("node: corrupt entry")

// Node type markers (§3).
const (
	TypeInterior byte = 0x00
	TypeLeaf     byte = 0x01
)

// Pointer is the in-memory form of a node-pointer entry: a subtree's
// root offset, the on-disk footprint of that subtree, and its reduce
// value. A nil *Pointer denotes an empty tree.
type Pointer struct {
	Key         []byte
	Offset      int64 // 48-bit
	SubtreeSize int64 // 48-bit
	Reduce      []byte
}

// EncodeKV writes a leaf {key, value} entry: a packed 12/28-bit
// length pair followed by the key and value bytes.
func EncodeKV(key, value []byte) []byte {
	buf := make([]byte, 5+len(key)+len(value))
	rawint.PutKVLen(buf, len(key), len(value))
	n := copy(buf[5:], key)
	copy(buf[5+n:], value)
	return buf
}

// DecodeKV reads one leaf entry from the front of buf, returning the
// key, value, and the number of bytes consumed.
func DecodeKV(buf []byte) (key, value []byte, n int, err error) {
	if len(buf) < 5 {
		return nil, nil, 0, ErrCorrupt
	}
	keyLen, valLen := rawint.GetKVLen(buf)
	need := 5 + keyLen + valLen
	if len(buf) < need {
		return nil, nil, 0, ErrCorrupt
	}
	key = buf[5 : 5+keyLen]
	value = buf[5+keyLen : need]
	return key, value, need, nil
}

// EncodePointerEntry writes an interior {separator key, node pointer}
// entry: {16-bit key length, key, 48-bit pointer, 48-bit subtree
// size, 16-bit reduce size, reduce bytes} (§4.3).
func EncodePointerEntry(p Pointer) []byte {
	buf := make([]byte, 2+len(p.Key)+6+6+2+len(p.Reduce))
	i := 0
	binary.BigEndian.PutUint16(buf[i:], uint16(len(p.Key)))
	i += 2
	i += copy(buf[i:], p.Key)
	rawint.Put48(buf[i:], uint64(p.Offset))
	i += 6
	rawint.Put48(buf[i:], uint64(p.SubtreeSize))
	i += 6
	binary.BigEndian.PutUint16(buf[i:], uint16(len(p.Reduce)))
	i += 2
	copy(buf[i:], p.Reduce)
	return buf
}

// DecodePointerEntry reads one interior entry from the front of buf.
func DecodePointerEntry(buf []byte) (p Pointer, n int, err error) {
	if len(buf) < 2 {
		return Pointer{}, 0, ErrCorrupt
	}
	keyLen := int(binary.BigEndian.Uint16(buf))
	i := 2
	if len(buf) < i+keyLen+6+6+2 {
		return Pointer{}, 0, ErrCorrupt
	}
	key := buf[i : i+keyLen]
	i += keyLen
	offset := rawint.Get48(buf[i:])
	i += 6
	size := rawint.Get48(buf[i:])
	i += 6
	reduceLen := int(binary.BigEndian.Uint16(buf[i:]))
	i += 2
	if len(buf) < i+reduceLen {
		return Pointer{}, 0, ErrCorrupt
	}
	reduce := buf[i : i+reduceLen]
	i += reduceLen
	return Pointer{Key: key, Offset: int64(offset), SubtreeSize: int64(size), Reduce: reduce}, i, nil
}

// RootDescriptor is one of a header's three root pointers (§3): empty
// (length 0) or {pointer, subtree size, reduce value}.
type RootDescriptor struct {
	Pointer     int64
	SubtreeSize int64
	Reduce      []byte
}

// EncodeRoot serializes a root descriptor. A nil r encodes as a
// zero-length descriptor ("empty").
func EncodeRoot(r *RootDescriptor) []byte {
	if r == nil {
		return nil
	}
	buf := make([]byte, 6+6+len(r.Reduce))
	rawint.Put48(buf[0:], uint64(r.Pointer))
	rawint.Put48(buf[6:], uint64(r.SubtreeSize))
	copy(buf[12:], r.Reduce)
	return buf
}

// DecodeRoot decodes a root descriptor of the given length (the
// header stores each root's length explicitly as a 16-bit field
// ahead of the descriptor itself; see header.Decode). A zero length
// decodes as a nil (empty) root.
func DecodeRoot(buf []byte) (*RootDescriptor, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 12 {
		return nil, ErrCorrupt
	}
	return &RootDescriptor{
		Pointer:     int64(rawint.Get48(buf[0:])),
		SubtreeSize: int64(rawint.Get48(buf[6:])),
		Reduce:      append([]byte(nil), buf[12:]...),
	}, nil
}

// PointerToRoot and RootToPointer convert between the two root
// representations (a tree's in-memory root is a *Pointer with no
// separator Key; a header's root is a *RootDescriptor with no key at
// all, since it roots the whole tree).
func PointerToRoot(p *Pointer) *RootDescriptor {
	if p == nil {
		return nil
	}
	return &RootDescriptor{Pointer: p.Offset, SubtreeSize: p.SubtreeSize, Reduce: p.Reduce}
}

func RootToPointer(r *RootDescriptor) *Pointer {
	if r == nil {
		return nil
	}
	return &Pointer{Offset: r.Pointer, SubtreeSize: r.SubtreeSize, Reduce: r.Reduce}
}
