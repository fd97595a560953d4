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

// Package btree implements the copy-on-write B+tree engine: lookup
// and fold (§4.4), bulk modify with guided purge (§4.5), and the
// bulk-load writer (§4.6). A tree-descriptor value (Descriptor) lets
// one implementation serve the by-id, by-seq, and local-doc trees,
// which differ only in comparator, reducer, and whether values are
// compressed (§9 "Polymorphism over tree flavor").
package btree

import (
	"errors"

	"couchstore.dev/internal/chunk"
	"couchstore.dev/internal/node"
)

// ErrReductionTooLarge is returned when a reduce or rereduce output
// won't fit the interior-pointer 16-bit reduce-size field (§4.5).
var ErrReductionTooLarge = errors.New("btree: reduce value too large")

// Comparator orders keys. Both by-id and by-seq keys compare
// correctly as plain byte slices (see docindex.CompareBytes).
type Comparator func(a, b []byte) int

// Reducer folds a leaf's values into a reduce value.
type Reducer func(values [][]byte) []byte

// Rereducer folds an interior's children's reduce values into one.
type Rereducer func(reduces [][]byte) []byte

// Descriptor carries everything that varies between the by-id,
// by-seq, and local-doc trees.
type Descriptor struct {
	Compare  Comparator
	Reduce   Reducer   // nil for the local-doc tree, which has no reduce
	Rereduce Rereducer // nil for the local-doc tree
	// ChunkThreshold bounds the encoded size of a node (§3): a node is
	// flushed as soon as its pending size would exceed this.
	ChunkThreshold int
	// Compress requests Snappy compression of node payloads.
	Compress bool
	// ReduceCount reports how many leaf entries a reduce value
	// summarizes. It is consulted only when a guided purge drops a
	// whole subtree without decoding it, to keep PurgeResult accurate;
	// nil is fine for trees a caller never purge-drops wholesale (the
	// local-doc tree has no reduce at all).
	ReduceCount func(reduce []byte) int
}

// Tree is one open B+tree: a codec to read and write nodes through,
// a descriptor, and a root (nil for an empty tree).
type Tree struct {
	Codec *chunk.Codec
	Desc  Descriptor
	Root  *node.Pointer
	// Pos is the file's shared append cursor: document bodies and all
	// three trees advance the same monotonically increasing logical
	// offset, so that a commit's writes land in one unbroken
	// append-only run (§2 "append-only"; §4.1).
	Pos *int64
	// OnCorrupt, if set, is called with the underlying error whenever
	// Lookup or Fold runs in tolerate mode and swallows a node decode
	// failure rather than aborting (§7 TOLERATE_CORRUPTION).
	OnCorrupt func(error)
}

type decodedNode struct {
	isLeaf bool
	kvs    [][2][]byte
	ptrs   []node.Pointer
}

func (t *Tree) readNode(ptr *node.Pointer) (*decodedNode, error) {
	if ptr == nil {
		return &decodedNode{isLeaf: true}, nil
	}
	raw, err := t.Codec.ReadData(ptr.Offset)
	if err != nil {
		return nil, err
	}
	if t.Desc.Compress {
		raw, err = chunk.Decompress(raw)
		if err != nil {
			return nil, err
		}
	}
	if len(raw) == 0 {
		return nil, node.ErrCorrupt
	}
	d := &decodedNode{isLeaf: raw[0] == node.TypeLeaf}
	buf := raw[1:]
	if d.isLeaf {
		for len(buf) > 0 {
			k, v, n, err := node.DecodeKV(buf)
			if err != nil {
				return nil, err
			}
			d.kvs = append(d.kvs, [2][]byte{k, v})
			buf = buf[n:]
		}
	} else {
		for len(buf) > 0 {
			p, n, err := node.DecodePointerEntry(buf)
			if err != nil {
				return nil, err
			}
			d.ptrs = append(d.ptrs, p)
			buf = buf[n:]
		}
	}
	return d, nil
}

func (t *Tree) writeLeaf(kvs [][2][]byte) (node.Pointer, error) {
	buf := []byte{node.TypeLeaf}
	values := make([][]byte, len(kvs))
	for i, kv := range kvs {
		buf = append(buf, node.EncodeKV(kv[0], kv[1])...)
		values[i] = kv[1]
	}
	return t.writeNode(buf, kvs[len(kvs)-1][0], reduceOf(t.Desc.Reduce, values), nil)
}

func (t *Tree) writeInterior(ptrs []node.Pointer) (node.Pointer, error) {
	buf := []byte{node.TypeInterior}
	reduces := make([][]byte, len(ptrs))
	var childSize int64
	for i, p := range ptrs {
		buf = append(buf, node.EncodePointerEntry(p)...)
		reduces[i] = p.Reduce
		childSize += p.SubtreeSize
	}
	return t.writeNode(buf, ptrs[len(ptrs)-1].Key, rereduceOf(t.Desc.Rereduce, reduces), &childSize)
}

func (t *Tree) writeNode(raw []byte, lastKey, reduce []byte, extraSize *int64) (node.Pointer, error) {
	if len(reduce) > 0xFFFF {
		return node.Pointer{}, ErrReductionTooLarge
	}
	payload := raw
	if t.Desc.Compress {
		payload = chunk.Compress(raw)
	}
	offset, total, err := t.Codec.WriteData(*t.Pos, payload)
	if err != nil {
		return node.Pointer{}, err
	}
	*t.Pos = offset + total
	size := total
	if extraSize != nil {
		size += *extraSize
	}
	return node.Pointer{Key: lastKey, Offset: offset, SubtreeSize: size, Reduce: reduce}, nil
}

func reduceOf(r Reducer, values [][]byte) []byte {
	if r == nil {
		return nil
	}
	return r(values)
}

func rereduceOf(r Rereducer, reduces [][]byte) []byte {
	if r == nil {
		return nil
	}
	return r(reduces)
}

// flushLeaf packs kvs into one or more leaf nodes, splitting whenever
// the pending size would exceed Desc.ChunkThreshold (§3, §4.5 step 4).
func (t *Tree) flushLeaf(kvs [][2][]byte) ([]node.Pointer, error) {
	var out []node.Pointer
	var batch [][2][]byte
	size := 1
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		p, err := t.writeLeaf(batch)
		if err != nil {
			return err
		}
		out = append(out, p)
		batch = nil
		size = 1
		return nil
	}
	for _, kv := range kvs {
		entrySize := 5 + len(kv[0]) + len(kv[1])
		if len(batch) > 0 && size+entrySize > t.Desc.ChunkThreshold {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, kv)
		size += entrySize
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// flushInterior packs pointer entries into one or more interior
// nodes, splitting on the same threshold.
func (t *Tree) flushInterior(ptrs []node.Pointer) ([]node.Pointer, error) {
	var out []node.Pointer
	var batch []node.Pointer
	size := 1
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		p, err := t.writeInterior(batch)
		if err != nil {
			return err
		}
		out = append(out, p)
		batch = nil
		size = 1
		return nil
	}
	for _, p := range ptrs {
		entrySize := len(node.EncodePointerEntry(p))
		if len(batch) > 0 && size+entrySize > t.Desc.ChunkThreshold {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		batch = append(batch, p)
		size += entrySize
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}

// wrapToSingleRoot repeatedly builds new interior levels over ptrs
// until exactly one pointer remains (§4.5 step 6).
func (t *Tree) wrapToSingleRoot(ptrs []node.Pointer) (*node.Pointer, error) {
	for len(ptrs) > 1 {
		next, err := t.flushInterior(ptrs)
		if err != nil {
			return nil, err
		}
		ptrs = next
	}
	if len(ptrs) == 0 {
		return nil, nil
	}
	p := ptrs[0]
	return &p, nil
}
