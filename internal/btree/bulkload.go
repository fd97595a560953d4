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

package btree

import "couchstore.dev/internal/node"

// Builder constructs a tree bottom-up from a single ascending pass
// over its final key order (§4.6 "bulk load"): the fast path for a
// compaction rebuild or an initial fromdisk import, where a full
// copy-on-write Modify would needlessly re-decode nodes it is about
// to replace wholesale.
//
// Callers must feed keys in strictly ascending Desc.Compare order;
// Builder does no sorting of its own (that is internal/sortfile's
// job, ahead of the builder).
type Builder struct {
	tree     *Tree
	pending  [][2][]byte
	size     int
	leafPtrs []node.Pointer
}

// NewBuilder returns a Builder that writes new leaves and interior
// nodes through tree's codec, using tree.Pos as the shared append
// cursor.
func NewBuilder(tree *Tree) *Builder {
	return &Builder{tree: tree, size: 1}
}

// Add appends one key/value pair to the tree under construction.
func (b *Builder) Add(key, value []byte) error {
	entrySize := 5 + len(key) + len(value)
	if len(b.pending) > 0 && b.size+entrySize > b.tree.Desc.ChunkThreshold {
		if err := b.flushLeaf(); err != nil {
			return err
		}
	}
	b.pending = append(b.pending, [2][]byte{key, value})
	b.size += entrySize
	return nil
}

func (b *Builder) flushLeaf() error {
	if len(b.pending) == 0 {
		return nil
	}
	p, err := b.tree.writeLeaf(b.pending)
	if err != nil {
		return err
	}
	b.leafPtrs = append(b.leafPtrs, p)
	b.pending = nil
	b.size = 1
	return nil
}

// Finish flushes any pending leaf and folds the resulting leaves into
// as many interior levels as needed to reach a single root, returning
// it (nil for a completely empty build).
func (b *Builder) Finish() (*node.Pointer, error) {
	if err := b.flushLeaf(); err != nil {
		return nil, err
	}
	return b.tree.wrapToSingleRoot(b.leafPtrs)
}
