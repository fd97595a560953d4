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

package compact

import (
	"fmt"
	"path/filepath"
	"testing"

	"couchstore.dev/internal/block"
	"couchstore.dev/internal/btree"
	"couchstore.dev/internal/chunk"
	"couchstore.dev/internal/docindex"
	"couchstore.dev/internal/fileops"
)

func newCodec(t *testing.T, name string) *chunk.Codec {
	t.Helper()
	f, err := fileops.Default.Open(filepath.Join(t.TempDir(), name), true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return &chunk.Codec{Blocks: block.New(f), Scheme: chunk.CRC32C, Version: 12}
}

func descriptors() (bySeq, byID, local btree.Descriptor) {
	bySeq = btree.Descriptor{Compare: docindex.CompareBytes, ChunkThreshold: 1279, Reduce: docindex.BySeqReduce, Rereduce: docindex.BySeqRereduce}
	byID = btree.Descriptor{Compare: docindex.CompareBytes, ChunkThreshold: 1279, Reduce: docindex.ByIDReduce, Rereduce: docindex.ByIDRereduce}
	local = btree.Descriptor{Compare: docindex.CompareBytes, ChunkThreshold: 1279}
	return
}

// buildSource writes docs directly into a source file's by-seq, by-id,
// and local trees, as SaveDocument would, so Run has a realistic
// pre-compaction tree to stream from.
func buildSource(t *testing.T, docs map[string]string, deletedIDs map[string]bool, locals map[string]string) Source {
	t.Helper()
	codec := newCodec(t, "src")
	var pos int64
	bySeqDesc, byIDDesc, localDesc := descriptors()
	bySeq := &btree.Tree{Codec: codec, Desc: bySeqDesc, Pos: &pos}
	byID := &btree.Tree{Codec: codec, Desc: byIDDesc, Pos: &pos}
	local := &btree.Tree{Codec: codec, Desc: localDesc, Pos: &pos}

	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	// deterministic assignment order
	sortStrings(ids)

	var bySeqActions, byIDActions []btree.Action
	seq := uint64(0)
	for _, id := range ids {
		seq++
		body := docs[id]
		del := deletedIDs[id]
		var bp uint64
		if !del {
			offset, total, err := codec.WriteData(pos, []byte(body))
			if err != nil {
				t.Fatalf("WriteData: %v", err)
			}
			pos = offset + total
			bp = uint64(offset)
		}
		idVal := docindex.ByIDValue{DBSeq: seq, BodyLen: uint32(len(body)), BP: bp, Deleted: del}
		seqVal := docindex.BySeqValue{ID: []byte(id), BP: bp, Deleted: del}
		byIDActions = append(byIDActions, btree.Action{Type: btree.ActionInsert, Key: []byte(id), Value: docindex.EncodeByIDValue(idVal)})
		bySeqActions = append(bySeqActions, btree.Action{Type: btree.ActionInsert, Key: docindex.BySeqKey(seq), Value: docindex.EncodeBySeqValue(seqVal, len(body))})
	}
	root, _, err := byID.Modify(byIDActions, nil)
	if err != nil {
		t.Fatalf("byID.Modify: %v", err)
	}
	byID.Root = root
	root, _, err = bySeq.Modify(bySeqActions, nil)
	if err != nil {
		t.Fatalf("bySeq.Modify: %v", err)
	}
	bySeq.Root = root

	var localActions []btree.Action
	for k, v := range locals {
		localActions = append(localActions, btree.Action{Type: btree.ActionInsert, Key: []byte(k), Value: []byte(v)})
	}
	if len(localActions) > 0 {
		root, _, err := local.Modify(localActions, nil)
		if err != nil {
			t.Fatalf("local.Modify: %v", err)
		}
		local.Root = root
	}

	return Source{Codec: codec, BySeq: bySeq, Local: local}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func TestRunDropsTombstonesByDefault(t *testing.T) {
	src := buildSource(t,
		map[string]string{"a": "body-a", "b": "body-b", "c": "body-c"},
		map[string]bool{"b": true},
		map[string]string{"_local/cp": "checkpoint"},
	)
	dstCodec := newCodec(t, "dst")
	var dstPos int64
	bySeqDesc, byIDDesc, localDesc := descriptors()

	result, err := Run(src, Dest{Codec: dstCodec, Pos: &dstPos}, bySeqDesc, byIDDesc, localDesc, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	dstByID := &btree.Tree{Codec: dstCodec, Desc: byIDDesc, Root: result.NewByIDRoot, Pos: &dstPos}
	for _, id := range []string{"a", "c"} {
		var found bool
		dstByID.Lookup([][]byte{[]byte(id)}, false, func(key, value []byte, f bool) error {
			found = f
			return nil
		})
		if !found {
			t.Errorf("surviving doc %q missing from compacted by-id tree", id)
		}
	}
	var tombFound bool
	dstByID.Lookup([][]byte{[]byte("b")}, false, func(key, value []byte, f bool) error {
		tombFound = f
		return nil
	})
	if tombFound {
		t.Errorf("tombstone %q should have been dropped by default compaction", "b")
	}

	dstLocal := &btree.Tree{Codec: dstCodec, Desc: localDesc, Root: result.NewLocalRoot, Pos: &dstPos}
	var localVal []byte
	dstLocal.Lookup([][]byte{[]byte("_local/cp")}, false, func(key, value []byte, found bool) error {
		localVal = value
		return nil
	})
	if string(localVal) != "checkpoint" {
		t.Errorf("local doc = %q, want %q", localVal, "checkpoint")
	}
}

func TestRunKeepDeletedPreservesTombstones(t *testing.T) {
	src := buildSource(t,
		map[string]string{"a": "body-a", "b": "body-b"},
		map[string]bool{"b": true},
		nil,
	)
	dstCodec := newCodec(t, "dst")
	var dstPos int64
	bySeqDesc, byIDDesc, localDesc := descriptors()

	result, err := Run(src, Dest{Codec: dstCodec, Pos: &dstPos}, bySeqDesc, byIDDesc, localDesc, Options{KeepDeleted: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	dstByID := &btree.Tree{Codec: dstCodec, Desc: byIDDesc, Root: result.NewByIDRoot, Pos: &dstPos}
	var found bool
	dstByID.Lookup([][]byte{[]byte("b")}, false, func(key, value []byte, f bool) error {
		found = f
		return nil
	})
	if !found {
		t.Error("KeepDeleted=true should have preserved the tombstone for b")
	}
}

func TestRunDropBodyVetoesSurvivor(t *testing.T) {
	docs := map[string]string{}
	for i := 0; i < 5; i++ {
		docs[fmt.Sprintf("doc-%d", i)] = fmt.Sprintf("body-%d", i)
	}
	src := buildSource(t, docs, nil, nil)
	dstCodec := newCodec(t, "dst")
	var dstPos int64
	bySeqDesc, byIDDesc, localDesc := descriptors()

	dropped := 0
	result, err := Run(src, Dest{Codec: dstCodec, Pos: &dstPos}, bySeqDesc, byIDDesc, localDesc, Options{
		DropBody: func(id []byte, meta docindex.ByIDValue) bool {
			if string(id) == "doc-2" {
				dropped++
				return true
			}
			return false
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dropped != 1 {
		t.Fatalf("DropBody called for doc-2 %d times, want 1", dropped)
	}
	if result.Stats.KVCount != 1 {
		t.Errorf("Stats.KVCount = %d, want 1", result.Stats.KVCount)
	}

	dstByID := &btree.Tree{Codec: dstCodec, Desc: byIDDesc, Root: result.NewByIDRoot, Pos: &dstPos}
	var found bool
	dstByID.Lookup([][]byte{[]byte("doc-2")}, false, func(key, value []byte, f bool) error {
		found = f
		return nil
	})
	if found {
		t.Error("doc-2 should have been vetoed by DropBody")
	}
	for i := 0; i < 5; i++ {
		if i == 2 {
			continue
		}
		id := fmt.Sprintf("doc-%d", i)
		var f bool
		dstByID.Lookup([][]byte{[]byte(id)}, false, func(key, value []byte, found bool) error {
			f = found
			return nil
		})
		if !f {
			t.Errorf("surviving doc %q missing after compaction", id)
		}
	}
}
