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

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"couchstore.dev/internal/block"
	"couchstore.dev/internal/chunk"
	"couchstore.dev/internal/fileops"
)

// newTestTree returns an empty tree with a small chunk threshold, so
// modest test inputs actually exercise node splitting rather than
// always fitting in a single leaf.
func newTestTree(t *testing.T) *Tree {
	t.Helper()
	f, err := fileops.Default.Open(filepath.Join(t.TempDir(), "tree"), true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	codec := &chunk.Codec{Blocks: block.New(f), Scheme: chunk.CRC32C, Version: 12}
	var pos int64
	return &Tree{
		Codec: codec,
		Desc: Descriptor{
			Compare:        bytes.Compare,
			ChunkThreshold: 64,
		},
		Pos: &pos,
	}
}

func insertAll(t *testing.T, tr *Tree, kvs map[string]string) {
	t.Helper()
	keys := make([]string, 0, len(kvs))
	for k := range kvs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	actions := make([]Action, len(keys))
	for i, k := range keys {
		actions[i] = Action{Type: ActionInsert, Key: []byte(k), Value: []byte(kvs[k])}
	}
	root, _, err := tr.Modify(actions, nil)
	if err != nil {
		t.Fatalf("Modify(insert): %v", err)
	}
	tr.Root = root
}

func TestModifyInsertThenLookup(t *testing.T) {
	tr := newTestTree(t)
	want := map[string]string{}
	for i := 0; i < 40; i++ {
		want[fmt.Sprintf("key-%03d", i)] = fmt.Sprintf("value-%03d", i)
	}
	insertAll(t, tr, want)

	for k, v := range want {
		var got []byte
		var found bool
		err := tr.Lookup([][]byte{[]byte(k)}, false, func(key, value []byte, f bool) error {
			found, got = f, value
			return nil
		})
		if err != nil {
			t.Fatalf("Lookup(%q): %v", k, err)
		}
		if !found || string(got) != v {
			t.Errorf("Lookup(%q) = %q, %v; want %q, true", k, got, found, v)
		}
	}

	var notFound bool
	if err := tr.Lookup([][]byte{[]byte("missing-key")}, false, func(key, value []byte, found bool) error {
		notFound = !found
		return nil
	}); err != nil {
		t.Fatalf("Lookup(missing): %v", err)
	}
	if !notFound {
		t.Error("Lookup of a missing key reported found=true")
	}
}

func TestModifyEmptyBatchReusesRootPointer(t *testing.T) {
	tr := newTestTree(t)
	insertAll(t, tr, map[string]string{"a": "av", "b": "bv"})
	before := tr.Root
	after, _, err := tr.Modify(nil, nil)
	if err != nil {
		t.Fatalf("Modify(nil): %v", err)
	}
	if after != before {
		t.Error("Modify with no actions and no purge should return the exact same root pointer")
	}
}

func TestFoldRangeOrdering(t *testing.T) {
	tr := newTestTree(t)
	want := map[string]string{}
	for i := 0; i < 30; i++ {
		want[fmt.Sprintf("k%02d", i)] = fmt.Sprintf("v%02d", i)
	}
	insertAll(t, tr, want)

	var gotKeys []string
	err := tr.Fold([]byte("k10"), []byte("k15"), false, func(key, value []byte, found bool) error {
		gotKeys = append(gotKeys, string(key))
		return nil
	}, nil, nil)
	if err != nil {
		t.Fatalf("Fold: %v", err)
	}
	wantKeys := []string{"k10", "k11", "k12", "k13", "k14", "k15"}
	if len(gotKeys) != len(wantKeys) {
		t.Fatalf("Fold returned %d keys, want %d: %v", len(gotKeys), len(wantKeys), gotKeys)
	}
	for i, k := range wantKeys {
		if gotKeys[i] != k {
			t.Errorf("Fold[%d] = %q, want %q", i, gotKeys[i], k)
		}
	}
}

func TestModifyRemove(t *testing.T) {
	tr := newTestTree(t)
	insertAll(t, tr, map[string]string{"a": "av", "b": "bv", "c": "cv"})

	root, _, err := tr.Modify([]Action{{Type: ActionRemove, Key: []byte("b")}}, nil)
	if err != nil {
		t.Fatalf("Modify(remove): %v", err)
	}
	tr.Root = root

	var found bool
	tr.Lookup([][]byte{[]byte("b")}, false, func(key, value []byte, f bool) error {
		found = f
		return nil
	})
	if found {
		t.Error("removed key still found")
	}
}

func TestModifyFetchSeesPreBatchState(t *testing.T) {
	tr := newTestTree(t)
	insertAll(t, tr, map[string]string{"a": "old"})

	var fetchedValue []byte
	var fetchedFound bool
	actions := []Action{
		{Type: ActionFetch, Key: []byte("a"), Fetch: func(old []byte, found bool) {
			fetchedValue, fetchedFound = old, found
		}},
		{Type: ActionInsert, Key: []byte("a"), Value: []byte("new")},
	}
	root, _, err := tr.Modify(actions, nil)
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	tr.Root = root

	if !fetchedFound || string(fetchedValue) != "old" {
		t.Errorf("FETCH observed %q, %v; want the pre-batch value %q", fetchedValue, fetchedFound, "old")
	}
	var got []byte
	tr.Lookup([][]byte{[]byte("a")}, false, func(key, value []byte, found bool) error {
		got = value
		return nil
	})
	if string(got) != "new" {
		t.Errorf("final value = %q, want %q", got, "new")
	}
}

func TestGuidedPurgeDropsMatchingEntries(t *testing.T) {
	tr := newTestTree(t)
	want := map[string]string{}
	for i := 0; i < 20; i++ {
		want[fmt.Sprintf("k%02d", i)] = fmt.Sprintf("v%02d", i)
	}
	insertAll(t, tr, want)

	purge := &PurgeFilter{KV: func(key, value []byte) PurgeDecision {
		if string(key) == "k05" || string(key) == "k15" {
			return PurgeDrop
		}
		return PurgeKeep
	}}
	root, result, err := tr.Modify(nil, purge)
	if err != nil {
		t.Fatalf("Modify(purge): %v", err)
	}
	tr.Root = root
	if result.KVCount != 2 {
		t.Errorf("PurgeResult.KVCount = %d, want 2", result.KVCount)
	}

	for _, k := range []string{"k05", "k15"} {
		var found bool
		tr.Lookup([][]byte{[]byte(k)}, false, func(key, value []byte, f bool) error {
			found = f
			return nil
		})
		if found {
			t.Errorf("purged key %q still present", k)
		}
	}
	var stillThere bool
	tr.Lookup([][]byte{[]byte("k00")}, false, func(key, value []byte, f bool) error {
		stillThere = f
		return nil
	})
	if !stillThere {
		t.Error("non-purged key k00 was dropped")
	}
}

func TestBuilderProducesLookupableTree(t *testing.T) {
	tr := newTestTree(t)
	b := NewBuilder(tr)
	keys := make([]string, 0, 25)
	for i := 0; i < 25; i++ {
		keys = append(keys, fmt.Sprintf("b%02d", i))
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := b.Add([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}
	root, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	tr.Root = root

	for _, k := range keys {
		var got []byte
		var found bool
		tr.Lookup([][]byte{[]byte(k)}, false, func(key, value []byte, f bool) error {
			found, got = f, value
			return nil
		})
		if !found || string(got) != "v-"+k {
			t.Errorf("Lookup(%q) after bulk-load = %q, %v", k, got, found)
		}
	}
}
