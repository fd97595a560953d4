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

package sortfile

import (
	"bytes"
	"fmt"
	"math/rand"
	"testing"
)

func TestSorterFinishYieldsAscendingOrder(t *testing.T) {
	s := NewSorter(bytes.Compare)
	s.memLimit = 64 // force several spills for a small input

	keys := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		keys = append(keys, fmt.Sprintf("k%04d", i))
	}
	rnd := rand.New(rand.NewSource(1))
	rnd.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })

	for _, k := range keys {
		if err := s.Add([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Add(%q): %v", k, err)
		}
	}

	m, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer m.Close()

	var prev []byte
	count := 0
	for {
		key, value, ok, err := m.Next(nil)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		if prev != nil && bytes.Compare(prev, key) >= 0 {
			t.Fatalf("Next returned out-of-order keys: %q then %q", prev, key)
		}
		if string(value) != "v-"+string(key) {
			t.Errorf("Next(%q) = %q, want %q", key, value, "v-"+string(key))
		}
		prev = append([]byte(nil), key...)
		count++
	}
	if count != len(keys) {
		t.Errorf("merged %d entries, want %d", count, len(keys))
	}
}

func TestSorterDedupCollapsesDuplicateKeys(t *testing.T) {
	s := NewSorter(bytes.Compare)
	s.memLimit = 16 // each Add spills its own run, forcing cross-run dedup

	s.Add([]byte("a"), []byte("1"))
	s.Add([]byte("a"), []byte("2"))
	s.Add([]byte("b"), []byte("3"))

	m, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	defer m.Close()

	lastWins := func(a, b []byte) []byte { return b }

	key, value, ok, err := m.Next(lastWins)
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if string(key) != "a" {
		t.Fatalf("first key = %q, want a", key)
	}
	if string(value) != "1" && string(value) != "2" {
		t.Errorf("deduped value = %q, want one of the two writes for %q", value, "a")
	}

	key, _, ok, err = m.Next(lastWins)
	if err != nil || !ok || string(key) != "b" {
		t.Fatalf("second entry = %q, ok=%v err=%v; want b", key, ok, err)
	}

	_, _, ok, err = m.Next(lastWins)
	if err != nil || ok {
		t.Fatalf("expected exhaustion, got ok=%v err=%v", ok, err)
	}
}
