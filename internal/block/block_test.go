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

package block

import (
	"bytes"
	"path/filepath"
	"testing"

	"couchstore.dev/internal/fileops"
)

func TestToPhysicalToLogicalRoundTrip(t *testing.T) {
	for _, logical := range []int64{0, 1, usable - 1, usable, usable + 1, 3*usable + 17} {
		phys := ToPhysical(logical)
		if got := ToLogical(phys); got != logical {
			t.Errorf("ToLogical(ToPhysical(%d)) = %d", logical, got)
		}
	}
}

func TestAtBlockStart(t *testing.T) {
	if !AtBlockStart(0) {
		t.Error("0 should be a block start")
	}
	if !AtBlockStart(usable) {
		t.Errorf("%d should be a block start", usable)
	}
	if AtBlockStart(1) {
		t.Error("1 should not be a block start")
	}
}

func TestNextBlockBoundary(t *testing.T) {
	if got := NextBlockBoundary(0); got != 0 {
		t.Errorf("NextBlockBoundary(0) = %d, want 0", got)
	}
	if got := NextBlockBoundary(1); got != usable {
		t.Errorf("NextBlockBoundary(1) = %d, want %d", got, usable)
	}
	if got := NextBlockBoundary(usable); got != usable {
		t.Errorf("NextBlockBoundary(usable) = %d, want %d", got, usable)
	}
}

func openTemp(t *testing.T) fileops.File {
	t.Helper()
	f, err := fileops.Default.Open(filepath.Join(t.TempDir(), "blocks"), true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestPWriteSkipThenPReadSkipRoundTrip(t *testing.T) {
	s := New(openTemp(t))
	payload := bytes.Repeat([]byte("x"), usable+50) // crosses a block boundary

	n, err := s.PWriteSkip(0, payload, MarkerData)
	if err != nil {
		t.Fatalf("PWriteSkip: %v", err)
	}
	if want := int64(len(payload) + 2); n != want { // + 2 marker bytes for the two blocks spanned
		t.Errorf("PWriteSkip wrote %d physical bytes, want %d", n, want)
	}

	got := make([]byte, len(payload))
	if _, err := s.PReadSkip(0, got); err != nil {
		t.Fatalf("PReadSkip: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("PReadSkip after PWriteSkip did not round-trip")
	}
}

func TestPWriteSkipMarkerByte(t *testing.T) {
	f := openTemp(t)
	s := New(f)
	if _, err := s.PWriteSkip(0, []byte("hello"), MarkerHeader); err != nil {
		t.Fatalf("PWriteSkip: %v", err)
	}
	var marker [1]byte
	if _, err := f.ReadAt(marker[:], 0); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if marker[0] != MarkerHeader {
		t.Errorf("block marker = %#x, want MarkerHeader", marker[0])
	}
}
