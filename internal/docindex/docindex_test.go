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

package docindex

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeByIDValueRoundTrip(t *testing.T) {
	v := ByIDValue{DBSeq: 42, BodyLen: 1000, BP: 55555, Deleted: false, ContentMeta: 0x80, RevSeq: 7, RevMeta: []byte("meta")}
	got, err := DecodeByIDValue(EncodeByIDValue(v))
	if err != nil {
		t.Fatalf("DecodeByIDValue: %v", err)
	}
	if got.DBSeq != v.DBSeq || got.BodyLen != v.BodyLen || got.BP != v.BP ||
		got.Deleted != v.Deleted || got.ContentMeta != v.ContentMeta || got.RevSeq != v.RevSeq {
		t.Errorf("round-trip mismatch: %+v, want fields of %+v", got, v)
	}
	if !bytes.Equal(got.RevMeta, v.RevMeta) {
		t.Errorf("RevMeta = %q, want %q", got.RevMeta, v.RevMeta)
	}
}

func TestByIDValueDeletedFlagDoesNotLeakIntoBP(t *testing.T) {
	v := ByIDValue{DBSeq: 1, BP: 0, Deleted: true}
	got, err := DecodeByIDValue(EncodeByIDValue(v))
	if err != nil {
		t.Fatalf("DecodeByIDValue: %v", err)
	}
	if !got.Deleted {
		t.Error("Deleted flag lost in round-trip")
	}
	if got.BP != 0 {
		t.Errorf("BP = %d, want 0 (deleted tombstone)", got.BP)
	}
}

func TestEncodeDecodeBySeqValueRoundTrip(t *testing.T) {
	v := BySeqValue{ID: []byte("doc-id-1"), BP: 999, Deleted: false, ContentMeta: 0, RevSeq: 3, RevMeta: []byte("rm")}
	buf := EncodeBySeqValue(v, 4096)
	got, bodyLen, err := DecodeBySeqValue(buf)
	if err != nil {
		t.Fatalf("DecodeBySeqValue: %v", err)
	}
	if bodyLen != 4096 {
		t.Errorf("bodyLen = %d, want 4096", bodyLen)
	}
	if !bytes.Equal(got.ID, v.ID) || got.BP != v.BP || got.Deleted != v.Deleted || got.RevSeq != v.RevSeq || !bytes.Equal(got.RevMeta, v.RevMeta) {
		t.Errorf("DecodeBySeqValue = %+v, want fields of %+v", got, v)
	}
}

func TestBySeqKeySeqFromKeyRoundTrip(t *testing.T) {
	for _, seq := range []uint64{0, 1, 12345, 0xFFFFFFFFFFFF} {
		if got := SeqFromKey(BySeqKey(seq)); got != seq {
			t.Errorf("SeqFromKey(BySeqKey(%d)) = %d", seq, got)
		}
	}
}

func TestBySeqKeyOrdersNumerically(t *testing.T) {
	if CompareBytes(BySeqKey(1), BySeqKey(2)) >= 0 {
		t.Error("BySeqKey(1) should sort before BySeqKey(2)")
	}
	if CompareBytes(BySeqKey(255), BySeqKey(256)) >= 0 {
		t.Error("BySeqKey(255) should sort before BySeqKey(256) despite byte-length-looking traps")
	}
}

func TestByIDReduceAndRereduce(t *testing.T) {
	live := EncodeByIDValue(ByIDValue{BodyLen: 100, Deleted: false})
	tomb := EncodeByIDValue(ByIDValue{BodyLen: 0, Deleted: true})

	r1 := ByIDReduce([][]byte{live, live})
	r2 := ByIDReduce([][]byte{tomb})

	nd1, d1, sz1 := ByIDReduceCounts(r1)
	if nd1 != 2 || d1 != 0 || sz1 != 200 {
		t.Errorf("r1 reduce = %d, %d, %d; want 2, 0, 200", nd1, d1, sz1)
	}

	rereduced := ByIDRereduce([][]byte{r1, r2})
	nd, d, sz := ByIDReduceCounts(rereduced)
	if nd != 2 || d != 1 || sz != 200 {
		t.Errorf("rereduced = %d, %d, %d; want 2, 1, 200", nd, d, sz)
	}
}

func TestBySeqReduceAndRereduce(t *testing.T) {
	r1 := BySeqReduce([][]byte{{1}, {2}, {3}})
	r2 := BySeqReduce([][]byte{{4}})
	if BySeqReduceCount(r1) != 3 {
		t.Errorf("BySeqReduceCount(r1) = %d, want 3", BySeqReduceCount(r1))
	}
	rereduced := BySeqRereduce([][]byte{r1, r2})
	if BySeqReduceCount(rereduced) != 4 {
		t.Errorf("BySeqReduceCount(rereduced) = %d, want 4", BySeqReduceCount(rereduced))
	}
}
