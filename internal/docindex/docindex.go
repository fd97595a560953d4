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

// Package docindex encodes and decodes the by-id, by-seq, and reduce
// values described in §3, and the comparators the three trees use.
// None of this is generic B+tree machinery (that's internal/btree);
// it's the couchstore-specific value layout the trees carry.
package docindex

import (
	"bytes"
	"errors"

	"couchstore.dev/internal/rawint"
)

// ErrCorrupt is returned when a by-id or by-seq value doesn't decode.
var ErrCorrupt = errors.New("docindex: corrupt value")

// deletedFlag is the high bit of the 48-bit bp field (§3: "deleted
// flag: high bit of the 48-bit bp field").
const deletedFlag = uint64(1) << 47

// ByIDValue is the decoded value of a by-id index entry.
type ByIDValue struct {
	DBSeq       uint64
	BodyLen     uint32
	BP          uint64 // byte position of the body chunk; 0 for tombstones
	Deleted     bool
	ContentMeta byte
	RevSeq      uint64
	RevMeta     []byte
}

// EncodeByIDValue serializes a by-id value: {48-bit db_seq, 32-bit
// body size, 48-bit bp|deleted, 8-bit content_meta, 48-bit rev_seq,
// rev_meta bytes}.
func EncodeByIDValue(v ByIDValue) []byte {
	buf := make([]byte, 6+4+6+1+6+len(v.RevMeta))
	i := 0
	rawint.Put48(buf[i:], v.DBSeq)
	i += 6
	putUint32(buf[i:], v.BodyLen)
	i += 4
	bp := v.BP
	if v.Deleted {
		bp |= deletedFlag
	}
	rawint.Put48(buf[i:], bp)
	i += 6
	buf[i] = v.ContentMeta
	i++
	rawint.Put48(buf[i:], v.RevSeq)
	i += 6
	copy(buf[i:], v.RevMeta)
	return buf
}

// DecodeByIDValue parses a by-id value written by EncodeByIDValue.
func DecodeByIDValue(buf []byte) (ByIDValue, error) {
	if len(buf) < 6+4+6+1+6 {
		return ByIDValue{}, ErrCorrupt
	}
	var v ByIDValue
	i := 0
	v.DBSeq = rawint.Get48(buf[i:])
	i += 6
	v.BodyLen = getUint32(buf[i:])
	i += 4
	bp := rawint.Get48(buf[i:])
	i += 6
	v.Deleted = bp&deletedFlag != 0
	v.BP = bp &^ deletedFlag
	v.ContentMeta = buf[i]
	i++
	v.RevSeq = rawint.Get48(buf[i:])
	i += 6
	v.RevMeta = append([]byte(nil), buf[i:]...)
	return v, nil
}

// BySeqValue is the decoded value of a by-seq index entry.
type BySeqValue struct {
	ID          []byte
	BP          uint64
	Deleted     bool
	ContentMeta byte
	RevSeq      uint64
	RevMeta     []byte
}

// EncodeBySeqValue serializes a by-seq value: {packed 12/28-bit
// id-length/body-length, 48-bit bp|deleted, 8-bit content_meta,
// 48-bit rev_seq, id bytes, rev_meta bytes}.
func EncodeBySeqValue(v BySeqValue, bodyLen int) []byte {
	buf := make([]byte, 5+6+1+6+len(v.ID)+len(v.RevMeta))
	i := 0
	rawint.PutKVLen(buf[i:], len(v.ID), bodyLen)
	i += 5
	bp := v.BP
	if v.Deleted {
		bp |= deletedFlag
	}
	rawint.Put48(buf[i:], bp)
	i += 6
	buf[i] = v.ContentMeta
	i++
	rawint.Put48(buf[i:], v.RevSeq)
	i += 6
	i += copy(buf[i:], v.ID)
	copy(buf[i:], v.RevMeta)
	return buf
}

// DecodeBySeqValue parses a by-seq value, also returning the body
// length packed alongside the id length.
func DecodeBySeqValue(buf []byte) (v BySeqValue, bodyLen int, err error) {
	if len(buf) < 5+6+1+6 {
		return BySeqValue{}, 0, ErrCorrupt
	}
	idLen, bLen := rawint.GetKVLen(buf)
	i := 5
	bp := rawint.Get48(buf[i:])
	i += 6
	v.Deleted = bp&deletedFlag != 0
	v.BP = bp &^ deletedFlag
	v.ContentMeta = buf[i]
	i++
	v.RevSeq = rawint.Get48(buf[i:])
	i += 6
	if len(buf) < i+idLen {
		return BySeqValue{}, 0, ErrCorrupt
	}
	v.ID = append([]byte(nil), buf[i:i+idLen]...)
	i += idLen
	v.RevMeta = append([]byte(nil), buf[i:]...)
	return v, bLen, nil
}

// BySeqKey encodes a 48-bit big-endian sequence number, the by-seq
// tree's key.
func BySeqKey(seq uint64) []byte {
	buf := make([]byte, 6)
	rawint.Put48(buf, seq)
	return buf
}

// SeqFromKey decodes a by-seq tree key back into a sequence number.
func SeqFromKey(key []byte) uint64 {
	return rawint.Get48(key)
}

// CompareBytes is the comparator shared by the by-id and local-doc
// trees: plain lexicographic byte order. It also happens to be a
// correct comparator for by-seq keys, since those are fixed-width
// big-endian integers and lexicographic order on their bytes equals
// numeric order.
func CompareBytes(a, b []byte) int {
	return bytes.Compare(a, b)
}

// ByIDReduce computes the by-id reduce value over a set of leaf
// values: {40-bit not-deleted-count, 40-bit deleted-count, 48-bit
// total-body-size} (§3).
func ByIDReduce(values [][]byte) []byte {
	var notDeleted, deleted, totalSize uint64
	for _, raw := range values {
		v, err := DecodeByIDValue(raw)
		if err != nil {
			continue
		}
		if v.Deleted {
			deleted++
		} else {
			notDeleted++
			totalSize += uint64(v.BodyLen)
		}
	}
	return encodeByIDReduce(notDeleted, deleted, totalSize)
}

// ByIDRereduce combines child by-id reduce values.
func ByIDRereduce(reduces [][]byte) []byte {
	var notDeleted, deleted, totalSize uint64
	for _, r := range reduces {
		nd, d, sz := decodeByIDReduce(r)
		notDeleted += nd
		deleted += d
		totalSize += sz
	}
	return encodeByIDReduce(notDeleted, deleted, totalSize)
}

func encodeByIDReduce(notDeleted, deleted, totalSize uint64) []byte {
	buf := make([]byte, 5+5+6)
	rawint.Put40(buf[0:], notDeleted)
	rawint.Put40(buf[5:], deleted)
	rawint.Put48(buf[10:], totalSize)
	return buf
}

func decodeByIDReduce(buf []byte) (notDeleted, deleted, totalSize uint64) {
	if len(buf) < 16 {
		return 0, 0, 0
	}
	return rawint.Get40(buf[0:]), rawint.Get40(buf[5:]), rawint.Get48(buf[10:])
}

// ByIDReduceCounts decodes a by-id reduce value into its three
// components, for callers (DBInfo, the by-id tree's ReduceCount) that
// need the raw counts.
func ByIDReduceCounts(buf []byte) (notDeleted, deleted, totalSize uint64) {
	return decodeByIDReduce(buf)
}

// BySeqReduce computes the by-seq reduce value: {40-bit count} (§3).
func BySeqReduce(values [][]byte) []byte {
	return encodeBySeqReduce(uint64(len(values)))
}

// BySeqRereduce combines child by-seq reduce values.
func BySeqRereduce(reduces [][]byte) []byte {
	var total uint64
	for _, r := range reduces {
		total += decodeBySeqReduce(r)
	}
	return encodeBySeqReduce(total)
}

func encodeBySeqReduce(count uint64) []byte {
	buf := make([]byte, 5)
	rawint.Put40(buf, count)
	return buf
}

func decodeBySeqReduce(buf []byte) uint64 {
	if len(buf) < 5 {
		return 0
	}
	return rawint.Get40(buf)
}

// BySeqReduceCount decodes a by-seq reduce value's count.
func BySeqReduceCount(buf []byte) uint64 {
	return decodeBySeqReduce(buf)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
