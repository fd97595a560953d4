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

// Package block implements the append-only, block-structured file
// substrate described in §4.1: a file carved into 4096-byte blocks
// whose first byte is a block-type marker, addressed by callers
// through a marker-free logical offset space.
package block

import (
	"io"

	"couchstore.dev/internal/fileops"
)

// Size is the physical block size in bytes.
const Size = 4096

// usable is the number of non-marker bytes per block.
const usable = Size - 1

// MarkerData and MarkerHeader are the two block-type marker values.
// The first byte of every physical block is one of these.
const (
	MarkerData   byte = 0x00
	MarkerHeader byte = 0x01
)

// Store addresses a file by logical offset, transparently inserting
// and skipping the one block-marker byte per 4096-byte block.
type Store struct {
	f fileops.File
}

// New wraps f as a block-addressable file.
func New(f fileops.File) *Store {
	return &Store{f: f}
}

// File returns the underlying fileops.File, for operations (Sync,
// Truncate, Size) that don't go through the marker-skipping logic.
func (s *Store) File() fileops.File { return s.f }

// ToPhysical converts a logical (marker-free) offset to the physical
// file offset of the same byte.
func ToPhysical(logical int64) int64 {
	b := logical / usable
	r := logical % usable
	return b*Size + 1 + r
}

// ToLogical converts a physical file offset to its logical offset.
// The physical offset must not itself be a marker byte.
func ToLogical(physical int64) int64 {
	b := physical / Size
	r := physical % Size
	return b*usable + (r - 1)
}

// AtBlockStart reports whether the logical offset sits immediately
// after a block marker, i.e. whether writing there will need to place
// a fresh marker byte just before it.
func AtBlockStart(logical int64) bool {
	return logical%usable == 0
}

// NextBlockBoundary returns the smallest logical offset >= logical
// that is a block start. If logical is already a block start it is
// returned unchanged.
func NextBlockBoundary(logical int64) int64 {
	if AtBlockStart(logical) {
		return logical
	}
	b := logical/usable + 1
	return b * usable
}

// PReadSkip reads len(buf) bytes starting at logical offset pos,
// transparently skipping marker bytes at block boundaries.
func (s *Store) PReadSkip(pos int64, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		phys := ToPhysical(pos + int64(read))
		blockEnd := (phys/Size + 1) * Size
		n := len(buf) - read
		if int64(n) > blockEnd-phys {
			n = int(blockEnd - phys)
		}
		got, err := s.f.ReadAt(buf[read:read+n], phys)
		read += got
		if err != nil {
			return read, err
		}
		if got < n {
			return read, io.ErrUnexpectedEOF
		}
	}
	return read, nil
}

// PWriteSkip writes buf starting at logical offset pos. firstMarker is
// the marker byte written for the block pos starts in, if pos is
// itself a fresh block boundary; every other block boundary crossed
// during the write gets MarkerData, matching §4.1's "0 = data
// continuation" rule — only the block where a header chunk begins
// ever carries MarkerHeader. It returns the number of physical bytes
// written (payload plus any marker bytes).
func (s *Store) PWriteSkip(pos int64, buf []byte, firstMarker byte) (int64, error) {
	var physWritten int64
	written := 0
	first := true
	for written < len(buf) {
		logical := pos + int64(written)
		phys := ToPhysical(logical)
		if AtBlockStart(logical) {
			marker := MarkerData
			if first {
				marker = firstMarker
			}
			if _, err := s.f.WriteAt([]byte{marker}, phys-1); err != nil {
				return physWritten, err
			}
			physWritten++
		}
		first = false
		blockEnd := (phys/Size + 1) * Size
		n := len(buf) - written
		if int64(n) > blockEnd-phys {
			n = int(blockEnd - phys)
		}
		if _, err := s.f.WriteAt(buf[written:written+n], phys); err != nil {
			return physWritten, err
		}
		written += n
		physWritten += int64(n)
	}
	return physWritten, nil
}
