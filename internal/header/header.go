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

// Package header encodes and decodes the fixed-prefix-plus-three-roots
// header block (§3), and implements commit/open/rewind header
// discovery (§4.8): the mechanism by which crash recovery reduces to
// "find the last intact header".
package header

import (
	"encoding/binary"
	"errors"

	"couchstore.dev/internal/block"
	"couchstore.dev/internal/chunk"
	"couchstore.dev/internal/node"
	"couchstore.dev/internal/rawint"
)

// ErrNoHeader is returned by FindLatest when no valid header block
// was found anywhere in the file.
var ErrNoHeader = errors.New("header: no valid header found")

// Header is the decoded contents of one header block.
type Header struct {
	Version   byte
	UpdateSeq uint64 // 48-bit
	PurgeSeq  uint64 // 48-bit
	PurgePtr  uint64 // 48-bit
	BySeq     *node.RootDescriptor
	ByID      *node.RootDescriptor
	Local     *node.RootDescriptor
}

// Encode serializes h per §3: version, update_seq, purge_seq,
// purge_ptr, three 16-bit root lengths, then the three roots in
// by-seq/by-id/local order.
func Encode(h *Header) []byte {
	bySeq := node.EncodeRoot(h.BySeq)
	byID := node.EncodeRoot(h.ByID)
	local := node.EncodeRoot(h.Local)

	buf := make([]byte, 1+6+6+6+2+2+2+len(bySeq)+len(byID)+len(local))
	i := 0
	buf[i] = h.Version
	i++
	rawint.Put48(buf[i:], h.UpdateSeq)
	i += 6
	rawint.Put48(buf[i:], h.PurgeSeq)
	i += 6
	rawint.Put48(buf[i:], h.PurgePtr)
	i += 6
	binary.BigEndian.PutUint16(buf[i:], uint16(len(bySeq)))
	i += 2
	binary.BigEndian.PutUint16(buf[i:], uint16(len(byID)))
	i += 2
	binary.BigEndian.PutUint16(buf[i:], uint16(len(local)))
	i += 2
	i += copy(buf[i:], bySeq)
	i += copy(buf[i:], byID)
	copy(buf[i:], local)
	return buf
}

// Decode parses a header block written by Encode.
func Decode(buf []byte) (*Header, error) {
	if len(buf) < 1+6+6+6+2+2+2 {
		return nil, chunk.ErrCorrupt
	}
	h := &Header{}
	i := 0
	h.Version = buf[i]
	i++
	h.UpdateSeq = rawint.Get48(buf[i:])
	i += 6
	h.PurgeSeq = rawint.Get48(buf[i:])
	i += 6
	h.PurgePtr = rawint.Get48(buf[i:])
	i += 6
	bySeqLen := int(binary.BigEndian.Uint16(buf[i:]))
	i += 2
	byIDLen := int(binary.BigEndian.Uint16(buf[i:]))
	i += 2
	localLen := int(binary.BigEndian.Uint16(buf[i:]))
	i += 2

	if len(buf) < i+bySeqLen+byIDLen+localLen {
		return nil, chunk.ErrCorrupt
	}
	var err error
	if h.BySeq, err = node.DecodeRoot(buf[i : i+bySeqLen]); err != nil {
		return nil, err
	}
	i += bySeqLen
	if h.ByID, err = node.DecodeRoot(buf[i : i+byIDLen]); err != nil {
		return nil, err
	}
	i += byIDLen
	if h.Local, err = node.DecodeRoot(buf[i : i+localLen]); err != nil {
		return nil, err
	}
	return h, nil
}

// Manager reads and writes headers for one open file.
type Manager struct {
	Blocks *block.Store
	Codec  *chunk.Codec
}

// Commit writes h as a new header, per the two-phase protocol of
// §4.8: advance the logical position to the header's eventual end
// (pre-extending the file so the kernel does the allocation before
// the first fsync), sync, write the header at the block-aligned
// position computed before the extension, sync again. It returns the
// physical block-aligned offset the header was written at, and the
// logical offset just past the header (where the next commit's
// writes should begin).
func (m *Manager) Commit(writePos int64, h *Header) (physicalPos int64, nextLogicalPos int64, err error) {
	payload := Encode(h)
	aligned := block.NextBlockBoundary(writePos)
	endLogical := aligned + 8 + int64(len(payload))
	endPhysical := block.ToPhysical(endLogical)

	if err := m.Blocks.File().Truncate(endPhysical); err != nil {
		return 0, 0, err
	}
	if err := m.Blocks.File().Sync(); err != nil {
		return 0, 0, err
	}

	if _, err := m.Codec.WriteHeader(writePos, payload); err != nil {
		return 0, 0, err
	}
	if err := m.Blocks.File().Sync(); err != nil {
		return 0, 0, err
	}
	// ToPhysical(aligned) is the first byte after the block's marker;
	// the header block itself starts at the marker, one byte earlier.
	return block.ToPhysical(aligned) - 1, endLogical, nil
}

// FindLatest scans backwards from end-of-file in 4 KiB steps looking
// for the most recent intact header block (§4.8 "Open"), skipping
// past any header candidate that fails to decode rather than treating
// that as the final answer — crash recovery must look past a torn
// trailing header to the last intact one regardless of caller policy.
func (m *Manager) FindLatest(fileSize int64) (h *Header, physicalPos int64, err error) {
	return m.scanFrom(fileSize)
}

// Rewind locates the header immediately preceding the one at
// currentPhysicalPos, per §4.8's rewind_db_header: re-scan starting
// at currentPhysicalPos - block.Size, the previous candidate block.
func (m *Manager) Rewind(currentPhysicalPos int64) (h *Header, physicalPos int64, err error) {
	return m.scanFrom(currentPhysicalPos - block.Size)
}

func (m *Manager) scanFrom(upperBound int64) (*Header, int64, error) {
	var lastErr error
	for pos := (upperBound / block.Size) * block.Size; pos >= 0; pos -= block.Size {
		var markerBuf [1]byte
		if _, err := m.Blocks.File().ReadAt(markerBuf[:], pos); err != nil {
			// A short read here means there's no block at all at
			// this offset (an empty or truncated file) rather than
			// a candidate header that failed to validate, so it
			// isn't "the last non-fatal error" §7 has the scan
			// remember — just keep scanning toward ErrNoHeader.
			continue
		}
		if markerBuf[0] != block.MarkerHeader {
			continue
		}
		logical := block.ToLogical(pos + 1)
		payload, err := m.Codec.ReadHeader(logical)
		if err != nil {
			lastErr = err
			continue
		}
		h, err := Decode(payload)
		if err != nil {
			lastErr = err
			continue
		}
		return h, pos, nil
	}
	if lastErr != nil {
		return nil, 0, lastErr
	}
	return nil, 0, ErrNoHeader
}

// InitialHeader returns the empty header a freshly created file opens
// with: zero sequence numbers and three empty roots.
func InitialHeader(version byte) *Header {
	return &Header{Version: version}
}
