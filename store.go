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

// Package couchstore implements an append-only, single-file,
// versioned document store with two secondary B+tree indexes — by
// document id and by sequence number — plus a local/auxiliary
// document tree for caller-private metadata that never appears in the
// sequence index.
//
// A Store is not safe for concurrent use by multiple goroutines
// without external synchronization beyond what's documented per
// method; like the file handle it wraps, one Store models one
// writer's view of the file at a time (§2, §7 "single-fd-per-handle").
package couchstore

import (
	"errors"
	"log"
	"sync"

	"couchstore.dev/internal/block"
	"couchstore.dev/internal/btree"
	"couchstore.dev/internal/chunk"
	"couchstore.dev/internal/docindex"
	"couchstore.dev/internal/fileops"
	"couchstore.dev/internal/header"
	"couchstore.dev/internal/node"
)

// currentDiskVersion is the on-disk format version new files are
// created with (§3: version drives the checksum scheme and the
// header-length sanity cap).
const currentDiskVersion = 12

// Store is one open couchstore file.
type Store struct {
	mu   sync.Mutex
	path string
	ops  fileops.Ops
	file fileops.File

	blocks  *block.Store
	codec   *chunk.Codec
	headers *header.Manager
	opts    OpenOptions

	// writePos is the file's single append cursor, shared by document
	// bodies and all three trees during a commit's writes (§4.1).
	writePos int64
	// headerPos is the physical offset of the header currently open,
	// used by RewindHeader as its scan anchor and reported by DBInfo
	// (§4.8, §C.1).
	headerPos int64

	hdr   *header.Header
	byID  *btree.Tree
	bySeq *btree.Tree
	local *btree.Tree

	closed bool
	// dropped records DropFile having closed the fd without tearing
	// down the handle (§6.2 drop-file/reopen-file pair). Distinct from
	// closed: checkOpen still permits calls (in particular
	// ReopenFile) while dropped but not closed.
	dropped bool
}

// Open opens the couchstore file at path. If the file doesn't exist
// and opts.Create is false, Open returns an error satisfying
// errors.Is(err, fs.ErrNotExist) once unwrapped (via the underlying
// fileops.Ops implementation); with opts.Create true, Open creates an
// empty file with a fresh, empty header.
func Open(path string, opts OpenOptions) (*Store, error) {
	ops := fileops.Default
	f, err := ops.Open(path, opts.Create)
	if err != nil {
		return nil, wrapErr("open", path, err)
	}

	s := &Store{path: path, ops: ops, file: f, opts: opts}
	s.blocks = block.New(f)
	s.codec = &chunk.Codec{Blocks: s.blocks, Scheme: chunk.CRC32C, Version: currentDiskVersion}
	s.headers = &header.Manager{Blocks: s.blocks, Codec: s.codec}

	size, err := f.Size()
	if err != nil {
		f.Close()
		return nil, wrapErr("open", path, err)
	}

	if size == 0 {
		s.hdr = header.InitialHeader(currentDiskVersion)
		s.headerPos = 0
		if opts.CRC32Legacy {
			s.codec.Scheme = chunk.CRC32
		}
	} else {
		h, pos, err := s.headers.FindLatest(size)
		if err != nil && errors.Is(err, chunk.ErrChecksumFail) {
			// The scan assumed the current scheme before it had any
			// way to know the file's actual version; retry once
			// under the legacy scheme before giving up (§C.3).
			s.codec.Scheme = chunk.CRC32
			h, pos, err = s.headers.FindLatest(size)
		}
		if err != nil {
			f.Close()
			return nil, wrapErr("open", path, err)
		}
		s.hdr = h
		s.headerPos = pos
		s.codec.Version = h.Version
		if h.Version >= 12 {
			s.codec.Scheme = chunk.CRC32C
		} else {
			s.codec.Scheme = chunk.CRC32
		}
	}
	s.writePos = block.ToLogical(size)
	s.rebuildTrees()
	return s, nil
}

func (s *Store) rebuildTrees() {
	byIDDesc := btree.Descriptor{
		Compare:        docindex.CompareBytes,
		Reduce:         docindex.ByIDReduce,
		Rereduce:       docindex.ByIDRereduce,
		ChunkThreshold: s.opts.ChunkThreshold,
		Compress:       s.opts.Compress,
		ReduceCount: func(r []byte) int {
			nd, d, _ := docindex.ByIDReduceCounts(r)
			return int(nd + d)
		},
	}
	bySeqDesc := btree.Descriptor{
		Compare:        docindex.CompareBytes,
		Reduce:         docindex.BySeqReduce,
		Rereduce:       docindex.BySeqRereduce,
		ChunkThreshold: s.opts.ChunkThreshold,
		Compress:       s.opts.Compress,
		ReduceCount:    func(r []byte) int { return int(docindex.BySeqReduceCount(r)) },
	}
	localDesc := btree.Descriptor{
		Compare:        docindex.CompareBytes,
		ChunkThreshold: s.opts.ChunkThreshold,
		// Local-doc values are caller-opaque and usually small; never
		// compressed, matching couchstore's treatment of the local tree.
		Compress: false,
	}
	s.byID = &btree.Tree{Codec: s.codec, Desc: byIDDesc, Root: node.RootToPointer(s.hdr.ByID), Pos: &s.writePos}
	s.bySeq = &btree.Tree{Codec: s.codec, Desc: bySeqDesc, Root: node.RootToPointer(s.hdr.BySeq), Pos: &s.writePos}
	s.local = &btree.Tree{Codec: s.codec, Desc: localDesc, Root: node.RootToPointer(s.hdr.Local), Pos: &s.writePos}

	if s.opts.TolerateCorruption {
		onCorrupt := func(op string) func(error) {
			return func(err error) { logCorrupt(op, err) }
		}
		s.byID.OnCorrupt = onCorrupt("byid")
		s.bySeq.OnCorrupt = onCorrupt("byseq")
		s.local.OnCorrupt = onCorrupt("local")
	}
}

// tolerate reports whether reads against this Store should downgrade
// corrupt nodes to logged skips rather than failing outright.
func (s *Store) tolerate() bool { return s.opts.TolerateCorruption }

// Close releases the underlying file handle. Close is idempotent, and
// safe to call on a Store that's already had DropFile called on it.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	dropped := s.dropped
	s.closed = true
	if dropped {
		// DropFile already closed the fd; closing it again would
		// operate on a handle fileops.Ops no longer recognizes as
		// live (§6.2 drop-file/reopen-file pair).
		return nil
	}
	if err := s.file.Close(); err != nil {
		return wrapErr("close", s.path, err)
	}
	return nil
}

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrFileClosed
	}
	return nil
}

// Commit persists the store's current in-memory tree roots as a new
// header, fsyncing twice per the two-phase protocol of §4.8. A commit
// with nothing changed since the last one still writes a new header
// block (§8 Testable Property #7: "commit with no interleaved changes
// produces a new header but leaves all three roots byte-identical") —
// the original couchstore_commit (couch_db.cc) extends, syncs, and
// writes a header unconditionally, with no such elision.
func (s *Store) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	next := &header.Header{
		Version:   s.codec.Version,
		UpdateSeq: s.hdr.UpdateSeq,
		PurgeSeq:  s.hdr.PurgeSeq,
		PurgePtr:  s.hdr.PurgePtr,
		BySeq:     node.PointerToRoot(s.bySeq.Root),
		ByID:      node.PointerToRoot(s.byID.Root),
		Local:     node.PointerToRoot(s.local.Root),
	}
	physicalPos, nextPos, err := s.headers.Commit(s.writePos, next)
	if err != nil {
		return wrapErr("commit", s.path, err)
	}
	s.hdr = next
	s.writePos = nextPos
	s.headerPos = physicalPos
	return nil
}

// DropFile closes the underlying fd without tearing down the Store
// handle — the fd can only be restored by a subsequent ReopenFile; the
// file's on-disk state is whatever the last successful Commit left it
// at (§6.2 "drop-file (close the fd without destroying the handle)" —
// DropFile simulates a crash for tests).
func (s *Store) DropFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.dropped {
		return nil
	}
	s.dropped = true
	return s.file.Close()
}

// ReopenFile re-derives the store's in-memory state from the file's
// current last-committed header, as if the Store had just been
// Opened again. If this handle was dropped (DropFile), ReopenFile
// first re-binds a fresh fd to the same path (§6.2 "reopen-file
// (re-bind a dropped handle to the same path and verify the same
// header)"); otherwise it re-derives state without closing the
// existing fd. A newer header written by another handle is accepted;
// it returns ErrDBNoLongerValid only when the latest header on disk
// has a lower update_seq than this Store holds (§C.1).
func (s *Store) ReopenFile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.dropped {
		f, err := s.ops.Open(s.path, false)
		if err != nil {
			return wrapErr("reopen", s.path, err)
		}
		s.file = f
		s.blocks = block.New(f)
		s.codec.Blocks = s.blocks
		s.headers.Blocks = s.blocks
	}
	size, err := s.file.Size()
	if err != nil {
		return wrapErr("reopen", s.path, err)
	}
	h, pos, err := s.headers.FindLatest(size)
	if err != nil {
		return wrapErr("reopen", s.path, err)
	}
	// A legitimate Reopen only ever moves forward: another handle
	// committed more updates since we last read. An update_seq that
	// goes backwards means the file at s.path was replaced out from
	// under us (e.g. a compaction swap) rather than appended to, and
	// this Store's in-memory trees no longer describe any prefix of
	// the new file — the caller must Open it fresh instead (§C.1).
	if h.UpdateSeq < s.hdr.UpdateSeq {
		return ErrDBNoLongerValid
	}
	s.dropped = false
	s.hdr = h
	s.headerPos = pos
	s.writePos = block.ToLogical(size)
	s.rebuildTrees()
	return nil
}

// RewindHeader discards this Store's current header in favor of the
// one immediately preceding it on disk (§4.8, §C.1 rewind_db_header),
// and rebuilds the in-memory trees from that older header. It does
// not truncate the file: any blocks written after the rewound-to
// header remain on disk as unreferenced garbage until the next
// compaction, matching how a subsequent Commit simply continues
// appending at the current end of file.
func (s *Store) RewindHeader() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	h, pos, err := s.headers.Rewind(s.headerPos)
	if err != nil {
		return wrapErr("rewindheader", s.path, err)
	}
	size, err := s.file.Size()
	if err != nil {
		return wrapErr("rewindheader", s.path, err)
	}
	s.hdr = h
	s.headerPos = pos
	s.writePos = block.ToLogical(size)
	s.rebuildTrees()
	return nil
}

// logCorrupt is couchstore's equivalent of libcouchstore's
// best-effort diagnostic logging on a tolerated corruption: it never
// aborts an operation, it just leaves a trail.
func logCorrupt(op string, err error) {
	log.Printf("couchstore: %s: tolerating corruption: %v", op, err)
}
