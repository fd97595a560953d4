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

package couchstore

import (
	"os"

	"couchstore.dev/internal/compact"
	"couchstore.dev/internal/docindex"
)

// DBInfo summarizes one open store (§4.7's compaction progress
// reporting, and general introspection).
type DBInfo struct {
	Path         string
	DocCount     uint64
	DeletedCount uint64
	SpaceUsed    uint64
	FileSize     int64
	HeaderPos    int64
	UpdateSeq    uint64
	PurgeSeq     uint64
	DiskVersion  byte
}

// DBInfo reports the store's current size and document counts, read
// from the by-id tree's root reduce value without walking the tree.
func (s *Store) DBInfo() (*DBInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	size, err := s.file.Size()
	if err != nil {
		return nil, wrapErr("dbinfo", s.path, err)
	}
	var notDeleted, deleted, totalSize uint64
	if s.byID.Root != nil {
		notDeleted, deleted, totalSize = docindex.ByIDReduceCounts(s.byID.Root.Reduce)
	}
	return &DBInfo{
		Path: s.path, DocCount: notDeleted, DeletedCount: deleted, SpaceUsed: totalSize,
		FileSize: size, HeaderPos: s.headerPos, UpdateSeq: s.hdr.UpdateSeq, PurgeSeq: s.hdr.PurgeSeq,
		DiskVersion: s.codec.Version,
	}, nil
}

// CompactOptions tunes a CompactDBEx pass.
type CompactOptions struct {
	// KeepDeleted keeps tombstones in the compacted file; couchstore's
	// default compaction (CompactDB) drops them.
	KeepDeleted bool
	// DropBody, if set, is consulted for every surviving document and
	// may veto it from the compacted file.
	DropBody func(id string, meta DocInfo) bool
	// RecoveryMode tolerates corrupt source nodes and bodies written
	// under the other checksum scheme instead of aborting the
	// compaction (§6.2 RECOVERY_MODE).
	RecoveryMode bool
}

// CompactDB rewrites the store into a new file at destPath, dropping
// tombstones, and returns once the new file's header is committed and
// the new file is closed; s itself stays open. The caller is
// responsible for replacing the
// original file with destPath (§4.7 leaves the swap to the caller,
// since only the caller knows whether other handles are still open on
// the original path).
func (s *Store) CompactDB(destPath string) error {
	return s.CompactDBEx(destPath, CompactOptions{})
}

// CompactDBEx is CompactDB with control over what a compaction keeps.
func (s *Store) CompactDBEx(destPath string, opts CompactOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	dst, err := Open(destPath, OpenOptions{Create: true, ChunkThreshold: s.opts.ChunkThreshold, Compress: s.opts.Compress})
	if err != nil {
		return wrapErr("compactdb", s.path, err)
	}

	var dropBody func(id []byte, meta docindex.ByIDValue) bool
	if opts.DropBody != nil {
		dropBody = func(id []byte, meta docindex.ByIDValue) bool {
			return opts.DropBody(string(id), DocInfo{
				ID: string(id), Sequence: meta.DBSeq, Deleted: meta.Deleted, ContentMeta: meta.ContentMeta,
				RevSequence: meta.RevSeq, RevMeta: meta.RevMeta, BodyLen: meta.BodyLen, bp: meta.BP,
			})
		}
	}

	result, err := compact.Run(
		compact.Source{Codec: s.codec, BySeq: s.bySeq, Local: s.local},
		compact.Dest{Codec: dst.codec, Pos: &dst.writePos},
		dst.bySeq.Desc, dst.byID.Desc, dst.local.Desc,
		compact.Options{KeepDeleted: opts.KeepDeleted, DropBody: dropBody, RecoveryMode: opts.RecoveryMode},
	)
	if err != nil {
		dst.Close()
		os.Remove(destPath)
		return wrapErr("compactdb", s.path, err)
	}

	dst.byID.Root = result.NewByIDRoot
	dst.bySeq.Root = result.NewBySeqRoot
	dst.local.Root = result.NewLocalRoot
	dst.hdr.UpdateSeq = s.hdr.UpdateSeq
	dst.hdr.PurgeSeq = s.hdr.PurgeSeq
	if !opts.KeepDeleted {
		// Dropping tombstones is itself a purge (§4.9 step 1: "purge_seq
		// (+1 if DROP_DELETES)").
		dst.hdr.PurgeSeq++
	}
	dst.hdr.PurgePtr = s.hdr.PurgePtr

	if err := dst.Commit(); err != nil {
		dst.Close()
		os.Remove(destPath)
		return wrapErr("compactdb", s.path, err)
	}
	return wrapErr("compactdb", s.path, dst.Close())
}
