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

// Package compact implements the compaction rewrite described in
// §4.7: stream the by-seq tree forward into a new file (carrying
// document bodies with it), rebuild the by-id tree from the same pass
// via an external sort (by-seq order and by-id order never agree),
// and copy the local-doc tree across untouched.
//
// This package depends only on the lower-level primitives (btree,
// chunk, docindex, sortfile, node) rather than the root couchstore
// package, so that the root package can import it without a cycle.
package compact

import (
	"couchstore.dev/internal/btree"
	"couchstore.dev/internal/chunk"
	"couchstore.dev/internal/docindex"
	"couchstore.dev/internal/node"
	"couchstore.dev/internal/sortfile"
)

// Source bundles what a compaction reads from the file being
// compacted away.
type Source struct {
	Codec *chunk.Codec
	BySeq *btree.Tree
	Local *btree.Tree
}

// Dest bundles what a compaction writes into the new file. Pos is the
// destination file's shared append cursor, advanced by every write
// exactly like btree.Tree.Pos during normal operation.
type Dest struct {
	Codec *chunk.Codec
	Pos   *int64
}

// Options tunes what survives a compaction.
type Options struct {
	// KeepDeleted keeps tombstones in the compacted file. Couchstore's
	// default compaction drops them (§4.7).
	KeepDeleted bool
	// DropBody, if set, is consulted for every surviving document and
	// may veto it, e.g. to implement a time- or seq-bounded purge
	// alongside compaction. A true return drops the document as if it
	// had been filtered by KeepDeleted.
	DropBody func(id []byte, meta docindex.ByIDValue) bool
	// RecoveryMode tolerates corrupt tree nodes during the source
	// folds instead of aborting the pass, and reads document bodies
	// via VerifyChunk instead of ReadData so a body written under the
	// other checksum scheme still survives (§6.2 RECOVERY_MODE).
	RecoveryMode bool
}

// Result carries the three new roots a caller commits into the new
// file's header, plus how much a guided drop removed.
type Result struct {
	NewBySeqRoot *node.Pointer
	NewByIDRoot  *node.Pointer
	NewLocalRoot *node.Pointer
	Stats        btree.PurgeResult
}

// Run performs one compaction pass. bySeqDesc, byIDDesc, and
// localDesc are the destination trees' descriptors (same shape as the
// source's, just targeting dst.Codec).
func Run(src Source, dst Dest, bySeqDesc, byIDDesc, localDesc btree.Descriptor, opts Options) (*Result, error) {
	dstBySeq := &btree.Tree{Codec: dst.Codec, Desc: bySeqDesc, Pos: dst.Pos}
	bySeqBuilder := btree.NewBuilder(dstBySeq)
	idSorter := sortfile.NewSorter(docindex.CompareBytes)

	var stats btree.PurgeResult

	err := src.BySeq.Fold(nil, nil, opts.RecoveryMode, func(key, value []byte, found bool) error {
		seqVal, bodyLen, err := docindex.DecodeBySeqValue(value)
		if err != nil {
			return err
		}

		keep := opts.KeepDeleted || !seqVal.Deleted
		if keep && opts.DropBody != nil {
			idMeta := docindex.ByIDValue{
				DBSeq: docindex.SeqFromKey(key), BP: seqVal.BP, BodyLen: uint32(bodyLen), Deleted: seqVal.Deleted,
				ContentMeta: seqVal.ContentMeta, RevSeq: seqVal.RevSeq, RevMeta: seqVal.RevMeta,
			}
			if opts.DropBody(seqVal.ID, idMeta) {
				keep = false
			}
		}
		if !keep {
			stats.KVCount++
			stats.DocsCount++
			return nil
		}

		var newBP uint64
		if seqVal.BP != 0 {
			var raw []byte
			var err error
			if opts.RecoveryMode {
				raw, err = src.Codec.VerifyChunk(int64(seqVal.BP))
			} else {
				raw, err = src.Codec.ReadData(int64(seqVal.BP))
			}
			if err != nil {
				return err
			}
			offset, total, err := dst.Codec.WriteData(*dst.Pos, raw)
			if err != nil {
				return err
			}
			*dst.Pos = offset + total
			newBP = uint64(offset)
		}

		seq := docindex.SeqFromKey(key)
		movedSeqVal := seqVal
		movedSeqVal.BP = newBP
		if err := bySeqBuilder.Add(key, docindex.EncodeBySeqValue(movedSeqVal, bodyLen)); err != nil {
			return err
		}

		idVal := docindex.ByIDValue{
			DBSeq: seq, BodyLen: uint32(bodyLen), BP: newBP, Deleted: seqVal.Deleted,
			ContentMeta: seqVal.ContentMeta, RevSeq: seqVal.RevSeq, RevMeta: seqVal.RevMeta,
		}
		return idSorter.Add(seqVal.ID, docindex.EncodeByIDValue(idVal))
	}, nil, nil)
	if err != nil {
		return nil, err
	}

	newBySeqRoot, err := bySeqBuilder.Finish()
	if err != nil {
		return nil, err
	}

	merger, err := idSorter.Finish()
	if err != nil {
		return nil, err
	}
	defer merger.Close()

	dstByID := &btree.Tree{Codec: dst.Codec, Desc: byIDDesc, Pos: dst.Pos}
	byIDBuilder := btree.NewBuilder(dstByID)
	for {
		key, value, ok, err := merger.Next(keepLatestByID)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := byIDBuilder.Add(key, value); err != nil {
			return nil, err
		}
	}
	newByIDRoot, err := byIDBuilder.Finish()
	if err != nil {
		return nil, err
	}

	dstLocal := &btree.Tree{Codec: dst.Codec, Desc: localDesc, Pos: dst.Pos}
	localBuilder := btree.NewBuilder(dstLocal)
	err = src.Local.Fold(nil, nil, opts.RecoveryMode, func(key, value []byte, found bool) error {
		return localBuilder.Add(key, value)
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	newLocalRoot, err := localBuilder.Finish()
	if err != nil {
		return nil, err
	}

	return &Result{
		NewBySeqRoot: newBySeqRoot,
		NewByIDRoot:  newByIDRoot,
		NewLocalRoot: newLocalRoot,
		Stats:        stats,
	}, nil
}

// keepLatestByID resolves a same-id collision in the sorted merge by
// keeping the later entry. The by-seq fold visits ids in seq (not id)
// order, so the "later" entry in the merge is whichever the sorter's
// k-way merge happened to see second; in a well-formed file each id
// has exactly one live by-seq row (the save pipeline removes a
// document's old by-seq row on every update), so this only ever fires
// against a corrupt or pre-recovery source file.
func keepLatestByID(a, b []byte) []byte {
	return b
}
