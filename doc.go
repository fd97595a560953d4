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
	"errors"
	"sort"

	"couchstore.dev/internal/btree"
	"couchstore.dev/internal/chunk"
	"couchstore.dev/internal/docindex"
)

// contentMetaCompressed is content_meta bit 7: the body was
// Snappy-compressed when written (§3).
const contentMetaCompressed = 1 << 7

// DocInfo is the metadata couchstore keeps about one document
// revision: everything except the body itself (§3 "by-id value",
// "by-seq value").
type DocInfo struct {
	ID          string
	Sequence    uint64
	Deleted     bool
	ContentMeta byte
	RevSequence uint64
	RevMeta     []byte
	BodyLen     uint32

	bp uint64 // body chunk offset; 0 for tombstones
}

// Doc is a document's id and body.
type Doc struct {
	ID   string
	Body []byte
}

// DocUpdate is one document write within a SaveDocument(s) call.
type DocUpdate struct {
	ID          string
	Body        []byte // ignored when Deleted is true
	Deleted     bool
	RevSequence uint64
	RevMeta     []byte
	// ContentMeta carries caller-defined flags; bit 7 (the
	// compression flag) requests body compression when
	// OpenOptions.Compress is set, and is always overwritten with
	// whether the stored body was actually compressed.
	ContentMeta byte
	// DBSeq supplies this document's sequence number explicitly;
	// consulted only when SaveOptions.SequenceAsIs is set (§6.2
	// SEQUENCE_AS_IS), otherwise ignored in favor of auto-assignment.
	DBSeq uint64
}

// QueryFlags controls how ChangesSince, AllDocs, the walk functions,
// and the docinfos-by-* batch lookups filter and order their results
// (§6.2 docinfos flag group).
type QueryFlags struct {
	// NoDeletes omits tombstones from the results.
	NoDeletes bool
	// DeletesOnly restricts results to tombstones. Set at most one of
	// NoDeletes and DeletesOnly.
	DeletesOnly bool
	// Ranges treats DocInfosByIDEx/DocInfosBySequenceEx's key slice as
	// (lo, hi) pairs to fold, in the caller's given order, instead of
	// point lookups whose results line up with the input indexes.
	Ranges bool
	// IncludeCorruptDocs delivers a placeholder DocInfo (ID/Sequence
	// only) instead of failing the whole call when one entry's value
	// fails to decode.
	IncludeCorruptDocs bool
}

// keep reports whether an entry with the given tombstone state
// survives f's NoDeletes/DeletesOnly filter.
func (f QueryFlags) keep(deleted bool) bool {
	if f.NoDeletes && deleted {
		return false
	}
	if f.DeletesOnly && !deleted {
		return false
	}
	return true
}

var errWalkStop = errors.New("couchstore: walk stopped")

// SaveDocument writes a single document update, assigning it the next
// sequence number and replacing any prior by-id entry for its id
// (§4.1 "save a document").
func (s *Store) SaveDocument(u DocUpdate, opts SaveOptions) (*DocInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	di, err := s.saveOneLocked(u, opts)
	if err != nil {
		return nil, wrapErr("savedocument", s.path, err)
	}
	return di, nil
}

// SaveDocuments writes a batch of document updates, each as its own
// save (§4.1). A failure partway through leaves earlier updates in
// the batch already applied to the in-memory trees; call Commit only
// after a batch returns without error if atomicity across the whole
// batch matters to the caller.
func (s *Store) SaveDocuments(updates []DocUpdate, opts SaveOptions) ([]*DocInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	out := make([]*DocInfo, len(updates))
	for i, u := range updates {
		di, err := s.saveOneLocked(u, opts)
		if err != nil {
			return nil, wrapErr("savedocuments", s.path, err)
		}
		out[i] = di
	}
	return out, nil
}

func (s *Store) saveOneLocked(u DocUpdate, opts SaveOptions) (*DocInfo, error) {
	if u.ID == "" {
		return nil, ErrInvalidArguments
	}
	idKey := []byte(u.ID)

	var oldSeq uint64
	var hadOld bool
	if err := s.byID.Lookup([][]byte{idKey}, s.tolerate(), func(key, value []byte, found bool) error {
		if !found {
			return nil
		}
		v, err := docindex.DecodeByIDValue(value)
		if err != nil {
			return err
		}
		oldSeq, hadOld = v.DBSeq, true
		return nil
	}); err != nil {
		return nil, err
	}

	newSeq := s.hdr.UpdateSeq + 1
	if opts.SequenceAsIs {
		newSeq = u.DBSeq
	}

	var bp uint64
	var bodyLen int
	contentMeta := u.ContentMeta &^ contentMetaCompressed
	if !u.Deleted {
		payload := u.Body
		if opts.CompressBody || (s.opts.Compress && u.ContentMeta&contentMetaCompressed != 0) {
			payload = chunk.Compress(payload)
			contentMeta |= contentMetaCompressed
		}
		offset, total, err := s.codec.WriteData(s.writePos, payload)
		if err != nil {
			return nil, err
		}
		s.writePos = offset + total
		bp = uint64(offset)
		bodyLen = len(u.Body)
	}

	byIDVal := docindex.ByIDValue{
		DBSeq: newSeq, BodyLen: uint32(bodyLen), BP: bp, Deleted: u.Deleted,
		ContentMeta: contentMeta, RevSeq: u.RevSequence, RevMeta: u.RevMeta,
	}
	newByIDRoot, _, err := s.byID.Modify([]btree.Action{
		{Type: btree.ActionInsert, Key: idKey, Value: docindex.EncodeByIDValue(byIDVal)},
	}, nil)
	if err != nil {
		return nil, err
	}
	s.byID.Root = newByIDRoot

	var bySeqActions []btree.Action
	if hadOld {
		// Modify requires actions in key order. SEQUENCE_AS_IS may supply
		// a newSeq numerically below oldSeq, in which case the insertion
		// is placed ahead of this removal below.
		bySeqActions = append(bySeqActions, btree.Action{Type: btree.ActionRemove, Key: docindex.BySeqKey(oldSeq)})
	}
	bySeqVal := docindex.BySeqValue{ID: idKey, BP: bp, Deleted: u.Deleted, ContentMeta: contentMeta, RevSeq: u.RevSequence, RevMeta: u.RevMeta}
	insert := btree.Action{Type: btree.ActionInsert, Key: docindex.BySeqKey(newSeq), Value: docindex.EncodeBySeqValue(bySeqVal, bodyLen)}
	if hadOld && newSeq < oldSeq {
		bySeqActions = append([]btree.Action{insert}, bySeqActions...)
	} else {
		bySeqActions = append(bySeqActions, insert)
	}

	newBySeqRoot, _, err := s.bySeq.Modify(bySeqActions, nil)
	if err != nil {
		return nil, err
	}
	s.bySeq.Root = newBySeqRoot
	// SEQUENCE_AS_IS callers may supply a DBSeq at or below the current
	// update_seq (§8 "As-is sequences"): update_seq only ever moves
	// forward, tracking the highest db_seq ever saved.
	if newSeq > s.hdr.UpdateSeq {
		s.hdr.UpdateSeq = newSeq
	}

	return &DocInfo{
		ID: u.ID, Sequence: newSeq, Deleted: u.Deleted, ContentMeta: contentMeta,
		RevSequence: u.RevSequence, RevMeta: u.RevMeta, BodyLen: uint32(bodyLen), bp: bp,
	}, nil
}

// DocInfoByID looks up a document's current metadata by id.
func (s *Store) DocInfoByID(id string) (*DocInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	di, err := s.docInfoByIDLocked(id)
	if err != nil {
		return nil, wrapErr("docinfobyid", s.path, err)
	}
	return di, nil
}

func (s *Store) docInfoByIDLocked(id string) (*DocInfo, error) {
	var out *DocInfo
	err := s.byID.Lookup([][]byte{[]byte(id)}, s.tolerate(), func(key, value []byte, found bool) error {
		if !found {
			return nil
		}
		v, err := docindex.DecodeByIDValue(value)
		if err != nil {
			return err
		}
		out = &DocInfo{
			ID: id, Sequence: v.DBSeq, Deleted: v.Deleted, ContentMeta: v.ContentMeta,
			RevSequence: v.RevSeq, RevMeta: v.RevMeta, BodyLen: v.BodyLen, bp: v.BP,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrDocNotFound
	}
	return out, nil
}

// DocInfoBySequence looks up a document's metadata by sequence
// number. Only the most recent sequence assigned to a still-live
// document resolves (§3: an update removes its document's prior
// by-seq row).
func (s *Store) DocInfoBySequence(seq uint64) (*DocInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	di, err := s.docInfoBySeqLocked(seq)
	if err != nil {
		return nil, wrapErr("docinfobysequence", s.path, err)
	}
	return di, nil
}

func (s *Store) docInfoBySeqLocked(seq uint64) (*DocInfo, error) {
	var out *DocInfo
	err := s.bySeq.Lookup([][]byte{docindex.BySeqKey(seq)}, s.tolerate(), func(key, value []byte, found bool) error {
		if !found {
			return nil
		}
		v, bodyLen, err := docindex.DecodeBySeqValue(value)
		if err != nil {
			return err
		}
		out = &DocInfo{
			ID: string(v.ID), Sequence: seq, Deleted: v.Deleted, ContentMeta: v.ContentMeta,
			RevSequence: v.RevSeq, RevMeta: v.RevMeta, BodyLen: uint32(bodyLen), bp: v.BP,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, ErrDocNotFound
	}
	return out, nil
}

// OpenDocument looks up a document by id and reads its body.
func (s *Store) OpenDocument(id string) (*Doc, *DocInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, nil, err
	}
	di, err := s.docInfoByIDLocked(id)
	if err != nil {
		return nil, nil, wrapErr("opendocument", s.path, err)
	}
	doc, err := s.openBodyLocked(di)
	if err != nil {
		return nil, nil, wrapErr("opendocument", s.path, err)
	}
	return doc, di, nil
}

// OpenDocWithDocInfo reads a document's body given metadata already
// obtained from DocInfoByID, DocInfoBySequence, AllDocs, or a walk —
// skipping the index lookup OpenDocument would otherwise repeat.
func (s *Store) OpenDocWithDocInfo(di *DocInfo) (*Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	doc, err := s.openBodyLocked(di)
	if err != nil {
		return nil, wrapErr("opendocwithdocinfo", s.path, err)
	}
	return doc, nil
}

func (s *Store) openBodyLocked(di *DocInfo) (*Doc, error) {
	if di.Deleted || di.bp == 0 {
		return &Doc{ID: di.ID}, nil
	}
	raw, err := s.codec.ReadData(int64(di.bp))
	if err != nil {
		return nil, err
	}
	if di.ContentMeta&contentMetaCompressed != 0 {
		raw, err = chunk.Decompress(raw)
		if err != nil {
			return nil, err
		}
	}
	return &Doc{ID: di.ID, Body: raw}, nil
}

// bySeqDocInfo decodes a by-seq entry into a DocInfo, or — when flags
// requests it — a placeholder carrying only what the key itself
// guarantees (§6.2 INCLUDE_CORRUPT_DOCS).
func bySeqDocInfo(flags QueryFlags, key, value []byte) (*DocInfo, bool, error) {
	v, bodyLen, err := docindex.DecodeBySeqValue(value)
	if err != nil {
		if flags.IncludeCorruptDocs {
			return &DocInfo{Sequence: docindex.SeqFromKey(key)}, true, nil
		}
		return nil, false, err
	}
	if !flags.keep(v.Deleted) {
		return nil, false, nil
	}
	return &DocInfo{
		ID: string(v.ID), Sequence: docindex.SeqFromKey(key), Deleted: v.Deleted, ContentMeta: v.ContentMeta,
		RevSequence: v.RevSeq, RevMeta: v.RevMeta, BodyLen: uint32(bodyLen), bp: v.BP,
	}, true, nil
}

// byIDDocInfo is bySeqDocInfo's by-id-tree counterpart.
func byIDDocInfo(flags QueryFlags, key, value []byte) (*DocInfo, bool, error) {
	v, err := docindex.DecodeByIDValue(value)
	if err != nil {
		if flags.IncludeCorruptDocs {
			return &DocInfo{ID: string(key)}, true, nil
		}
		return nil, false, err
	}
	if !flags.keep(v.Deleted) {
		return nil, false, nil
	}
	return &DocInfo{
		ID: string(key), Sequence: v.DBSeq, Deleted: v.Deleted, ContentMeta: v.ContentMeta,
		RevSequence: v.RevSeq, RevMeta: v.RevMeta, BodyLen: v.BodyLen, bp: v.BP,
	}, true, nil
}

// ChangesSince calls fn for every document whose current sequence is
// greater than since, in ascending sequence order (§3 "by-seq tree"),
// including tombstones.
func (s *Store) ChangesSince(since uint64, fn func(*DocInfo) error) error {
	return s.ChangesSinceEx(since, QueryFlags{}, fn)
}

// ChangesSinceEx is ChangesSince with the docinfos flag group applied
// (§6.2 NO_DELETES/DELETES_ONLY/INCLUDE_CORRUPT_DOCS; Ranges has no
// effect here since the range is already since's argument).
func (s *Store) ChangesSinceEx(since uint64, flags QueryFlags, fn func(*DocInfo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	lower := docindex.BySeqKey(since + 1)
	err := s.bySeq.Fold(lower, nil, s.tolerate(), func(key, value []byte, found bool) error {
		di, ok, err := bySeqDocInfo(flags, key, value)
		if err != nil || !ok {
			return err
		}
		return fn(di)
	}, nil, nil)
	return wrapErr("changessince", s.path, err)
}

// AllDocs calls fn for every document with id in [startID, endID]
// (both bounds inclusive; either bound empty means unbounded), in
// ascending id order,
// including tombstones.
func (s *Store) AllDocs(startID, endID string, fn func(*DocInfo) error) error {
	return s.AllDocsEx(startID, endID, QueryFlags{}, fn)
}

// AllDocsEx is AllDocs with the docinfos flag group applied (§6.2
// NO_DELETES/DELETES_ONLY/INCLUDE_CORRUPT_DOCS; Ranges has no effect
// here since the range is already startID/endID).
func (s *Store) AllDocsEx(startID, endID string, flags QueryFlags, fn func(*DocInfo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	var lower, upper []byte
	if startID != "" {
		lower = []byte(startID)
	}
	if endID != "" {
		upper = []byte(endID)
	}
	err := s.byID.Fold(lower, upper, s.tolerate(), func(key, value []byte, found bool) error {
		di, ok, err := byIDDocInfo(flags, key, value)
		if err != nil || !ok {
			return err
		}
		return fn(di)
	}, nil, nil)
	return wrapErr("alldocs", s.path, err)
}

// DocInfosByID resolves a batch of ids in one tree traversal,
// returning nil at any index whose id isn't found.
func (s *Store) DocInfosByID(ids []string) ([]*DocInfo, error) {
	return s.DocInfosByIDEx(ids, QueryFlags{})
}

// DocInfosByIDEx is DocInfosByID with the docinfos flag group applied
// (§6.2). With flags.Ranges, ids is read as consecutive (lo, hi)
// pairs, each folded in the caller's given order; the result is then
// a flat, variable-length list rather than one entry per input index.
// Without Ranges, ids are point lookups and the result keeps its
// fixed one-entry-per-index shape, nil at any index that doesn't
// survive the lookup or the NoDeletes/DeletesOnly filter.
func (s *Store) DocInfosByIDEx(ids []string, flags QueryFlags) ([]*DocInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if flags.Ranges {
		if len(ids)%2 != 0 {
			return nil, ErrInvalidArguments
		}
		var out []*DocInfo
		for i := 0; i < len(ids); i += 2 {
			var lo, hi []byte
			if ids[i] != "" {
				lo = []byte(ids[i])
			}
			if ids[i+1] != "" {
				hi = []byte(ids[i+1])
			}
			err := s.byID.Fold(lo, hi, s.tolerate(), func(key, value []byte, found bool) error {
				di, ok, err := byIDDocInfo(flags, key, value)
				if err != nil || !ok {
					return err
				}
				out = append(out, di)
				return nil
			}, nil, nil)
			if err != nil {
				return nil, wrapErr("docinfosbyid", s.path, err)
			}
		}
		return out, nil
	}

	order := make([]int, len(ids))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return docindex.CompareBytes([]byte(ids[order[a]]), []byte(ids[order[b]])) < 0
	})
	keys := make([][]byte, len(ids))
	for i, idx := range order {
		keys[i] = []byte(ids[idx])
	}

	out := make([]*DocInfo, len(ids))
	i := 0
	err := s.byID.Lookup(keys, s.tolerate(), func(key, value []byte, found bool) error {
		idx := order[i]
		i++
		if !found {
			return nil
		}
		di, ok, err := byIDDocInfo(flags, key, value)
		if err != nil || !ok {
			return err
		}
		out[idx] = di
		return nil
	})
	if err != nil {
		return nil, wrapErr("docinfosbyid", s.path, err)
	}
	return out, nil
}

// DocInfosBySequence resolves a batch of sequence numbers in one tree
// traversal, returning nil at any index whose sequence isn't found.
func (s *Store) DocInfosBySequence(seqs []uint64) ([]*DocInfo, error) {
	return s.DocInfosBySequenceEx(seqs, QueryFlags{})
}

// DocInfosBySequenceEx is DocInfosBySequence with the docinfos flag
// group applied (§6.2). With flags.Ranges, seqs is read as
// consecutive (lo, hi) pairs (0 meaning unbounded on either side),
// each folded in the caller's given order, yielding a flat,
// variable-length list rather than one entry per input index.
func (s *Store) DocInfosBySequenceEx(seqs []uint64, flags QueryFlags) ([]*DocInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if flags.Ranges {
		if len(seqs)%2 != 0 {
			return nil, ErrInvalidArguments
		}
		var out []*DocInfo
		for i := 0; i < len(seqs); i += 2 {
			var lo, hi []byte
			if seqs[i] != 0 {
				lo = docindex.BySeqKey(seqs[i])
			}
			if seqs[i+1] != 0 {
				hi = docindex.BySeqKey(seqs[i+1])
			}
			err := s.bySeq.Fold(lo, hi, s.tolerate(), func(key, value []byte, found bool) error {
				di, ok, err := bySeqDocInfo(flags, key, value)
				if err != nil || !ok {
					return err
				}
				out = append(out, di)
				return nil
			}, nil, nil)
			if err != nil {
				return nil, wrapErr("docinfosbysequence", s.path, err)
			}
		}
		return out, nil
	}

	order := make([]int, len(seqs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return seqs[order[a]] < seqs[order[b]] })
	keys := make([][]byte, len(seqs))
	for i, idx := range order {
		keys[i] = docindex.BySeqKey(seqs[idx])
	}

	out := make([]*DocInfo, len(seqs))
	i := 0
	err := s.bySeq.Lookup(keys, s.tolerate(), func(key, value []byte, found bool) error {
		idx := order[i]
		i++
		if !found {
			return nil
		}
		di, ok, err := bySeqDocInfo(flags, key, value)
		if err != nil || !ok {
			return err
		}
		out[idx] = di
		return nil
	})
	if err != nil {
		return nil, wrapErr("docinfosbysequence", s.path, err)
	}
	return out, nil
}

// WalkIDTree walks the by-id tree over [startID, endID] (both bounds
// inclusive, empty meaning unbounded) in ascending id order, calling
// fn for each entry. fn returns stop=true to end the walk early
// without that being reported as an error.
func (s *Store) WalkIDTree(startID, endID string, fn func(*DocInfo) (stop bool, err error)) error {
	return s.WalkIDTreeEx(startID, endID, QueryFlags{}, fn)
}

// WalkIDTreeEx is WalkIDTree with the docinfos flag group applied
// (§6.2 NO_DELETES/DELETES_ONLY/INCLUDE_CORRUPT_DOCS).
func (s *Store) WalkIDTreeEx(startID, endID string, flags QueryFlags, fn func(*DocInfo) (stop bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	var lower, upper []byte
	if startID != "" {
		lower = []byte(startID)
	}
	if endID != "" {
		upper = []byte(endID)
	}
	err := s.byID.Fold(lower, upper, s.tolerate(), func(key, value []byte, found bool) error {
		di, ok, err := byIDDocInfo(flags, key, value)
		if err != nil || !ok {
			return err
		}
		stop, err := fn(di)
		if err != nil {
			return err
		}
		if stop {
			return errWalkStop
		}
		return nil
	}, nil, nil)
	if errors.Is(err, errWalkStop) {
		return nil
	}
	return wrapErr("walkidtree", s.path, err)
}

// WalkSeqTree walks the by-seq tree starting just after sinceSeq, in
// ascending sequence order. fn returns stop=true to end the walk
// early without that being reported as an error.
func (s *Store) WalkSeqTree(sinceSeq uint64, fn func(*DocInfo) (stop bool, err error)) error {
	return s.WalkSeqTreeEx(sinceSeq, QueryFlags{}, fn)
}

// WalkSeqTreeEx is WalkSeqTree with the docinfos flag group applied
// (§6.2 NO_DELETES/DELETES_ONLY/INCLUDE_CORRUPT_DOCS).
func (s *Store) WalkSeqTreeEx(sinceSeq uint64, flags QueryFlags, fn func(*DocInfo) (stop bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	lower := docindex.BySeqKey(sinceSeq + 1)
	err := s.bySeq.Fold(lower, nil, s.tolerate(), func(key, value []byte, found bool) error {
		di, ok, err := bySeqDocInfo(flags, key, value)
		if err != nil || !ok {
			return err
		}
		stop, err := fn(di)
		if err != nil {
			return err
		}
		if stop {
			return errWalkStop
		}
		return nil
	}, nil, nil)
	if errors.Is(err, errWalkStop) {
		return nil
	}
	return wrapErr("walkseqtree", s.path, err)
}

// ChangesCount reports how many documents have a current sequence in
// (minSeq, maxSeq] (maxSeq == 0 means unbounded above). It is the Go
// equivalent of couchstore_changes_count (§C.2).
func (s *Store) ChangesCount(minSeq, maxSeq uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	lower := docindex.BySeqKey(minSeq + 1)
	var upper []byte
	if maxSeq > 0 {
		upper = docindex.BySeqKey(maxSeq)
	}
	count := 0
	err := s.bySeq.Fold(lower, upper, s.tolerate(), func(key, value []byte, found bool) error {
		count++
		return nil
	}, nil, nil)
	if err != nil {
		return 0, wrapErr("changescount", s.path, err)
	}
	return count, nil
}
