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

package btree

import "couchstore.dev/internal/node"

// ActionType is the kind of a single Action in a Modify batch (§4.5).
type ActionType int

const (
	ActionInsert ActionType = iota
	ActionRemove
	ActionFetch
)

// FetchFunc is called for an ActionFetch action with the value
// already present at Key before this batch's edits apply (FETCH
// always sorts ahead of INSERT/REMOVE on a tied key — see Actions
// doc), or found=false if Key had no entry.
type FetchFunc func(oldValue []byte, found bool)

// Action is one edit or read within a Modify batch. Callers must
// supply actions sorted by Desc.Compare on Key, and — for actions
// that share a key — FETCH ahead of INSERT/REMOVE, so that a fetch
// observes pre-batch state (§4.5 "Open Question: batch ordering",
// resolved in favor of pre-batch FETCH semantics).
type Action struct {
	Type  ActionType
	Key   []byte
	Value []byte // only meaningful for ActionInsert
	Fetch FetchFunc
}

// PurgeDecision is the verdict a PurgeFilter gives for one key or
// subtree during a guided purge (§4.5 "guided purge").
type PurgeDecision int

const (
	// PurgeKeep retains the entry/subtree and continues scanning it.
	PurgeKeep PurgeDecision = iota
	// PurgeDrop removes the entry, or the whole subtree, without
	// descending into it.
	PurgeDrop
	// PurgePartial means an interior subtree contains a mix of
	// kept and dropped entries; descend and ask again per-child.
	PurgePartial
	// PurgeStop ends the purge scan immediately; this subtree and
	// everything after it in key order is kept verbatim.
	PurgeStop
)

// PurgeFilter drives a guided purge running alongside a Modify batch.
// Pointer is consulted for each interior subtree before descending
// into it (letting a purge skip whole subtrees cheaply via their
// reduce value); KV is consulted for each surviving leaf entry.
// Either may be nil to skip that granularity of filtering.
type PurgeFilter struct {
	Pointer func(p node.Pointer) PurgeDecision
	KV      func(key, value []byte) PurgeDecision
}

// PurgeResult accumulates what a guided purge removed.
type PurgeResult struct {
	KVCount   int
	DocsCount int
}

func (r *PurgeResult) add(other PurgeResult) {
	r.KVCount += other.KVCount
	r.DocsCount += other.DocsCount
}

// Modify applies a batch of actions (and, optionally, a guided purge)
// to the tree in one copy-on-write traversal, returning the resulting
// root. An empty action batch with no purge filter returns the
// existing root completely unchanged — not merely equal, but the same
// pointer value — so that a commit with nothing to do writes no new
// nodes (§7 invariant: idempotent commit).
func (t *Tree) Modify(actions []Action, purge *PurgeFilter) (*node.Pointer, PurgeResult, error) {
	if len(actions) == 0 && purge == nil {
		return t.Root, PurgeResult{}, nil
	}
	reused, newPtrs, pr, err := t.modifyNode(t.Root, actions, purge)
	if err != nil {
		return nil, PurgeResult{}, err
	}
	if reused != nil {
		return reused, pr, nil
	}
	root, err := t.wrapToSingleRoot(newPtrs)
	return root, pr, err
}

// modifyNode returns either a reused pointer (subtree unchanged, safe
// to keep verbatim) or a flat list of one-or-more replacement pointers
// a caller must fold into its own node (a modified child can split
// into several siblings, which is how growth propagates upward).
func (t *Tree) modifyNode(ptr *node.Pointer, actions []Action, purge *PurgeFilter) (reused *node.Pointer, newPtrs []node.Pointer, result PurgeResult, err error) {
	if purge != nil && purge.Pointer != nil && ptr != nil {
		switch purge.Pointer(*ptr) {
		case PurgeDrop:
			return nil, nil, t.accountSubtreeDrop(*ptr), nil
		case PurgeStop:
			if len(actions) == 0 {
				return ptr, nil, PurgeResult{}, nil
			}
			purge = nil
		}
	}

	if len(actions) == 0 && purge == nil {
		return ptr, nil, PurgeResult{}, nil
	}

	d, err := t.readNode(ptr)
	if err != nil {
		return nil, nil, PurgeResult{}, err
	}

	if d.isLeaf {
		kvs, pr, err := t.applyLeaf(d.kvs, actions, purge)
		if err != nil {
			return nil, nil, PurgeResult{}, err
		}
		if len(kvs) == 0 {
			return nil, nil, pr, nil
		}
		newPtrs, err = t.flushLeaf(kvs)
		return nil, newPtrs, pr, err
	}

	var out []node.Pointer
	var total PurgeResult
	i := 0
	for _, child := range d.ptrs {
		j := i
		for j < len(actions) && t.Desc.Compare(actions[j].Key, child.Key) <= 0 {
			j++
		}
		childActions := actions[i:j]
		i = j
		c := child
		if len(childActions) == 0 && purge == nil {
			out = append(out, c)
			continue
		}
		reusedChild, splitPtrs, pr, err := t.modifyNode(&c, childActions, purge)
		if err != nil {
			return nil, nil, PurgeResult{}, err
		}
		total.add(pr)
		if reusedChild != nil {
			out = append(out, *reusedChild)
		} else {
			out = append(out, splitPtrs...)
		}
	}
	if i < len(actions) && len(out) > 0 {
		last := out[len(out)-1]
		out = out[:len(out)-1]
		reusedChild, splitPtrs, pr, err := t.modifyNode(&last, actions[i:], purge)
		if err != nil {
			return nil, nil, PurgeResult{}, err
		}
		total.add(pr)
		if reusedChild != nil {
			out = append(out, *reusedChild)
		} else {
			out = append(out, splitPtrs...)
		}
	}

	if len(out) == 0 {
		return nil, nil, total, nil
	}
	newPtrs, err = t.flushInterior(out)
	return nil, newPtrs, total, err
}

// accountSubtreeDrop produces a PurgeResult for a whole subtree
// dropped by PurgeDrop without ever being decoded. It relies on the
// by-id and by-seq reduce layouts both starting with a count-shaped
// field; local-doc trees carry no reduce and are never purge-dropped
// wholesale by callers, so this is only exercised by the by-id/by-seq
// compaction path.
func (t *Tree) accountSubtreeDrop(p node.Pointer) PurgeResult {
	if t.Desc.ReduceCount == nil {
		return PurgeResult{}
	}
	n := t.Desc.ReduceCount(p.Reduce)
	return PurgeResult{KVCount: n, DocsCount: n}
}

// applyLeaf merges a leaf's existing entries with a sorted action
// batch and an optional KV-level purge filter, in one left-to-right
// pass (§4.5 steps 1-3).
func (t *Tree) applyLeaf(entries [][2][]byte, actions []Action, purge *PurgeFilter) ([][2][]byte, PurgeResult, error) {
	var out [][2][]byte
	var pr PurgeResult
	ei, ai := 0, 0

	emitFiltered := func(key, val []byte) {
		keep := true
		if purge != nil && purge.KV != nil {
			switch purge.KV(key, val) {
			case PurgeDrop:
				keep = false
				pr.KVCount++
				pr.DocsCount++
			case PurgeStop:
				purge = nil
			}
		}
		if keep {
			out = append(out, [2][]byte{key, val})
		}
	}

	applyStandalone := func(a Action) {
		switch a.Type {
		case ActionInsert:
			out = append(out, [2][]byte{a.Key, a.Value})
		case ActionFetch:
			if a.Fetch != nil {
				a.Fetch(nil, false)
			}
		case ActionRemove:
			// nothing to remove
		}
	}

	for ei < len(entries) || ai < len(actions) {
		switch {
		case ai >= len(actions):
			emitFiltered(entries[ei][0], entries[ei][1])
			ei++
		case ei >= len(entries):
			applyStandalone(actions[ai])
			ai++
		default:
			cmp := t.Desc.Compare(actions[ai].Key, entries[ei][0])
			switch {
			case cmp < 0:
				applyStandalone(actions[ai])
				ai++
			case cmp > 0:
				emitFiltered(entries[ei][0], entries[ei][1])
				ei++
			default:
				origKey, finalVal := entries[ei][0], entries[ei][1]
				present := true
				for ai < len(actions) && t.Desc.Compare(actions[ai].Key, origKey) == 0 {
					a := actions[ai]
					switch a.Type {
					case ActionFetch:
						if a.Fetch != nil {
							if present {
								a.Fetch(finalVal, true)
							} else {
								a.Fetch(nil, false)
							}
						}
					case ActionInsert:
						finalVal = a.Value
						present = true
					case ActionRemove:
						present = false
					}
					ai++
				}
				if present {
					emitFiltered(origKey, finalVal)
				}
				ei++
			}
		}
	}
	return out, pr, nil
}
