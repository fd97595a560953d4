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

import (
	"errors"

	"couchstore.dev/internal/node"
)

// VisitFunc receives one query result: found is false when key had no
// entry (point lookups only; Fold never calls back with found=false).
type VisitFunc func(key, value []byte, found bool) error

// NodeEnterFunc and NodeExitFunc let a caller observe node-level
// descent independent of the leaf entries visited — DBInfo-style
// callers use this to read a subtree's reduce value without visiting
// every leaf beneath it (§4.4 "node-visit callback").
type NodeEnterFunc func(p node.Pointer)
type NodeExitFunc func()

var errStopFold = errors.New("btree: fold range satisfied")

// Lookup resolves a batch of keys against the tree (§4.4 "point
// lookup"). keys must be sorted ascending per Desc.Compare; duplicates
// are permitted and each key is resolved independently. visit is
// called once per key, in order, with found=false for keys absent
// from the tree. If tolerate is true, a corrupt or unreadable node is
// treated as "nothing found under here" instead of aborting the whole
// lookup (§7 RECOVERY_MODE propagation).
func (t *Tree) Lookup(keys [][]byte, tolerate bool, visit VisitFunc) error {
	return t.lookupNode(t.Root, keys, tolerate, visit, nil, nil)
}

func (t *Tree) lookupNode(ptr *node.Pointer, keys [][]byte, tolerate bool, visit VisitFunc, onEnter NodeEnterFunc, onExit NodeExitFunc) error {
	if len(keys) == 0 {
		return nil
	}
	if ptr == nil {
		for _, k := range keys {
			if err := visit(k, nil, false); err != nil {
				return err
			}
		}
		return nil
	}
	d, err := t.readNode(ptr)
	if err != nil {
		if tolerate {
			if t.OnCorrupt != nil {
				t.OnCorrupt(err)
			}
			for _, k := range keys {
				if err := visit(k, nil, false); err != nil {
					return err
				}
			}
			return nil
		}
		return err
	}
	if d.isLeaf {
		ki := 0
		for _, kv := range d.kvs {
			for ki < len(keys) && t.Desc.Compare(keys[ki], kv[0]) < 0 {
				if err := visit(keys[ki], nil, false); err != nil {
					return err
				}
				ki++
			}
			for ki < len(keys) && t.Desc.Compare(keys[ki], kv[0]) == 0 {
				if err := visit(keys[ki], kv[1], true); err != nil {
					return err
				}
				ki++
			}
		}
		for ; ki < len(keys); ki++ {
			if err := visit(keys[ki], nil, false); err != nil {
				return err
			}
		}
		return nil
	}

	i := 0
	for _, child := range d.ptrs {
		if i >= len(keys) {
			break
		}
		j := i
		for j < len(keys) && t.Desc.Compare(keys[j], child.Key) <= 0 {
			j++
		}
		if j > i {
			c := child
			if onEnter != nil {
				onEnter(c)
			}
			err := t.lookupNode(&c, keys[i:j], tolerate, visit, onEnter, onExit)
			if onExit != nil {
				onExit()
			}
			if err != nil {
				return err
			}
			i = j
		}
	}
	for ; i < len(keys); i++ {
		if err := visit(keys[i], nil, false); err != nil {
			return err
		}
	}
	return nil
}

// Fold walks the tree in key order over [lower, upper] (upper == nil
// means unbounded above), calling visit for every entry in range
// (§4.4 "fold"). Returning an error from visit stops the fold early
// and that error is returned from Fold. If tolerate is true, a
// corrupt subtree is skipped rather than aborting the fold.
func (t *Tree) Fold(lower, upper []byte, tolerate bool, visit VisitFunc, onEnter NodeEnterFunc, onExit NodeExitFunc) error {
	started := false
	err := t.foldNode(t.Root, lower, upper, tolerate, &started, visit, onEnter, onExit)
	if err == errStopFold {
		return nil
	}
	return err
}

func (t *Tree) foldNode(ptr *node.Pointer, lower, upper []byte, tolerate bool, started *bool, visit VisitFunc, onEnter NodeEnterFunc, onExit NodeExitFunc) error {
	if ptr == nil {
		return nil
	}
	d, err := t.readNode(ptr)
	if err != nil {
		if tolerate {
			if t.OnCorrupt != nil {
				t.OnCorrupt(err)
			}
			return nil
		}
		return err
	}
	if d.isLeaf {
		for _, kv := range d.kvs {
			if !*started {
				if lower != nil && t.Desc.Compare(kv[0], lower) < 0 {
					continue
				}
				*started = true
			}
			if upper != nil && t.Desc.Compare(kv[0], upper) > 0 {
				return errStopFold
			}
			if err := visit(kv[0], kv[1], true); err != nil {
				return err
			}
		}
		return nil
	}
	for _, child := range d.ptrs {
		if !*started && lower != nil && t.Desc.Compare(child.Key, lower) < 0 {
			continue
		}
		if onEnter != nil {
			onEnter(child)
		}
		err := t.foldNode(&child, lower, upper, tolerate, started, visit, onEnter, onExit)
		if onExit != nil {
			onExit()
		}
		if err == errStopFold {
			return errStopFold
		}
		if err != nil {
			return err
		}
	}
	return nil
}
