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

import "couchstore.dev/internal/btree"

// LocalDoc is an entry in the local/auxiliary document tree: a
// caller-private key/value pair that never gets a sequence number and
// never appears in ChangesSince (§3 "local-doc tree").
type LocalDoc struct {
	ID   string
	Body []byte
}

// OpenLocalDocument looks up a local document by id.
func (s *Store) OpenLocalDocument(id string) (*LocalDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out *LocalDoc
	err := s.local.Lookup([][]byte{[]byte(id)}, s.tolerate(), func(key, value []byte, found bool) error {
		if found {
			out = &LocalDoc{ID: id, Body: append([]byte(nil), value...)}
		}
		return nil
	})
	if err != nil {
		return nil, wrapErr("openlocaldocument", s.path, err)
	}
	if out == nil {
		return nil, ErrDocNotFound
	}
	return out, nil
}

// SaveLocalDocument writes or overwrites a local document. A nil Body
// deletes it.
func (s *Store) SaveLocalDocument(doc LocalDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if doc.ID == "" {
		return ErrInvalidArguments
	}
	key := []byte(doc.ID)
	action := btree.Action{Type: btree.ActionInsert, Key: key, Value: doc.Body}
	if doc.Body == nil {
		action = btree.Action{Type: btree.ActionRemove, Key: key}
	}
	newRoot, _, err := s.local.Modify([]btree.Action{action}, nil)
	if err != nil {
		return wrapErr("savelocaldocument", s.path, err)
	}
	s.local.Root = newRoot
	return nil
}
