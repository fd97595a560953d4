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

// Iterator is a pull-style cursor over a tree walk, for callers that
// want a Next/DocInfo/Close loop instead of a callback (the shape of
// sorted.Iterator in the wider ecosystem this package's idiom comes
// from). It wraps WalkIDTree/WalkSeqTree, running the walk on a
// background goroutine and handing entries across a channel.
type Iterator struct {
	diCh   chan *DocInfo
	errCh  chan error
	stopCh chan struct{}
	cur    *DocInfo
	err    error
	closed bool
}

func newIterator(run func(send func(*DocInfo) bool) error) *Iterator {
	it := &Iterator{
		diCh:   make(chan *DocInfo),
		errCh:  make(chan error, 1),
		stopCh: make(chan struct{}),
	}
	go func() {
		err := run(func(di *DocInfo) bool {
			select {
			case it.diCh <- di:
				return true
			case <-it.stopCh:
				return false
			}
		})
		close(it.diCh)
		it.errCh <- err
	}()
	return it
}

// IterateIDs returns an Iterator over [startID, endID] in the by-id
// tree (both bounds inclusive; either bound empty means unbounded).
func (s *Store) IterateIDs(startID, endID string) *Iterator {
	return newIterator(func(send func(*DocInfo) bool) error {
		return s.WalkIDTree(startID, endID, func(di *DocInfo) (bool, error) {
			return !send(di), nil
		})
	})
}

// IterateSeqs returns an Iterator over the by-seq tree starting just
// after sinceSeq.
func (s *Store) IterateSeqs(sinceSeq uint64) *Iterator {
	return newIterator(func(send func(*DocInfo) bool) error {
		return s.WalkSeqTree(sinceSeq, func(di *DocInfo) (bool, error) {
			return !send(di), nil
		})
	})
}

// Next advances the iterator, returning false once exhausted or after
// an error (check Close for the error in that case).
func (it *Iterator) Next() bool {
	if it.closed {
		return false
	}
	di, ok := <-it.diCh
	if !ok {
		it.err = <-it.errCh
		it.closed = true
		return false
	}
	it.cur = di
	return true
}

// DocInfo returns the entry Next just advanced to.
func (it *Iterator) DocInfo() *DocInfo { return it.cur }

// Close stops the walk early if it hasn't finished, and returns
// whatever error the walk ended with. It is valid to call Close more
// than once.
func (it *Iterator) Close() error {
	if it.closed {
		return it.err
	}
	close(it.stopCh)
	for range it.diCh {
	}
	it.err = <-it.errCh
	it.closed = true
	return it.err
}
