// Copyright (C) 2015-2026  Nexedi SA and Contributors.
//                          Kirill Smelkov <kirr@nexedi.com>
//
// This program is free software: you can Use, Study, Modify and Redistribute
// it under the terms of the GNU General Public License version 3, or (at your
// option) any later version, as published by the Free Software Foundation.
//
// This program is distributed WITHOUT ANY WARRANTY; without even the implied
// warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
//
// See COPYING file for full licensing terms.

package index

import "github.com/git-meta/git-meta/internal/git"

// Live wraps the on-disk, transactional index (git.Index) with the
// stage/unstage/write/conflict_add/conflict_cleanup vocabulary §4.C uses.
// It exists separately from WriteTree because the two operate at different
// layers: WriteTree is a pure function over a change-set, Live mutates
// actual repository state.
type Live struct {
	idx *git.Index
}

func Open(repo *git.Repository) (*Live, error) {
	idx, err := repo.ReadIndex()
	if err != nil {
		return nil, err
	}
	return &Live{idx: idx}, nil
}

// Wrap adapts an already-constructed git.Index (e.g. the merge index
// returned by Repository.MergeCommits) to the Live vocabulary, so a
// three-way merge attempt can be fed straight into classify.Classify
// without a redundant on-disk round-trip.
func Wrap(idx *git.Index) *Live {
	return &Live{idx: idx}
}

func (l *Live) Stage(path string, id git.Oid, mode git.Filemode) error {
	return l.idx.Stage(path, id, mode)
}

func (l *Live) Unstage(path string) error {
	return l.idx.Unstage(path)
}

func (l *Live) Write() error {
	return l.idx.Write()
}

func (l *Live) ConflictAdd(path string, ancestor, ours, theirs *git.IndexEntry) error {
	return l.idx.ConflictAdd(path, ancestor, ours, theirs)
}

func (l *Live) ConflictCleanup() error {
	return l.idx.ConflictCleanup()
}

func (l *Live) HasConflicts() bool {
	return l.idx.HasConflicts()
}

func (l *Live) Conflicts() (map[string]*git.Conflict, error) {
	return l.idx.Conflicts()
}

func (l *Live) Entries() ([]git.IndexEntry, error) {
	return l.idx.Entries()
}

func (l *Live) WriteTree() (git.Oid, error) {
	return l.idx.WriteTree()
}

func (l *Live) ReadTree(id git.Oid) error {
	return l.idx.ReadTree(id)
}

// Raw exposes the underlying git.Index for callers that need lower-level
// access not worth duplicating here.
func (l *Live) Raw() *git.Index {
	return l.idx
}
