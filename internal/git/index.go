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

package git

import (
	git2go "github.com/libgit2/git2go/v31"
)

// Stage is one of the four values an index entry may carry, per the
// SystemModel's Index invariant in §3.
type Stage int

const (
	StageNormal Stage = iota
	StageAncestor
	StageOurs
	StageTheirs
)

// IndexEntry is a safe, fully-copied index entry.
type IndexEntry struct {
	Path  string
	Id    Oid
	Mode  Filemode
	Stage Stage
}

// Index is a safe wrapper over git2go.Index, the transactional index §6
// assumes as an external capability.
type Index struct {
	idx *git2go.Index
	r   *Repository
}

// ReadIndex is the §6 read_index() operation.
func (r *Repository) ReadIndex() (*Index, error) {
	idx, err := r.repo.Index()
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, r: r}, nil
}

// Write is the §6 write_index() operation: persists the in-memory index to
// the on-disk index file.
func (ix *Index) Write() error {
	return ix.idx.Write()
}

// Stage adds/overwrites a normal-stage entry at path.
func (ix *Index) Stage(path string, id Oid, mode Filemode) error {
	return ix.idx.Add(&git2go.IndexEntry{
		Path: path,
		Id:   &id,
		Mode: mode,
	})
}

// Unstage removes any entry (at any stage) for path.
func (ix *Index) Unstage(path string) error {
	if err := ix.idx.RemoveByPath(path); err != nil && !git2go.IsErrorCode(err, git2go.ErrorCodeNotFound) {
		return err
	}
	return nil
}

// ConflictAdd records a 3-way conflict at path. A nil entry pointer means
// that side is absent (e.g. add/add has no ancestor).
func (ix *Index) ConflictAdd(path string, ancestor, ours, theirs *IndexEntry) error {
	toGit2go := func(e *IndexEntry) *git2go.IndexEntry {
		if e == nil {
			return nil
		}
		id := e.Id
		return &git2go.IndexEntry{Path: path, Id: &id, Mode: e.Mode}
	}
	return ix.idx.AddConflict(toGit2go(ancestor), toGit2go(ours), toGit2go(theirs))
}

// Conflicts returns all paths currently carrying non-normal stages, mapped
// to their {ancestor?, ours?, theirs?} entries, matching the index
// invariant in §3 (within one path: either one normal entry, or one each
// of {ancestor, ours, theirs} -- never mixed).
type Conflict struct {
	Ancestor *IndexEntry
	Ours     *IndexEntry
	Theirs   *IndexEntry
}

func (ix *Index) Conflicts() (map[string]*Conflict, error) {
	iter, err := ix.idx.ConflictIterator()
	if err != nil {
		return nil, err
	}
	defer iter.Free()

	out := map[string]*Conflict{}
	for {
		anc, our, their, err := iter.Next()
		if err != nil {
			break // exhausted
		}
		path := ""
		c := &Conflict{}
		if anc != nil {
			path = anc.Path
			c.Ancestor = &IndexEntry{Path: anc.Path, Id: *oidClone(&anc.Id), Mode: anc.Mode, Stage: StageAncestor}
		}
		if our != nil {
			path = our.Path
			c.Ours = &IndexEntry{Path: our.Path, Id: *oidClone(&our.Id), Mode: our.Mode, Stage: StageOurs}
		}
		if their != nil {
			path = their.Path
			c.Theirs = &IndexEntry{Path: their.Path, Id: *oidClone(&their.Id), Mode: their.Mode, Stage: StageTheirs}
		}
		if path != "" {
			out[path] = c
		}
	}
	return out, nil
}

// ConflictCleanup converts every conflicted path back to a single normal
// entry using the "ours" side (dropping ancestor/theirs), per §4.C.
// Paths whose conflict has no "ours" side are removed entirely (an
// add/add where our side deleted the path, or a delete/modify we favor
// the deletion for).
func (ix *Index) ConflictCleanup() error {
	conflicts, err := ix.Conflicts()
	if err != nil {
		return err
	}
	ix.idx.CleanupConflicts()
	for path, c := range conflicts {
		if c.Ours == nil {
			continue
		}
		if err := ix.Stage(path, c.Ours.Id, c.Ours.Mode); err != nil {
			return err
		}
	}
	return nil
}

// HasConflicts reports whether any path is currently at a non-normal
// stage.
func (ix *Index) HasConflicts() bool {
	return ix.idx.HasConflicts()
}

// Entries returns every normal-stage entry currently in the index.
func (ix *Index) Entries() ([]IndexEntry, error) {
	n := ix.idx.EntryCount()
	out := make([]IndexEntry, 0, n)
	for i := uint(0); i < n; i++ {
		e, err := ix.idx.EntryByIndex(i)
		if err != nil {
			return nil, err
		}
		out = append(out, IndexEntry{
			Path: stringsClone(e.Path),
			Id:   *oidClone(&e.Id),
			Mode: e.Mode,
		})
	}
	return out, nil
}

// WriteTree writes the index's current content as a tree object and
// returns its id -- the terminal step of §4.C's write_tree when building
// directly off a live index rather than a {base tree, change-set} pair.
func (ix *Index) WriteTree() (Oid, error) {
	id, err := ix.idx.WriteTreeTo(ix.r.repo)
	if err != nil {
		return Oid{}, err
	}
	return *oidClone(id), nil
}

// ReadTree replaces the index content with the given tree (used to seed a
// fresh index before staging a change-set, or to reset after an abort).
func (ix *Index) ReadTree(id Oid) error {
	tree, err := ix.r.repo.LookupTree(&id)
	if err != nil {
		return err
	}
	return ix.idx.ReadTree(tree)
}
