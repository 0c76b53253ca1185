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

import git2go "github.com/libgit2/git2go/v31"

// CommitRange returns the commits in (old, new] -- reachable from new, not
// reachable from old -- ordered oldest-first (topological, then reverse),
// the order the sub-operation driver (4.F) needs to replay a rewrite.
func (r *Repository) CommitRange(old, new Oid) ([]Oid, error) {
	walk, err := r.repo.Walk()
	if err != nil {
		return nil, err
	}
	defer walk.Free()

	if err := walk.Sorting(git2go.SortTopological | git2go.SortReverse); err != nil {
		return nil, err
	}
	if err := walk.Push(&new); err != nil {
		return nil, err
	}
	if old != (Oid{}) {
		if err := walk.Hide(&old); err != nil {
			return nil, err
		}
	}

	var out []Oid
	err = walk.Iterate(func(c *git2go.Commit) bool {
		out = append(out, *oidClone(c.Id()))
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetIndex associates ix as the repository's live on-disk index, so a
// subsequent ix.Write() persists it as the actual index file (used to
// surface a cherry-pick's unresolved conflicts for the user to fix).
func (r *Repository) SetIndex(ix *Index) error {
	return r.repo.SetIndex(ix.idx)
}
