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

// MergeCommits is the §6 merge_commits(ours, theirs) -> tree_index_with_stages
// operation: an in-memory three-way merge (ancestor computed as the merge
// base) that never touches the working tree, returning an Index that may
// carry conflict stages for the classifier (4.E) to inspect.
func (r *Repository) MergeCommits(ours, theirs Oid) (*Index, error) {
	oursCommit, err := r.repo.LookupCommit(&ours)
	if err != nil {
		return nil, err
	}
	theirsCommit, err := r.repo.LookupCommit(&theirs)
	if err != nil {
		return nil, err
	}
	idx, err := r.repo.MergeCommits(oursCommit, theirsCommit, nil)
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, r: r}, nil
}

// CherryPickCommit applies the changes introduced by commit on top of onto,
// in-memory, returning an Index that may carry conflicts. This is the
// primitive behind the sub-operation driver's (4.F) per-commit rewrite.
func (r *Repository) CherryPickCommit(commit, onto Oid) (*Index, error) {
	commitC, err := r.repo.LookupCommit(&commit)
	if err != nil {
		return nil, err
	}
	ontoC, err := r.repo.LookupCommit(&onto)
	if err != nil {
		return nil, err
	}
	idx, err := r.repo.CherrypickCommit(commitC, ontoC, 0, git2go.MergeOptions{})
	if err != nil {
		return nil, err
	}
	return &Index{idx: idx, r: r}, nil
}
