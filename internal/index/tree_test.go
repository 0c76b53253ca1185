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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/git-meta/git-meta/internal/git"
)

func openTestRepo(t *testing.T) *git.Repository {
	t.Helper()
	repo, err := git.InitRepository(t.TempDir(), true)
	require.NoError(t, err)
	return repo
}

func writeBlob(t *testing.T, repo *git.Repository, content string) git.Oid {
	t.Helper()
	id, err := repo.WriteBlob([]byte(content))
	require.NoError(t, err)
	return id
}

// TestWriteTreeDeterministic covers §4.C's determinism guarantee: building
// the same (base, changes) pair twice yields the same tree id.
func TestWriteTreeDeterministic(t *testing.T) {
	repo := openTestRepo(t)
	blob := writeBlob(t, repo, "hello")

	changes := map[string]*Change{
		"dir/a.txt": {Oid: blob, Mode: 0100644},
		"top.txt":   {Oid: blob, Mode: 0100644},
	}

	id1, err := WriteTree(repo, nil, changes)
	require.NoError(t, err)
	id2, err := WriteTree(repo, nil, changes)
	require.NoError(t, err)
	require.Equal(t, id1, id2, "WriteTree must be deterministic for identical input")
}

// TestWriteTreeFromBase applies changes on top of an existing tree and
// verifies the unaffected entry survives alongside the new one.
func TestWriteTreeFromBase(t *testing.T) {
	repo := openTestRepo(t)
	blobA := writeBlob(t, repo, "a")
	blobB := writeBlob(t, repo, "b")

	base, err := WriteTree(repo, nil, map[string]*Change{
		"dir/a.txt": {Oid: blobA, Mode: 0100644},
	})
	require.NoError(t, err)

	next, err := WriteTree(repo, &base, map[string]*Change{
		"dir/b.txt": {Oid: blobB, Mode: 0100644},
	})
	require.NoError(t, err)

	entries, err := repo.ReadTree(next)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "dir", entries[0].Name)

	sub, err := repo.ReadTree(entries[0].Id)
	require.NoError(t, err)
	require.Len(t, sub, 2)
	require.Equal(t, "a.txt", sub[0].Name)
	require.Equal(t, "b.txt", sub[1].Name)
}

// TestWriteTreeDeletionPrunesEmptyDirectory covers §4.C's "an empty
// resulting subtree is removed from its parent, never written as an empty
// tree object" rule.
func TestWriteTreeDeletionPrunesEmptyDirectory(t *testing.T) {
	repo := openTestRepo(t)
	blob := writeBlob(t, repo, "only")

	base, err := WriteTree(repo, nil, map[string]*Change{
		"dir/only.txt": {Oid: blob, Mode: 0100644},
	})
	require.NoError(t, err)

	pruned, err := WriteTree(repo, &base, map[string]*Change{
		"dir/only.txt": nil,
	})
	require.NoError(t, err)

	emptyTree, err := repo.WriteTree(nil)
	require.NoError(t, err)
	require.Equal(t, emptyTree, pruned, "deleting the last entry under dir/ must prune dir/ entirely")
}

// TestWriteTreeRejectsDescendingIntoGitlink covers the "is a gitlink,
// cannot descend into it as a directory" programmer-error case: a path
// changed to a gitlink at "a" cannot also have a change under "a/...".
func TestWriteTreeRejectsDescendingIntoGitlink(t *testing.T) {
	repo := openTestRepo(t)
	blob := writeBlob(t, repo, "x")
	subCommit, err := git.OidFromString("1111111111111111111111111111111111111111")
	require.NoError(t, err)

	_, err = WriteTree(repo, nil, map[string]*Change{
		"a":   {Oid: subCommit, Mode: git.FilemodeGitlink},
		"a/b": {Oid: blob, Mode: 0100644},
	})
	require.Error(t, err)
}
