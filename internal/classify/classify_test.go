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

package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/git-meta/git-meta/internal/git"
	"github.com/git-meta/git-meta/internal/index"
)

func openTestRepo(t *testing.T) *git.Repository {
	t.Helper()
	repo, err := git.InitRepository(t.TempDir(), true)
	require.NoError(t, err)
	return repo
}

var testSig = git.Signature{Name: "tester", Email: "tester@example.com", When: time.Unix(1700000000, 0)}

func writeCommit(t *testing.T, repo *git.Repository, tree git.Oid, parents []git.Oid, msg string) git.Oid {
	t.Helper()
	id, err := repo.WriteCommit(git.CommitData{
		Tree:      tree,
		Parents:   parents,
		Author:    testSig,
		Committer: testSig,
		Message:   msg,
	})
	require.NoError(t, err)
	return id
}

func fakeOid(t *testing.T, hex string) git.Oid {
	t.Helper()
	id, err := git.OidFromString(hex)
	require.NoError(t, err)
	return id
}

// TestClassifyProducesSubmoduleChangeOnDivergentPins exercises the
// conflict-detection path that a plain on-disk index can never surface:
// a real three-way merge (via MergeCommits) where both sides moved the
// same gitlink to different, divergent commits, wrapped via index.Wrap
// and fed into Classify. This must surface a SubmoduleChange, not a
// silently-overwritten fast-forward add.
func TestClassifyProducesSubmoduleChangeOnDivergentPins(t *testing.T) {
	repo := openTestRepo(t)

	file, err := repo.WriteBlob([]byte("content"))
	require.NoError(t, err)

	subBase := fakeOid(t, "1111111111111111111111111111111111111111")
	subOurs := fakeOid(t, "2222222222222222222222222222222222222222")
	subTheirs := fakeOid(t, "3333333333333333333333333333333333333333")

	baseTree, err := repo.WriteTree([]git.TreeEntry{
		{Name: "a.txt", Id: file, Filemode: 0100644},
		{Name: "sub", Id: subBase, Filemode: git.FilemodeGitlink},
	})
	require.NoError(t, err)
	baseCommit := writeCommit(t, repo, baseTree, nil, "base")

	oursTree, err := repo.WriteTree([]git.TreeEntry{
		{Name: "a.txt", Id: file, Filemode: 0100644},
		{Name: "sub", Id: subOurs, Filemode: git.FilemodeGitlink},
	})
	require.NoError(t, err)
	oursCommit := writeCommit(t, repo, oursTree, []git.Oid{baseCommit}, "ours moves sub")

	theirsTree, err := repo.WriteTree([]git.TreeEntry{
		{Name: "a.txt", Id: file, Filemode: 0100644},
		{Name: "sub", Id: subTheirs, Filemode: git.FilemodeGitlink},
	})
	require.NoError(t, err)
	theirsCommit := writeCommit(t, repo, theirsTree, []git.Oid{baseCommit}, "theirs moves sub")

	mergeIdx, err := repo.MergeCommits(oursCommit, theirsCommit)
	require.NoError(t, err)
	require.True(t, mergeIdx.HasConflicts(), "diverging gitlink pins on both sides must conflict at the index level")

	res, err := Classify(repo, index.Wrap(mergeIdx), oursCommit, theirsCommit)
	require.NoError(t, err)

	require.Empty(t, res.Conflicts)
	require.Len(t, res.Sub, 1)
	require.Equal(t, "sub", res.Sub[0].Path)
	require.Equal(t, subBase, res.Sub[0].Old)
	require.Equal(t, subTheirs, res.Sub[0].New)
	require.Equal(t, subOurs, res.Sub[0].Ours)
	require.Empty(t, res.Simple, "the unrelated a.txt entry must not show up as a change")
}

// TestClassifyPlainAddIsSimple covers the non-conflicting path: a clean
// merge (no index conflicts at all) where theirs simply adds a new file.
func TestClassifyPlainAddIsSimple(t *testing.T) {
	repo := openTestRepo(t)

	fileA, err := repo.WriteBlob([]byte("a"))
	require.NoError(t, err)
	fileB, err := repo.WriteBlob([]byte("b"))
	require.NoError(t, err)

	baseTree, err := repo.WriteTree([]git.TreeEntry{
		{Name: "a.txt", Id: fileA, Filemode: 0100644},
	})
	require.NoError(t, err)
	baseCommit := writeCommit(t, repo, baseTree, nil, "base")

	oursCommit := writeCommit(t, repo, baseTree, []git.Oid{baseCommit}, "ours: no-op")

	theirsTree, err := repo.WriteTree([]git.TreeEntry{
		{Name: "a.txt", Id: fileA, Filemode: 0100644},
		{Name: "b.txt", Id: fileB, Filemode: 0100644},
	})
	require.NoError(t, err)
	theirsCommit := writeCommit(t, repo, theirsTree, []git.Oid{baseCommit}, "theirs: add b.txt")

	mergeIdx, err := repo.MergeCommits(oursCommit, theirsCommit)
	require.NoError(t, err)
	require.False(t, mergeIdx.HasConflicts())

	res, err := Classify(repo, index.Wrap(mergeIdx), oursCommit, theirsCommit)
	require.NoError(t, err)

	require.Empty(t, res.Conflicts)
	require.Empty(t, res.Sub)
	require.Len(t, res.Simple, 1)
	require.Equal(t, "b.txt", res.Simple[0].Path)
	require.False(t, res.Simple[0].Delete)
	require.Equal(t, fileB, res.Simple[0].Sha)
}
