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

// Package classify implements §4.E: the change classifier. Given a
// meta-repository, an index mid three-way-merge (conflict stages may be
// present), and the target commit, it produces the {simple_changes,
// sub_changes, conflicts, urls} quadruple the sub-operation driver (4.F)
// consumes.
package classify

import (
	"sort"

	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/git"
	"github.com/git-meta/git-meta/internal/index"
	"github.com/git-meta/git-meta/internal/submodule"
)

const gitmodulesPath = ".gitmodules"

// SubmoduleChange describes a sub-repository path whose pin must be
// reconciled by rewriting internal history, rather than a plain
// add/delete/fast-forward.
//
// Field naming follows the decision recorded in DESIGN.md for the
// §9 "SubmoduleChange(ancestor.sha, theirs.sha, ours.sha)" ambiguity:
// Old is the 3-way merge-base pin (start of the range to rewrite), New is
// the target side's pin (end of the range / what the result should
// become), Ours is the side currently checked out (what the sub-repo's
// HEAD already is, before the driver touches it).
type SubmoduleChange struct {
	Path string
	Old  git.Oid
	New  git.Oid
	Ours git.Oid
}

// SimpleChange is a plain add/delete/fast-forward at path: no internal
// sub-repository history rewrite needed.
type SimpleChange struct {
	Path   string
	Delete bool
	URL    string   // empty when Delete
	Sha    git.Oid  // zero when Delete
	Mode   git.Filemode
}

// Result is the classifier's output.
type Result struct {
	Simple []SimpleChange
	Sub    []SubmoduleChange
	// Conflicts are paths the operation must surface to the user as-is
	// (not classifiable as a clean submodule change).
	Conflicts []string
	URLs      submodule.Map
}

type conflictSides struct {
	ancestor, ours, theirs *git.IndexEntry
}

// Classify runs the §4.E algorithm.
//
//   - live is the index of a three-way merge of headCommit and
//     targetCommit (conflict stages may be present); it is cleaned up in
//     place and written to a tree, but never persisted to disk.
//   - headCommit/targetCommit are used to compute merge bases for the
//     libgit2 add/add workaround. Simple changes are the differences between
//     headCommit's tree and the cleaned-up merge tree; targetCommit's tree
//     supplies the .gitmodules URLs when .gitmodules did not conflict.
func Classify(repo *git.Repository, live *index.Live, headCommit, targetCommit git.Oid) (*Result, error) {
	res := &Result{}

	conflicts, err := live.Conflicts()
	if err != nil {
		return nil, err
	}

	sides := make(map[string]*conflictSides, len(conflicts))
	for path, c := range conflicts {
		sides[path] = &conflictSides{ancestor: c.Ancestor, ours: c.Ours, theirs: c.Theirs}
	}

	// libgit2 add/add false-positive workaround (§9): a path with only
	// {ours, theirs}, both gitlinks, may really be a modify/modify whose
	// common ancestor libgit2 failed to report (merge of a renamed-away-
	// and-back submodule, or a history with multiple merge bases). Try
	// every merge base; if any of their trees mention the path with a sha
	// different from theirs, synthesize that as the ancestor.
	for path, s := range sides {
		if s.ancestor != nil || s.ours == nil || s.theirs == nil {
			continue
		}
		if s.ours.Mode != git.FilemodeGitlink || s.theirs.Mode != git.FilemodeGitlink {
			continue
		}
		for _, base := range repo.MergeBases(headCommit, targetCommit) {
			baseCommit, err := repo.ReadCommit(base)
			if err != nil {
				continue
			}
			e, err := repo.TreeEntryByPath(baseCommit.Tree, path)
			if err != nil || e == nil {
				continue
			}
			if e.Id != s.theirs.Id {
				s.ancestor = &git.IndexEntry{Path: path, Id: e.Id, Mode: e.Filemode, Stage: git.StageAncestor}
				break
			}
		}
		// if no merge-base carries the path, it is reported as a true
		// add/add conflict below -- an accepted approximation (§9).
	}

	for path, s := range sides {
		switch {
		case path == gitmodulesPath:
			merged, conflictedNames, err := resolveModuleFileConflicts(repo, s)
			if err != nil {
				return nil, err
			}
			if len(conflictedNames) > 0 {
				return nil, errs.NewUserError("URL changes are not currently supported (conflicting submodule URLs: %v)", conflictedNames)
			}
			res.URLs = merged

		case s.ancestor != nil && s.ours != nil && s.theirs != nil &&
			s.ours.Mode == git.FilemodeGitlink && s.theirs.Mode == git.FilemodeGitlink:
			res.Sub = append(res.Sub, SubmoduleChange{
				Path: path,
				Old:  s.ancestor.Id,
				New:  s.theirs.Id,
				Ours: s.ours.Id,
			})

		default:
			res.Conflicts = append(res.Conflicts, path)
		}
	}
	sort.Strings(res.Conflicts)
	sort.Slice(res.Sub, func(i, j int) bool { return res.Sub[i].Path < res.Sub[j].Path })

	if err := live.ConflictCleanup(); err != nil {
		return nil, err
	}
	clTree, err := live.WriteTree()
	if err != nil {
		return nil, err
	}

	alreadyClassified := map[string]bool{}
	for _, sc := range res.Sub {
		alreadyClassified[sc.Path] = true
	}
	for _, c := range res.Conflicts {
		alreadyClassified[c] = true
	}
	alreadyClassified[gitmodulesPath] = true

	targetCommitData, err := repo.ReadCommit(targetCommit)
	if err != nil {
		return nil, err
	}

	headCommitData, err := repo.ReadCommit(headCommit)
	if err != nil {
		return nil, err
	}

	diff, err := diffTrees(repo, headCommitData.Tree, clTree)
	if err != nil {
		return nil, err
	}

	if res.URLs == nil {
		res.URLs, err = readGitmodules(repo, targetCommitData.Tree)
		if err != nil {
			return nil, err
		}
	}

	paths := make([]string, 0, len(diff))
	for p := range diff {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if alreadyClassified[path] {
			continue
		}
		d := diff[path]
		if d.newEntry == nil {
			res.Simple = append(res.Simple, SimpleChange{Path: path, Delete: true})
			continue
		}
		url := ""
		if b, ok := res.URLs[path]; ok {
			url = b.URL
		}
		res.Simple = append(res.Simple, SimpleChange{
			Path: path,
			URL:  url,
			Sha:  d.newEntry.Id,
			Mode: d.newEntry.Filemode,
		})
	}

	return res, nil
}

// resolveModuleFileConflicts implements §4.E's resolve_module_file_conflicts:
// given the three versions of .gitmodules, it computes the union of
// submodule names and resolves each by the standard "one side changed from
// ancestor" three-way rule, refusing (returning it in conflictedNames) when
// both sides changed the URL to different values.
func resolveModuleFileConflicts(repo *git.Repository, s *conflictSides) (submodule.Map, []string, error) {
	load := func(e *git.IndexEntry) (submodule.Map, error) {
		if e == nil {
			return submodule.Map{}, nil
		}
		blob, err := repo.ReadBlob(e.Id)
		if err != nil {
			return nil, err
		}
		return submodule.Parse(blob)
	}

	ancestor, err := load(s.ancestor)
	if err != nil {
		return nil, nil, err
	}
	ours, err := load(s.ours)
	if err != nil {
		return nil, nil, err
	}
	theirs, err := load(s.theirs)
	if err != nil {
		return nil, nil, err
	}

	names := map[string]bool{}
	for p := range ancestor {
		names[p] = true
	}
	for p := range ours {
		names[p] = true
	}
	for p := range theirs {
		names[p] = true
	}

	merged := submodule.Map{}
	var conflicted []string
	for p := range names {
		a, aok := ancestor[p]
		o, ook := ours[p]
		t, took := theirs[p]

		switch {
		case ook && aok && o == a:
			if took {
				merged[p] = t
			}
		case took && aok && t == a:
			if ook {
				merged[p] = o
			}
		case ook && took && o == t:
			merged[p] = o
		case !aok && ook && !took:
			merged[p] = o
		case !aok && !ook && took:
			merged[p] = t
		default:
			conflicted = append(conflicted, p)
		}
	}
	return merged, conflicted, nil
}

type treeDiffEntry struct {
	oldEntry, newEntry *git.TreeEntry
}

// diffTrees recursively diffs two trees, returning a flat path -> {old,new}
// map of every leaf (blob or gitlink) that differs. It skips subtrees whose
// ids are identical outright.
func diffTrees(repo *git.Repository, a, b git.Oid) (map[string]treeDiffEntry, error) {
	out := map[string]treeDiffEntry{}
	if err := diffTreesInto(repo, "", a, b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func diffTreesInto(repo *git.Repository, prefix string, a, b git.Oid, out map[string]treeDiffEntry) error {
	if a == b {
		return nil
	}

	aEntries, err := safeReadTree(repo, a)
	if err != nil {
		return err
	}
	bEntries, err := safeReadTree(repo, b)
	if err != nil {
		return err
	}

	byName := map[string][2]*git.TreeEntry{}
	for i := range aEntries {
		e := aEntries[i]
		pair := byName[e.Name]
		pair[0] = &e
		byName[e.Name] = pair
	}
	for i := range bEntries {
		e := bEntries[i]
		pair := byName[e.Name]
		pair[1] = &e
		byName[e.Name] = pair
	}

	for name, pair := range byName {
		oe, ne := pair[0], pair[1]
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}

		switch {
		case oe != nil && ne != nil && oe.Id == ne.Id && oe.Filemode == ne.Filemode:
			// unchanged

		case oe != nil && ne != nil && oe.Filemode == 0040000 && ne.Filemode == 0040000:
			if err := diffTreesInto(repo, path, oe.Id, ne.Id, out); err != nil {
				return err
			}

		default:
			entry := treeDiffEntry{}
			if oe != nil && oe.Filemode != 0040000 {
				entry.oldEntry = oe
			} else if oe != nil {
				// a directory disappearing: walk it to report per-leaf
				// deletions rather than a single directory-shaped entry.
				if err := diffTreesInto(repo, path, oe.Id, emptyTreeFallback(repo), out); err != nil {
					return err
				}
			}
			if ne != nil && ne.Filemode != 0040000 {
				entry.newEntry = ne
			} else if ne != nil {
				if err := diffTreesInto(repo, path, emptyTreeFallback(repo), ne.Id, out); err != nil {
					return err
				}
			}
			if entry.oldEntry != nil || entry.newEntry != nil {
				out[path] = entry
			}
		}
	}
	return nil
}

var emptyTreeCache *git.Oid

// emptyTreeFallback returns the id of the empty tree, writing it once and
// caching it, used when recursing into one side of a directory that was
// added or removed wholesale.
func emptyTreeFallback(repo *git.Repository) git.Oid {
	if emptyTreeCache != nil {
		return *emptyTreeCache
	}
	id, err := repo.WriteTree(nil)
	if err != nil {
		return git.Oid{}
	}
	emptyTreeCache = &id
	return id
}

func safeReadTree(repo *git.Repository, id git.Oid) ([]git.TreeEntry, error) {
	if id == (git.Oid{}) {
		return nil, nil
	}
	return repo.ReadTree(id)
}

func readGitmodules(repo *git.Repository, tree git.Oid) (submodule.Map, error) {
	e, err := repo.TreeEntryByPath(tree, gitmodulesPath)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return submodule.Map{}, nil
	}
	blob, err := repo.ReadBlob(e.Id)
	if err != nil {
		return nil, err
	}
	return submodule.Parse(blob)
}

// CheckURLChanges implements the §4.E "URL-change refusal": compares the
// .gitmodules blobs of the operation's two endpoints and fatally errors if
// any URL present on both sides differs.
func CheckURLChanges(repo *git.Repository, fromTree, toTree git.Oid) error {
	from, err := readGitmodules(repo, fromTree)
	if err != nil {
		return err
	}
	to, err := readGitmodules(repo, toTree)
	if err != nil {
		return err
	}
	for path, a := range from {
		if b, ok := to[path]; ok && a.URL != b.URL {
			return errs.NewUserError("URL changes are not currently supported (submodule %s: %s -> %s)", path, a.URL, b.URL)
		}
	}
	return nil
}
