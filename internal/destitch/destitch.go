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

// Package destitch implements §4.J, the inverse of the stitch engine
// (internal/stitch): given a stitched (linear, inlined) commit and an
// origin base URL, it produces a meta-commit plus one new sub-commit per
// changed sub path.
package destitch

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/git-meta/git-meta/internal/git"
	idx "github.com/git-meta/git-meta/internal/index"
	"github.com/git-meta/git-meta/internal/opener"
	"github.com/git-meta/git-meta/internal/submodule"
)

const destitchedNotesRef = "refs/notes/git-meta/destitched"

// SubConfig names the current set of sub-repository paths and their
// remote URLs, re-loaded at HEAD before each run (step 2's "re-loading
// the sub-config-at-HEAD set").
type SubConfig = submodule.Map

// Mapping is the {metaRepoCommit, submoduleCommits} payload recorded under
// destitchedNotesRef for every new stitched->destitched conversion.
type Mapping struct {
	MetaRepoCommit   git.Oid
	SubmoduleCommits map[string]git.Oid
}

// Engine runs the destitch algorithm.
type Engine struct {
	Repo      *git.Repository
	Opener    *opener.Opener
	OriginURL string
	Signature git.Signature
	Log       *logrus.Entry
}

func New(repo *git.Repository, op *opener.Opener, originURL string, sig git.Signature) *Engine {
	return &Engine{Repo: repo, Opener: op, OriginURL: originURL, Signature: sig, Log: logrus.WithField("component", "destitch")}
}

// Run destitches every commit between the known frontier and c (step 1),
// returning the final meta-commit id.
func (e *Engine) Run(c git.Oid, subConfig SubConfig) (git.Oid, error) {
	commits, err := e.listUnmapped(c)
	if err != nil {
		return git.Oid{}, err
	}
	if len(commits) == 0 {
		if mapped, ok := e.mapped(c); ok {
			return mapped, nil
		}
		return git.Oid{}, fmt.Errorf("destitch: %s has no known mapping and nothing to walk", c)
	}

	var last git.Oid
	for _, stitched := range commits {
		meta, err := e.destitchOne(stitched, subConfig)
		if err != nil {
			return git.Oid{}, fmt.Errorf("destitch: commit %s: %w", stitched, err)
		}
		last = meta
	}
	return last, nil
}

func (e *Engine) listUnmapped(c git.Oid) ([]git.Oid, error) {
	all, err := e.Repo.CommitRange(git.Oid{}, c)
	if err != nil {
		return nil, err
	}
	var out []git.Oid
	for _, commit := range all {
		if _, ok := e.mapped(commit); ok {
			continue
		}
		out = append(out, commit)
	}
	return out, nil
}

func (e *Engine) mapped(stitched git.Oid) (git.Oid, bool) {
	note, ok := e.Repo.Notes.Read(destitchedNotesRef, stitched)
	if !ok {
		return git.Oid{}, false
	}
	// the note payload's first line is "meta=<sha>"; subsequent lines map
	// sub paths, mirroring the encoding written by recordMapping.
	first, _, _ := strings.Cut(note, "\n")
	hex := strings.TrimPrefix(first, "meta=")
	id, err := git.OidFromString(hex)
	if err != nil {
		return git.Oid{}, false
	}
	return id, true
}

// destitchOne implements steps 2-4 for one stitched commit.
func (e *Engine) destitchOne(stitched git.Oid, subConfig SubConfig) (git.Oid, error) {
	commit, err := e.Repo.ReadCommit(stitched)
	if err != nil {
		return git.Oid{}, err
	}

	var parentTree git.Oid
	var metaParent git.Oid
	haveParent := false
	if len(commit.Parents) > 0 {
		parentCommit, err := e.Repo.ReadCommit(commit.Parents[0])
		if err != nil {
			return git.Oid{}, err
		}
		parentTree = parentCommit.Tree
		if mp, ok := e.mapped(commit.Parents[0]); ok {
			metaParent = mp
			haveParent = true
		}
	}

	changed, err := changedPathsUnderConfig(e.Repo, parentTree, commit.Tree, subConfig)
	if err != nil {
		return git.Oid{}, err
	}

	subCommits := map[string]git.Oid{}
	gitlinkChanges := map[string]*idx.Change{}

	for _, path := range changed {
		binding, ok := subConfig[path]
		if !ok {
			continue
		}
		newSha, err := e.createSubCommit(path, binding, parentTree, commit)
		if err != nil {
			return git.Oid{}, err
		}
		subCommits[path] = newSha
		gitlinkChanges[path] = &idx.Change{Oid: newSha, Mode: git.FilemodeGitlink}
	}

	var baseTree *git.Oid
	if haveParent {
		metaParentCommit, err := e.Repo.ReadCommit(metaParent)
		if err != nil {
			return git.Oid{}, err
		}
		baseTree = &metaParentCommit.Tree
	}

	newTree, err := idx.WriteTree(e.Repo, baseTree, gitlinkChanges)
	if err != nil {
		return git.Oid{}, err
	}

	var parents []git.Oid
	if haveParent {
		parents = []git.Oid{metaParent}
	}

	metaId, err := e.Repo.WriteCommit(git.CommitData{
		Tree:      newTree,
		Parents:   parents,
		Author:    commit.Author,
		Committer: commit.Committer,
		Message:   commit.Message,
		Encoding:  commit.Encoding,
	})
	if err != nil {
		return git.Oid{}, err
	}

	if err := e.recordMapping(stitched, metaId, subCommits); err != nil {
		return git.Oid{}, err
	}
	if err := e.pushSyntheticRefs(subConfig, subCommits); err != nil {
		return git.Oid{}, err
	}
	return metaId, nil
}

// createSubCommit implements step 3: a new sub-commit on top of the sub's
// previous destitched value (tracked by the sub's refs/git-meta/destitch-head
// ref), or on top of the sub's local refs/heads/master for the first
// occurrence, carrying the changed subtree at path.
func (e *Engine) createSubCommit(path string, binding submodule.Binding, parentTree git.Oid, stitchedCommit *git.CommitData) (git.Oid, error) {
	sub, err := e.Opener.GetSubRepo(path, binding.URL, opener.ForceBare)
	if err != nil {
		return git.Oid{}, err
	}

	entry, err := e.Repo.TreeEntryByPath(stitchedCommit.Tree, path)
	if err != nil {
		return git.Oid{}, fmt.Errorf("destitch: %s missing from stitched tree: %w", path, err)
	}

	var parents []git.Oid
	if prevSha, ok := sub.Repo.Resolve("refs/git-meta/destitch-head"); ok {
		parents = []git.Oid{prevSha}
	} else if remoteSha, ok := sub.Repo.Resolve("refs/heads/master"); ok {
		parents = []git.Oid{remoteSha}
	}

	newId, err := sub.Repo.WriteCommit(git.CommitData{
		Tree:      entry.Id,
		Parents:   parents,
		Author:    stitchedCommit.Author,
		Committer: stitchedCommit.Committer,
		Message:   stitchedCommit.Message,
		Encoding:  stitchedCommit.Encoding,
	})
	if err != nil {
		return git.Oid{}, err
	}
	if err := sub.Repo.References.SetRef("refs/git-meta/destitch-head", newId, true); err != nil {
		return git.Oid{}, err
	}
	return newId, nil
}

func (e *Engine) recordMapping(stitched, meta git.Oid, subCommits map[string]git.Oid) error {
	var b strings.Builder
	fmt.Fprintf(&b, "meta=%s\n", meta.String())
	paths := make([]string, 0, len(subCommits))
	for p := range subCommits {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		fmt.Fprintf(&b, "%s=%s\n", p, subCommits[p].String())
	}
	_, err := e.Repo.Notes.Write(destitchedNotesRef, e.Signature, stitched, b.String())
	return err
}

func (e *Engine) pushSyntheticRefs(subConfig SubConfig, subCommits map[string]git.Oid) error {
	for path, sha := range subCommits {
		binding, ok := subConfig[path]
		if !ok {
			continue
		}
		resolved, ok := submodule.ResolveURL(binding.URL, e.OriginURL)
		if !ok {
			continue
		}
		sub, err := e.Opener.GetSubRepo(path, binding.URL, opener.ForceBare)
		if err != nil {
			return err
		}
		result := sub.Repo.Remotes.Push(resolved, sha.String(), "refs/commits/"+sha.String(), true)
		if result.Err != nil {
			e.Log.WithError(result.Err).WithField("path", path).Warn("destitch: failed to push synthetic ref")
		}
	}
	return nil
}

// changedPathsUnderConfig returns the sub paths (from subConfig) whose
// content differs between oldTree and newTree, implementing step 2's
// "matching against file path prefixes in the stitched commit's diff".
func changedPathsUnderConfig(repo *git.Repository, oldTree, newTree git.Oid, subConfig SubConfig) ([]string, error) {
	var changed []string
	for path := range subConfig {
		oldEntry, errOld := repo.TreeEntryByPath(oldTree, path)
		newEntry, errNew := repo.TreeEntryByPath(newTree, path)
		if errOld != nil {
			oldEntry = nil
		}
		if errNew != nil {
			newEntry = nil
		}
		if newEntry == nil {
			continue
		}
		if oldEntry == nil || oldEntry.Id != newEntry.Id {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed, nil
}
