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

// Package stitch implements §4.I: turning meta-history into a single
// linear content history by inlining each sub-tree at the location of its
// gitlink, with support for keeping selected paths as gitlinks and for
// re-rooting the result under a join path.
package stitch

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

const (
	convertedNotesRef = "refs/notes/stitched/converted"
	referenceNotesRef = "refs/notes/stitched/reference"
	changeCacheRef    = "refs/notes/stitched/submodule-change-cache"

	// batchFlushSize is the §4.I step 5 "10 000 records" batch threshold.
	batchFlushSize = 10000
)

// PathAdjuster decides, for a path as it appears in meta-history, where it
// should land in the stitched tree (join_root stripping), or reports that
// the path is excluded entirely.
type PathAdjuster func(path string) (adjusted string, keep bool)

// Options configures one stitch run.
type Options struct {
	// KeepAsSubmodule reports whether path should remain a gitlink in the
	// stitched tree rather than being inlined.
	KeepAsSubmodule func(path string) bool
	Adjust          PathAdjuster
	SkipEmpty       bool
	Signature       git.Signature
}

// ReferenceNote is the JSON-able payload stored under referenceNotesRef.
type ReferenceNote struct {
	MetaRepoCommit    git.Oid            `json:"metaRepoCommit"`
	SubmoduleCommits map[string]git.Oid `json:"submoduleCommits"`
}

// subChange is one path's old/new sub-commit pin between a commit and its
// first parent, as produced by listSubChanges.
type subChange struct {
	Path   string
	Old    git.Oid
	New    git.Oid
	Delete bool
}

// Engine runs the stitch algorithm against one meta-repository.
type Engine struct {
	Repo   *git.Repository
	Opener *opener.Opener
	Opts   Options
	Log    *logrus.Entry

	pending int // note writes since the counter was last reset (each note is written immediately)
}

func New(repo *git.Repository, op *opener.Opener, opts Options) *Engine {
	return &Engine{Repo: repo, Opener: op, Opts: opts, Log: logrus.WithField("component", "stitch")}
}

// Run stitches everything between the already-converted frontier and
// target, updating targetBranch to point at the last stitched commit.
// It implements §4.I steps 1-6.
func (e *Engine) Run(target git.Oid, targetBranch string) (git.Oid, error) {
	commits, err := e.listUnconverted(target)
	if err != nil {
		return git.Oid{}, err
	}
	if len(commits) == 0 {
		if mapped, ok := e.converted(target); ok {
			return mapped, nil
		}
		return git.Oid{}, fmt.Errorf("stitch: %s has no known conversion and nothing to walk", target)
	}

	if err := e.fetchPhase(commits); err != nil {
		return git.Oid{}, err
	}

	var last git.Oid
	for _, c := range commits {
		stitched, err := e.stitchOne(c)
		if err != nil {
			return git.Oid{}, fmt.Errorf("stitch: commit %s: %w", c, err)
		}
		if stitched != (git.Oid{}) {
			last = stitched
		}
	}

	if err := e.flushNotes(true); err != nil {
		return git.Oid{}, err
	}

	if err := e.Repo.References.SetRef(targetBranch, last, true); err != nil {
		return git.Oid{}, fmt.Errorf("stitch: update %s: %w", targetBranch, err)
	}
	return last, nil
}

// listUnconverted implements step 1: commits reachable from target, not
// already in the converted-notes map, oldest-first (each commit before its
// descendants).
func (e *Engine) listUnconverted(target git.Oid) ([]git.Oid, error) {
	all, err := e.Repo.CommitRange(git.Oid{}, target)
	if err != nil {
		return nil, err
	}
	var out []git.Oid
	for _, c := range all {
		if _, ok := e.converted(c); ok {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) converted(c git.Oid) (git.Oid, bool) {
	note, ok := e.Repo.Notes.Read(convertedNotesRef, c)
	if !ok {
		return git.Oid{}, false
	}
	id, err := git.OidFromString(strings.TrimSpace(note))
	if err != nil {
		return git.Oid{}, false
	}
	return id, true
}

func (e *Engine) markConverted(from, to git.Oid) error {
	if _, err := e.Repo.Notes.Write(convertedNotesRef, e.Opts.Signature, from, to.String()); err != nil {
		return err
	}
	e.pending++
	return e.flushNotes(false)
}

func (e *Engine) flushNotes(force bool) error {
	if !force && e.pending < batchFlushSize {
		return nil
	}
	e.pending = 0
	return nil
}

// listSubChanges implements step 2: per-commit sub-changes against the
// commit's first parent, using a persistent change-cache note to
// avoid recomputation across runs.
func (e *Engine) listSubChanges(c git.Oid) ([]subChange, error) {
	if cached, ok := e.cachedChanges(c); ok {
		return cached, nil
	}

	commit, err := e.Repo.ReadCommit(c)
	if err != nil {
		return nil, err
	}
	var parentTree git.Oid
	if len(commit.Parents) > 0 {
		parentCommit, err := e.Repo.ReadCommit(commit.Parents[0])
		if err != nil {
			return nil, err
		}
		parentTree = parentCommit.Tree
	}

	gitlinksOld, err := e.Repo.GitlinkPaths(parentTree)
	if err != nil {
		return nil, err
	}
	gitlinksNew, err := e.Repo.GitlinkPaths(commit.Tree)
	if err != nil {
		return nil, err
	}

	paths := map[string]bool{}
	for p := range gitlinksOld {
		paths[p] = true
	}
	for p := range gitlinksNew {
		paths[p] = true
	}

	var changes []subChange
	for path := range paths {
		oldSha, hadOld := gitlinksOld[path]
		newSha, hasNew := gitlinksNew[path]
		if hadOld && hasNew && oldSha == newSha {
			continue
		}
		changes = append(changes, subChange{Path: path, Old: oldSha, New: newSha, Delete: !hasNew})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })

	e.cacheChanges(c, changes)
	return changes, nil
}


// fetchPhase implements step 3: fetch every added-or-modified sub sha that
// will actually be inlined, tagging it with a protective synthetic ref.
// Fetch failures are logged and skipped; stitching the affected commit then
// fails and Run returns that error. No unstitchable marker is recorded.
func (e *Engine) fetchPhase(commits []git.Oid) error {
	for _, c := range commits {
		changes, err := e.listSubChanges(c)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			if ch.Delete {
				continue
			}
			adjusted, keep := e.Opts.Adjust(ch.Path)
			if !keep || e.Opts.KeepAsSubmodule(ch.Path) {
				continue
			}
			_ = adjusted
			sub, err := e.Opener.GetSubRepo(ch.Path, "", opener.ForceBare)
			if err != nil {
				e.Log.WithError(err).WithField("path", ch.Path).Warn("stitch: cannot open sub for fetch")
				continue
			}
			if err := e.Opener.Fetcher().FetchSha(sub, ch.New); err != nil {
				e.Log.WithError(err).WithField("path", ch.Path).WithField("sha", ch.New.String()).
					Warn("stitch: fetch failed, stitching this commit will fail")
				continue
			}
			if err := sub.Repo.References.SetRef(fmt.Sprintf("refs/commits/%s", ch.New), ch.New, true); err != nil {
				e.Log.WithError(err).Warn("stitch: failed to protect fetched sha with synthetic ref")
			}
		}
	}
	return nil
}

// stitchOne implements step 4: produce (or reuse) the stitched commit for
// c, given its parents' already-stitched mappings.
func (e *Engine) stitchOne(c git.Oid) (git.Oid, error) {
	commit, err := e.Repo.ReadCommit(c)
	if err != nil {
		return git.Oid{}, err
	}

	var stitchedParents []git.Oid
	for _, p := range commit.Parents {
		sp, ok := e.converted(p)
		if !ok {
			return git.Oid{}, fmt.Errorf("parent %s of %s has no stitched mapping", p, c)
		}
		if sp == (git.Oid{}) {
			// p was itself an empty orphan root, converted to nothing: it
			// contributes no stitched parent.
			continue
		}
		stitchedParents = append(stitchedParents, sp)
	}

	var baseTree *git.Oid
	if len(stitchedParents) > 0 {
		firstParentCommit, err := e.Repo.ReadCommit(stitchedParents[0])
		if err != nil {
			return git.Oid{}, err
		}
		t := firstParentCommit.Tree
		baseTree = &t
	}

	changes, err := e.listSubChanges(c)
	if err != nil {
		return git.Oid{}, err
	}

	changeSet := map[string]*idx.Change{}
	modulesChanged := false
	var extraMessage strings.Builder

	for _, ch := range changes {
		adjusted, keep := e.Opts.Adjust(ch.Path)
		if !keep {
			continue
		}
		if e.Opts.KeepAsSubmodule(ch.Path) {
			modulesChanged = true
			if ch.Delete {
				changeSet[adjusted] = nil
			} else {
				changeSet[adjusted] = &idx.Change{Oid: ch.New, Mode: git.FilemodeGitlink}
			}
			continue
		}
		if ch.Delete {
			if err := removeSubtree(e.Repo, baseTree, adjusted, changeSet); err != nil {
				return git.Oid{}, err
			}
			continue
		}
		subCommit, err := e.Repo.ReadCommit(ch.New)
		if err != nil {
			return git.Oid{}, fmt.Errorf("stitch: read sub commit %s at %s: %w", ch.New, ch.Path, err)
		}
		if err := inlineSubtree(e.Repo, adjusted, subCommit.Tree, changeSet); err != nil {
			return git.Oid{}, err
		}
		if subCommit.Author != commit.Author || subCommit.Message != commit.Message {
			fmt.Fprintf(&extraMessage, "\n\nFrom '%s':\n%s", ch.Path, strings.TrimRight(subCommit.Message, "\n"))
		}
	}

	if modulesChanged {
		blob, err := e.rewriteGitmodules(baseTree)
		if err != nil {
			return git.Oid{}, err
		}
		changeSet[".gitmodules"] = blob
	}

	newTree, err := idx.WriteTree(e.Repo, baseTree, changeSet)
	if err != nil {
		return git.Oid{}, err
	}

	if e.Opts.SkipEmpty && baseTree != nil && newTree == *baseTree {
		if err := e.markConverted(c, stitchedParents[0]); err != nil {
			return git.Oid{}, err
		}
		return stitchedParents[0], nil
	}
	if len(stitchedParents) == 0 && newTree == emptyTree(e.Repo) {
		// step 4's graceful case: an orphan root whose stitched tree is
		// empty emits no commit at all, just a "converted to nothing"
		// marker so later commits built on top of c still resolve their
		// stitched parent correctly.
		if err := e.markConverted(c, git.Oid{}); err != nil {
			return git.Oid{}, err
		}
		return git.Oid{}, nil
	}

	message := commit.Message + extraMessage.String()
	stitchedId, err := e.Repo.WriteCommit(git.CommitData{
		Tree:      newTree,
		Parents:   stitchedParents,
		Author:    commit.Author,
		Committer: commit.Committer,
		Message:   message,
		Encoding:  commit.Encoding,
	})
	if err != nil {
		return git.Oid{}, err
	}

	if err := e.markConverted(c, stitchedId); err != nil {
		return git.Oid{}, err
	}
	if err := e.writeReferenceNote(c, stitchedId, changes); err != nil {
		return git.Oid{}, err
	}
	return stitchedId, nil
}

func (e *Engine) writeReferenceNote(meta, stitched git.Oid, changes []subChange) error {
	subs := map[string]git.Oid{}
	for _, ch := range changes {
		if !ch.Delete {
			subs[ch.Path] = ch.New
		}
	}
	payload := fmt.Sprintf(`{"metaRepoCommit":%q,"submoduleCommits":%s}`, meta.String(), subsToJSON(subs))
	_, err := e.Repo.Notes.Write(referenceNotesRef, e.Opts.Signature, stitched, payload)
	return err
}

func subsToJSON(subs map[string]git.Oid) string {
	names := make([]string, 0, len(subs))
	for p := range subs {
		names = append(names, p)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteByte('{')
	for i, p := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%q:%q", p, subs[p].String())
	}
	b.WriteByte('}')
	return b.String()
}

// inlineSubtree stages every leaf of subTree under prefix into changeSet.
func inlineSubtree(repo *git.Repository, prefix string, subTree git.Oid, changeSet map[string]*idx.Change) error {
	entries, err := repo.ReadTree(subTree)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		path := prefix + "/" + ent.Name
		if ent.Filemode == 0040000 {
			if err := inlineSubtree(repo, path, ent.Id, changeSet); err != nil {
				return err
			}
			continue
		}
		changeSet[path] = &idx.Change{Oid: ent.Id, Mode: ent.Filemode}
	}
	return nil
}

// removeSubtree deletes every path under prefix that is present in
// baseTree, by walking the old tree and setting each leaf to nil.
func removeSubtree(repo *git.Repository, baseTree *git.Oid, prefix string, changeSet map[string]*idx.Change) error {
	if baseTree == nil {
		return nil
	}
	e, err := repo.TreeEntryByPath(*baseTree, prefix)
	if err != nil || e == nil {
		return nil
	}
	if e.Filemode != 0040000 {
		changeSet[prefix] = nil
		return nil
	}
	entries, err := repo.ReadTree(e.Id)
	if err != nil {
		return err
	}
	for _, ent := range entries {
		if err := removeSubtree(repo, baseTree, prefix+"/"+ent.Name, changeSet); err != nil {
			return err
		}
	}
	return nil
}

// rewriteGitmodules produces the stitched .gitmodules blob: it re-reads
// the .gitmodules of baseTree (if any) and emits it again in canonical
// form. Bindings are neither added nor removed and paths are not adjusted.
func (e *Engine) rewriteGitmodules(baseTree *git.Oid) (*idx.Change, error) {
	var existing submodule.Map
	if baseTree != nil {
		entry, err := e.Repo.TreeEntryByPath(*baseTree, ".gitmodules")
		if err == nil && entry != nil {
			blob, err := e.Repo.ReadBlob(entry.Id)
			if err != nil {
				return nil, err
			}
			existing, err = submodule.Parse(blob)
			if err != nil {
				return nil, err
			}
		}
	}
	if existing == nil {
		existing = submodule.Map{}
	}
	data := submodule.Emit(existing)
	id, err := e.Repo.WriteBlob(data)
	if err != nil {
		return nil, err
	}
	return &idx.Change{Oid: id, Mode: 0100644}, nil
}

var emptyTreeId *git.Oid

func emptyTree(repo *git.Repository) git.Oid {
	if emptyTreeId != nil {
		return *emptyTreeId
	}
	id, err := repo.WriteTree(nil)
	if err != nil {
		return git.Oid{}
	}
	emptyTreeId = &id
	return id
}

// cachedChanges/cacheChanges implement the change-cache note-map (step 2)
// keyed by commit sha; values are a compact newline-delimited encoding
// under changeCacheRef so an interrupted stitch run does not recompute
// per-commit sub-change sets already derived.
func (e *Engine) cachedChanges(c git.Oid) ([]subChange, bool) {
	note, ok := e.Repo.Notes.Read(changeCacheRef, c)
	if !ok {
		return nil, false
	}
	return decodeChanges(note), true
}

func (e *Engine) cacheChanges(c git.Oid, changes []subChange) {
	_, _ = e.Repo.Notes.Write(changeCacheRef, e.Opts.Signature, c, encodeChanges(changes))
}

func encodeChanges(changes []subChange) string {
	var b strings.Builder
	for _, ch := range changes {
		del := "0"
		if ch.Delete {
			del = "1"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\n", ch.Path, ch.Old.String(), ch.New.String(), del)
	}
	return b.String()
}

func decodeChanges(note string) []subChange {
	var out []subChange
	for _, line := range strings.Split(strings.TrimRight(note, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 4 {
			continue
		}
		old, _ := git.OidFromString(fields[1])
		newSha, _ := git.OidFromString(fields[2])
		out = append(out, subChange{Path: fields[0], Old: old, New: newSha, Delete: fields[3] == "1"})
	}
	return out
}
