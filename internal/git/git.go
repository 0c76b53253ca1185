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

// Package git wraps package git2go, providing unconditional safety and
// exposing exactly the object-store capability surface that the core
// (submodule index, classifier, driver, sequencer, stitch/destitch) needs,
// as spelled out in §6 of the design.
//
// git2go.Object.Data() and friends return []byte/string that alias memory
// owned by the underlying C handle: the slice is only valid as long as the
// handle is alive, and can be invalidated (or the process crashed) the
// moment the handle is garbage collected. The following is therefore *not*
// correct:
//
//	obj, _ := odb.Read(oid)
//	data := obj.Data()
//	... use data ...
//
// because obj can be collected right after `data = obj.Data()`, before
// `use data` runs. A runtime.KeepAlive(obj) has to be added after the last
// use of data to make the snippet correct.
//
// Because this is easy to get wrong and hard to spot in review, all
// git2go-touching code is kept in this one package, which copies data out
// of C-owned memory before returning it, trading a small copy cost for
// unconditional safety at every call site outside this package.
package git

import (
	"fmt"
	"runtime"
	"sort"

	git2go "github.com/libgit2/git2go/v31"
)

// constants safe to propagate as-is.
const (
	ObjectAny     = git2go.ObjectAny
	ObjectInvalid = git2go.ObjectInvalid
	ObjectCommit  = git2go.ObjectCommit
	ObjectTree    = git2go.ObjectTree
	ObjectBlob    = git2go.ObjectBlob
	ObjectTag     = git2go.ObjectTag
)

// FilemodeGitlink is the tree-entry mode for a sub-repository reference
// ("gitlink" in the GLOSSARY): mode 0o160000.
const FilemodeGitlink = git2go.FilemodeCommit

// types safe to propagate as-is.
type (
	ObjectType = git2go.ObjectType
	Filemode   = git2go.Filemode
	Signature  = git2go.Signature
)

// Oid is a content-addressed object id. It is always a value copy, never an
// alias into git2go-owned memory.
type Oid = git2go.Oid

func OidFromString(s string) (Oid, error) {
	oid, err := git2go.NewOid(s)
	if err != nil {
		return Oid{}, fmt.Errorf("git: invalid oid %q: %w", s, err)
	}
	return *oid, nil
}

func oidClone(oid *Oid) *Oid {
	if oid == nil {
		return nil
	}
	var o2 Oid
	copy(o2[:], oid[:])
	return &o2
}

func sigClone(s *git2go.Signature) *Signature {
	if s == nil {
		return nil
	}
	return &Signature{
		Name:  stringsClone(s.Name),
		Email: stringsClone(s.Email),
		When:  s.When,
	}
}

func stringsClone(s string) string {
	b := make([]byte, len(s))
	copy(b, s)
	return string(b)
}

func bytesClone(b []byte) []byte {
	b2 := make([]byte, len(b))
	copy(b2, b)
	return b2
}

// TreeEntry is a safe, fully-copied tree entry.
type TreeEntry struct {
	Name     string
	Id       Oid
	Type     ObjectType
	Filemode Filemode
}

// CommitData is the fully-materialized (copied) content of a commit,
// matching §6's read_commit/write_commit contract.
type CommitData struct {
	Tree      Oid
	Parents   []Oid
	Author    Signature
	Committer Signature
	Message   string
	Encoding  string
}

// Repository provides a safe wrapper over git2go.Repository, and is the
// concrete implementation of the §6 object-store adapter.
type Repository struct {
	repo       *git2go.Repository
	References *ReferenceCollection
	Remotes    *RemoteCollection
	Notes      *NoteCollection
}

func OpenRepository(path string) (*Repository, error) {
	repo, err := git2go.OpenRepository(path)
	if err != nil {
		return nil, err
	}
	return wrap(repo), nil
}

func InitRepository(path string, bare bool) (*Repository, error) {
	repo, err := git2go.InitRepository(path, bare)
	if err != nil {
		return nil, err
	}
	return wrap(repo), nil
}

func wrap(repo *git2go.Repository) *Repository {
	r := &Repository{repo: repo}
	r.References = &ReferenceCollection{r}
	r.Remotes = &RemoteCollection{r}
	r.Notes = &NoteCollection{r}
	return r
}

func (r *Repository) Path() string {
	p := stringsClone(r.repo.Path())
	runtime.KeepAlive(r)
	return p
}

func (r *Repository) Workdir() string {
	p := stringsClone(r.repo.Workdir())
	runtime.KeepAlive(r)
	return p
}

func (r *Repository) IsBare() bool {
	b := r.repo.IsBare()
	runtime.KeepAlive(r)
	return b
}

func (r *Repository) DefaultSignature() (*Signature, error) {
	s, err := r.repo.DefaultSignature()
	s2 := sigClone(s)
	runtime.KeepAlive(r)
	return s2, err
}

func (r *Repository) ConfigString(key string) (string, bool) {
	cfg, err := r.repo.Config()
	if err != nil {
		return "", false
	}
	defer cfg.Free()
	v, err := cfg.LookupString(key)
	if err != nil {
		return "", false
	}
	return stringsClone(v), true
}

// ---- read_blob / read_tree / read_commit ----

func (r *Repository) ReadBlob(id Oid) ([]byte, error) {
	blob, err := r.repo.LookupBlob(&id)
	if err != nil {
		return nil, err
	}
	data := bytesClone(blob.Contents())
	runtime.KeepAlive(blob)
	return data, nil
}

func (r *Repository) ReadTree(id Oid) ([]TreeEntry, error) {
	tree, err := r.repo.LookupTree(&id)
	if err != nil {
		return nil, err
	}
	n := tree.EntryCount()
	entries := make([]TreeEntry, 0, n)
	for i := uint64(0); i < n; i++ {
		e := tree.EntryByIndex(i)
		entries = append(entries, TreeEntry{
			Name:     stringsClone(e.Name),
			Id:       *oidClone(e.Id),
			Type:     e.Type,
			Filemode: e.Filemode,
		})
	}
	runtime.KeepAlive(tree)
	// libgit2 already returns entries sorted by name; re-assert it so
	// callers can rely on the §4.C determinism guarantee regardless.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// TreeEntryByPath looks up a single path (which may cross directories)
// inside a tree without materializing the whole tree. Returns nil, nil if
// the path does not exist.
func (r *Repository) TreeEntryByPath(id Oid, path string) (*TreeEntry, error) {
	tree, err := r.repo.LookupTree(&id)
	if err != nil {
		return nil, err
	}
	e, err := tree.EntryByPath(path)
	runtime.KeepAlive(tree)
	if err != nil {
		return nil, nil
	}
	return &TreeEntry{
		Name:     stringsClone(e.Name),
		Id:       *oidClone(e.Id),
		Type:     e.Type,
		Filemode: e.Filemode,
	}, nil
}

func (r *Repository) ReadCommit(id Oid) (*CommitData, error) {
	commit, err := r.repo.LookupCommit(&id)
	if err != nil {
		return nil, err
	}
	n := commit.ParentCount()
	parents := make([]Oid, 0, n)
	for i := uint(0); i < n; i++ {
		parents = append(parents, *oidClone(commit.ParentId(i)))
	}
	cd := &CommitData{
		Tree:      *oidClone(commit.TreeId()),
		Parents:   parents,
		Author:    *sigClone(commit.Author()),
		Committer: *sigClone(commit.Committer()),
		Message:   stringsClone(commit.Message()),
	}
	runtime.KeepAlive(commit)
	return cd, nil
}

// ---- write_blob / write_tree / write_commit ----

func (r *Repository) WriteBlob(data []byte) (Oid, error) {
	id, err := r.repo.CreateBlobFromBuffer(data)
	if err != nil {
		return Oid{}, err
	}
	return *oidClone(id), nil
}

// WriteTree builds one tree object from a flat list of entries; callers at
// the index/tree-builder layer (internal/index) are responsible for
// grouping nested paths into per-directory entry lists before calling this.
func (r *Repository) WriteTree(entries []TreeEntry) (Oid, error) {
	tb, err := r.repo.TreeBuilder()
	if err != nil {
		return Oid{}, err
	}
	defer tb.Free()
	for _, e := range entries {
		id := e.Id
		if err := tb.Insert(e.Name, &id, e.Filemode); err != nil {
			return Oid{}, err
		}
	}
	id, err := tb.Write()
	if err != nil {
		return Oid{}, err
	}
	return *oidClone(id), nil
}

func (r *Repository) WriteCommit(cd CommitData) (Oid, error) {
	tree, err := r.repo.LookupTree(&cd.Tree)
	if err != nil {
		return Oid{}, err
	}
	parents := make([]*git2go.Commit, 0, len(cd.Parents))
	for _, p := range cd.Parents {
		pid := p
		pc, err := r.repo.LookupCommit(&pid)
		if err != nil {
			return Oid{}, err
		}
		parents = append(parents, pc)
	}
	author := cd.Author
	committer := cd.Committer
	id, err := r.repo.CreateCommit("", &author, &committer, cd.Message, tree, parents...)
	if err != nil {
		return Oid{}, err
	}
	return *oidClone(id), nil
}

// ---- resolve / merge-base / descendant_of ----

// Resolve turns a ref name or revision shorthand ("HEAD", "refs/heads/main",
// a branch name, an abbreviated sha) into an Oid, or returns ok=false if it
// does not resolve. Not finding a name is not an error condition by itself
// (probing whether a branch exists is a normal operation).
func (r *Repository) Resolve(refOrShorthand string) (Oid, bool) {
	obj, err := r.repo.RevparseSingle(refOrShorthand)
	if err != nil {
		return Oid{}, false
	}
	id := *oidClone(obj.Id())
	obj.Free()
	return id, true
}

func (r *Repository) MergeBase(a, b Oid) (Oid, bool) {
	id, err := r.repo.MergeBase(&a, &b)
	if err != nil {
		return Oid{}, false
	}
	return *oidClone(id), true
}

func (r *Repository) MergeBases(a, b Oid) []Oid {
	ids, err := r.repo.MergeBases(&a, &b)
	if err != nil {
		return nil
	}
	out := make([]Oid, len(ids))
	copy(out, ids)
	return out
}

func (r *Repository) DescendantOf(commit, ancestor Oid) bool {
	ok, err := r.repo.DescendantOf(&commit, &ancestor)
	return err == nil && ok
}

// GitlinkPaths walks tree recursively and returns every gitlink entry found,
// keyed by full path, mapping to the sub-repository commit it pins.
func (r *Repository) GitlinkPaths(tree Oid) (map[string]Oid, error) {
	out := map[string]Oid{}
	if tree == (Oid{}) {
		return out, nil
	}
	var walk func(prefix string, id Oid) error
	walk = func(prefix string, id Oid) error {
		entries, err := r.ReadTree(id)
		if err != nil {
			return err
		}
		for _, ent := range entries {
			path := ent.Name
			if prefix != "" {
				path = prefix + "/" + ent.Name
			}
			switch ent.Filemode {
			case FilemodeGitlink:
				out[path] = ent.Id
			case 0040000:
				if err := walk(path, ent.Id); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk("", tree); err != nil {
		return nil, err
	}
	return out, nil
}

// Free releases the underlying libgit2 handle.
func (r *Repository) Free() {
	r.repo.Free()
}
