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

// Package index implements §4.C: the index & tree builder. WriteTree
// applies a flat path -> Change map on top of an (optional) base tree,
// building new subtrees bottom-up and pruning any directory that becomes
// empty, deterministically (children always written sorted by name).
//
// Staging onto the live on-disk index (stage/unstage/write, conflict_add/
// conflict_cleanup) is a thin pass-through to internal/git's Index type;
// it is kept here so callers have one package for "everything index-shaped"
// as §4.C describes it.
package index

import (
	"fmt"
	"sort"
	"strings"

	"github.com/git-meta/git-meta/internal/git"
)

// Change is a (oid, mode) pair to place at a path; a nil *Change deletes
// that path.
type Change struct {
	Oid  git.Oid
	Mode git.Filemode
}

// node is one level of the in-memory tree being rebuilt.
type node struct {
	// entry is set for a node without children: a leaf (blob/gitlink), or a
	// base-tree directory that has not been hydrated. Hydrating replaces the
	// node with one that has children.
	entry    *git.TreeEntry
	children map[string]*node
	// fromChange marks a leaf placed by the change-set being applied.
	fromChange bool
}

func (n *node) isDir() bool { return n.children != nil }

// WriteTree implements §4.C's write_tree(base_tree?, changes) -> tree_id.
//
//   - changes maps a full slash-separated path to either a Change (add or
//     replace) or nil (delete).
//   - Nested paths are grouped into subtrees automatically.
//   - A path present as both a leaf and, via another path, a directory
//     prefix (e.g. "a" and "a/b" both changed) is a programmer error.
//   - An empty resulting subtree is removed from its parent (never written
//     as an empty tree object, and never appears in the result at all).
//   - The build is deterministic: at every level, children are written
//     sorted by name before the parent tree object is created.
func WriteTree(repo *git.Repository, base *git.Oid, changes map[string]*Change) (git.Oid, error) {
	root := &node{children: map[string]*node{}}

	if base != nil {
		entries, err := repo.ReadTree(*base)
		if err != nil {
			return git.Oid{}, fmt.Errorf("index: read base tree: %w", err)
		}
		for _, e := range entries {
			e := e
			root.children[e.Name] = &node{entry: &e}
		}
	}

	// apply changes in a stable order so a bad input (same path given
	// twice with conflicting directory/file roles) fails deterministically
	paths := make([]string, 0, len(changes))
	for p := range changes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if path == "" {
			return git.Oid{}, fmt.Errorf("index: empty path in change-set")
		}
		if err := apply(repo, root, strings.Split(path, "/"), changes[path]); err != nil {
			return git.Oid{}, fmt.Errorf("index: %s: %w", path, err)
		}
	}

	id, empty, err := build(repo, root)
	if err != nil {
		return git.Oid{}, err
	}
	if empty {
		return repo.WriteTree(nil)
	}
	return id, nil
}

// apply walks/creates the node chain for segs and sets or clears the leaf.
func apply(repo *git.Repository, n *node, segs []string, ch *Change) error {
	name := segs[0]
	if len(segs) == 1 {
		if ch == nil {
			delete(n.children, name)
			return nil
		}
		n.children[name] = &node{entry: &git.TreeEntry{Name: name, Id: ch.Oid, Filemode: ch.Mode}, fromChange: true}
		return nil
	}

	child, ok := n.children[name]
	if !ok {
		child = &node{children: map[string]*node{}}
		n.children[name] = child
	} else if !child.isDir() {
		if child.entry.Filemode == git.FilemodeGitlink {
			return fmt.Errorf("%s: is a gitlink, cannot descend into it as a directory", name)
		}
		if child.fromChange {
			return fmt.Errorf("%s: used both as a file and as a directory", name)
		}
		if child.entry.Filemode == dirMode() {
			// an as-yet-unexpanded entry carried over from the base tree:
			// hydrate its existing children before descending further, so
			// siblings not named in this change-set survive.
			hydrated, err := hydrate(repo, child.entry.Id)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			child = &node{children: hydrated}
			n.children[name] = child
		} else {
			// a base-tree file becoming a directory (a file replaced by a
			// directory); start it fresh as an empty dir.
			child = &node{children: map[string]*node{}}
			n.children[name] = child
		}
	} else if child.entry != nil {
		return fmt.Errorf("%s: used both as a file and as a directory", name)
	}

	return apply(repo, child, segs[1:], ch)
}

// hydrate reads an existing tree object's entries into leaf nodes, used to
// expand a base-tree subtree the first time a change descends into it.
func hydrate(repo *git.Repository, id git.Oid) (map[string]*node, error) {
	entries, err := repo.ReadTree(id)
	if err != nil {
		return nil, fmt.Errorf("read existing subtree: %w", err)
	}
	children := make(map[string]*node, len(entries))
	for _, e := range entries {
		e := e
		children[e.Name] = &node{entry: &e}
	}
	return children, nil
}

// build recursively writes tree objects bottom-up, sorted by name, and
// reports whether the resulting (sub)tree is empty.
func build(repo *git.Repository, n *node) (git.Oid, bool, error) {
	if !n.isDir() {
		return n.entry.Id, false, nil
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]git.TreeEntry, 0, len(names))
	for _, name := range names {
		child := n.children[name]
		if child.isDir() {
			id, empty, err := build(repo, child)
			if err != nil {
				return git.Oid{}, false, err
			}
			if empty {
				continue
			}
			entries = append(entries, git.TreeEntry{Name: name, Id: id, Filemode: dirMode()})
			continue
		}
		entries = append(entries, *child.entry)
	}

	if len(entries) == 0 {
		return git.Oid{}, true, nil
	}

	id, err := repo.WriteTree(entries)
	if err != nil {
		return git.Oid{}, false, err
	}
	return id, false, nil
}

// dirMode returns the tree-entry mode for a subdirectory (040000), spelled
// out as a function so the one non-constant-propagated Filemode value in
// this file has a name instead of a magic number at the call site.
func dirMode() git.Filemode {
	return 0040000
}
