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

// Package opener implements §4.D: lazy materialization of sub-repositories
// and on-demand fetch of a sub-repository commit by sha.
//
// The Opener keeps path-keyed handles to sub-repositories it has opened for
// the duration of one operation (the §9 "weak references... dropped when
// the op ends" note); callers are expected to construct a fresh Opener per
// top-level command invocation.
package opener

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/git"
	"github.com/git-meta/git-meta/internal/submodule"
)

// Policy selects how GetSubRepo should materialize a sub-repository.
type Policy int

const (
	LazyOpen Policy = iota // open a workdir only if one is already there
	ForceOpen                // open (materialize) a workdir if not already open
	ForceBare                // return a handle backed only by the object database
)

// SubRepo is an independent content-addressed store bound to a path in the
// meta-repository, open (workdir materialized) or closed.
type SubRepo struct {
	Path    string
	URL     string
	Repo    *git.Repository
	IsOpen  bool
	OpenedByUs bool // this Opener materialized the workdir; it may close it again
}

// Opener lazily materializes sub-repositories named by the meta-repo's
// .gitmodules, resolving their URLs against the meta-repo's own origin.
type Opener struct {
	metaRepo    *git.Repository
	metaGitDir  string
	metaWorkdir string
	originURL   string
	templateDir string

	mu     sync.Mutex
	opened map[string]*SubRepo
}

// New constructs an Opener. originURL is normally the meta-repo's own
// "origin" remote URL, used as the base for resolving relative submodule
// URLs (§4.B). templateDir, if non-empty, is meta.submoduleTemplatePath:
// its content is copied into a sub-repository's workdir the first time it
// is opened.
func New(metaRepo *git.Repository, originURL, templateDir string) *Opener {
	return &Opener{
		metaRepo:    metaRepo,
		metaGitDir:  metaRepo.Path(),
		metaWorkdir: metaRepo.Workdir(),
		originURL:   originURL,
		templateDir: templateDir,
		opened:      map[string]*SubRepo{},
	}
}

func (o *Opener) modulePath(path string) string {
	return filepath.Join(o.metaGitDir, "modules", path)
}

func (o *Opener) workdirPath(path string) string {
	return filepath.Join(o.metaWorkdir, path)
}

// IsOpen reports whether path's workdir is materialized, without opening
// anything.
func (o *Opener) IsOpen(path string) bool {
	_, err := os.Stat(filepath.Join(o.workdirPath(path), ".git"))
	return err == nil
}

// GetSubRepo returns a handle for the sub-repository at path, bound to
// url, materializing it as policy requires. Opening is idempotent: calling
// it twice for the same path returns the same cached *SubRepo.
func (o *Opener) GetSubRepo(path, url string, policy Policy) (*SubRepo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if sr, ok := o.opened[path]; ok {
		if policy == ForceOpen && !sr.IsOpen {
			if err := o.materializeWorkdir(sr); err != nil {
				return nil, err
			}
		}
		return sr, nil
	}

	resolvedURL, ok := submodule.ResolveURL(url, o.originURL)
	if !ok {
		return nil, errs.NewUserError("submodule %s: relative url %q with no base url", path, url)
	}

	modPath := o.modulePath(path)
	var repo *git.Repository
	var err error

	if _, statErr := os.Stat(modPath); statErr == nil {
		repo, err = git.OpenRepository(modPath)
	} else {
		if err := os.MkdirAll(modPath, 0777); err != nil {
			return nil, fmt.Errorf("opener: mkdir %s: %w", modPath, err)
		}
		repo, err = git.InitRepository(modPath, true)
	}
	if err != nil {
		return nil, fmt.Errorf("opener: open/init %s: %w", modPath, err)
	}

	sr := &SubRepo{Path: path, URL: resolvedURL, Repo: repo}
	o.opened[path] = sr

	switch policy {
	case ForceOpen:
		if err := o.materializeWorkdir(sr); err != nil {
			return nil, err
		}
	case LazyOpen:
		if o.IsOpen(path) {
			sr.IsOpen = true
		}
	case ForceBare:
		// nothing to materialize
	}

	return sr, nil
}

// materializeWorkdir writes the gitlink-style pointer file at
// <meta-workdir>/<path>/.git, copies the template directory's content in
// (if configured), and marks sr open. It is a no-op if already open.
func (o *Opener) materializeWorkdir(sr *SubRepo) error {
	if sr.IsOpen {
		return nil
	}
	wd := o.workdirPath(sr.Path)
	if err := os.MkdirAll(wd, 0777); err != nil {
		return fmt.Errorf("opener: mkdir %s: %w", wd, err)
	}

	rel, err := filepath.Rel(wd, o.modulePath(sr.Path))
	if err != nil {
		return fmt.Errorf("opener: relativize module path: %w", err)
	}
	pointer := fmt.Sprintf("gitdir: %s\n", rel)
	if err := os.WriteFile(filepath.Join(wd, ".git"), []byte(pointer), 0666); err != nil {
		return fmt.Errorf("opener: write gitlink pointer: %w", err)
	}

	if o.templateDir != "" {
		if err := copyTemplate(o.templateDir, wd); err != nil {
			return fmt.Errorf("opener: copy template: %w", err)
		}
	}

	sr.IsOpen = true
	sr.OpenedByUs = true
	return nil
}

// Opened returns a snapshot of every sub-repository this Opener has handed
// out a handle for so far during the current operation, keyed by path. Used
// by abort (§4.G) to walk every sub touched by the op without needing its
// own separate bookkeeping.
func (o *Opener) Opened() map[string]*SubRepo {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]*SubRepo, len(o.opened))
	for p, sr := range o.opened {
		out[p] = sr
	}
	return out
}

// Close reverts a sub-repository this Opener materialized back to closed,
// if it produced no commits and no conflicts (driver.go's responsibility
// to check before calling this).
func (o *Opener) Close(path string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	sr, ok := o.opened[path]
	if !ok || !sr.OpenedByUs || !sr.IsOpen {
		return nil
	}
	if err := os.RemoveAll(o.workdirPath(path)); err != nil {
		return fmt.Errorf("opener: close %s: %w", path, err)
	}
	sr.IsOpen = false
	sr.OpenedByUs = false
	return nil
}

func copyTemplate(src, dst string) error {
	return filepath.Walk(src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode())
	})
}
