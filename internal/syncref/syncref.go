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

// Package syncref implements §4.H: the synthetic-ref push/pre-receive
// protocol that guarantees every sub-repository commit referenced by a
// pushed meta-commit is reachable from a well-known ref,
// refs/commits/<sub_sha>, on the sub's hosting remote.
package syncref

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/git"
	"github.com/git-meta/git-meta/internal/submodule"
)

const notesRef = "refs/notes/git-meta/subrepo-check"

func syntheticRefName(sha git.Oid) string {
	return "refs/commits/" + sha.String()
}

// SkipPolicy holds the two skip-list regexes read from
// gitmeta.skipsyntheticrefpattern (URL) and
// gitmeta.skipsyntheticrefpathpattern (path).
type SkipPolicy struct {
	URLPattern  *regexp.Regexp
	PathPattern *regexp.Regexp
}

func (p SkipPolicy) skipURL(url string) bool {
	return p.URLPattern != nil && p.URLPattern.MatchString(url)
}

func (p SkipPolicy) skipPath(path string) bool {
	return p.PathPattern != nil && p.PathPattern.MatchString(path)
}

// SubPin is one (path, sha, url) pin carried by a meta-commit being pushed
// or checked.
type SubPin struct {
	Path string
	Sha  git.Oid
	URL  string
}

// Pusher implements the push side: forcing synthetic refs to each sub's
// remote before the meta-repo push is attempted.
type Pusher struct {
	Skip SkipPolicy
	Log  *logrus.Entry
}

func NewPusher(skip SkipPolicy) *Pusher {
	return &Pusher{Skip: skip, Log: logrus.WithField("component", "syncref-push")}
}

// PushSyntheticRefs pushes refs/commits/<sha> (forced) for every pin whose
// sub is absorbed or open, to the URL obtained by resolving the sub's
// configured URL against remoteURL. It skips a pin if the remote's
// tracking branch already pins a descendant of sha, and skips entirely
// when the pin's URL or path matches the skip policy.
//
// If any sub push fails, it returns immediately without attempting
// further pushes: the caller (the meta-repo push path) must not proceed.
func (p *Pusher) PushSyntheticRefs(repos map[string]*git.Repository, pins []SubPin, remoteURL, trackingBranch string) error {
	for _, pin := range pins {
		if p.Skip.skipPath(pin.Path) || p.Skip.skipURL(pin.URL) {
			continue
		}
		resolved, ok := submodule.ResolveURL(pin.URL, remoteURL)
		if !ok {
			return errs.NewUserError("sub %s: cannot resolve url %q against %q", pin.Path, pin.URL, remoteURL)
		}
		repo, ok := repos[pin.Path]
		if !ok {
			return fmt.Errorf("syncref: no local repository handle for sub %s", pin.Path)
		}

		if tracked, ok := repo.Resolve(trackingBranch); ok {
			if repo.DescendantOf(tracked, pin.Sha) {
				continue
			}
		}

		result := repo.Remotes.Push(resolved, pin.Sha.String(), syntheticRefName(pin.Sha), true)
		if result.Err != nil {
			return fmt.Errorf("syncref: push %s to %s: %w", syntheticRefName(pin.Sha), resolved, result.Err)
		}
	}
	return nil
}

// Checker implements the meta pre-receive side: walking newly-pushed
// commits and requiring that every sub-commit they reference is
// reachable from a synthetic ref on the sub's hosting remote.
type Checker struct {
	Skip      SkipPolicy
	NotesRepo *git.Repository // where OK notes are written; may equal the meta repo
	Log       *logrus.Entry
}

func NewChecker(notesRepo *git.Repository, skip SkipPolicy) *Checker {
	return &Checker{Skip: skip, NotesRepo: notesRepo, Log: logrus.WithField("component", "syncref-check")}
}

// CommitChange is one (path, sha, url) sub-pin changed by a commit being
// walked by CheckMetaUpdate.
type CommitChange struct {
	Path string
	Sha  git.Oid
	URL  string
}

// RemoteProbe reports whether sha is reachable from refs/commits/<sha> at
// the resolved sub URL (normally an ls-remote against the synthetic ref).
type RemoteProbe func(url string, sha git.Oid) (bool, error)

// CheckMetaUpdate implements "meta pre-receive": commits is the walk from
// new back toward old (or any already-OK commit), oldest first;
// changesOf returns each commit's sub-pins. It returns a *errs.UserError
// naming the first commit/path that fails the check.
func (c *Checker) CheckMetaUpdate(repo *git.Repository, commits []git.Oid, changesOf func(git.Oid) ([]CommitChange, error), probe RemoteProbe, remoteURL string) error {
	for _, commit := range commits {
		if c.isOK(commit) {
			continue
		}
		changes, err := changesOf(commit)
		if err != nil {
			return err
		}
		for _, ch := range changes {
			if c.Skip.skipPath(ch.Path) || c.Skip.skipURL(ch.URL) {
				continue
			}
			resolved, ok := submodule.ResolveURL(ch.URL, remoteURL)
			if !ok {
				return errs.NewUserError("sub %s: cannot resolve url %q against %q", ch.Path, ch.URL, remoteURL)
			}
			ok, err := probe(resolved, ch.Sha)
			if err != nil {
				return fmt.Errorf("syncref: probe %s at %s: %w", ch.Sha, resolved, err)
			}
			if !ok {
				return errs.NewUserError(
					"rejecting %s: sub %s references %s but no refs/commits/%s exists at %s",
					commit, ch.Path, ch.Sha, ch.Sha, resolved)
			}
		}
		if err := c.markOK(commit); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) isOK(commit git.Oid) bool {
	note, ok := c.NotesRepo.Notes.Read(notesRef, commit)
	if !ok {
		return false
	}
	return strings.TrimSpace(note) == "ok"
}

func (c *Checker) markOK(commit git.Oid) error {
	sig, err := c.NotesRepo.DefaultSignature()
	if err != nil {
		return fmt.Errorf("syncref: default signature: %w", err)
	}
	_, err = c.NotesRepo.Notes.Write(notesRef, *sig, commit, "ok")
	return err
}

// CheckSubmoduleUpdate implements "submodule pre-receive": for an update
// to refs/commits/<sha>, reject unless new equals sha. Other refs pass
// unchecked (ok=true, no error).
func CheckSubmoduleUpdate(refName string, newValue git.Oid) (ok bool, err error) {
	const prefix = "refs/commits/"
	if !strings.HasPrefix(refName, prefix) {
		return true, nil
	}
	wantHex := strings.TrimPrefix(refName, prefix)
	want, err := git.OidFromString(wantHex)
	if err != nil {
		return false, errs.NewUserError("malformed synthetic ref name %q", refName)
	}
	if want != newValue {
		return false, errs.NewUserError("refusing update of %s to %s: synthetic refs are immutable", refName, newValue)
	}
	return true, nil
}
