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
	"fmt"

	git2go "github.com/libgit2/git2go/v31"
)

// RemoteCollection implements the fetch(url, oid)/push(url, ref, force,
// atomic) side of §6: ephemeral, unnamed remotes created on demand so the
// opener/fetcher (4.D) and synthetic-ref protocol (4.H) never have to
// manage a persistent remote config entry per sub-repository URL.
type RemoteCollection struct {
	r *Repository
}

// PushResult is the §6 push(...) -> Result contract.
type PushResult struct {
	OK  bool
	Err error
}

// FetchOid fetches a single object id from url into the repository through
// an anonymous remote, storing it under refs/git-meta/fetch/<sha>, which is
// left in place afterwards. It is the primitive
// behind opener.Fetcher.FetchSha.
func (rc *RemoteCollection) FetchOid(url string, id Oid) error {
	remote, err := rc.r.repo.Remotes.CreateAnonymous(url)
	if err != nil {
		return fmt.Errorf("git: create remote %s: %w", url, err)
	}
	defer remote.Free()

	refspec := fmt.Sprintf("+%s:refs/git-meta/fetch/%s", id.String(), id.String())
	err = remote.Fetch([]string{refspec}, nil, "git-meta fetch")
	if err != nil {
		return fmt.Errorf("git: fetch %s from %s: %w", id.String(), url, err)
	}
	return nil
}

// Push pushes one local ref to remoteRef at url through an anonymous
// remote, as a single refspec that is forced when force is set.
func (rc *RemoteCollection) Push(url, localRef, remoteRef string, force bool) PushResult {
	remote, err := rc.r.repo.Remotes.CreateAnonymous(url)
	if err != nil {
		return PushResult{Err: fmt.Errorf("git: create remote %s: %w", url, err)}
	}
	defer remote.Free()

	spec := fmt.Sprintf("%s:%s", localRef, remoteRef)
	if force {
		spec = "+" + spec
	}

	var pushErr error
	opts := &git2go.PushOptions{
		RemoteCallbacks: git2go.RemoteCallbacks{
			PushUpdateReferenceCallback: func(refname, status string) error {
				if status != "" {
					pushErr = fmt.Errorf("git: remote rejected %s: %s", refname, status)
				}
				return nil
			},
		},
	}
	if err := remote.Push([]string{spec}, opts); err != nil {
		return PushResult{Err: fmt.Errorf("git: push %s to %s: %w", spec, url, err)}
	}
	if pushErr != nil {
		return PushResult{Err: pushErr}
	}
	return PushResult{OK: true}
}
