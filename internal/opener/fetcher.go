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

package opener

import (
	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/git"
)

// Fetcher fetches a specific sha into a sub-repository on demand, closed
// over the meta-repo's origin URL so relative submodule URLs resolve.
type Fetcher struct {
	o *Opener
}

// Fetcher returns a Fetcher bound to this Opener's origin URL.
func (o *Opener) Fetcher() *Fetcher {
	return &Fetcher{o: o}
}

// FetchSha is a no-op if sha is already reachable in sub's object
// database; otherwise it fetches sha from sub's resolved URL. Failure
// surfaces as *errs.FetchError naming the resolved URL.
func (f *Fetcher) FetchSha(sub *SubRepo, sha git.Oid) error {
	if _, err := sub.Repo.ReadCommit(sha); err == nil {
		return nil
	}
	if err := sub.Repo.Remotes.FetchOid(sub.URL, sha); err != nil {
		return errs.NewFetchError(sub.URL, err)
	}
	return nil
}
