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

// Package driver implements §4.F: the sub-operation driver. Given a
// classification (internal/classify) and an opener, it writes simple
// changes directly, rewrites each submodule change's sub-repository
// history in parallel (bounded fan-out, one goroutine per sub-path,
// strictly sequential within a sub-path), and -- if nothing conflicted --
// assembles the resulting meta-tree and meta-commit.
package driver

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/sirupsen/logrus"

	"github.com/git-meta/git-meta/internal/classify"
	"github.com/git-meta/git-meta/internal/git"
	"github.com/git-meta/git-meta/internal/index"
	"github.com/git-meta/git-meta/internal/opener"
	"github.com/git-meta/git-meta/internal/submodule"
)

// DefaultParallelism is the §5 default fan-out cap ("default: 8").
const DefaultParallelism = 8

// CommitMeta supplies the author/committer/message that Run always writes
// into the new meta-commit (§4.F step 5). Cherry-pick and rebase fill it
// from the source commit being replayed; merge fills it from the caller's
// signature and the merge message.
type CommitMeta struct {
	Author    git.Signature
	Committer git.Signature
	Message   string
}

// SubResult is the per-path outcome of rewriting one sub-repository's
// history, per the §9 "message passing" worker-pool model: inputs are
// (path, SubmoduleChange), outputs are SubResult.
type SubResult struct {
	Path          string
	NewShas       map[git.Oid]git.Oid // new_sub_sha -> original_sub_sha, for each successful pick
	ConflictedSha *git.Oid
	Ffwd          bool
	FinalSha      git.Oid
	WorkdirDirty  bool // §9 open question: sub had workdir changes when slated for deletion; Run never sets it
}

// Incomplete is returned instead of a new commit when at least one
// sub-repository conflicted; it carries a human-readable message per
// conflicted path plus the standard "resolve conflicts... --continue"
// instruction from §7.
type Incomplete struct {
	Messages map[string]string
}

func (i *Incomplete) Error() string {
	return fmt.Sprintf("operation incomplete: %d sub-repositories have conflicts; "+
		"resolve conflicts, `git add` the fixed paths, then `--continue` (or `--abort`)", len(i.Messages))
}

// Driver rewrites sub-repository history to realize a classification.
type Driver struct {
	Repo     *git.Repository
	Opener   *opener.Opener
	Live     *index.Live
	Parallel int
	Bare     bool // ForceBare policy for subs this driver touches
	Log      *logrus.Entry
}

func New(repo *git.Repository, op *opener.Opener, live *index.Live) *Driver {
	return &Driver{
		Repo:     repo,
		Opener:   op,
		Live:     live,
		Parallel: DefaultParallelism,
		Log:      logrus.WithField("component", "driver"),
	}
}

// policy returns the opener.Policy this driver should request for subs it
// touches.
func (d *Driver) policy() opener.Policy {
	if d.Bare {
		return opener.ForceBare
	}
	return opener.LazyOpen
}

// Run executes §4.F steps 1-5 against cls, producing either a new
// meta-commit (parented on parents) or an *Incomplete result.
func (d *Driver) Run(ctx context.Context, cls *classify.Result, parents []git.Oid, meta CommitMeta) (git.Oid, *Incomplete, error) {
	if err := d.applyDeletions(cls.Simple); err != nil {
		return git.Oid{}, nil, err
	}
	if err := d.applyAdditionsAndFastForwards(cls.Simple); err != nil {
		return git.Oid{}, nil, err
	}

	results, err := d.runSubChanges(ctx, cls.Sub, cls.URLs)
	if err != nil {
		return git.Oid{}, nil, err
	}

	incomplete := &Incomplete{Messages: map[string]string{}}
	for _, res := range results {
		if res.ConflictedSha != nil {
			incomplete.Messages[res.Path] = fmt.Sprintf(
				"%s: conflict cherry-picking %s onto current HEAD", res.Path, res.ConflictedSha.String())
			continue
		}
		if err := d.Live.Stage(res.Path, res.FinalSha, git.FilemodeGitlink); err != nil {
			return git.Oid{}, nil, err
		}
	}

	// step 4: close subs opened by us that produced nothing.
	for _, res := range results {
		if res.ConflictedSha == nil && len(res.NewShas) == 0 && !res.Ffwd {
			if err := d.Opener.Close(res.Path); err != nil {
				d.Log.WithError(err).WithField("path", res.Path).Warn("failed to close idle sub-repository")
			}
		}
	}

	if len(incomplete.Messages) > 0 {
		return git.Oid{}, incomplete, nil
	}

	if err := d.Live.Write(); err != nil {
		return git.Oid{}, nil, err
	}
	treeId, err := d.Live.WriteTree()
	if err != nil {
		return git.Oid{}, nil, err
	}

	commitId, err := d.Repo.WriteCommit(git.CommitData{
		Tree:      treeId,
		Parents:   parents,
		Author:    meta.Author,
		Committer: meta.Committer,
		Message:   meta.Message,
	})
	if err != nil {
		return git.Oid{}, nil, err
	}
	return commitId, nil, nil
}

// applyDeletions implements §4.F step 1.
func (d *Driver) applyDeletions(simple []classify.SimpleChange) error {
	for _, ch := range simple {
		if !ch.Delete {
			continue
		}
		if err := d.Live.Unstage(ch.Path); err != nil {
			return fmt.Errorf("driver: unstage %s: %w", ch.Path, err)
		}
		if d.Opener.IsOpen(ch.Path) {
			// §9 open question: the workdir is not checked for user changes
			// and WorkdirDirty is not set; Opener.Close removes the workdir
			// only if this Opener materialized it.
			if err := d.Opener.Close(ch.Path); err != nil {
				return fmt.Errorf("driver: close deleted sub %s: %w", ch.Path, err)
			}
		}
	}
	return nil
}

// applyAdditionsAndFastForwards implements §4.F step 2.
func (d *Driver) applyAdditionsAndFastForwards(simple []classify.SimpleChange) error {
	for _, ch := range simple {
		if ch.Delete {
			continue
		}
		if ch.Mode != git.FilemodeGitlink {
			// an ordinary file add/modify: stage it verbatim.
			if err := d.Live.Stage(ch.Path, ch.Sha, ch.Mode); err != nil {
				return fmt.Errorf("driver: stage %s: %w", ch.Path, err)
			}
			continue
		}
		if err := d.Live.Stage(ch.Path, ch.Sha, git.FilemodeGitlink); err != nil {
			return fmt.Errorf("driver: stage gitlink %s: %w", ch.Path, err)
		}
		if d.Opener.IsOpen(ch.Path) {
			sub, err := d.Opener.GetSubRepo(ch.Path, ch.URL, opener.LazyOpen)
			if err != nil {
				return err
			}
			if err := d.Opener.Fetcher().FetchSha(sub, ch.Sha); err != nil {
				return err
			}
			if err := sub.Repo.References.SetRef("HEAD", ch.Sha, true); err != nil {
				return fmt.Errorf("driver: reset open sub %s to %s: %w", ch.Path, ch.Sha, err)
			}
		}
	}
	return nil
}

// runSubChanges implements §4.F step 3: a bounded work-queue, one worker
// per sub-path, rewrite strictly sequential within a path. The aggregator
// shares no mutable state with workers -- each produces its own SubResult,
// collected into a plain slice after all workers finish.
func (d *Driver) runSubChanges(ctx context.Context, subs []classify.SubmoduleChange, urls submodule.Map) ([]SubResult, error) {
	if len(subs) == 0 {
		return nil, nil
	}

	parallel := d.Parallel
	if parallel <= 0 {
		parallel = DefaultParallelism
	}
	sem := semaphore.NewWeighted(int64(parallel))

	results := make([]SubResult, len(subs))
	errCh := make(chan error, len(subs))
	doneCh := make(chan struct{}, len(subs))

	for i, sc := range subs {
		i, sc := i, sc
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func() {
			defer sem.Release(1)
			res, err := d.rewriteOne(sc, urls)
			if err != nil {
				errCh <- fmt.Errorf("driver: %s: %w", sc.Path, err)
				doneCh <- struct{}{}
				return
			}
			results[i] = res
			doneCh <- struct{}{}
		}()
	}

	for range subs {
		<-doneCh
	}
	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	return results, nil
}

// rewriteOne rewrites a single sub-repository's [old..new] range onto its
// current HEAD (Ours), strictly sequentially, per §4.F step 3.
func (d *Driver) rewriteOne(sc classify.SubmoduleChange, urls submodule.Map) (SubResult, error) {
	url := ""
	if b, ok := urls[sc.Path]; ok {
		url = b.URL
	}

	sub, err := d.Opener.GetSubRepo(sc.Path, url, d.policy())
	if err != nil {
		return SubResult{}, err
	}

	fetcher := d.Opener.Fetcher()
	if err := fetcher.FetchSha(sub, sc.Old); err != nil {
		return SubResult{}, err
	}
	if err := fetcher.FetchSha(sub, sc.New); err != nil {
		return SubResult{}, err
	}

	res := SubResult{Path: sc.Path, NewShas: map[git.Oid]git.Oid{}}

	if sub.Repo.DescendantOf(sc.New, sc.Ours) {
		res.Ffwd = true
		res.FinalSha = sc.New
		return res, nil
	}

	commits, err := sub.Repo.CommitRange(sc.Old, sc.New)
	if err != nil {
		return SubResult{}, fmt.Errorf("list commits %s..%s: %w", sc.Old, sc.New, err)
	}

	onto := sc.Ours
	for _, c := range commits {
		idx, err := sub.Repo.CherryPickCommit(c, onto)
		if err != nil {
			return SubResult{}, fmt.Errorf("cherry-pick %s: %w", c, err)
		}
		if idx.HasConflicts() {
			conflicted := c
			res.ConflictedSha = &conflicted
			if err := sub.Repo.SetIndex(idx); err != nil {
				return SubResult{}, err
			}
			if err := idx.Write(); err != nil {
				return SubResult{}, err
			}
			return res, nil
		}

		treeId, err := idx.WriteTree()
		if err != nil {
			return SubResult{}, err
		}
		origCommit, err := sub.Repo.ReadCommit(c)
		if err != nil {
			return SubResult{}, err
		}
		newId, err := sub.Repo.WriteCommit(git.CommitData{
			Tree:      treeId,
			Parents:   []git.Oid{onto},
			Author:    origCommit.Author,
			Committer: origCommit.Committer,
			Message:   origCommit.Message,
		})
		if err != nil {
			return SubResult{}, err
		}
		res.NewShas[newId] = c
		onto = newId
	}

	res.FinalSha = onto
	if sub.IsOpen {
		if err := sub.Repo.References.SetRef("HEAD", onto, true); err != nil {
			return SubResult{}, err
		}
	}
	return res, nil
}
