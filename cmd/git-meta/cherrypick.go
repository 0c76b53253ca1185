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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/git-meta/git-meta/internal/classify"
	"github.com/git-meta/git-meta/internal/driver"
	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/git"
	"github.com/git-meta/git-meta/internal/index"
	"github.com/git-meta/git-meta/internal/sequencer"
)

func cmdCherryPickUsage() {
	fmt.Fprint(os.Stderr,
		`git-meta cherry-pick <commit>...

Replay each commit, in order, across the meta-repository and any
sub-repositories it pins.
`)
}

func cmdCherryPick(argv []string) {
	flags := flag.NewFlagSet("cherry-pick", flag.ExitOnError)
	flags.Usage = cmdCherryPickUsage
	flags.Parse(argv)

	rest := flags.Args()
	if len(rest) == 0 {
		cmdCherryPickUsage()
		os.Exit(1)
	}

	e, err := openEnv()
	exitOn(err)

	var commits []git.Oid
	for _, spec := range rest {
		sha, ok := e.repo.Resolve(spec)
		if !ok {
			exitOn(errs.NewUserError("cannot resolve %q", spec))
		}
		commits = append(commits, sha)
	}

	head, ok := e.repo.Resolve("HEAD")
	if !ok {
		exitOn(errs.NewUserError("HEAD does not point at a commit"))
	}

	exitOn(e.seq.Start(sequencer.State{
		Kind:         sequencer.CherryPick,
		OriginalHead: sequencer.Ref{Sha: head, Ref: "HEAD"},
		Commits:      commits,
	}))

	exitOn(runCherryPick(e, head, commits, 0))
}

// runCherryPick drives commits[from:] through the classifier and driver,
// one source commit at a time (each source commit becomes one target to
// classify HEAD against), advancing the sequencer after each success.
func runCherryPick(e *env, head git.Oid, commits []git.Oid, from int) error {
	d := driver.New(e.repo, e.op, e.live)

	current := head
	for i := from; i < len(commits); i++ {
		src := commits[i]

		mergeIdx, err := e.repo.MergeCommits(current, src)
		if err != nil {
			return err
		}
		cls, err := classify.Classify(e.repo, index.Wrap(mergeIdx), current, src)
		if err != nil {
			return err
		}

		srcCommit, err := e.repo.ReadCommit(src)
		if err != nil {
			return err
		}

		commitId, incomplete, err := d.Run(context.Background(), cls, []git.Oid{current}, driver.CommitMeta{
			Author:    srcCommit.Author,
			Committer: srcCommit.Committer,
			Message:   srcCommit.Message,
		})
		if err != nil {
			return err
		}
		if incomplete != nil {
			for path, msg := range incomplete.Messages {
				fmt.Fprintf(os.Stderr, "E: %s: %s\n", path, msg)
			}
			return incomplete
		}

		if err := e.seq.Advance(i); err != nil {
			return err
		}
		if err := e.repo.References.SetRef("HEAD", commitId, true); err != nil {
			return err
		}
		current = commitId
	}

	return e.seq.Finish()
}
