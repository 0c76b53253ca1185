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

func cmdMergeUsage() {
	fmt.Fprint(os.Stderr,
		`git-meta merge <target> [-m message]

Merge <target> into the current branch, sub by sub.
`)
}

func cmdMerge(argv []string) {
	flags := flag.NewFlagSet("merge", flag.ExitOnError)
	flags.Usage = cmdMergeUsage
	message := flags.String("m", "", "merge commit message")
	flags.Parse(argv)

	rest := flags.Args()
	if len(rest) != 1 {
		cmdMergeUsage()
		os.Exit(1)
	}

	e, err := openEnv()
	exitOn(err)

	target, ok := e.repo.Resolve(rest[0])
	if !ok {
		exitOn(errs.NewUserError("cannot resolve %q", rest[0]))
	}
	head, ok := e.repo.Resolve("HEAD")
	if !ok {
		exitOn(errs.NewUserError("HEAD does not point at a commit"))
	}

	exitOn(e.seq.Start(sequencer.State{
		Kind:         sequencer.Merge,
		OriginalHead: sequencer.Ref{Sha: head, Ref: "HEAD"},
		Target:       sequencer.Ref{Sha: target, Ref: rest[0]},
		Message:      *message,
	}))

	mergeIdx, err := e.repo.MergeCommits(head, target)
	exitOn(err)
	cls, err := classify.Classify(e.repo, index.Wrap(mergeIdx), head, target)
	exitOn(err)

	msg := *message
	if msg == "" {
		msg = fmt.Sprintf("Merge %s", rest[0])
	}

	sig, err := e.signature()
	exitOn(err)

	d := driver.New(e.repo, e.op, e.live)
	commitId, incomplete, err := d.Run(context.Background(), cls, []git.Oid{head, target}, driver.CommitMeta{
		Author:    sig,
		Committer: sig,
		Message:   msg,
	})
	exitOn(err)
	if incomplete != nil {
		for path, m := range incomplete.Messages {
			fmt.Fprintf(os.Stderr, "E: %s: %s\n", path, m)
		}
		exitOn(incomplete)
	}

	exitOn(e.repo.References.SetRef("HEAD", commitId, true))
	exitOn(e.seq.Finish())
}
