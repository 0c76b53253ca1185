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
	"flag"
	"fmt"
	"os"

	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/sequencer"
)

func cmdRebaseUsage() {
	fmt.Fprint(os.Stderr,
		`git-meta rebase <target>

Rebase the current branch onto <target>, replaying the current branch's
commits not already on <target> sub by sub.
`)
}

func cmdRebase(argv []string) {
	flags := flag.NewFlagSet("rebase", flag.ExitOnError)
	flags.Usage = cmdRebaseUsage
	flags.Parse(argv)

	rest := flags.Args()
	if len(rest) != 1 {
		cmdRebaseUsage()
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

	base, ok := e.repo.MergeBase(head, target)
	if !ok {
		exitOn(errs.NewUserError("no common ancestor between HEAD and %q", rest[0]))
	}

	commits, err := e.repo.CommitRange(base, head)
	exitOn(err)

	exitOn(e.seq.Start(sequencer.State{
		Kind:         sequencer.Rebase,
		OriginalHead: sequencer.Ref{Sha: head, Ref: "HEAD"},
		Target:       sequencer.Ref{Sha: target, Ref: rest[0]},
		Commits:      commits,
	}))

	exitOn(runCherryPick(e, target, commits, 0))
}
