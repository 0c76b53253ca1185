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
	"github.com/git-meta/git-meta/internal/git"
	"github.com/git-meta/git-meta/internal/sequencer"
)

func cmdContinueUsage() {
	fmt.Fprint(os.Stderr, "git-meta continue\n\nResume an in-progress multi-commit operation after conflicts are resolved.\n")
}

func cmdContinue(argv []string) {
	flags := flag.NewFlagSet("continue", flag.ExitOnError)
	flags.Usage = cmdContinueUsage
	flags.Parse(argv)

	e, err := openEnv()
	exitOn(err)

	st, err := e.seq.Load()
	exitOn(err)

	if e.live.HasConflicts() {
		exitOn(errs.NewUserError("unresolved conflicts remain; fix them and `git add` the paths before --continue"))
	}

	switch st.Kind {
	case sequencer.CherryPick, sequencer.Rebase:
		// runCherryPick moves HEAD after every replayed commit, so HEAD is
		// the base for the remaining ones; a rebase stopped on its first
		// commit has not moved HEAD yet and resumes onto its target.
		base, ok := e.repo.Resolve("HEAD")
		if !ok {
			exitOn(errs.NewUserError("HEAD does not point at a commit"))
		}
		if st.Kind == sequencer.Rebase && st.CurrentIndex == 0 {
			base = st.Target.Sha
		}
		exitOn(runCherryPick(e, base, st.Commits, st.CurrentIndex))
	case sequencer.Merge:
		exitOn(errs.NewUserError("continuing an in-progress merge is not supported; run `git-meta abort` to return to the pre-merge HEAD and clear sequencer state"))
	default:
		exitOn(fmt.Errorf("git-meta: unknown sequencer state kind %q", st.Kind))
	}
}

func cmdAbortUsage() {
	fmt.Fprint(os.Stderr, "git-meta abort\n\nAbort an in-progress multi-commit operation, resetting to its starting point.\n")
}

func cmdAbort(argv []string) {
	flags := flag.NewFlagSet("abort", flag.ExitOnError)
	flags.Usage = cmdAbortUsage
	flags.Parse(argv)

	e, err := openEnv()
	exitOn(err)

	st, err := e.seq.Load()
	exitOn(err)

	origCommit, err := e.repo.ReadCommit(st.OriginalHead.Sha)
	exitOn(err)

	exitOn(resetSubsToOriginalHead(e, origCommit.Tree))

	exitOn(e.repo.References.SetRef("HEAD", st.OriginalHead.Sha, true))
	exitOn(e.live.ConflictCleanup())
	exitOn(e.live.ReadTree(origCommit.Tree))
	exitOn(e.live.Write())
	exitOn(e.seq.Abort())
}

// resetSubsToOriginalHead implements the sub half of §4.G's abort contract:
// every sub-repository this op's Opener touched is hard-reset to its pin at
// original_head (if it still has a pin there), then closed again if this
// Opener is the one that materialized its workdir.
func resetSubsToOriginalHead(e *env, originalTree git.Oid) error {
	pins, err := e.repo.GitlinkPaths(originalTree)
	if err != nil {
		return err
	}

	for path, sr := range e.op.Opened() {
		if sr.IsOpen {
			if pin, ok := pins[path]; ok {
				if err := sr.Repo.References.SetRef("HEAD", pin, true); err != nil {
					return fmt.Errorf("abort: reset sub %s to %s: %w", path, pin, err)
				}
			}
		}
		if sr.OpenedByUs {
			if err := e.op.Close(path); err != nil {
				return fmt.Errorf("abort: close sub %s: %w", path, err)
			}
		}
	}
	return nil
}
