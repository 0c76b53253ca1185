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

	"github.com/git-meta/git-meta/internal/config"
	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/stitch"
)

func cmdStitchUsage() {
	fmt.Fprint(os.Stderr,
		`git-meta stitch <commit> <target-branch>

Flatten meta-history up to <commit> into a single linear content history,
inlining each sub-tree at the location of its gitlink, and update
<target-branch> to the result.
`)
}

func cmdStitch(argv []string) {
	flags := flag.NewFlagSet("stitch", flag.ExitOnError)
	flags.Usage = cmdStitchUsage
	skipEmpty := flags.Bool("skip-empty", true, "elide commits whose stitched tree equals their parent's")
	flags.Parse(argv)

	rest := flags.Args()
	if len(rest) != 2 {
		cmdStitchUsage()
		os.Exit(1)
	}

	e, err := openEnv()
	exitOn(err)

	target, ok := e.repo.Resolve(rest[0])
	if !ok {
		exitOn(errs.NewUserError("cannot resolve %q", rest[0]))
	}

	ov, err := config.LoadOverlay(e.repo.Workdir())
	exitOn(err)

	sig, err := e.signature()
	exitOn(err)

	eng := stitch.New(e.repo, e.op, stitch.Options{
		KeepAsSubmodule: ov.KeepAsSubmodulePredicate(),
		Adjust:          ov.Adjuster(),
		SkipEmpty:       *skipEmpty,
		Signature:       sig,
	})

	result, err := eng.Run(target, rest[1])
	exitOn(err)

	fmt.Fprintf(os.Stdout, "stitched %s -> %s (%s)\n", rest[0], result, rest[1])
}
