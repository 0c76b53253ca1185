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

	"github.com/git-meta/git-meta/internal/destitch"
	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/submodule"
)

func cmdDestitchUsage() {
	fmt.Fprint(os.Stderr,
		`git-meta destitch <stitched-commit>

Invert a previously stitched commit back into a meta-commit plus one new
sub-commit per changed sub path.
`)
}

func cmdDestitch(argv []string) {
	flags := flag.NewFlagSet("destitch", flag.ExitOnError)
	flags.Usage = cmdDestitchUsage
	flags.Parse(argv)

	rest := flags.Args()
	if len(rest) != 1 {
		cmdDestitchUsage()
		os.Exit(1)
	}

	e, err := openEnv()
	exitOn(err)

	stitchedSha, ok := e.repo.Resolve(rest[0])
	if !ok {
		exitOn(errs.NewUserError("cannot resolve %q", rest[0]))
	}

	originURL, _ := e.repo.ConfigString("remote.origin.url")
	sig, err := e.signature()
	exitOn(err)

	headCommit, ok := e.repo.Resolve("HEAD")
	if !ok {
		exitOn(errs.NewUserError("HEAD does not point at a commit"))
	}
	headCommitData, err := e.repo.ReadCommit(headCommit)
	exitOn(err)

	gitmodulesEntry, err := e.repo.TreeEntryByPath(headCommitData.Tree, ".gitmodules")
	exitOn(err)
	subConfig := destitch.SubConfig{}
	if gitmodulesEntry != nil {
		blob, err := e.repo.ReadBlob(gitmodulesEntry.Id)
		exitOn(err)
		parsed, err := submodule.Parse(blob)
		exitOn(err)
		subConfig = destitch.SubConfig(parsed)
	}

	eng := destitch.New(e.repo, e.op, originURL, sig)
	result, err := eng.Run(stitchedSha, subConfig)
	exitOn(err)

	exitOn(e.repo.References.SetRef("HEAD", result, true))
	fmt.Fprintf(os.Stdout, "destitched %s -> %s\n", rest[0], result)
}
