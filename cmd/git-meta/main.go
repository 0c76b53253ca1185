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

// Command git-meta dispatches the meta-repository subcommands:
// cherry-pick, rebase, merge (driven by the sequencer and sub-operation
// driver), continue/abort (sequencer control), stitch and destitch.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// countFlag lets -v be repeated for increasing verbosity (git-backup's
// cmd.dist.count idiom).
type countFlag int

func (c *countFlag) String() string { return fmt.Sprint(int(*c)) }

func (c *countFlag) Set(s string) error {
	switch s {
	case "true":
		*c++
	case "false":
		*c = 0
	default:
		*c++
	}
	return nil
}

func (c *countFlag) IsBoolFlag() bool { return true }

var _ flag.Value = (*countFlag)(nil)

var verbose countFlag

var commands = map[string]func([]string){
	"cherry-pick": cmdCherryPick,
	"rebase":      cmdRebase,
	"merge":       cmdMerge,
	"continue":    cmdContinue,
	"abort":       cmdAbort,
	"stitch":      cmdStitch,
	"destitch":    cmdDestitch,
}

func usage() {
	fmt.Fprint(os.Stderr,
		`git-meta [options] <command>

    cherry-pick   replay commits across a meta-repository and its subs
    rebase        rebase the current branch onto a target, sub by sub
    merge         merge a target into the current branch, sub by sub
    continue      resume an in-progress multi-commit operation
    abort         abort an in-progress multi-commit operation
    stitch        flatten meta-history into a single linear history
    destitch      invert a previously stitched history

  common options:

    -h --help       this help text.
    -v              increase verbosity.
`)
}

func main() {
	flag.Usage = usage
	flag.Var(&verbose, "v", "verbosity level")
	flag.Parse()
	argv := flag.Args()

	switch int(verbose) {
	case 0:
		logrus.SetLevel(logrus.WarnLevel)
	case 1:
		logrus.SetLevel(logrus.InfoLevel)
	default:
		logrus.SetLevel(logrus.DebugLevel)
	}

	if len(argv) == 0 {
		usage()
		os.Exit(1)
	}

	cmd, ok := commands[argv[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "E: unknown command %q\n", argv[0])
		os.Exit(1)
	}

	cmd(argv[1:])
}
