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
	"fmt"
	"os"

	"github.com/git-meta/git-meta/internal/config"
	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/git"
	idx "github.com/git-meta/git-meta/internal/index"
	"github.com/git-meta/git-meta/internal/opener"
	"github.com/git-meta/git-meta/internal/sequencer"
)

// env bundles the handles every subcommand needs: the opened meta-
// repository, its live index, a sub-repository opener, the sequencer, and
// the git-config snapshot.
type env struct {
	repo *git.Repository
	live *idx.Live
	op   *opener.Opener
	seq  *sequencer.Sequencer
	gc   config.GitConfig
}

func openEnv() (*env, error) {
	repo, err := git.OpenRepository(".")
	if err != nil {
		return nil, fmt.Errorf("git-meta: not a git repository: %w", err)
	}
	live, err := idx.Open(repo)
	if err != nil {
		return nil, err
	}
	gc := config.ReadGitConfig(repo)

	originURL, _ := repo.ConfigString("remote.origin.url")
	op := opener.New(repo, originURL, gc.SubmoduleTemplatePath)

	return &env{
		repo: repo,
		live: live,
		op:   op,
		seq:  sequencer.New(repo.Path()),
		gc:   gc,
	}, nil
}

// exitOn implements the §7 CLI-boundary contract: print err and exit with
// the classified code (UserError/SequencerMissingError -> -1 i.e. 255,
// FetchError -> -128 i.e. 128, anything else -> 1).
func exitOn(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "E: %s\n", err)
	code := errs.ExitCode(err)
	if code < 0 {
		code = 256 + code
	}
	os.Exit(code)
}

func (e *env) signature() (git.Signature, error) {
	sig, err := e.repo.DefaultSignature()
	if err != nil {
		return git.Signature{}, err
	}
	return *sig, nil
}
