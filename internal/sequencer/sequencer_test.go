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

package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/git"
)

func TestLoadMissingIsSequencerMissingError(t *testing.T) {
	s := New(t.TempDir())
	_, err := s.Load()
	require.Error(t, err)
	var missing *errs.SequencerMissingError
	assert.ErrorAs(t, err, &missing)
	assert.False(t, s.InProgress())
}

func TestStartAdvanceFinish(t *testing.T) {
	s := New(t.TempDir())

	sha1, _ := git.OidFromString("1111111111111111111111111111111111111111")
	sha2, _ := git.OidFromString("2222222222222222222222222222222222222222")

	err := s.Start(State{
		Kind:    CherryPick,
		Commits: []git.Oid{sha1, sha2},
		Target:  Ref{Sha: sha2},
	})
	require.NoError(t, err)
	assert.True(t, s.InProgress())

	st, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.CurrentIndex)
	assert.Equal(t, CherryPick, st.Kind)

	require.NoError(t, s.Advance(0))
	st, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentIndex)

	require.NoError(t, s.Finish())
	assert.False(t, s.InProgress())
}

func TestStartRefusesWhenAlreadyInProgress(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Start(State{Kind: Rebase}))

	err := s.Start(State{Kind: Merge})
	require.Error(t, err)
	var uerr *errs.UserError
	assert.ErrorAs(t, err, &uerr)
}

func TestAbortIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Abort())
	require.NoError(t, s.Abort())
}
