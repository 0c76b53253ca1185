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

package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-meta/git-meta/internal/classify"
	"github.com/git-meta/git-meta/internal/opener"
)

func TestIncompleteError(t *testing.T) {
	i := &Incomplete{Messages: map[string]string{
		"libs/a": "conflict",
		"libs/b": "conflict",
	}}
	assert.Contains(t, i.Error(), "2 sub-repositories")
	assert.Contains(t, i.Error(), "--continue")
}

func TestDriverPolicy(t *testing.T) {
	d := &Driver{}
	assert.Equal(t, opener.LazyOpen, d.policy())

	d.Bare = true
	assert.Equal(t, opener.ForceBare, d.policy())
}

func TestRunSubChangesEmpty(t *testing.T) {
	d := New(nil, nil, nil)
	res, err := d.runSubChanges(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestRunSubChangesEmptySliceWithZeroParallel(t *testing.T) {
	d := New(nil, nil, nil)
	d.Parallel = 0
	// an empty (non-nil) slice with Parallel unset returns before the
	// fallback to the default parallelism is reached.
	res, err := d.runSubChanges(context.Background(), []classify.SubmoduleChange{}, nil)
	require.NoError(t, err)
	assert.Nil(t, res)
}
