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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOverlayMissingFileIsZeroValue(t *testing.T) {
	ov, err := LoadOverlay(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Overlay{}, ov)
}

func TestLoadOverlayParsesYAML(t *testing.T) {
	dir := t.TempDir()
	content := "join_root: src\nkeep_as_submodule:\n  - vendor/thirdparty\nparallelism: 4\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git-meta.yml"), []byte(content), 0644))

	ov, err := LoadOverlay(dir)
	require.NoError(t, err)
	assert.Equal(t, "src", ov.JoinRoot)
	assert.Equal(t, []string{"vendor/thirdparty"}, ov.KeepAsSubmodule)
	assert.Equal(t, 4, ov.Parallelism)
}

func TestKeepAsSubmodulePredicate(t *testing.T) {
	ov := Overlay{KeepAsSubmodule: []string{"vendor/thirdparty"}}
	pred := ov.KeepAsSubmodulePredicate()
	assert.True(t, pred("vendor/thirdparty"))
	assert.False(t, pred("libs/a"))
}

func TestAdjusterStripsJoinRoot(t *testing.T) {
	ov := Overlay{JoinRoot: "src"}
	adj := ov.Adjuster()

	adjusted, keep := adj("src/libs/a")
	assert.True(t, keep)
	assert.Equal(t, "libs/a", adjusted)

	_, keep = adj("docs/readme.md")
	assert.False(t, keep)
}

func TestAdjusterNoJoinRootPassesThrough(t *testing.T) {
	ov := Overlay{}
	adj := ov.Adjuster()
	adjusted, keep := adj("libs/a")
	assert.True(t, keep)
	assert.Equal(t, "libs/a", adjusted)
}
