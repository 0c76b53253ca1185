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

package destitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-meta/git-meta/internal/submodule"
)

func TestSubConfigIsSubmoduleMap(t *testing.T) {
	var sc SubConfig = submodule.Map{
		"libs/a": {Name: "a", Path: "libs/a", URL: "https://example.com/a.git"},
	}
	require.Len(t, sc, 1)
	assert.Equal(t, "https://example.com/a.git", sc["libs/a"].URL)
}
