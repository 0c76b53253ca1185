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

package submodule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	blob := []byte(`[submodule "libfoo"]
	path = vendor/libfoo
	url = https://example.org/libfoo.git
[submodule "libbar"]
	path = vendor/libbar/
	url = ../libbar.git
`)
	m, err := Parse(blob)
	require.NoError(t, err)
	require.Len(t, m, 2)

	foo, ok := m["vendor/libfoo"]
	require.True(t, ok)
	assert.Equal(t, "libfoo", foo.Name)
	assert.Equal(t, "https://example.org/libfoo.git", foo.URL)

	bar, ok := m["vendor/libbar"]
	require.True(t, ok, "trailing slash in path must be normalized")
	assert.Equal(t, "../libbar.git", bar.URL)
}

func TestParseIgnoresUnknownSections(t *testing.T) {
	blob := []byte(`[core]
	bare = false
[submodule "x"]
	path = x
	url = https://example.org/x.git
`)
	m, err := Parse(blob)
	require.NoError(t, err)
	require.Len(t, m, 1)
	assert.Equal(t, "https://example.org/x.git", m["x"].URL)
}

func TestParseMissingPathIsError(t *testing.T) {
	blob := []byte(`[submodule "x"]
	url = https://example.org/x.git
`)
	_, err := Parse(blob)
	assert.Error(t, err)
}

func TestEmitParseRoundtrip(t *testing.T) {
	m := Map{
		"a": {Name: "a", Path: "a", URL: "https://example.org/a.git"},
		"b": {Name: "b", Path: "b", URL: "https://example.org/b.git"},
	}
	blob := Emit(m)
	again, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, m, again)
}

func TestEmitIsSortedByName(t *testing.T) {
	m := Map{
		"z": {Name: "zeta", Path: "z", URL: "u"},
		"a": {Name: "alpha", Path: "a", URL: "u"},
	}
	blob := string(Emit(m))
	assert.Less(t, indexOf(blob, "alpha"), indexOf(blob, "zeta"))
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestResolveURLAbsolutePassesThrough(t *testing.T) {
	got, ok := ResolveURL("https://example.org/x.git", "https://example.org/base.git")
	require.True(t, ok)
	assert.Equal(t, "https://example.org/x.git", got)
}

func TestResolveURLRelativeJoinsBase(t *testing.T) {
	got, ok := ResolveURL("../libbar.git", "https://example.org/group/meta.git")
	require.True(t, ok)
	assert.Equal(t, "https://example.org/group/libbar.git", got)
}

func TestResolveURLRelativeWithNoBaseIsError(t *testing.T) {
	_, ok := ResolveURL("../libbar.git", "")
	assert.False(t, ok)
}

func TestResolveURLSameDirectory(t *testing.T) {
	got, ok := ResolveURL("./libbar.git", "https://example.org/group/meta.git")
	require.True(t, ok)
	assert.Equal(t, "https://example.org/group/meta.git/libbar.git", got)
}
