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

package syncref

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-meta/git-meta/internal/git"
)

func TestSyntheticRefName(t *testing.T) {
	sha, err := git.OidFromString("1111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, "refs/commits/1111111111111111111111111111111111111111", syntheticRefName(sha))
}

func TestSkipPolicy(t *testing.T) {
	p := SkipPolicy{
		URLPattern:  regexp.MustCompile(`^skip$`),
		PathPattern: regexp.MustCompile(`^vendor/`),
	}
	assert.True(t, p.skipURL("skip"))
	assert.False(t, p.skipURL("https://example.com/repo.git"))
	assert.True(t, p.skipPath("vendor/lib"))
	assert.False(t, p.skipPath("src/lib"))
}

func TestCheckSubmoduleUpdateAcceptsMatchingSha(t *testing.T) {
	sha, err := git.OidFromString("2222222222222222222222222222222222222222")
	require.NoError(t, err)

	ok, err := CheckSubmoduleUpdate("refs/commits/2222222222222222222222222222222222222222", sha)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCheckSubmoduleUpdateRejectsMismatch(t *testing.T) {
	sha, err := git.OidFromString("3333333333333333333333333333333333333333")
	require.NoError(t, err)

	ok, err := CheckSubmoduleUpdate("refs/commits/2222222222222222222222222222222222222222", sha)
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestCheckSubmoduleUpdateIgnoresOtherRefs(t *testing.T) {
	sha, err := git.OidFromString("3333333333333333333333333333333333333333")
	require.NoError(t, err)

	ok, err := CheckSubmoduleUpdate("refs/heads/main", sha)
	require.NoError(t, err)
	assert.True(t, ok)
}
