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

package stitch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-meta/git-meta/internal/git"
)

func mustOid(t *testing.T, s string) git.Oid {
	t.Helper()
	id, err := git.OidFromString(s)
	require.NoError(t, err)
	return id
}

func TestEncodeDecodeChangesRoundtrip(t *testing.T) {
	changes := []subChange{
		{Path: "libs/a", Old: mustOid(t, "1111111111111111111111111111111111111111"), New: mustOid(t, "2222222222222222222222222222222222222222")},
		{Path: "libs/b", Old: mustOid(t, "3333333333333333333333333333333333333333"), Delete: true},
	}
	encoded := encodeChanges(changes)
	decoded := decodeChanges(encoded)
	require.Len(t, decoded, 2)
	assert.Equal(t, changes[0].Path, decoded[0].Path)
	assert.Equal(t, changes[0].New, decoded[0].New)
	assert.True(t, decoded[1].Delete)
}

func TestSubsToJSONIsSortedAndValid(t *testing.T) {
	subs := map[string]git.Oid{
		"z": mustOid(t, "1111111111111111111111111111111111111111"),
		"a": mustOid(t, "2222222222222222222222222222222222222222"),
	}
	out := subsToJSON(subs)
	assert.Equal(t, `{"a":"2222222222222222222222222222222222222222","z":"1111111111111111111111111111111111111111"}`, out)
}

func TestDecodeChangesIgnoresMalformedLines(t *testing.T) {
	out := decodeChanges("not\tenough\tfields\n\nlibs/a\t1111111111111111111111111111111111111111\t2222222222222222222222222222222222222222\t0\n")
	require.Len(t, out, 1)
	assert.Equal(t, "libs/a", out[0].Path)
}
