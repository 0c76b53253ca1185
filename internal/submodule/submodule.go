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

// Package submodule implements the §4.B submodule config codec: parsing
// and emitting the .gitmodules blob, and resolving a submodule's URL
// against a base URL.
package submodule

import (
	"fmt"
	"sort"
	"strings"

	"lab.nexedi.com/kirr/go123/mem"
)

// Binding is one [submodule "NAME"] section: a path bound to a URL. The
// pinned commit id is *not* part of .gitmodules -- it lives in the tree
// entry (gitlink) and is threaded through separately by the caller.
type Binding struct {
	Name string
	Path string
	URL  string
}

// Map is path -> {url}, keyed by path-normalized (no trailing slash) path,
// exactly as §4.B specifies.
type Map map[string]Binding

// normPath strips a trailing slash so "a/b/" and "a/b" key the same entry.
func normPath(path string) string {
	return strings.TrimRight(path, "/")
}

// Parse decodes a .gitmodules blob into a Map.
//
// Grammar (a restricted ini-like format):
//
//	[submodule "NAME"]
//		path = PATH
//		url = URL
//
// Unknown keys inside a [submodule] section are ignored (forward
// compatibility); unknown top-level sections are ignored as well, since
// .gitmodules historically also carries [submodule "x"] update/branch/etc
// keys this core does not model.
func Parse(blob []byte) (Map, error) {
	m := Map{}
	var curName string
	var curPath, curURL string
	var inSection bool

	flush := func() error {
		if !inSection {
			return nil
		}
		if curPath == "" {
			return fmt.Errorf("submodule: section %q has no path", curName)
		}
		m[normPath(curPath)] = Binding{Name: curName, Path: normPath(curPath), URL: curURL}
		return nil
	}

	lines := strings.Split(mem.String(blob), "\n")
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			if err := flush(); err != nil {
				return nil, err
			}
			name, ok := parseSectionHeader(line)
			if !ok {
				inSection = false
				continue
			}
			curName, curPath, curURL = name, "", ""
			inSection = true
			continue
		}
		if !inSection {
			continue
		}
		key, val, ok := parseKV(line)
		if !ok {
			continue
		}
		switch key {
		case "path":
			curPath = val
		case "url":
			curURL = val
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return m, nil
}

// parseSectionHeader parses `[submodule "name"]` -> name, true. Any other
// section header (or a malformed submodule header) returns ok=false.
func parseSectionHeader(line string) (string, bool) {
	if !strings.HasPrefix(line, "[submodule ") {
		return "", false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(line, "[submodule "), "]")
	rest = strings.TrimSpace(rest)
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", false
	}
	return rest[1 : len(rest)-1], true
}

func parseKV(line string) (key, val string, ok bool) {
	i := strings.Index(line, "=")
	if i < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:i])
	val = strings.TrimSpace(line[i+1:])
	return key, val, true
}

// Emit produces the canonical text form of m: sections sorted by name,
// tab-indented keys, trailing newline. emit(parse(text)) == text whenever
// text was itself canonical (invariant 2 in §8).
func Emit(m Map) []byte {
	names := make([]string, 0, len(m))
	byName := make(map[string]Binding, len(m))
	for _, b := range m {
		names = append(names, b.Name)
		byName[b.Name] = b
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		b := byName[name]
		fmt.Fprintf(&sb, "[submodule %q]\n", name)
		fmt.Fprintf(&sb, "\tpath = %s\n", b.Path)
		fmt.Fprintf(&sb, "\turl = %s\n", b.URL)
	}
	return []byte(sb.String())
}

// ResolveURL resolves a (possibly relative) submodule URL against base, per
// §4.B: a URL beginning with "." is joined onto base with the trailing
// "/" of the result stripped. A relative URL with no base is a fatal
// configuration error, reported to the caller as ok=false.
func ResolveURL(url, base string) (string, bool) {
	if !strings.HasPrefix(url, ".") {
		return url, true
	}
	if base == "" {
		return "", false
	}
	joined := strings.TrimRight(base, "/") + "/" + url
	joined = cleanRelative(joined)
	return strings.TrimRight(joined, "/"), true
}

// cleanRelative resolves "." and ".." path segments in a URL's path part
// without touching the scheme/host (net/url's path.Clean would mangle
// "scheme://host" into "scheme:/host", so this is done by hand on the
// segment list instead).
func cleanRelative(u string) string {
	parts := strings.Split(u, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p {
		case ".":
			// drop
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
