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

// Package config reads the two layers of configuration the core draws
// on: git-config keys under the "gitmeta." and "meta." namespaces (§6
// "Config keys read"), and an optional `.git-meta.yml` overlay at the
// meta-repository root for settings that don't fit naturally into
// git-config (stitch/destitch path rules).
package config

import (
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/git-meta/git-meta/internal/git"
)

// GitConfig is the subset of git-config keys the core reads, resolved
// through the repository's own config chain (local, global, system).
type GitConfig struct {
	SubrepoURLBase             string
	SubrepoSuffix              string
	SubrepoRootPath            string
	SkipSyntheticRefPattern    *regexp.Regexp
	SkipSyntheticRefPathPattern *regexp.Regexp
	SyntheticRefNotesRepoPath  string
	SubmoduleTemplatePath      string
	UserName                   string
	UserEmail                  string
	PullRebase                 bool
}

// ReadGitConfig reads every key §6 names out of repo's config.
func ReadGitConfig(repo *git.Repository) GitConfig {
	str := func(key string) string {
		v, _ := repo.ConfigString(key)
		return v
	}
	re := func(key string) *regexp.Regexp {
		v := str(key)
		if v == "" {
			return nil
		}
		compiled, err := regexp.Compile(v)
		if err != nil {
			return nil
		}
		return compiled
	}

	return GitConfig{
		SubrepoURLBase:              str("gitmeta.subrepourlbase"),
		SubrepoSuffix:               str("gitmeta.subreposuffix"),
		SubrepoRootPath:             str("gitmeta.subreporootpath"),
		SkipSyntheticRefPattern:     re("gitmeta.skipsyntheticrefpattern"),
		SkipSyntheticRefPathPattern: re("gitmeta.skipsyntheticrefpathpattern"),
		SyntheticRefNotesRepoPath:   str("gitmeta.syntheticrefnotesrepopath"),
		SubmoduleTemplatePath:       str("meta.submoduletemplatepath"),
		UserName:                    str("user.name"),
		UserEmail:                   str("user.email"),
		PullRebase:                  str("pull.rebase") == "true",
	}
}

// BranchRebase reads branch.<name>.rebase, falling through to
// GitConfig.PullRebase when unset.
func BranchRebase(repo *git.Repository, gc GitConfig, branch string) bool {
	v, ok := repo.ConfigString("branch." + branch + ".rebase")
	if !ok || v == "" {
		return gc.PullRebase
	}
	return v == "true"
}

// Overlay is the `.git-meta.yml` document, for settings the stitch/
// destitch engines need that have no natural git-config home: per-path
// "keep as submodule" rules and an optional re-rooting prefix.
type Overlay struct {
	JoinRoot         string   `yaml:"join_root,omitempty"`
	KeepAsSubmodule  []string `yaml:"keep_as_submodule,omitempty"`
	DefaultBranch    string   `yaml:"default_branch,omitempty"`
	Parallelism      int      `yaml:"parallelism,omitempty"`
}

// LoadOverlay reads <repoRoot>/.git-meta.yml, returning a zero Overlay
// (not an error) if the file does not exist.
func LoadOverlay(repoRoot string) (Overlay, error) {
	data, err := os.ReadFile(filepath.Join(repoRoot, ".git-meta.yml"))
	if err != nil {
		if os.IsNotExist(err) {
			return Overlay{}, nil
		}
		return Overlay{}, err
	}
	var ov Overlay
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return Overlay{}, err
	}
	return ov, nil
}

// KeepAsSubmodulePredicate returns a predicate matching Overlay.KeepAsSubmodule's
// exact-path entries, the form the stitch engine's Options.KeepAsSubmodule
// expects.
func (ov Overlay) KeepAsSubmodulePredicate() func(path string) bool {
	set := make(map[string]bool, len(ov.KeepAsSubmodule))
	for _, p := range ov.KeepAsSubmodule {
		set[p] = true
	}
	return func(path string) bool { return set[path] }
}

// Adjuster builds the stitch engine's PathAdjuster from JoinRoot: paths
// outside the root are excluded, paths inside have the root prefix
// stripped.
func (ov Overlay) Adjuster() func(path string) (string, bool) {
	root := ov.JoinRoot
	if root == "" {
		return func(path string) (string, bool) { return path, true }
	}
	prefix := root + "/"
	return func(path string) (string, bool) {
		if path == root {
			return "", true
		}
		if len(path) > len(prefix) && path[:len(prefix)] == prefix {
			return path[len(prefix):], true
		}
		return "", false
	}
}
