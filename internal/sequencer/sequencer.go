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

// Package sequencer implements §4.G: persisting and resuming multi-commit
// operations. State is written as JSON under <meta-gitdir>/sequencer/state,
// atomically (tmp-file + rename), so a crash between steps leaves a
// recoverable file whose CurrentIndex points at the next commit to replay.
package sequencer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/git-meta/git-meta/internal/errs"
	"github.com/git-meta/git-meta/internal/git"
)

// Kind is the sum type discriminant for State.Kind.
type Kind string

const (
	CherryPick Kind = "cherry_pick"
	Rebase     Kind = "rebase"
	Merge      Kind = "merge"
)

// Ref names the original or target position of an in-progress operation,
// by sha and (when known) the ref it came from.
type Ref struct {
	Sha git.Oid `json:"sha"`
	Ref string  `json:"ref,omitempty"`
}

// State is the persisted description of an in-progress multi-commit
// operation (§4.G SequencerState).
//
// Cherry-pick uses Commits as the ordered list of source shas to replay.
// Rebase uses OriginalHead, Target and Commits (the shas replayed onto
// Target). Merge uses OriginalHead, Target and Message.
type State struct {
	Kind         Kind      `json:"kind"`
	OriginalHead Ref       `json:"original_head"`
	Target       Ref       `json:"target"`
	Commits      []git.Oid `json:"commits,omitempty"`
	CurrentIndex int       `json:"current_index"`
	Message      string    `json:"message,omitempty"`
}

// Sequencer persists State under a meta-git-dir.
type Sequencer struct {
	path string
	mu   sync.Mutex
}

// New returns a Sequencer rooted at <metaGitDir>/sequencer/state.
func New(metaGitDir string) *Sequencer {
	return &Sequencer{path: filepath.Join(metaGitDir, "sequencer", "state")}
}

// Start begins a new operation, writing the initial state at
// current_index=0. It is an error to Start over an already in-progress
// operation; callers should Abort or Continue first.
func (s *Sequencer) Start(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.load(); err == nil {
		return errs.NewUserError("a %s operation is already in progress", existing.Kind)
	}
	st.CurrentIndex = 0
	return s.save(st)
}

// Advance implements the §4.G "on driver success for commit i, rewrite
// with current_index=i+1" rule. Writes happen strictly after the work they
// describe has committed successfully, per the monotonicity invariant.
func (s *Sequencer) Advance(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	st.CurrentIndex = i + 1
	return s.save(st)
}

// Load returns the in-progress State, or *errs.SequencerMissingError if no
// operation is in progress.
func (s *Sequencer) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Sequencer) load() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, &errs.SequencerMissingError{}
		}
		return State{}, fmt.Errorf("sequencer: read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("sequencer: corrupt state file %s: %w", s.path, err)
	}
	return st, nil
}

// save writes st atomically: write to a sibling tmp file, fsync is left to
// the filesystem's rename guarantee, then rename over the real path.
func (s *Sequencer) save(st State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0777); err != nil {
		return fmt.Errorf("sequencer: mkdir %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("sequencer: marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0666); err != nil {
		return fmt.Errorf("sequencer: write temp state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("sequencer: rename state into place: %w", err)
	}
	return nil
}

// Abort deletes the in-progress state, implementing the "operation
// completion or explicit abort" half of the lifecycle. It is a no-op (not
// an error) if nothing is in progress, since --abort racing a concurrent
// completion is expected to be harmless.
func (s *Sequencer) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sequencer: remove state: %w", err)
	}
	return nil
}

// Finish is an alias for Abort used at the natural end of an operation
// (the distinction is purely for call-site readability: Abort names user
// cancellation, Finish names success).
func (s *Sequencer) Finish() error {
	return s.Abort()
}

// InProgress reports whether a sequencer state file currently exists.
func (s *Sequencer) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path)
	return err == nil
}
