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

package git

import (
	"runtime"
	"strings"

	git2go "github.com/libgit2/git2go/v31"
)

// ReferenceCollection implements set_ref/delete_ref/list_refs from §6.
type ReferenceCollection struct {
	r *Repository
}

// Reference is a safe, fully-copied ref snapshot (name + target).
type Reference struct {
	Name   string
	Target Oid
}

func (rc *ReferenceCollection) Create(name string, id Oid, force bool, logMsg string) (*Reference, error) {
	ref, err := rc.r.repo.References.Create(name, &id, force, logMsg)
	if err != nil {
		return nil, err
	}
	defer ref.Free()
	return &Reference{Name: name, Target: id}, nil
}

// SetRef is the §6 set_ref(name, oid, force) operation.
func (rc *ReferenceCollection) SetRef(name string, id Oid, force bool) error {
	_, err := rc.Create(name, id, force, "git-meta")
	return err
}

// DeleteRef is the §6 delete_ref(name) operation.
func (rc *ReferenceCollection) DeleteRef(name string) error {
	ref, err := rc.r.repo.References.Lookup(name)
	if err != nil {
		if git2go.IsErrorCode(err, git2go.ErrorCodeNotFound) {
			return nil
		}
		return err
	}
	defer ref.Free()
	return ref.Delete()
}

func (rc *ReferenceCollection) Lookup(name string) (*Reference, bool) {
	ref, err := rc.r.repo.References.Lookup(name)
	if err != nil {
		return nil, false
	}
	defer ref.Free()
	return &Reference{Name: stringsClone(name), Target: *oidClone(ref.Target())}, true
}

// ListRefs is the §6 list_refs(prefix) operation.
func (rc *ReferenceCollection) ListRefs(prefix string) ([]Reference, error) {
	iter, err := rc.r.repo.NewReferenceIterator()
	if err != nil {
		return nil, err
	}
	defer iter.Free()

	var out []Reference
	for {
		ref, err := iter.Next()
		if err != nil {
			break // iterator exhausted
		}
		name := ref.Name()
		if strings.HasPrefix(name, prefix) {
			out = append(out, Reference{Name: stringsClone(name), Target: *oidClone(ref.Target())})
		}
		ref.Free()
	}
	runtime.KeepAlive(rc.r)
	return out, nil
}

// ---- notes ----

// NoteCollection implements notes_read/notes_write from §6.
type NoteCollection struct {
	r *Repository
}

// Write creates or overwrites a note on obj under notesRef, authored by
// sig, and returns the note's own oid.
func (nc *NoteCollection) Write(notesRef string, sig Signature, obj Oid, message string) (Oid, error) {
	id, err := nc.r.repo.Notes.Create(notesRef, &sig, &sig, &obj, message, true)
	if err != nil {
		return Oid{}, err
	}
	return *oidClone(id), nil
}

// Read returns the note message attached to obj under notesRef, and
// whether one exists.
func (nc *NoteCollection) Read(notesRef string, obj Oid) (string, bool) {
	note, err := nc.r.repo.Notes.Read(notesRef, &obj)
	if err != nil {
		return "", false
	}
	defer note.Free()
	return stringsClone(note.Message()), true
}

// Remove deletes the note attached to obj under notesRef, if any.
func (nc *NoteCollection) Remove(notesRef string, sig Signature, obj Oid) error {
	err := nc.r.repo.Notes.Remove(notesRef, &sig, &sig, &obj)
	if err != nil && git2go.IsErrorCode(err, git2go.ErrorCodeNotFound) {
		return nil
	}
	return err
}

// ForEach iterates all notes under notesRef, calling f(annotatedObj, noteOid).
func (nc *NoteCollection) ForEach(notesRef string, f func(annotated, note Oid) error) error {
	iter, err := nc.r.repo.NewNoteIterator(notesRef)
	if err != nil {
		if git2go.IsErrorCode(err, git2go.ErrorCodeNotFound) {
			return nil
		}
		return err
	}
	defer iter.Free()
	for {
		noteId, annotatedId, err := iter.Next()
		if err != nil {
			break
		}
		if ferr := f(*oidClone(annotatedId), *oidClone(noteId)); ferr != nil {
			return ferr
		}
	}
	return nil
}
