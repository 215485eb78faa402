//
// Copyright 2026 sel4cap authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package selfearc is the selfe-arc archive format: a flat sequence of
// {name, payload} entries, each framed by a little-endian name length and
// payload length, terminated by a zero-length-name sentinel. It exists to
// embed a root task's child ELF images into one file at build time and
// recover them by name at boot.
package selfearc

import (
	"bufio"
	"encoding/binary"
	"io"
	"path/filepath"
	"sort"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Entry is one named payload in the archive.
type Entry struct {
	Name    string
	Payload []byte
}

// appFs is swapped for an in-memory afero.Fs in tests, mirroring the
// teacher's package-level appFs convention.
var appFs afero.Fs = afero.NewOsFs()

// SetFs overrides the filesystem PackDir/UnpackFile use. Tests call this
// with afero.NewMemMapFs() to avoid touching the real disk.
func SetFs(fs afero.Fs) { appFs = fs }

// writeEntry frames one entry as {uint32 name length}{name bytes}
// {uint64 payload length}{payload bytes}.
func writeEntry(w io.Writer, name string, payload []byte) error {
	nameBytes := []byte(name)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(nameBytes))); err != nil {
		return errors.Wrap(err, "selfearc: write name length")
	}
	if len(nameBytes) > 0 {
		if _, err := w.Write(nameBytes); err != nil {
			return errors.Wrap(err, "selfearc: write name")
		}
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(payload))); err != nil {
		return errors.Wrap(err, "selfearc: write payload length")
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return errors.Wrap(err, "selfearc: write payload")
		}
	}
	return nil
}

// Build packs entries into w in the given order, followed by a
// zero-length-name sentinel entry marking the end of the archive.
func Build(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		if err := writeEntry(w, e.Name, e.Payload); err != nil {
			return err
		}
	}
	return writeEntry(w, "", nil)
}

// ReadAll reads entries from r until it hits the zero-length-name
// sentinel, returning everything read before it.
func ReadAll(r io.Reader) ([]Entry, error) {
	var out []Entry
	for {
		var nameLen uint32
		if err := binary.Read(r, binary.LittleEndian, &nameLen); err != nil {
			return nil, errors.Wrap(err, "selfearc: read name length")
		}
		var payloadLen uint64
		if nameLen == 0 {
			if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
				return nil, errors.Wrap(err, "selfearc: read sentinel payload length")
			}
			return out, nil
		}
		nameBytes := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBytes); err != nil {
			return nil, errors.Wrap(err, "selfearc: read name")
		}
		if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
			return nil, errors.Wrap(err, "selfearc: read payload length")
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, errors.Wrap(err, "selfearc: read payload")
		}
		out = append(out, Entry{Name: string(nameBytes), Payload: payload})
	}
}

// Find returns the first entry named name, following the order Build
// wrote them in.
func Find(entries []Entry, name string) ([]byte, bool) {
	for _, e := range entries {
		if e.Name == name {
			return e.Payload, true
		}
	}
	return nil, false
}

// PackDir walks dir (every regular file, recursively, named by its path
// relative to dir) and writes the resulting archive to archivePath.
// Walking uses godirwalk directly against the real directory tree; only
// the archive file's own read/write goes through appFs, so tests can
// inject an in-memory destination without virtualizing the source tree.
func PackDir(dir, archivePath string) error {
	var entries []Entry
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			payload, err := afero.ReadFile(afero.NewOsFs(), path)
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			entries = append(entries, Entry{Name: rel, Payload: payload})
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return errors.Wrap(err, "selfearc: walk source directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	f, err := appFs.Create(archivePath)
	if err != nil {
		return errors.Wrap(err, "selfearc: create archive")
	}
	defer f.Close()
	return Build(f, entries)
}

// UnpackFile opens archivePath through appFs and reads every entry from it.
func UnpackFile(archivePath string) ([]Entry, error) {
	f, err := appFs.Open(archivePath)
	if err != nil {
		return nil, errors.Wrap(err, "selfearc: open archive")
	}
	defer f.Close()
	return ReadAll(bufio.NewReader(f))
}
