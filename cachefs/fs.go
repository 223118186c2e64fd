// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package cachefs provides the minimal filesystem
// surface that the cache engine needs: existence
// checks, directory creation, size queries,
// truncation and removal. It exists so that
// cachefile.CacheFileSet never imports os
// directly, which keeps the on-disk layer
// testable against an in-memory fake.
package cachefs

import (
	"io"
	"os"
)

// FS is the filesystem capability required by
// cachefile.CacheFileSet. The default
// implementation, OS, forwards to the os package.
type FS interface {
	// Exists reports whether name refers to an
	// existing file.
	Exists(name string) (bool, error)
	// MkdirAll creates name and any necessary
	// parents.
	MkdirAll(name string) error
	// Size returns the current size in bytes of
	// the file named name. It is an error if the
	// file does not exist.
	Size(name string) (int64, error)
	// Create creates (or truncates) name and
	// returns a handle open for reading and
	// writing.
	Create(name string) (File, error)
	// OpenReadWrite opens an existing file for
	// reading and writing without truncating it.
	OpenReadWrite(name string) (File, error)
	// OpenRead opens an existing file for
	// reading only.
	OpenRead(name string) (File, error)
	// Truncate changes the size of name to size,
	// creating it first if necessary.
	Truncate(name string, size int64) error
	// Remove deletes name. It is not an error if
	// name does not exist.
	Remove(name string) error
}

// File is the handle returned by FS's Open/Create
// methods. It is satisfied by *os.File.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	// Truncate changes the size of the
	// underlying file.
	Truncate(size int64) error
}

// OS is the default FS implementation, backed by
// the local filesystem via the os package.
type OS struct{}

var _ FS = OS{}

func (OS) Exists(name string) (bool, error) {
	_, err := os.Stat(name)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (OS) MkdirAll(name string) error {
	return os.MkdirAll(name, 0o755)
}

func (OS) Size(name string) (int64, error) {
	fi, err := os.Stat(name)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (OS) Create(name string) (File, error) {
	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (OS) OpenReadWrite(name string) (File, error) {
	return os.OpenFile(name, os.O_RDWR, 0o644)
}

func (OS) OpenRead(name string) (File, error) {
	return os.OpenFile(name, os.O_RDONLY, 0o644)
}

func (OS) Truncate(name string, size int64) error {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

func (OS) Remove(name string) error {
	err := os.Remove(name)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
