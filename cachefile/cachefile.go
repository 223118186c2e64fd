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

// Package cachefile manages a family of blob files sharing a random
// prefix: CacheFileSet allocates write slots out of them, reopens them
// for read or in-place update, and reclaims unused tail space.
package cachefile

import (
	"crypto/rand"
	"fmt"
	"path/filepath"

	"github.com/dchest/siphash"

	"github.com/dyssol-sim/distcache/cachefs"
)

// DefaultMaxFileSize is MAX_FILE_SIZE: the size cap applied to every
// file in a set, after which AllocateWrite moves on to the next file
// number.
const DefaultMaxFileSize int64 = 2 * 1024 * 1024 * 1024

const ext = ".cache"

// Policy selects how AllocateWrite picks a slot.
type Policy int

const (
	// Append always scans for a fresh slot, ignoring any existing
	// descriptor passed in.
	Append Policy = iota
	// InPlace reuses the given file and offset as-is; AllocateWrite
	// does not check whether the slot has room for the new payload.
	InPlace
)

type Logger interface {
	Printf(f string, args ...interface{})
}

// CacheFileSet is a directory path plus a random prefix; member files
// are named <prefix><rand8hex><i>.cache for i = 0, 1, ... until the
// first missing index.
type CacheFileSet struct {
	Logger Logger

	fs          cachefs.FS
	dir         string
	stem        string // prefix + random suffix, without trailing index/ext
	maxFileSize int64
}

func (s *CacheFileSet) errorf(f string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(f, args...)
	}
}

// New constructs a CacheFileSet that will use fs for all I/O. Call
// Initialize before using it.
func New(fs cachefs.FS) *CacheFileSet {
	return &CacheFileSet{fs: fs, maxFileSize: DefaultMaxFileSize}
}

// SetMaxFileSize overrides DefaultMaxFileSize.
func (s *CacheFileSet) SetMaxFileSize(n int64) { s.maxFileSize = n }

// Initialize ensures dir exists, draws random 8-hex-character suffixes
// until <dir>/<prefix><rand>0.cache does not exist, and creates that
// empty file as an uncontended namespace claim.
func (s *CacheFileSet) Initialize(dir, prefix string) error {
	if err := s.fs.MkdirAll(dir); err != nil {
		return fmt.Errorf("cachefile: creating %s: %w", dir, err)
	}
	s.dir = dir
	for {
		suffix, err := randomSuffix()
		if err != nil {
			return fmt.Errorf("cachefile: generating prefix: %w", err)
		}
		stem := prefix + suffix
		zero := s.path(stem, 0)
		exists, err := s.fs.Exists(zero)
		if err != nil {
			return fmt.Errorf("cachefile: probing %s: %w", zero, err)
		}
		if exists {
			continue
		}
		f, err := s.fs.Create(zero)
		if err != nil {
			return fmt.Errorf("cachefile: creating %s: %w", zero, err)
		}
		f.Close()
		s.stem = stem
		return nil
	}
}

func randomSuffix() (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", err
	}
	key0 := uint64(0x5d1ec810febed702)
	key1 := uint64(0x9e3779b97f4a7c15)
	h := siphash.Hash(key0, key1, nonce[:])
	return fmt.Sprintf("%08x", uint32(h)), nil
}

func (s *CacheFileSet) path(stem string, fileNumber int) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%d%s", stem, fileNumber, ext))
}

func (s *CacheFileSet) fileName(fileNumber int) string {
	return s.path(s.stem, fileNumber)
}

// ReadHandle is a file positioned at the start of one chunk, ready to
// be decoded by a Codec.
type ReadHandle struct {
	cachefs.File
	Offset int64
}

// OpenForRead opens the file indicated by fileNumber and positions a
// read at offset.
func (s *CacheFileSet) OpenForRead(fileNumber int, offset int64) (*ReadHandle, error) {
	f, err := s.fs.OpenRead(s.fileName(fileNumber))
	if err != nil {
		s.errorf("cachefile: open %d for read: %v", fileNumber, err)
		return nil, fmt.Errorf("cachefile: open %d for read: %w", fileNumber, err)
	}
	return &ReadHandle{File: f, Offset: offset}, nil
}

// WriteHandle is a file positioned at the byte offset where a new (or
// reused) chunk should be written.
type WriteHandle struct {
	cachefs.File
	FileNumber int
	Offset     int64
}

// AllocateWrite finds a slot for a chunk of bytesToWrite bytes. If
// policy is InPlace, the caller has already established that the slot
// named by fileNumber/offset has room for the new chunk, and it is
// reused as-is with no further bookkeeping. Otherwise AllocateWrite
// scans file numbers 0, 1, ...: the first nonexistent one becomes a
// fresh file opened truncated, and failing that the first existing
// one whose current size plus bytesToWrite stays below the set's
// MAX_FILE_SIZE is opened for read-write, positioned at end-of-file.
func (s *CacheFileSet) AllocateWrite(policy Policy, fileNumber int, offset int64, bytesToWrite int64) (*WriteHandle, error) {
	if policy == InPlace {
		f, err := s.fs.OpenReadWrite(s.fileName(fileNumber))
		if err != nil {
			return nil, fmt.Errorf("cachefile: open %d for in-place write: %w", fileNumber, err)
		}
		return &WriteHandle{File: f, FileNumber: fileNumber, Offset: offset}, nil
	}
	for i := 0; ; i++ {
		name := s.fileName(i)
		exists, err := s.fs.Exists(name)
		if err != nil {
			return nil, fmt.Errorf("cachefile: probing %s: %w", name, err)
		}
		if !exists {
			f, err := s.fs.Create(name)
			if err != nil {
				return nil, fmt.Errorf("cachefile: creating %s: %w", name, err)
			}
			if err := preallocate(f, bytesToWrite); err != nil {
				s.errorf("cachefile: preallocate %s: %v", name, err)
			}
			return &WriteHandle{File: f, FileNumber: i, Offset: 0}, nil
		}
		size, err := s.fs.Size(name)
		if err != nil {
			return nil, fmt.Errorf("cachefile: sizing %s: %w", name, err)
		}
		if size+bytesToWrite < s.maxFileSize {
			f, err := s.fs.OpenReadWrite(name)
			if err != nil {
				return nil, fmt.Errorf("cachefile: open %s for write: %w", name, err)
			}
			if err := preallocate(f, size+bytesToWrite); err != nil {
				s.errorf("cachefile: preallocate %s: %v", name, err)
			}
			return &WriteHandle{File: f, FileNumber: i, Offset: size}, nil
		}
	}
}

// Truncate shrinks (or grows) the file numbered fileNumber to size
// bytes.
func (s *CacheFileSet) Truncate(fileNumber int, size int64) error {
	name := s.fileName(fileNumber)
	exists, err := s.fs.Exists(name)
	if err != nil {
		return fmt.Errorf("cachefile: probing %s: %w", name, err)
	}
	if !exists {
		return nil
	}
	if err := s.fs.Truncate(name, size); err != nil {
		s.errorf("cachefile: truncate %d to %d: %v", fileNumber, size, err)
		return fmt.Errorf("cachefile: truncate %s: %w", name, err)
	}
	return nil
}

// Size returns the current size in bytes of fileNumber, or (0, false)
// if it does not exist.
func (s *CacheFileSet) Size(fileNumber int) (int64, bool, error) {
	name := s.fileName(fileNumber)
	exists, err := s.fs.Exists(name)
	if err != nil || !exists {
		return 0, false, err
	}
	size, err := s.fs.Size(name)
	return size, true, err
}

// ClearAll truncates every file in the set to size 0.
func (s *CacheFileSet) ClearAll() error {
	for i := 0; ; i++ {
		name := s.fileName(i)
		exists, err := s.fs.Exists(name)
		if err != nil {
			return fmt.Errorf("cachefile: probing %s: %w", name, err)
		}
		if !exists {
			if i == 0 {
				_, err := s.fs.Create(name)
				return err
			}
			return nil
		}
		if err := s.fs.Truncate(name, 0); err != nil {
			return fmt.Errorf("cachefile: clearing %s: %w", name, err)
		}
	}
}

// RemoveAll unlinks every file in the set.
func (s *CacheFileSet) RemoveAll() error {
	for i := 0; ; i++ {
		name := s.fileName(i)
		exists, err := s.fs.Exists(name)
		if err != nil {
			return fmt.Errorf("cachefile: probing %s: %w", name, err)
		}
		if !exists {
			return nil
		}
		if err := s.fs.Remove(name); err != nil {
			return fmt.Errorf("cachefile: removing %s: %w", name, err)
		}
	}
}
