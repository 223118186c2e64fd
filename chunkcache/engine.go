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

// Package chunkcache implements a generic, disk-backed, chunked
// sliding-window cache. Engine orchestrates descriptor lookup, chunk
// read/write, a coherent-reuse fast path that avoids I/O entirely when
// the resident buffer already matches what is on disk, and reclamation
// of cache files whose tail holds nothing but invalidated chunks.
//
// Engine knows nothing about the shape of a row beyond what Codec
// tells it; DenseCodec and MDCodec (in the dense and md subpackages)
// are the two concrete wire formats it is used with. The owning
// series (distribution.Distribution) keeps the full, strictly
// increasing time index resident in memory at all times, so neither
// codec needs to hand decoded timestamps back through Engine: a chunk
// read is located, in the logical sequence, purely by the skip count
// ReadRange returns.
package chunkcache

import (
	"fmt"

	"github.com/dyssol-sim/distcache/cachefile"
	"github.com/dyssol-sim/distcache/descriptor"
)

// DefaultChunkSize is DEFAULT_CHUNK_SIZE: the number of rows per chunk
// used by the slow write path.
const DefaultChunkSize = 100

// Window is a contiguous run of rows, all of the same width.
type Window [][]float64

// Len returns the number of rows in w.
func (w Window) Len() int { return len(w) }

// Codec is the per-format serialization capability that parameterizes
// Engine.
type Codec interface {
	// Encode writes the chunk spanning times/rows (same length) to
	// dst in the codec's wire format and returns the byte count.
	Encode(dst Writer, times []float64, rows Window) (int64, error)
	// Decode reads count rows back from src.
	Decode(src Reader, count int) (Window, error)
	// EncodedSize returns the number of bytes Encode will write for
	// a window of n rows of width dims.
	EncodedSize(n, dims int) int64
	// FitsInPlace reports whether a chunk of newCount rows can
	// overwrite a slot that used to hold a chunk of oldCount rows
	// without a fresh allocation.
	FitsInPlace(newCount, oldCount int) bool
}

// Writer is the capability Encode needs: a seekable byte sink.
type Writer interface {
	WriteAt(p []byte, off int64) (int, error)
}

// Reader is the capability Decode needs: a seekable byte source.
type Reader interface {
	ReadAt(p []byte, off int64) (int, error)
}

type Logger interface {
	Printf(f string, args ...interface{})
}

// Engine is the generic cache engine: it owns a descriptor table and
// a backing CacheFileSet and drives them through a Codec.
type Engine struct {
	Codec     Codec
	Files     *cachefile.CacheFileSet
	Table     *descriptor.Table
	ChunkSize int
	Logger    Logger

	// Dims is the current row width, used to size encode/decode
	// buffers; callers update it when the owning series' dimension
	// count changes.
	Dims int
}

// New constructs an Engine with DefaultChunkSize.
func New(codec Codec, files *cachefile.CacheFileSet, table *descriptor.Table) *Engine {
	return &Engine{Codec: codec, Files: files, Table: table, ChunkSize: DefaultChunkSize}
}

func (e *Engine) errorf(f string, args ...interface{}) {
	if e.Logger != nil {
		e.Logger.Printf(f, args...)
	}
}

// ReadRange finds the covering valid descriptor range via
// FindReadRange, decodes every valid descriptor in it into a single
// Window, and flips each of them to invalid so their storage can be
// reused in place. It returns the decoded rows, the logical row index
// of the first decoded row (skip), and the window bounds
// winStart/winEnd taken from the covering descriptors. A single time
// t is read by passing it as both t1 and t2.
func (e *Engine) ReadRange(t1, t2 float64) (rows Window, skip int, winStart, winEnd float64, err error) {
	if e.Table.Len() == 0 {
		return nil, 0, 0, 0, nil
	}
	lo, hi := e.Table.FindReadRange(t1, t2)
	for i := 0; i < lo; i++ {
		skip += e.Table.At(i).Count
	}
	winStart = e.Table.At(lo).TStart
	winEnd = e.Table.At(hi).TEnd
	for i := lo; i <= hi; i++ {
		d := e.Table.At(i)
		if !d.Valid {
			continue
		}
		chunk, rerr := e.readOne(d)
		if rerr != nil {
			return nil, 0, 0, 0, rerr
		}
		rows = append(rows, chunk...)
		d.Valid = false
		e.Table.Set(i, d)
	}
	return rows, skip, winStart, winEnd, nil
}

func (e *Engine) readOne(d descriptor.Descriptor) (Window, error) {
	rh, err := e.Files.OpenForRead(d.FileNumber, d.Offset)
	if err != nil {
		return nil, err
	}
	defer rh.Close()
	win, err := e.Codec.Decode(offsetReader{rh.File, rh.Offset}, d.Count)
	if err != nil {
		e.errorf("chunkcache: decode file %d at %d: %v", d.FileNumber, d.Offset, err)
		return nil, fmt.Errorf("chunkcache: decode file %d at %d: %w", d.FileNumber, d.Offset, err)
	}
	return win, nil
}

// offsetReader rebases ReadAt calls by a fixed offset, since Decode
// always reads starting at position 0 of the chunk it was handed.
type offsetReader struct {
	r   Reader
	pos int64
}

func (o offsetReader) ReadAt(p []byte, off int64) (int, error) {
	return o.r.ReadAt(p, o.pos+off)
}

// Write writes n rows starting at logical index start, where rows is
// the resident buffer (rows[0] corresponds to times[start]) and times
// is the full, absolutely-indexed time sequence. If coherent is true
// and the descriptor table says the write would land on an existing
// run of descriptors without inserting (the resident buffer is known
// to already match the cached representation), it revalidates those
// descriptors in place and performs no I/O. Otherwise it chunks the
// write into ChunkSize-row pieces via WriteOne and reclaims any cache
// files left with an all-invalid tail.
func (e *Engine) Write(rows Window, times []float64, start, n int, coherent bool) error {
	if n == 0 {
		return nil
	}
	idx, insert := e.Table.FindWrite(times[start])
	if coherent && !insert {
		remaining := n
		for remaining > 0 {
			d := e.Table.At(idx)
			d.Valid = true
			e.Table.Set(idx, d)
			remaining -= d.Count
			idx++
		}
		return nil
	}
	consumed := 0
	for n >= e.ChunkSize*2 {
		chunk := rows[consumed : consumed+e.ChunkSize]
		chunkTimes := times[start+consumed : start+consumed+e.ChunkSize]
		if err := e.WriteOne(idx, chunk, chunkTimes, insert); err != nil {
			return err
		}
		idx++
		consumed += e.ChunkSize
		n -= e.ChunkSize
	}
	chunk := rows[consumed : consumed+n]
	chunkTimes := times[start+consumed : start+consumed+n]
	if err := e.WriteOne(idx, chunk, chunkTimes, insert); err != nil {
		return err
	}
	idx++
	if err := e.Reclaim(); err != nil {
		return err
	}
	e.Table.Compact(idx)
	return nil
}

// WriteOne encodes one chunk (rows and times, of equal length) at
// table position idx. It reuses the existing slot at idx in place
// when forceInsert is false, idx names a currently-invalid
// descriptor, the new chunk's encoded size (at the current Dims) does
// not exceed that of the chunk the slot held, and the codec agrees
// the new chunk fits in the old slot; otherwise it asks the
// CacheFileSet for a fresh slot and inserts a new descriptor.
func (e *Engine) WriteOne(idx int, rows Window, times []float64, forceInsert bool) error {
	size := len(rows)
	newDesc := descriptor.Descriptor{
		Valid:  true,
		Count:  size,
		TStart: times[0],
		TEnd:   times[size-1],
	}

	reuse := !forceInsert && idx < e.Table.Len()
	if reuse {
		existing := e.Table.At(idx)
		reuse = !existing.Valid &&
			e.Codec.EncodedSize(size, e.Dims) <= e.Codec.EncodedSize(existing.Count, e.Dims) &&
			e.Codec.FitsInPlace(size, existing.Count)
		if reuse {
			newDesc.FileNumber = existing.FileNumber
			newDesc.Offset = existing.Offset
		}
	}

	bytesToWrite := e.Codec.EncodedSize(size, e.Dims)
	var wh *cachefile.WriteHandle
	var err error
	if reuse {
		wh, err = e.Files.AllocateWrite(cachefile.InPlace, newDesc.FileNumber, newDesc.Offset, bytesToWrite)
	} else {
		wh, err = e.Files.AllocateWrite(cachefile.Append, 0, 0, bytesToWrite)
		if err == nil {
			newDesc.FileNumber = wh.FileNumber
			newDesc.Offset = wh.Offset
		}
	}
	if err != nil {
		return err
	}
	defer wh.Close()

	if _, err := e.Codec.Encode(offsetWriter{wh.File, wh.Offset}, times, rows); err != nil {
		e.errorf("chunkcache: encode file %d at %d: %v", newDesc.FileNumber, newDesc.Offset, err)
		return fmt.Errorf("chunkcache: encode file %d at %d: %w", newDesc.FileNumber, newDesc.Offset, err)
	}

	if reuse {
		e.Table.Set(idx, newDesc)
	} else {
		e.Table.Insert(idx, newDesc)
	}
	return nil
}

type offsetWriter struct {
	w   Writer
	pos int64
}

func (o offsetWriter) WriteAt(p []byte, off int64) (int, error) {
	return o.w.WriteAt(p, o.pos+off)
}

type fileExtent struct {
	minInvalid int64
	maxValid   int64
	hasValid   bool
}

// Reclaim truncates every cache file whose lowest invalid-descriptor
// offset exceeds every valid descriptor's offset in that file, down to
// that minimum invalid offset. A file with no valid descriptors left
// at all is truncated all the way down to its lowest invalid offset
// (typically 0). It is the only size-reducing operation in the engine.
func (e *Engine) Reclaim() error {
	extents := map[int]*fileExtent{}
	n := e.Table.Len()
	for i := 0; i < n; i++ {
		d := e.Table.At(i)
		ext, ok := extents[d.FileNumber]
		if !ok {
			ext = &fileExtent{minInvalid: -1}
			extents[d.FileNumber] = ext
		}
		if d.Valid {
			if !ext.hasValid || d.Offset > ext.maxValid {
				ext.maxValid = d.Offset
			}
			ext.hasValid = true
		} else if ext.minInvalid == -1 || d.Offset < ext.minInvalid {
			ext.minInvalid = d.Offset
		}
	}
	for fileNumber, ext := range extents {
		if ext.minInvalid == -1 {
			continue
		}
		if !ext.hasValid || ext.maxValid < ext.minInvalid {
			if err := e.Files.Truncate(fileNumber, ext.minInvalid); err != nil {
				return err
			}
		}
	}
	return nil
}
