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

// Package md implements chunkcache.Codec for variable-width MD-matrix
// series: every chunk is a header of (count, dims), followed by count
// doubles of time and dims*count doubles of data. Unlike dense chunks,
// the time values are written to the wire; decode still discards them
// rather than handing them back, since the owning series keeps its own
// resident copy of the full time index, but carrying them on the wire
// is what the original format does and a stricter in-place-reuse rule
// than dense's depends on it staying that way.
package md

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dyssol-sim/distcache/chunkcache"
)

const headerSize = 16 // uint64 count, uint64 dims

// Codec is the MD chunk wire format: little-endian uint64 N, uint64 D,
// then N doubles of time, then D*N doubles of data (row = dimension).
//
// FitsInPlace is strict: a chunk can only reuse an old slot if its row
// count does not exceed what the old slot held. This reproduces the
// original cacher's `_nSize > descriptor.descriptorNumber` guard,
// which the originating spec calls out as possibly a workaround rather
// than a deliberate contract; it is kept rather than "fixed".
type Codec struct{}

var _ chunkcache.Codec = Codec{}

func (Codec) EncodedSize(n, dims int) int64 {
	return int64(headerSize + n*8 + dims*n*8)
}

func (Codec) FitsInPlace(newCount, oldCount int) bool {
	return newCount <= oldCount
}

// Encode writes times[i]/rows[i] (equal length) as one MD chunk, with
// the data matrix transposed to dimension-major on the wire.
func (Codec) Encode(dst chunkcache.Writer, times []float64, rows chunkcache.Window) (int64, error) {
	n := rows.Len()
	dims := 0
	if n > 0 {
		dims = len(rows[0])
	}
	buf := make([]byte, headerSize+n*8+dims*n*8)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(n))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(dims))
	off := headerSize
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(times[i]))
		off += 8
	}
	for d := 0; d < dims; d++ {
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(rows[i][d]))
			off += 8
		}
	}
	if _, err := dst.WriteAt(buf, 0); err != nil {
		return 0, fmt.Errorf("md: write: %w", err)
	}
	return int64(len(buf)), nil
}

// Decode reads back an MD chunk's data matrix as rows, discarding the
// wire-format time values (the caller already has the full time index
// resident).
func (Codec) Decode(src chunkcache.Reader, count int) (chunkcache.Window, error) {
	hdr := make([]byte, headerSize)
	if _, err := src.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("md: read header: %w", err)
	}
	n := int(binary.LittleEndian.Uint64(hdr[0:8]))
	dims := int(binary.LittleEndian.Uint64(hdr[8:16]))
	if n == 0 {
		return nil, nil
	}
	body := make([]byte, n*8+dims*n*8)
	if _, err := src.ReadAt(body, headerSize); err != nil {
		return nil, fmt.Errorf("md: read body: %w", err)
	}
	rows := make(chunkcache.Window, n)
	for i := range rows {
		rows[i] = make([]float64, dims)
	}
	off := n * 8 // skip the time vector
	for d := 0; d < dims; d++ {
		for i := 0; i < n; i++ {
			rows[i][d] = math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
			off += 8
		}
	}
	return rows, nil
}
