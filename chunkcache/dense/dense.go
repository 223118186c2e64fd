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

// Package dense implements chunkcache.Codec for fixed-width dense
// series: every chunk is a header of (dims, count) followed by
// count*dims doubles in row-major order. Dense chunks never carry
// their own timestamps on the wire; the owning series always keeps
// the full time index resident, so decode hands back rows only.
package dense

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dyssol-sim/distcache/chunkcache"
)

const headerSize = 16 // uint64 dims, uint64 count

// Codec is the dense chunk wire format: little-endian uint64 D, uint64
// N, then N*D doubles, row-major.
//
// FitsInPlace adds no gate of its own: Engine.WriteOne already refuses
// to reuse a slot whose old encoded size is smaller than the new
// chunk's, and for a fixed-width dense chunk that is the whole
// capacity check. MDCodec is the one that adds a count-based gate of
// its own.
type Codec struct{}

var _ chunkcache.Codec = Codec{}

func (Codec) EncodedSize(n, dims int) int64 {
	return int64(headerSize + n*dims*8)
}

func (Codec) FitsInPlace(newCount, oldCount int) bool {
	return true
}

// Encode writes rows as one dense chunk; times is accepted to satisfy
// chunkcache.Codec but not written to the wire. A window with no rows
// writes only the header, with count = 0.
func (Codec) Encode(dst chunkcache.Writer, times []float64, rows chunkcache.Window) (int64, error) {
	n := rows.Len()
	dims := 0
	if n > 0 {
		dims = len(rows[0])
	}
	buf := make([]byte, headerSize+n*dims*8)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(dims))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(n))
	off := headerSize
	for i := 0; i < n; i++ {
		row := rows[i]
		for j := 0; j < dims; j++ {
			binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(row[j]))
			off += 8
		}
	}
	if _, err := dst.WriteAt(buf, 0); err != nil {
		return 0, fmt.Errorf("dense: write: %w", err)
	}
	return int64(len(buf)), nil
}

// Decode reads back a dense chunk. count is the number of rows the
// descriptor claims the chunk holds; the header's own row count is
// authoritative and should agree with it.
func (Codec) Decode(src chunkcache.Reader, count int) (chunkcache.Window, error) {
	hdr := make([]byte, headerSize)
	if _, err := src.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("dense: read header: %w", err)
	}
	dims := int(binary.LittleEndian.Uint64(hdr[0:8]))
	n := int(binary.LittleEndian.Uint64(hdr[8:16]))
	if n == 0 {
		return nil, nil
	}
	body := make([]byte, n*dims*8)
	if _, err := src.ReadAt(body, headerSize); err != nil {
		return nil, fmt.Errorf("dense: read body: %w", err)
	}
	rows := make(chunkcache.Window, n)
	off := 0
	for i := 0; i < n; i++ {
		row := make([]float64, dims)
		for j := 0; j < dims; j++ {
			row[j] = math.Float64frombits(binary.LittleEndian.Uint64(body[off : off+8]))
			off += 8
		}
		rows[i] = row
	}
	return rows, nil
}
