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

package md

import (
	"testing"

	"github.com/dyssol-sim/distcache/chunkcache"
)

type buf struct {
	b []byte
}

func (b *buf) WriteAt(p []byte, off int64) (int, error) {
	end := int(off) + len(p)
	if end > len(b.b) {
		grown := make([]byte, end)
		copy(grown, b.b)
		b.b = grown
	}
	copy(b.b[off:], p)
	return len(p), nil
}

func (b *buf) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b.b[off:])
	return n, nil
}

func TestRoundTrip(t *testing.T) {
	c := Codec{}
	times := []float64{0, 1, 2}
	rows := chunkcache.Window{
		{1, 10},
		{2, 20},
		{3, 30},
	}
	var dst buf
	n, err := c.Encode(&dst, times, rows)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := int64(headerSize + 3*8 + 2*3*8)
	if n != want {
		t.Fatalf("Encode size = %d, want %d", n, want)
	}

	got, err := c.Decode(&dst, 3)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("Decode rows = %d, want 3", got.Len())
	}
	for i, row := range rows {
		for j := range row {
			if got[i][j] != row[j] {
				t.Fatalf("row %d col %d: got %v want %v", i, j, got[i][j], row[j])
			}
		}
	}
}

func TestFitsInPlaceStrict(t *testing.T) {
	c := Codec{}
	if !c.FitsInPlace(5, 5) {
		t.Fatal("equal sizes should fit in place")
	}
	if !c.FitsInPlace(3, 5) {
		t.Fatal("smaller new chunk should fit in the old, larger slot")
	}
	if c.FitsInPlace(6, 5) {
		t.Fatal("a wider new chunk must not reuse a narrower slot")
	}
}

func TestDecodeEmpty(t *testing.T) {
	c := Codec{}
	var dst buf
	if _, err := c.Encode(&dst, nil, nil); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(&dst, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != nil {
		t.Fatalf("Decode of empty chunk = %v, want nil", got)
	}
}
