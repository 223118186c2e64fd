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

package dense

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
	rows := chunkcache.Window{
		{1, 10},
		{2, 20},
		{3, 30},
	}
	times := []float64{0, 1, 2}
	var dst buf
	n, err := c.Encode(&dst, times, rows)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != int64(16+3*2*8) {
		t.Fatalf("Encode size = %d, want %d", n, 16+3*2*8)
	}

	got, err := c.Decode(&dst, 3)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Len() != 3 {
		t.Fatalf("Decode rows = %d, want 3", got.Len())
	}
	for i, row := range rows {
		if !floatsEqual(got[i], row) {
			t.Fatalf("row %d: got %v, want %v", i, got[i], row)
		}
	}
}

func TestEncodeEmptyWritesHeaderOnly(t *testing.T) {
	c := Codec{}
	var dst buf
	n, err := c.Encode(&dst, nil, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if n != headerSize {
		t.Fatalf("Encode size = %d, want %d (header only)", n, headerSize)
	}
	got, err := c.Decode(&dst, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != nil {
		t.Fatalf("Decode of empty chunk = %v, want nil", got)
	}
}

func TestEncodedSizeMatchesEncode(t *testing.T) {
	c := Codec{}
	rows := chunkcache.Window{{1, 2, 3}, {4, 5, 6}}
	var dst buf
	n, _ := c.Encode(&dst, []float64{0, 1}, rows)
	if got := c.EncodedSize(2, 3); got != n {
		t.Fatalf("EncodedSize = %d, Encode wrote %d", got, n)
	}
}

func TestFitsInPlaceAlwaysTrue(t *testing.T) {
	c := Codec{}
	if !c.FitsInPlace(1000, 1) {
		t.Fatal("dense FitsInPlace should always report true")
	}
}

func floatsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
