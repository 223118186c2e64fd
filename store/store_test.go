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

package store

import (
	"errors"
	"testing"
)

func TestMemAttrRoundTrip(t *testing.T) {
	m := NewMem()
	if err := m.WriteAttr("/s", "SaveVersion", 2); err != nil {
		t.Fatalf("WriteAttr: %v", err)
	}
	got, err := m.ReadAttr("/s", "SaveVersion")
	if err != nil || got != 2 {
		t.Fatalf("ReadAttr = (%d, %v), want (2, nil)", got, err)
	}
}

func TestMemVectorRoundTripCopies(t *testing.T) {
	m := NewMem()
	data := []float64{1, 2, 3}
	if err := m.WriteVector("/s", "TimePoints", data); err != nil {
		t.Fatalf("WriteVector: %v", err)
	}
	data[0] = 999 // mutate the caller's slice after writing
	got, err := m.ReadVector("/s", "TimePoints")
	if err != nil {
		t.Fatalf("ReadVector: %v", err)
	}
	if got[0] != 1 {
		t.Fatalf("ReadVector returned aliased data: got[0] = %v, want 1", got[0])
	}
}

func TestMemMatrixRoundTrip(t *testing.T) {
	m := NewMem()
	data := [][]float64{{1, 2}, {3, 4}}
	if err := m.WriteMatrix("/s", "Data", data); err != nil {
		t.Fatalf("WriteMatrix: %v", err)
	}
	got, err := m.ReadMatrix("/s", "Data")
	if err != nil {
		t.Fatalf("ReadMatrix: %v", err)
	}
	if len(got) != 2 || got[0][1] != 2 || got[1][0] != 3 {
		t.Fatalf("ReadMatrix = %v", got)
	}
}

func TestMemReadMissingReturnsErrNotFound(t *testing.T) {
	m := NewMem()
	if _, err := m.ReadAttr("/nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadAttr on missing key: got %v, want ErrNotFound", err)
	}
	if _, err := m.ReadVector("/nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadVector on missing key: got %v, want ErrNotFound", err)
	}
	if _, err := m.ReadMatrix("/nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ReadMatrix on missing key: got %v, want ErrNotFound", err)
	}
}
