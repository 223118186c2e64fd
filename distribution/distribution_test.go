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

package distribution

import (
	"testing"

	"github.com/dyssol-sim/distcache/store"
)

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}

// Scenario 1: interpolation and flat extrapolation.
func TestInterpolationAndFlatExtrapolation(t *testing.T) {
	d := New(2)
	d.SetRow(0.0, []float64{1, 10})
	d.SetRow(1.0, []float64{2, 20})
	d.SetRow(2.0, []float64{3, 30})

	if got := d.Row(0.5); !almostEqual(got[0], 1.5) || !almostEqual(got[1], 15.0) {
		t.Fatalf("GetValue(0.5) = %v, want [1.5 15]", got)
	}
	if got := d.Row(-1.0); !almostEqual(got[0], 1) || !almostEqual(got[1], 10) {
		t.Fatalf("GetValue(-1.0) = %v, want [1 10] (flat extrapolation)", got)
	}
	if got := d.Row(5.0); !almostEqual(got[0], 3) || !almostEqual(got[1], 30) {
		t.Fatalf("GetValue(5.0) = %v, want [3 30] (flat extrapolation)", got)
	}
}

// Scenario 2: sliding window with W=2 stays bounded and round-trips.
func TestSlidingWindowStaysBounded(t *testing.T) {
	dir := t.TempDir()
	d := New(1)
	d.SetCachePath(dir)
	if err := d.SetCacheParams(true, 2); err != nil {
		t.Fatalf("SetCacheParams: %v", err)
	}

	for i := 0; i < 7; i++ {
		d.SetRow(float64(i), []float64{float64(i)})
		if len(d.data) > 2*d.window {
			t.Fatalf("resident buffer grew to %d rows after inserting t=%d, want <= %d", len(d.data), i, 2*d.window)
		}
	}

	if got := d.Value(3.0, 0); got != 3 {
		t.Fatalf("GetValue(3.0) = %v, want 3", got)
	}
	if got := d.Value(6.0, 0); got != 6 {
		t.Fatalf("GetValue(6.0) = %v, want 6", got)
	}
}

// Scenario 3: writing several chunks then removing a middle range
// reclaims disk space and leaves the remaining rows intact.
func TestRemoveRangeReclaimsAndPreservesRest(t *testing.T) {
	dir := t.TempDir()
	d := New(1)
	d.SetCachePath(dir)
	if err := d.SetCacheParams(true, 20); err != nil {
		t.Fatalf("SetCacheParams: %v", err)
	}

	const chunks, perChunk = 5, 20
	for i := 0; i < chunks*perChunk; i++ {
		d.SetRow(float64(i), []float64{float64(i)})
	}

	// Remove the whole second and third chunk's worth of time points.
	d.RemoveTimePoints(float64(perChunk), float64(3*perChunk-1))

	for i := 0; i < perChunk; i++ {
		if got := d.Value(float64(i), 0); got != float64(i) {
			t.Fatalf("row %d changed after range remove: got %v", i, got)
		}
	}
	for i := 3 * perChunk; i < chunks*perChunk; i++ {
		if got := d.Value(float64(i), 0); got != float64(i) {
			t.Fatalf("row %d changed after range remove: got %v", i, got)
		}
	}
	for i := perChunk; i < 3*perChunk; i++ {
		if idx := indexByTime(d.times, float64(i)); idx < len(d.times) && d.times[idx] == float64(i) {
			t.Fatalf("time point %d should have been removed", i)
		}
	}
}

// Scenario 4: SetDimensionsNumber grows rows with zeros and preserves
// existing columns.
func TestSetDimensionsNumberGrowsWithZeros(t *testing.T) {
	d := New(2)
	d.SetRow(0, []float64{1, 2})
	d.SetRow(1, []float64{3, 4})
	d.SetRow(2, []float64{5, 6})

	d.SetDimensionsNumber(3)

	for i, want := range [][]float64{{1, 2, 0}, {3, 4, 0}, {5, 6, 0}} {
		got := d.Row(float64(i))
		for c := range want {
			if got[c] != want[c] {
				t.Fatalf("row %d = %v, want %v", i, got, want)
			}
		}
	}
}

// Scenario 5: quadratic extrapolation through three points.
func TestExtrapolateQuadraticToPoint(t *testing.T) {
	d := New(1)
	d.SetRow(0.0, []float64{0})
	d.SetRow(1.0, []float64{2})
	d.SetRow(2.0, []float64{6})

	d.ExtrapolateQuadraticToPoint(0.0, 1.0, 2.0, 3.0)

	got := d.Value(3.0, 0)
	if !almostEqual(got, 12.0) {
		t.Fatalf("ExtrapolateQuadraticToPoint -> %v, want 12", got)
	}
}

// Scenario 6: save/load round trip through an external store.
func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := New(2)
	d.SetCachePath(dir)
	if err := d.SetCacheParams(true, 4); err != nil {
		t.Fatalf("SetCacheParams: %v", err)
	}
	for i := 0; i < 10; i++ {
		d.SetRow(float64(i), []float64{float64(i), float64(-i)})
	}

	mem := store.NewMem()
	if err := d.SaveToFile(mem, "/series"); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded := New(0)
	if err := loaded.LoadFromFile(mem, "/series"); err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if loaded.Len() != d.Len() {
		t.Fatalf("Len() = %d, want %d", loaded.Len(), d.Len())
	}
	for _, tm := range d.TimePoints() {
		want := d.Row(tm)
		got := loaded.Row(tm)
		for c := range want {
			if want[c] != got[c] {
				t.Fatalf("row at t=%v: got %v, want %v", tm, got, want)
			}
		}
	}
}

// Law: overwrite.
func TestSetValueThenGetValue(t *testing.T) {
	d := New(1)
	d.SetValue(1.0, 0, 42.0)
	if got := d.Value(1.0, 0); got != 42.0 {
		t.Fatalf("GetValue after SetValue = %v, want 42", got)
	}
}

// Law: insert idempotence.
func TestAddTimePointTwiceIsNoop(t *testing.T) {
	d := New(1)
	d.AddTimePoint(1.0)
	d.SetValue(1.0, 0, 7)
	d.AddTimePoint(1.0)
	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", d.Len())
	}
	if got := d.Value(1.0, 0); got != 7 {
		t.Fatalf("GetValue = %v, want 7 (second AddTimePoint must not overwrite)", got)
	}
}

// Law: flush/reload round trip produces bit-identical doubles.
func TestFlushReloadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := New(1)
	d.SetCachePath(dir)
	if err := d.SetCacheParams(true, 3); err != nil {
		t.Fatalf("SetCacheParams: %v", err)
	}
	for i := 0; i < 20; i++ {
		d.SetRow(float64(i), []float64{float64(i) * 1.5})
	}
	before := make([]float64, 20)
	for i := range before {
		before[i] = d.Value(float64(i), 0)
	}

	// Force an arbitrary flush/reload by touching the two extremes.
	_ = d.Value(0, 0)
	_ = d.Value(19, 0)

	for i := range before {
		if got := d.Value(float64(i), 0); got != before[i] {
			t.Fatalf("t=%d: got %v after reload, want %v", i, got, before[i])
		}
	}
}

func TestLabelsTrackDimensions(t *testing.T) {
	d := New(2)
	d.SetDimensionLabel(0, "temp")
	d.SetDimensionLabel(1, "pressure")
	d.AddDimension()
	labels := d.Labels()
	if len(labels) != 3 || labels[0] != "temp" || labels[1] != "pressure" || labels[2] != "" {
		t.Fatalf("Labels() = %v", labels)
	}
	d.RemoveDimension(0)
	labels = d.Labels()
	if len(labels) != 2 || labels[0] != "pressure" {
		t.Fatalf("Labels() after RemoveDimension = %v", labels)
	}
}

func TestCopyRangeFromRejectsDimensionMismatch(t *testing.T) {
	src := New(2)
	src.SetRow(0, []float64{1, 2})
	dst := New(3)
	if dst.CopyRangeFrom(src, 0, 0) {
		t.Fatal("CopyRangeFrom should refuse a dimension mismatch")
	}
}

func TestCopyRangeFromCopiesRows(t *testing.T) {
	src := New(1)
	for i := 0; i < 5; i++ {
		src.SetRow(float64(i), []float64{float64(i)})
	}
	dst := New(1)
	if !dst.CopyRangeFrom(src, 1, 3) {
		t.Fatal("CopyRangeFrom should succeed for matching dims")
	}
	for i := 1; i <= 3; i++ {
		if got := dst.Value(float64(i), 0); got != float64(i) {
			t.Fatalf("copied row %d = %v, want %v", i, got, i)
		}
	}
	if dst.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", dst.Len())
	}
}
