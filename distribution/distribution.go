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

// Package distribution implements a time-indexed dense series with
// linear interpolation, flat boundary extrapolation, binary-searched
// insertion, and a sliding in-memory window backed by chunkcache.Engine.
//
// A Distribution keeps times[] strictly increasing and fully resident,
// while data[] holds only the current window: the rows at logical
// indices [offset, offset+len(data)). Every public accessor keyed by a
// time value first calls ensureWindowCovers, which flushes the current
// window to the cache engine and reloads whatever range covers the
// requested time if it isn't already resident.
package distribution

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/dyssol-sim/distcache/cachefile"
	"github.com/dyssol-sim/distcache/cachefs"
	"github.com/dyssol-sim/distcache/chunkcache"
	"github.com/dyssol-sim/distcache/chunkcache/dense"
	"github.com/dyssol-sim/distcache/chunkcache/md"
	"github.com/dyssol-sim/distcache/descriptor"
	"github.com/dyssol-sim/distcache/store"
)

// saveVersion is written as the SaveVersion attribute on every
// SaveToFile call.
const saveVersion = 2

// attribute and dataset names used against the store.Store collaborator.
const (
	attrSaveVersion  = "SaveVersion"
	attrDimsNumber   = "DimensionsNumber"
	datasetTimePoint = "TimePoints"
	datasetData      = "Data"
)

// Logger is the nil-safe diagnostic capability threaded through the
// cache layers below.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Distribution is a time-indexed dense series of rows, each of width
// D, with an in-memory sliding window over a disk-backed cache.
type Distribution struct {
	// ID identifies this instance for log correlation; it plays no
	// role in persistence or comparison.
	ID uuid.UUID
	// Logger receives diagnostic lines from this Distribution and
	// the cache layers it owns. Nil disables logging.
	Logger Logger

	dims   int
	times  []float64
	data   [][]float64
	offset int

	winStart, winEnd float64
	coherent         bool

	labels []string

	enabled   bool
	window    int
	cachePath string
	prefix    string

	fs    cachefs.FS
	codec chunkcache.Codec

	files  *cachefile.CacheFileSet
	table  *descriptor.Table
	engine *chunkcache.Engine
}

// New constructs an empty Distribution of dims columns, backed by the
// dense codec (a fixed-width block of doubles) when caching is turned
// on. Caching starts disabled; call SetCachePath and SetCacheParams to
// enable it.
func New(dims int) *Distribution {
	return newDistribution(dense.Codec{}, "DD_", dims)
}

// NewMatrix constructs an empty Distribution backed by the MD codec (a
// time vector plus a variable-width data matrix) instead of the dense
// one. Everything else behaves identically.
func NewMatrix(dims int) *Distribution {
	return newDistribution(md.Codec{}, "MD_", dims)
}

func newDistribution(codec chunkcache.Codec, prefix string, dims int) *Distribution {
	return &Distribution{
		ID:     uuid.New(),
		dims:   dims,
		labels: make([]string, dims),
		window: chunkcache.DefaultChunkSize,
		prefix: prefix,
		codec:  codec,
		fs:     cachefs.OS{},
	}
}

// SetFS overrides the filesystem implementation used once caching is
// enabled. Call it before SetCacheParams; it has no effect on an
// already-initialized cache.
func (d *Distribution) SetFS(fs cachefs.FS) { d.fs = fs }

// SetCachePath sets the directory new cache files are created under.
// An empty path force-disables caching regardless of SetCacheParams.
func (d *Distribution) SetCachePath(path string) { d.cachePath = path }

// SetCacheParams turns spill-to-disk on or off and sets the window
// size W. The first time it is called with enabled and a non-empty
// cache path, it lazily creates the backing CacheFileSet and cache
// engine; once created, a Distribution keeps using the same one for
// its lifetime.
func (d *Distribution) SetCacheParams(enabled bool, window int) error {
	d.enabled = enabled
	d.window = window
	if d.cachePath == "" {
		d.enabled = false
	}
	if d.enabled && d.engine == nil {
		d.files = cachefile.New(d.fs)
		if err := d.files.Initialize(d.cachePath, d.prefix); err != nil {
			return err
		}
		d.table = &descriptor.Table{}
		d.engine = chunkcache.New(d.codec, d.files, d.table)
		d.engine.Dims = d.dims
		d.engine.Logger = d.Logger
		d.files.Logger = d.Logger
	}
	if d.enabled {
		return d.maybeCache()
	}
	return nil
}

func (d *Distribution) errorf(f string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(f, args...)
	}
}

// Clear discards every time point and row and releases the cache.
func (d *Distribution) Clear() {
	d.times = nil
	d.data = nil
	d.dims = 0
	d.labels = nil
	d.clearCache()
}

func (d *Distribution) clearCache() {
	d.winStart, d.winEnd = 0, 0
	d.offset = 0
	d.coherent = false
	if d.engine == nil {
		return
	}
	d.table = &descriptor.Table{}
	d.engine.Table = d.table
	if err := d.files.ClearAll(); err != nil {
		d.errorf("distribution: clear cache: %v", err)
	}
}

// Len returns the number of time points in the series.
func (d *Distribution) Len() int { return len(d.times) }

// TimePoints returns a copy of the full, strictly increasing time
// index.
func (d *Distribution) TimePoints() []float64 { return append([]float64(nil), d.times...) }

// TimeForIndex returns the time point at logical index i, or -1 if i
// is out of range.
func (d *Distribution) TimeForIndex(i int) float64 {
	if i < 0 || i >= len(d.times) {
		return -1
	}
	return d.times[i]
}

// IndexesForInterval returns every logical index i with
// a <= times[i] <= b.
func (d *Distribution) IndexesForInterval(a, b float64) []int {
	var res []int
	for i, t := range d.times {
		if t >= a && t <= b {
			res = append(res, i)
		}
	}
	return res
}

// GetDimensionsNumber returns D, the row width.
func (d *Distribution) GetDimensionsNumber() int { return d.dims }

// SetDimensionLabel sets the label of column i, if it is in range.
func (d *Distribution) SetDimensionLabel(i int, label string) {
	if i >= 0 && i < d.dims {
		d.labels[i] = label
	}
}

// Label returns the label of column i, or "" if out of range.
func (d *Distribution) Label(i int) string {
	if i < 0 || i >= d.dims {
		return ""
	}
	return d.labels[i]
}

// SetDimensionLabels replaces every label at once. It is a no-op
// returning false if labels does not have exactly D entries.
func (d *Distribution) SetDimensionLabels(labels []string) bool {
	if len(labels) != d.dims {
		return false
	}
	copy(d.labels, labels)
	return true
}

// Labels returns a copy of every column's label.
func (d *Distribution) Labels() []string { return append([]string(nil), d.labels...) }

// row returns the row at logical index i if it is currently resident,
// or a zero row otherwise. Callers that need i to be resident must
// call ensureWindowCovers(times[i]) (or a range containing it) first.
func (d *Distribution) row(i int) []float64 {
	if i < d.offset || i >= d.offset+len(d.data) {
		return make([]float64, d.dims)
	}
	return d.data[i-d.offset]
}

func indexByTime(times []float64, t float64) int {
	lo, hi := 0, len(times)
	for lo < hi {
		mid := (lo + hi) / 2
		if t <= times[mid] {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func interpolateAt(yLeft, yRight, xLeft, xRight, x float64) float64 {
	return (yRight-yLeft)/(xRight-xLeft)*(x-xLeft) + yLeft
}

// extrapolateQuadratic evaluates the unique parabola through
// (x0,y0), (x1,y1), (x2,y2) at x, via the Lagrange basis.
func extrapolateQuadratic(y0, y1, y2, x0, x1, x2, x float64) float64 {
	l0 := (x - x1) * (x - x2) / ((x0 - x1) * (x0 - x2))
	l1 := (x - x0) * (x - x2) / ((x1 - x0) * (x1 - x2))
	l2 := (x - x0) * (x - x1) / ((x2 - x0) * (x2 - x1))
	return y0*l0 + y1*l1 + y2*l2
}

// Value returns the value of column dim at time t: the exact value if
// t is a time point, linear interpolation if it lies between two time
// points, and flat extrapolation (the nearest endpoint row) if it lies
// outside the series entirely.
func (d *Distribution) Value(t float64, dim int) float64 {
	if dim < 0 || dim >= d.dims || len(d.times) == 0 {
		return 0
	}
	if err := d.ensureWindowCovers(t); err != nil {
		d.errorf("distribution: ensure window covers %v: %v", t, err)
		return 0
	}
	if len(d.times) == 1 {
		return d.row(0)[dim]
	}
	idx := indexByTime(d.times, t)
	if idx < len(d.times) && d.times[idx] == t {
		return d.row(idx)[dim]
	}
	if idx == len(d.times) {
		return d.row(len(d.times) - 1)[dim]
	}
	if idx == 0 {
		return d.row(0)[dim]
	}
	left, right := d.row(idx-1), d.row(idx)
	return interpolateAt(left[dim], right[dim], d.times[idx-1], d.times[idx], t)
}

// Row returns the full row at time t, computed the same way Value
// does column by column.
func (d *Distribution) Row(t float64) []float64 {
	if len(d.times) == 0 {
		return make([]float64, d.dims)
	}
	if err := d.ensureWindowCovers(t); err != nil {
		d.errorf("distribution: ensure window covers %v: %v", t, err)
		return make([]float64, d.dims)
	}
	if len(d.times) == 1 {
		return append([]float64(nil), d.row(0)...)
	}
	idx := indexByTime(d.times, t)
	if idx < len(d.times) && d.times[idx] == t {
		return append([]float64(nil), d.row(idx)...)
	}
	if idx == len(d.times) {
		return append([]float64(nil), d.row(len(d.times)-1)...)
	}
	if idx == 0 {
		return append([]float64(nil), d.row(0)...)
	}
	left, right := d.row(idx-1), d.row(idx)
	tl, tr := d.times[idx-1], d.times[idx]
	res := make([]float64, d.dims)
	for i := range res {
		res[i] = interpolateAt(left[i], right[i], tl, tr, t)
	}
	return res
}

// Column returns the value of column dim at every time point.
func (d *Distribution) Column(dim int) []float64 {
	if dim < 0 || dim >= d.dims {
		return nil
	}
	res := make([]float64, len(d.times))
	for i := range d.times {
		res[i] = d.Value(d.times[i], dim)
	}
	return res
}

// ValuesAt returns the value of column dim at each of times.
func (d *Distribution) ValuesAt(times []float64, dim int) []float64 {
	if dim < 0 || dim >= d.dims {
		return nil
	}
	res := make([]float64, len(times))
	for i, t := range times {
		res[i] = d.Value(t, dim)
	}
	return res
}

// ValueForIndex returns a copy of the row at logical index i.
func (d *Distribution) ValueForIndex(i int) []float64 {
	if i < 0 || i >= len(d.times) {
		return make([]float64, d.dims)
	}
	if err := d.ensureWindowCovers(d.times[i]); err != nil {
		d.errorf("distribution: ensure window covers index %d: %v", i, err)
		return make([]float64, d.dims)
	}
	return append([]float64(nil), d.row(i)...)
}

func insertFloat(s []float64, i int, v float64) []float64 {
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func insertRow(s [][]float64, i int, v []float64) [][]float64 {
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeFloat(s []float64, i int) []float64 { return append(s[:i], s[i+1:]...) }
func removeRow(s [][]float64, i int) [][]float64 { return append(s[:i], s[i+1:]...) }

// AddTimePoint inserts a new time point at t via binary search. If t
// already exists, this is a no-op. The new row is a copy: of the row
// at src (interpolated if src lies between existing points) when
// src >= 0; otherwise of the predecessor row, or the successor row if
// inserting at the very front, or the last row if appending at the
// tail.
func (d *Distribution) AddTimePoint(t float64, src ...float64) {
	s := -1.0
	if len(src) > 0 {
		s = src[0]
	}
	if t < 0 {
		return
	}

	var newRow []float64
	if len(d.times) == 0 {
		if err := d.ensureWindowCovers(t); err != nil {
			d.errorf("distribution: add time point %v: %v", t, err)
			return
		}
		newRow = make([]float64, d.dims)
		d.times = append(d.times, t)
		d.data = append(d.data, newRow)
	} else {
		idx := indexByTime(d.times, t)
		if idx < len(d.times) {
			if d.times[idx] == t {
				return
			}
			if s == -1 {
				if idx > 0 {
					if err := d.ensureWindowCovers(d.times[idx-1]); err != nil {
						d.errorf("distribution: add time point %v: %v", t, err)
						return
					}
					newRow = append([]float64(nil), d.row(idx-1)...)
				} else {
					if err := d.ensureWindowCovers(d.times[idx]); err != nil {
						d.errorf("distribution: add time point %v: %v", t, err)
						return
					}
					newRow = append([]float64(nil), d.row(idx)...)
				}
			} else {
				newRow = d.Row(s)
			}
			if err := d.ensureWindowCovers(t); err != nil {
				d.errorf("distribution: add time point %v: %v", t, err)
				return
			}
			d.times = insertFloat(d.times, idx, t)
			d.data = insertRow(d.data, idx-d.offset, newRow)
		} else {
			if s == -1 {
				if err := d.ensureWindowCovers(d.times[len(d.times)-1]); err != nil {
					d.errorf("distribution: add time point %v: %v", t, err)
					return
				}
				newRow = append([]float64(nil), d.row(len(d.times)-1)...)
			} else {
				newRow = d.Row(s)
			}
			if err := d.ensureWindowCovers(t); err != nil {
				d.errorf("distribution: add time point %v: %v", t, err)
				return
			}
			d.times = append(d.times, t)
			d.data = append(d.data, newRow)
		}
	}

	d.coherent = false
	d.correctWindowBoundary()
	if err := d.maybeCache(); err != nil {
		d.errorf("distribution: maybe cache after add time point %v: %v", t, err)
	}
}

// SetRow inserts a time point at t if it does not already exist, then
// overwrites its row with row. It is a no-op if row's width does not
// match D.
func (d *Distribution) SetRow(t float64, row []float64) {
	if len(row) != d.dims {
		return
	}
	if err := d.ensureWindowCovers(t); err != nil {
		d.errorf("distribution: set row %v: %v", t, err)
		return
	}
	idx := indexByTime(d.times, t)
	if idx < len(d.times) {
		if d.times[idx] == t {
			d.data[idx-d.offset] = append([]float64(nil), row...)
		} else {
			d.times = insertFloat(d.times, idx, t)
			d.data = insertRow(d.data, idx-d.offset, append([]float64(nil), row...))
		}
	} else {
		d.times = append(d.times, t)
		d.data = append(d.data, append([]float64(nil), row...))
	}
	d.coherent = false
	d.correctWindowBoundary()
	if err := d.maybeCache(); err != nil {
		d.errorf("distribution: maybe cache after set row %v: %v", t, err)
	}
}

// SetValue inserts a time point at t if it does not already exist
// (copying the predecessor row, or a zero row for the very first
// point), then overwrites column dim with v.
func (d *Distribution) SetValue(t float64, dim int, v float64) {
	if dim < 0 || dim >= d.dims {
		return
	}
	if err := d.ensureWindowCovers(t); err != nil {
		d.errorf("distribution: set value %v: %v", t, err)
		return
	}
	idx := indexByTime(d.times, t)
	if idx < len(d.times) {
		if d.times[idx] == t {
			d.data[idx-d.offset][dim] = v
		} else {
			newRow := make([]float64, d.dims)
			if idx > 0 {
				newRow = append([]float64(nil), d.row(idx-1)...)
			}
			newRow[dim] = v
			d.times = insertFloat(d.times, idx, t)
			d.data = insertRow(d.data, idx-d.offset, newRow)
		}
	} else {
		newRow := make([]float64, d.dims)
		if len(d.data) != 0 {
			newRow = append([]float64(nil), d.data[len(d.data)-1]...)
		}
		newRow[dim] = v
		d.times = append(d.times, t)
		d.data = append(d.data, newRow)
	}
	d.coherent = false
	d.correctWindowBoundary()
	if err := d.maybeCache(); err != nil {
		d.errorf("distribution: maybe cache after set value %v: %v", t, err)
	}
}

// SetValueAt overwrites column dim of the row at logical index
// timeIndex directly, with no insertion.
func (d *Distribution) SetValueAt(timeIndex, dim int, v float64) {
	if timeIndex < 0 || timeIndex >= len(d.times) {
		return
	}
	if dim < 0 || dim >= d.dims {
		return
	}
	if err := d.ensureWindowCovers(d.times[timeIndex]); err != nil {
		d.errorf("distribution: set value at %d: %v", timeIndex, err)
		return
	}
	d.data[timeIndex-d.offset][dim] = v
	d.coherent = false
}

// RemoveTimePoint removes the time point equal to t, if any.
func (d *Distribution) RemoveTimePoint(t float64) {
	if len(d.times) == 0 {
		return
	}
	idx := indexByTime(d.times, t)
	if idx < len(d.times) && d.times[idx] == t {
		if err := d.ensureWindowCovers(t); err != nil {
			d.errorf("distribution: remove time point %v: %v", t, err)
			return
		}
		d.data = removeRow(d.data, idx-d.offset)
		d.times = removeFloat(d.times, idx)
	}
	d.coherent = false
	d.correctWindowBoundary()
}

// RemoveTimePoints removes every time point in [t1, t2].
func (d *Distribution) RemoveTimePoints(t1, t2 float64) {
	if len(d.times) > 0 && d.times[0] == t1 && d.times[len(d.times)-1] == t2 {
		d.RemoveAllTimePoints()
		return
	}
	d.RemoveTimePointsByIndex(d.IndexesForInterval(t1, t2))
}

// RemoveTimePointsByIndex removes the time points at the given logical
// indices. idx must be in ascending order (as IndexesForInterval
// returns it); it is processed back-to-front so earlier indices stay
// valid as later ones are removed.
func (d *Distribution) RemoveTimePointsByIndex(idx []int) {
	if len(idx) > 0 && len(d.times) > 0 &&
		d.times[0] == d.times[idx[0]] && d.times[len(d.times)-1] == d.times[idx[len(idx)-1]] {
		d.RemoveAllTimePoints()
		return
	}
	for i := len(idx) - 1; i >= 0; i-- {
		n := idx[i]
		if n >= len(d.times) {
			continue
		}
		if err := d.ensureWindowCovers(d.times[n]); err != nil {
			d.errorf("distribution: remove time point index %d: %v", n, err)
			continue
		}
		d.data = removeRow(d.data, n-d.offset)
		d.times = removeFloat(d.times, n)
		d.coherent = false
	}
	d.coherent = false
	d.correctWindowBoundary()
}

// RemoveAllDataAfter removes every time point after startTime
// (inclusive if includeStartTime is set).
func (d *Distribution) RemoveAllDataAfter(startTime float64, includeStartTime bool) {
	if len(d.times) == 0 {
		return
	}
	start := indexByTime(d.times, startTime)
	if !includeStartTime && start < len(d.times) && d.times[start] == startTime {
		start++
	}
	if start >= len(d.times) {
		return
	}
	if d.times[start] == d.times[0] {
		d.RemoveAllTimePoints()
		return
	}
	if err := d.ensureWindowCoversRange(d.times[start], d.times[len(d.times)-1]); err != nil {
		d.errorf("distribution: remove all data after %v: %v", startTime, err)
		return
	}
	d.data = d.data[:start-d.offset]
	d.times = d.times[:start]
	d.coherent = false
	d.correctWindowBoundary()
}

// ChangeTimePoint changes the time point at logical index index to
// newValue, adjusting the resident window boundary if the changed
// point used to be (or now is) its edge.
func (d *Distribution) ChangeTimePoint(index int, newValue float64) {
	if index < 0 || index >= len(d.times) {
		return
	}
	if newValue < d.winStart {
		if err := d.ensureWindowCoversRange(newValue, d.winStart); err != nil {
			d.errorf("distribution: change time point %d: %v", index, err)
			return
		}
	} else if newValue > d.winEnd {
		if err := d.ensureWindowCoversRange(d.winEnd, newValue); err != nil {
			d.errorf("distribution: change time point %d: %v", index, err)
			return
		}
	}
	old := d.times[index]
	d.times[index] = newValue
	if d.winStart == old {
		d.winStart = newValue
	} else if d.winEnd == old {
		d.winEnd = newValue
	}
	d.coherent = false
}

// RemoveAllTimePoints discards every time point and row and releases
// the cache.
func (d *Distribution) RemoveAllTimePoints() {
	if len(d.times) == 0 {
		return
	}
	d.times = nil
	d.data = nil
	d.clearCache()
}

// SetDimensionsNumber resizes every row (resident or cached) to n
// columns by truncation or zero-extension. Setting n to 0 clears the
// whole series.
func (d *Distribution) SetDimensionsNumber(n int) {
	if n == d.dims {
		return
	}
	if n == 0 {
		d.Clear()
		return
	}
	if d.engine != nil {
		d.engine.Dims = n
	}
	for i := range d.times {
		if err := d.ensureWindowCovers(d.times[i]); err != nil {
			d.errorf("distribution: set dimensions number: %v", err)
			return
		}
		row := d.row(i)
		if n < d.dims {
			d.data[i-d.offset] = append([]float64(nil), row[:n]...)
		} else {
			grown := append([]float64(nil), row...)
			for len(grown) < n {
				grown = append(grown, 0)
			}
			d.data[i-d.offset] = grown
		}
		d.coherent = false
	}
	d.dims = n
	d.labels = resizeLabels(d.labels, n)
	d.coherent = false
}

func resizeLabels(labels []string, n int) []string {
	out := make([]string, n)
	copy(out, labels)
	return out
}

// AddDimension appends one zero-valued column to every row.
func (d *Distribution) AddDimension() {
	if d.engine != nil {
		d.engine.Dims = d.dims + 1
	}
	for i := range d.times {
		if err := d.ensureWindowCovers(d.times[i]); err != nil {
			d.errorf("distribution: add dimension: %v", err)
			return
		}
		row := d.row(i)
		grown := append([]float64(nil), row...)
		for len(grown) < d.dims+1 {
			grown = append(grown, 0)
		}
		d.data[i-d.offset] = grown
		d.coherent = false
	}
	d.dims++
	d.labels = append(d.labels, "")
	d.coherent = false
}

// RemoveDimension removes column idx from every row.
func (d *Distribution) RemoveDimension(idx int) {
	if idx < 0 || idx >= d.dims {
		return
	}
	if d.engine != nil {
		d.engine.Dims = d.dims - 1
	}
	for i := range d.times {
		if err := d.ensureWindowCovers(d.times[i]); err != nil {
			d.errorf("distribution: remove dimension: %v", err)
			return
		}
		row := d.row(i)
		d.data[i-d.offset] = append(append([]float64(nil), row[:idx]...), row[idx+1:]...)
		d.coherent = false
	}
	d.labels = append(d.labels[:idx], d.labels[idx+1:]...)
	d.dims--
	d.coherent = false
}

// CopyRangeFrom copies every row of src in [t1, t2] into this
// Distribution, inserting time points as needed. It returns false
// without copying anything if the two series have different widths.
func (d *Distribution) CopyRangeFrom(src *Distribution, t1, t2 float64) bool {
	if d.dims != src.GetDimensionsNumber() {
		return false
	}
	for _, i := range src.IndexesForInterval(t1, t2) {
		d.SetRow(src.TimeForIndex(i), src.ValueForIndex(i))
	}
	return true
}

// CopyPointFrom copies src's row at time t into this Distribution at
// the same time, inserting it if necessary.
func (d *Distribution) CopyPointFrom(src *Distribution, t float64) bool {
	if d.dims != src.GetDimensionsNumber() {
		return false
	}
	d.AddTimePoint(t)
	d.SetRow(t, src.Row(t))
	return true
}

// CopyToTimePointFrom copies src's row at time tSrc into this
// Distribution at time tDst.
func (d *Distribution) CopyToTimePointFrom(src *Distribution, tSrc, tDst float64) bool {
	if d.dims != src.GetDimensionsNumber() {
		return false
	}
	d.AddTimePoint(tDst)
	d.SetRow(tDst, src.Row(tSrc))
	return true
}

// ExtrapolateToPoint computes a row at tExtra by linear extrapolation
// from the values at t1 and t2, then stores it as a new time point.
func (d *Distribution) ExtrapolateToPoint(t1, t2, tExtra float64) {
	if err := d.ensureWindowCoversRange(t1, tExtra); err != nil {
		d.errorf("distribution: extrapolate to point %v: %v", tExtra, err)
		return
	}
	res := make([]float64, d.dims)
	if len(d.times) > 0 {
		if len(d.times) == 1 {
			res = append([]float64(nil), d.row(0)...)
		} else {
			v1, v2 := d.Row(t1), d.Row(t2)
			for i := range res {
				res[i] = interpolateAt(v1[i], v2[i], t1, t2, tExtra)
			}
		}
	}
	d.SetRow(tExtra, res)
}

// ExtrapolateQuadraticToPoint computes a row at tExtra by quadratic
// extrapolation through (t0, t1, t2) when at least three time points
// exist; it falls back to the two-point linear form with only two
// points, or replicates the single existing row with only one.
func (d *Distribution) ExtrapolateQuadraticToPoint(t0, t1, t2, tExtra float64) {
	if err := d.ensureWindowCoversRange(t0, tExtra); err != nil {
		d.errorf("distribution: extrapolate quadratic to point %v: %v", tExtra, err)
		return
	}
	res := make([]float64, d.dims)
	switch {
	case len(d.times) > 2:
		v0, v1, v2 := d.Row(t0), d.Row(t1), d.Row(t2)
		for i := range res {
			res[i] = extrapolateQuadratic(v0[i], v1[i], v2[i], t0, t1, t2, tExtra)
		}
	case len(d.times) == 2:
		d.ExtrapolateToPoint(t0, t2, tExtra)
		return
	case len(d.times) == 1:
		res = append([]float64(nil), d.row(0)...)
	}
	d.SetRow(tExtra, res)
}

// ensureWindowCovers loads whatever descriptor range covers t into the
// resident window, if it isn't already covered. It has its own
// coverage check and, when a reload is needed, reloads the range
// [t, t].
func (d *Distribution) ensureWindowCovers(t float64) error {
	if !d.enabled || d.engine == nil {
		return nil
	}
	if len(d.times) > 0 && d.times[len(d.times)-1] == d.winEnd && t > d.times[len(d.times)-1] {
		d.winEnd = d.times[len(d.times)-1]
		return nil
	}
	if t < d.winStart || t > d.winEnd {
		return d.reload(t, t)
	}
	return nil
}

// ensureWindowCoversRange is the range form of ensureWindowCovers.
func (d *Distribution) ensureWindowCoversRange(t1, t2 float64) error {
	if !d.enabled || d.engine == nil {
		return nil
	}
	if len(d.times) > 0 && d.times[len(d.times)-1] == d.winEnd && t1 > d.winStart && t2 > d.times[len(d.times)-1] {
		d.winEnd = d.times[len(d.times)-1]
		return nil
	}
	if t1 < d.winStart || t2 > d.winEnd {
		return d.reload(t1, t2)
	}
	return nil
}

func (d *Distribution) reload(t1, t2 float64) error {
	if err := d.flush(); err != nil {
		return err
	}
	rows, skip, winStart, winEnd, err := d.engine.ReadRange(t1, t2)
	if err != nil {
		return fmt.Errorf("distribution: reload [%v,%v]: %w", t1, t2, err)
	}
	d.data = rows
	d.offset = skip
	d.winStart = winStart
	d.winEnd = winEnd
	d.coherent = true
	return nil
}

// flush writes the resident buffer back through the cache engine, if
// there is anything unflushed, and clears the window.
func (d *Distribution) flush() error {
	if !d.enabled || d.engine == nil {
		return nil
	}
	if d.offset >= len(d.times) {
		return nil
	}
	if err := d.engine.Write(d.data, d.times, d.offset, len(d.data), d.coherent); err != nil {
		return fmt.Errorf("distribution: flush: %w", err)
	}
	d.offset = len(d.times)
	d.data = nil
	d.winStart, d.winEnd = 0, 0
	return nil
}

// maybeCache spills the oldest W rows to the cache engine whenever the
// resident buffer grows beyond 2*W, repeating until it no longer does.
func (d *Distribution) maybeCache() error {
	if !d.enabled || d.engine == nil {
		return nil
	}
	for len(d.data) > 2*d.window {
		if err := d.engine.Write(d.data, d.times, d.offset, d.window, d.coherent); err != nil {
			return fmt.Errorf("distribution: maybe cache: %w", err)
		}
		d.offset += d.window
		d.data = append([][]float64(nil), d.data[d.window:]...)
		if d.offset < len(d.times) {
			d.winStart = d.times[d.offset]
		}
	}
	return nil
}

// correctWindowBoundary reconciles winStart/winEnd with the timestamps
// of the first and last resident rows, after a mutation that changed
// times.
func (d *Distribution) correctWindowBoundary() {
	if !d.enabled || d.engine == nil {
		return
	}
	if len(d.times) == 0 {
		d.winStart, d.winEnd, d.offset = 0, 0, 0
		return
	}
	if d.offset >= len(d.times) {
		d.winStart, d.winEnd = 0, 0
		return
	}
	if len(d.data) > 0 {
		d.winStart = d.times[d.offset]
		d.winEnd = d.times[d.offset+len(d.data)-1]
	}
}

func equalRow(a, b []float64) bool {
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

// SaveToFile persists this Distribution to path inside s. It first
// forces the whole series resident and contiguous, then writes the
// SaveVersion and DimensionsNumber attributes and the TimePoints and
// Data datasets. If every row is identical, only one row is written as
// a compression optimization; LoadFromFile re-expands it.
func (d *Distribution) SaveToFile(s store.Store, path string) error {
	if len(d.times) > 0 {
		if err := d.ensureWindowCoversRange(d.times[0], d.times[len(d.times)-1]); err != nil {
			return fmt.Errorf("distribution: save to %s: %w", path, err)
		}
	}
	if err := s.WriteAttr(path, attrSaveVersion, saveVersion); err != nil {
		return err
	}
	if err := s.WriteAttr(path, attrDimsNumber, uint64(d.dims)); err != nil {
		return err
	}
	if err := s.WriteVector(path, datasetTimePoint, d.times); err != nil {
		return err
	}

	rows := d.data
	if len(rows) > 1 {
		allEqual := true
		first := rows[0]
		for _, row := range rows[1:] {
			if !equalRow(row, first) {
				allEqual = false
				break
			}
		}
		if allEqual {
			rows = rows[:1]
		}
	}
	if err := s.WriteMatrix(path, datasetData, rows); err != nil {
		return err
	}
	return d.maybeCache()
}

// LoadFromFile replaces this Distribution's contents with whatever was
// saved at path inside s, re-expanding a single compressed row across
// every time point if necessary.
func (d *Distribution) LoadFromFile(s store.Store, path string) error {
	d.Clear()

	dims, err := s.ReadAttr(path, attrDimsNumber)
	if err != nil {
		return err
	}
	d.dims = int(dims)
	d.labels = make([]string, d.dims)

	times, err := s.ReadVector(path, datasetTimePoint)
	if err != nil {
		return err
	}
	d.times = times

	rows, err := s.ReadMatrix(path, datasetData)
	if err != nil {
		return err
	}
	if len(rows) == 1 && len(rows) != len(d.times) {
		expanded := make([][]float64, len(d.times))
		for i := range expanded {
			expanded[i] = append([]float64(nil), rows[0]...)
		}
		rows = expanded
	}
	d.data = rows

	if len(d.times) > 0 {
		d.winStart = d.times[0]
		d.winEnd = d.times[len(d.times)-1]
	} else {
		d.winStart, d.winEnd = 0, 0
	}
	d.offset = 0
	d.coherent = false
	if d.engine != nil {
		d.engine.Dims = d.dims
	}
	return d.maybeCache()
}
