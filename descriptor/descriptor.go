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

// Package descriptor holds the in-memory
// bookkeeping for one CacheFileSet: an ordered
// list of chunk descriptors, each describing
// where one on-disk chunk lives and what time
// range it covers.
package descriptor

import (
	"golang.org/x/exp/slices"
)

// Descriptor describes one on-disk chunk. Apart
// from its Valid flag, a Descriptor is not changed
// once its chunk has been written; Set and Insert
// replace entries wholesale, and Invalidate is the
// one Table method that clears Valid in place.
type Descriptor struct {
	// Valid is false for tombstones: slots whose
	// backing bytes are still allocated on disk
	// but no longer hold live data.
	Valid bool
	// FileNumber is the index into the owning
	// CacheFileSet.
	FileNumber int
	// Count is the number of time points stored
	// in this chunk.
	Count int
	// TStart and TEnd are the first and last
	// time point in the chunk (TStart <= TEnd).
	TStart, TEnd float64
	// Offset is the byte offset within the file
	// where the chunk begins.
	Offset int64
}

// Table is an ordered sequence of Descriptors.
// Non-empty descriptors with Valid == true are
// kept ordered by TStart ascending, with
// non-overlapping, logically contiguous time
// ranges; invalid descriptors may appear anywhere
// and are tombstones left behind until Compact
// removes them.
type Table struct {
	d []Descriptor
}

// Len returns the number of descriptors in the
// table, valid or not.
func (t *Table) Len() int { return len(t.d) }

// At returns the descriptor at position i.
func (t *Table) At(i int) Descriptor { return t.d[i] }

// Set replaces the descriptor at position i.
func (t *Table) Set(i int, d Descriptor) { t.d[i] = d }

// Insert inserts d at position i, shifting
// everything at or after i to the right.
func (t *Table) Insert(i int, d Descriptor) {
	t.d = slices.Insert(t.d, i, d)
}

// Append adds d at the end of the table.
func (t *Table) Append(d Descriptor) {
	t.d = append(t.d, d)
}

// Delete removes the descriptor at position i.
func (t *Table) Delete(i int) {
	t.d = slices.Delete(t.d, i, i+1)
}

// FindRead returns the inclusive index range
// [lo, hi] that must be read to cover time t. The
// range walks the table in its stored order
// (which includes tombstones at their original
// chronological position) and the rules are
// applied in order:
//
//   - if t is before (or equal to, for a
//     singleton) the first entry's end, (0, 0);
//   - if t is after the last entry's start,
//     (n-1, n-1);
//   - if t falls strictly inside entry i, (i, i);
//   - if t falls in the gap between entries i-1
//     and i, (i-1, i).
//
// Callers (see chunkcache.Engine.ReadRange) skip
// any tombstone (Valid == false) found within the
// returned range rather than reading it; FindRead
// itself does not filter, because tombstones
// retain the chronological position of the chunk
// they used to describe until Compact runs.
func (t *Table) FindRead(tm float64) (lo, hi int) {
	if len(t.d) == 0 {
		return 0, 0
	}
	i := t.findReadIndex(tm)
	return i[0], i[1]
}

// FindReadRange returns the index range that must
// be read to cover [t1, t2], swapping the
// arguments first if t2 < t1. The left and right
// endpoints are located independently using the
// same rules as FindRead, and the result spans
// from the left descriptor through the right one.
func (t *Table) FindReadRange(t1, t2 float64) (lo, hi int) {
	if t2 < t1 {
		t1, t2 = t2, t1
	}
	if len(t.d) == 0 {
		return 0, 0
	}
	l := t.findReadIndex(t1)
	r := t.findReadIndex(t2)
	lo, hi = l[0], r[1]
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

func (t *Table) findReadIndex(tm float64) [2]int {
	n := len(t.d)
	first, last := t.d[0], t.d[n-1]
	if tm < first.TEnd || (tm == first.TEnd && tm == first.TStart) {
		return [2]int{0, 0}
	}
	if tm > last.TStart {
		return [2]int{n - 1, n - 1}
	}
	for i := 1; i < n; i++ {
		cur, prev := t.d[i], t.d[i-1]
		if tm > cur.TStart && tm < cur.TEnd {
			return [2]int{i, i}
		}
		if tm >= prev.TEnd && tm <= cur.TStart {
			return [2]int{i - 1, i}
		}
	}
	return [2]int{n - 1, n - 1}
}

// FindWrite locates where a new chunk starting at
// time tm should be written. If the table holds any
// invalid slot, it returns the lowest one without
// consulting tm, with insert reporting whether a
// valid descriptor follows that slot. Failing that,
// if tm is before the last chunk's TEnd it returns
// the index of the first chunk whose TStart exceeds
// tm (or the table length if none does) with
// insert = true; otherwise the end of the table
// (append, insert = false).
func (t *Table) FindWrite(tm float64) (index int, insert bool) {
	if len(t.d) == 0 {
		return 0, false
	}
	firstInvalid := -1
	for i := range t.d {
		if !t.d[i].Valid {
			firstInvalid = i
			break
		}
	}
	if firstInvalid >= 0 {
		insert = false
		for i := firstInvalid + 1; i < len(t.d); i++ {
			if t.d[i].Valid {
				insert = true
				break
			}
		}
		return firstInvalid, insert
	}
	// no invalid blocks: search by time
	last := t.d[len(t.d)-1]
	if tm < last.TEnd {
		insert = true
		for index = 0; index < len(t.d); index++ {
			if tm < t.d[index].TStart {
				break
			}
		}
		return index, insert
	}
	return len(t.d), false
}

// Invalidate marks descriptors in the inclusive
// range [lo, hi] as invalid, without removing
// them; they stay in the table until a subsequent
// Compact erases them, and their file space stays
// allocated (Compact does not touch the files).
func (t *Table) Invalidate(lo, hi int) {
	for i := lo; i <= hi && i < len(t.d); i++ {
		t.d[i].Valid = false
	}
}

// Compact removes the run of invalid descriptors
// starting at index: it erases the entry at index
// for as long as that entry is invalid, stopping at
// the first valid one (or the end of the table),
// and leaves everything from there on. The caller is
// responsible for establishing that collapsing
// the range at index is safe (e.g. because it
// just finished writing through index-1).
func (t *Table) Compact(index int) {
	for index < len(t.d) && !t.d[index].Valid {
		t.Delete(index)
	}
}
