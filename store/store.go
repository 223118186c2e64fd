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

// Package store defines the external hierarchical key/value
// collaborator a distribution.Distribution persists itself against,
// plus an in-process implementation for use without a real HDF5-like
// backend.
package store

import (
	"fmt"
	"sync"
)

// Store is the minimal interface a distribution.Distribution persists
// itself through: two scalar attributes and two datasets, each rooted
// at a path inside some external hierarchy. Implementations are free
// to interpret path however their backing format requires (an HDF5
// group path, a key prefix, ...).
type Store interface {
	// WriteAttr and ReadAttr handle the SaveVersion and
	// DimensionsNumber attributes.
	WriteAttr(path, name string, value uint64) error
	ReadAttr(path, name string) (uint64, error)

	// WriteVector and ReadVector handle the TimePoints dataset.
	WriteVector(path, name string, data []float64) error
	ReadVector(path, name string) ([]float64, error)

	// WriteMatrix and ReadMatrix handle the Data dataset.
	WriteMatrix(path, name string, data [][]float64) error
	ReadMatrix(path, name string) ([][]float64, error)
}

// ErrNotFound is returned by Mem's Read* methods when the requested
// attribute or dataset has never been written.
var ErrNotFound = fmt.Errorf("store: not found")

// Mem is an in-process Store backed by maps, useful for tests and for
// embedding distcache in a program that has no real hierarchical file
// format to persist against.
type Mem struct {
	mu      sync.Mutex
	attrs   map[string]uint64
	vectors map[string][]float64
	matrix  map[string][][]float64
}

var _ Store = (*Mem)(nil)

// NewMem constructs an empty Mem store.
func NewMem() *Mem {
	return &Mem{
		attrs:   map[string]uint64{},
		vectors: map[string][]float64{},
		matrix:  map[string][][]float64{},
	}
}

func key(path, name string) string { return path + "\x00" + name }

func (m *Mem) WriteAttr(path, name string, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attrs[key(path, name)] = value
	return nil
}

func (m *Mem) ReadAttr(path, name string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.attrs[key(path, name)]
	if !ok {
		return 0, fmt.Errorf("attr %s/%s: %w", path, name, ErrNotFound)
	}
	return v, nil
}

func (m *Mem) WriteVector(path, name string, data []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]float64(nil), data...)
	m.vectors[key(path, name)] = cp
	return nil
}

func (m *Mem) ReadVector(path, name string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vectors[key(path, name)]
	if !ok {
		return nil, fmt.Errorf("dataset %s/%s: %w", path, name, ErrNotFound)
	}
	return append([]float64(nil), v...), nil
}

func (m *Mem) WriteMatrix(path, name string, data [][]float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]float64, len(data))
	for i, row := range data {
		cp[i] = append([]float64(nil), row...)
	}
	m.matrix[key(path, name)] = cp
	return nil
}

func (m *Mem) ReadMatrix(path, name string) ([][]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.matrix[key(path, name)]
	if !ok {
		return nil, fmt.Errorf("dataset %s/%s: %w", path, name, ErrNotFound)
	}
	cp := make([][]float64, len(v))
	for i, row := range v {
		cp[i] = append([]float64(nil), row...)
	}
	return cp, nil
}
