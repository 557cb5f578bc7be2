// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"sort"

	"modernc.org/sortutil"
)

// Dict maps raw integer identifiers to contiguous zero-based indices. Identifiers are
// sorted ascending, so the same set of identifiers always gets the same indices.
type Dict struct {
	ids   []int
	index map[int]int32
}

// NewDict creates a dictionary from identifiers. Duplicates are allowed.
func NewDict(ids []int) *Dict {
	sorted := make([]int, len(ids))
	copy(sorted, ids)
	n := sortutil.Dedupe(sort.IntSlice(sorted))
	d := &Dict{
		ids:   sorted[:n:n],
		index: make(map[int]int32, n),
	}
	for i, id := range d.ids {
		d.index[id] = int32(i)
	}
	return d
}

func (d *Dict) Count() int {
	return len(d.ids)
}

// Index returns the dense index of a raw identifier.
func (d *Dict) Index(id int) (int32, bool) {
	index, ok := d.index[id]
	return index, ok
}

// ID returns the raw identifier of a dense index.
func (d *Dict) ID(index int32) (int, bool) {
	if index < 0 || int(index) >= len(d.ids) {
		return 0, false
	}
	return d.ids[index], true
}

// IDs returns raw identifiers in index order. The slice must not be modified.
func (d *Dict) IDs() []int {
	return d.ids
}
