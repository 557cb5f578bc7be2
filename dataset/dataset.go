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
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/gorse-io/twotower/base/log"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Interaction is a rating given by a user to an item.
type Interaction struct {
	UserID    int
	ItemID    int
	Rating    int
	Timestamp int64
}

// ItemRecord is an item as it appears in the item table.
type ItemRecord struct {
	ItemID int
	// Title may contain a parenthesized four-digit release year.
	Title string
	// ReleaseYear is used when the title carries no year. Zero means unknown.
	ReleaseYear int
	Genres      []float32
}

// Item is the parsed metadata of an item.
type Item struct {
	ItemID int
	Title  string
	// Year is the release year, zero if unknown.
	Year   int
	Genres []float32
}

// Rated is an entry of a user history.
type Rated struct {
	Item      int32
	Rating    int
	Timestamp int64
}

var yearPattern = regexp.MustCompile(`\((\d{4})\)`)

// ParseTitle extracts the parenthesized year from a title. The first occurrence is removed
// from the returned title. The year is zero if the title has none.
func ParseTitle(raw string) (string, int) {
	loc := yearPattern.FindStringSubmatchIndex(raw)
	if loc == nil {
		return raw, 0
	}
	year, _ := strconv.Atoi(raw[loc[2]:loc[3]])
	return strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:]), year
}

// GenreMatrix is a dense [items, genres] matrix. Row r holds the genre flags of the item
// whose dense index is r.
type GenreMatrix struct {
	data []float32
	rows int
	cols int
}

func (m *GenreMatrix) Rows() int {
	return m.rows
}

func (m *GenreMatrix) Cols() int {
	return m.cols
}

// Row returns the genre flags of an item. The slice must not be modified.
func (m *GenreMatrix) Row(index int32) []float32 {
	return m.data[int(index)*m.cols : int(index+1)*m.cols]
}

// Gather copies the rows of the given items into a new flat [len(indices), genres] buffer.
func (m *GenreMatrix) Gather(indices []int32) []float32 {
	out := make([]float32, len(indices)*m.cols)
	for i, index := range indices {
		copy(out[i*m.cols:(i+1)*m.cols], m.Row(index))
	}
	return out
}

// Dataset holds interactions and items in dense index spaces.
type Dataset struct {
	userDict   *Dict
	itemDict   *Dict
	items      []Item
	genres     *GenreMatrix
	userIndex  []int32
	itemIndex  []int32
	ratings    []int
	timestamps []int64
	history    [][]Rated
}

// Build indexes interactions and items. Users are taken from interactions and items from
// the item table, both sorted by raw identifier. Interactions referencing unknown items and
// item records with a malformed genre vector are skipped. Among item records sharing an
// identifier, the last one wins.
func Build(interactions []Interaction, records []ItemRecord, numGenres int) (*Dataset, error) {
	if len(interactions) == 0 {
		return nil, errors.NotValidf("empty interactions")
	}
	if len(records) == 0 {
		return nil, errors.NotValidf("empty items")
	}
	if numGenres < 0 {
		return nil, errors.NotValidf("number of genres %d", numGenres)
	}

	// index items
	byID := make(map[int]ItemRecord, len(records))
	malformed := 0
	for _, record := range records {
		if len(record.Genres) != numGenres {
			malformed++
			continue
		}
		byID[record.ItemID] = record
	}
	itemDict := NewDict(lo.Keys(byID))
	items := make([]Item, itemDict.Count())
	genres := &GenreMatrix{
		data: make([]float32, itemDict.Count()*numGenres),
		rows: itemDict.Count(),
		cols: numGenres,
	}
	for index, id := range itemDict.IDs() {
		record := byID[id]
		title, year := ParseTitle(record.Title)
		if year == 0 {
			year = record.ReleaseYear
		}
		row := genres.data[index*numGenres : (index+1)*numGenres]
		copy(row, record.Genres)
		items[index] = Item{ItemID: id, Title: title, Year: year, Genres: row}
	}

	// index users
	kept := lo.Filter(interactions, func(x Interaction, _ int) bool {
		_, ok := byID[x.ItemID]
		return ok
	})
	userDict := NewDict(lo.Map(kept, func(x Interaction, _ int) int { return x.UserID }))
	d := &Dataset{
		userDict:   userDict,
		itemDict:   itemDict,
		items:      items,
		genres:     genres,
		userIndex:  make([]int32, len(kept)),
		itemIndex:  make([]int32, len(kept)),
		ratings:    make([]int, len(kept)),
		timestamps: make([]int64, len(kept)),
		history:    make([][]Rated, userDict.Count()),
	}
	for i, x := range kept {
		d.userIndex[i], _ = userDict.Index(x.UserID)
		d.itemIndex[i], _ = itemDict.Index(x.ItemID)
		d.ratings[i] = x.Rating
		d.timestamps[i] = x.Timestamp
		d.history[d.userIndex[i]] = append(d.history[d.userIndex[i]], Rated{
			Item:      d.itemIndex[i],
			Rating:    x.Rating,
			Timestamp: x.Timestamp,
		})
	}
	for _, h := range d.history {
		sortHistory(h)
	}

	log.Logger().Info("build dataset",
		zap.Int("n_users", d.CountUsers()),
		zap.Int("n_items", d.CountItems()),
		zap.Int("n_interactions", d.CountInteractions()),
		zap.Int("n_dropped_interactions", len(interactions)-len(kept)),
		zap.Int("n_malformed_items", malformed))
	return d, nil
}

// sortHistory orders by rating descending, then timestamp descending, then item ascending.
func sortHistory(h []Rated) {
	sort.SliceStable(h, func(i, j int) bool {
		if h[i].Rating != h[j].Rating {
			return h[i].Rating > h[j].Rating
		}
		if h[i].Timestamp != h[j].Timestamp {
			return h[i].Timestamp > h[j].Timestamp
		}
		return h[i].Item < h[j].Item
	})
}

func (d *Dataset) CountUsers() int {
	return d.userDict.Count()
}

func (d *Dataset) CountItems() int {
	return d.itemDict.Count()
}

func (d *Dataset) CountGenres() int {
	return d.genres.cols
}

func (d *Dataset) CountInteractions() int {
	return len(d.userIndex)
}

func (d *Dataset) UserDict() *Dict {
	return d.userDict
}

func (d *Dataset) ItemDict() *Dict {
	return d.itemDict
}

// UserIndex returns the dense index of a raw user identifier.
func (d *Dataset) UserIndex(userID int) (int32, bool) {
	return d.userDict.Index(userID)
}

// ItemIndex returns the dense index of a raw item identifier.
func (d *Dataset) ItemIndex(itemID int) (int32, bool) {
	return d.itemDict.Index(itemID)
}

// Item returns the metadata of an item by dense index.
func (d *Dataset) Item(index int32) Item {
	return d.items[index]
}

func (d *Dataset) Genres() *GenreMatrix {
	return d.genres
}

// Pairs returns the aligned user and item indices of all interactions. The slices must
// not be modified.
func (d *Dataset) Pairs() ([]int32, []int32) {
	return d.userIndex, d.itemIndex
}

// History returns the sorted history of a user. The slice must not be modified.
func (d *Dataset) History(userIndex int32) []Rated {
	if userIndex < 0 || int(userIndex) >= len(d.history) {
		return nil
	}
	return d.history[userIndex]
}

// HistoryItems returns the items rated by a user.
func (d *Dataset) HistoryItems(userIndex int32) []int32 {
	return lo.Map(d.History(userIndex), func(r Rated, _ int) int32 { return r.Item })
}

// TopRated returns the first n entries of the sorted history of a user.
func (d *Dataset) TopRated(userIndex int32, n int) []Rated {
	h := d.History(userIndex)
	if n < len(h) {
		return h[:n]
	}
	return h
}

// QualifiedUsers returns users whose history has at least minHistory entries.
func (d *Dataset) QualifiedUsers(minHistory int) []int32 {
	var users []int32
	for userIndex, h := range d.history {
		if len(h) >= minHistory {
			users = append(users, int32(userIndex))
		}
	}
	return users
}

// SplitLatest holds out the most recent interaction of every user with at least
// minHistory interactions. Both sets share the index spaces and the genre matrix of d.
func (d *Dataset) SplitLatest(minHistory int) (*Dataset, *Dataset) {
	heldOut := make([]int, d.CountUsers())
	for i := range heldOut {
		heldOut[i] = -1
	}
	for i, userIndex := range d.userIndex {
		if len(d.history[userIndex]) < minHistory || len(d.history[userIndex]) < 2 {
			continue
		}
		j := heldOut[userIndex]
		if j < 0 || d.timestamps[i] > d.timestamps[j] ||
			(d.timestamps[i] == d.timestamps[j] && d.itemIndex[i] > d.itemIndex[j]) {
			heldOut[userIndex] = i
		}
	}
	isTest := make(map[int]struct{})
	for _, i := range heldOut {
		if i >= 0 {
			isTest[i] = struct{}{}
		}
	}
	train, test := d.subset(func(i int) bool {
		_, ok := isTest[i]
		return !ok
	}), d.subset(func(i int) bool {
		_, ok := isTest[i]
		return ok
	})
	return train, test
}

func (d *Dataset) subset(keep func(i int) bool) *Dataset {
	s := &Dataset{
		userDict: d.userDict,
		itemDict: d.itemDict,
		items:    d.items,
		genres:   d.genres,
		history:  make([][]Rated, d.CountUsers()),
	}
	for i := range d.userIndex {
		if !keep(i) {
			continue
		}
		s.userIndex = append(s.userIndex, d.userIndex[i])
		s.itemIndex = append(s.itemIndex, d.itemIndex[i])
		s.ratings = append(s.ratings, d.ratings[i])
		s.timestamps = append(s.timestamps, d.timestamps[i])
		s.history[d.userIndex[i]] = append(s.history[d.userIndex[i]], Rated{
			Item:      d.itemIndex[i],
			Rating:    d.ratings[i],
			Timestamp: d.timestamps[i],
		})
	}
	for _, h := range s.history {
		sortHistory(h)
	}
	return s
}
