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
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/gorse-io/twotower/base/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

// LoadMovieLens loads a MovieLens 100K style dataset from dir. The ratings file holds
// tab-separated "user item rating timestamp" lines, and the items file holds
// pipe-separated "id|title|release date|...|genre flags" lines whose last numGenres
// columns are genre flags.
func LoadMovieLens(dir, ratingsFile, itemsFile string, numGenres int) (*Dataset, error) {
	itemsPath := filepath.Join(dir, itemsFile)
	f, err := os.Open(itemsPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer f.Close()
	items, skipped, err := ReadItems(f, numGenres)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", itemsPath)
	}
	if skipped > 0 {
		log.Logger().Warn("skip malformed item lines", zap.String("path", itemsPath), zap.Int("n_lines", skipped))
	}

	ratingsPath := filepath.Join(dir, ratingsFile)
	g, err := os.Open(ratingsPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer g.Close()
	interactions, skipped, err := ReadInteractions(g)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to read %s", ratingsPath)
	}
	if skipped > 0 {
		log.Logger().Warn("skip malformed rating lines", zap.String("path", ratingsPath), zap.Int("n_lines", skipped))
	}
	return Build(interactions, items, numGenres)
}

// Ratings range from MinRating to MaxRating.
const (
	MinRating = 1
	MaxRating = 5
)

// ReadInteractions parses tab-separated ratings. It returns the number of malformed lines
// that were skipped. A rating out of range makes the line malformed.
func ReadInteractions(r io.Reader) ([]Interaction, int, error) {
	var (
		interactions []Interaction
		skipped      int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			skipped++
			continue
		}
		userID, err1 := strconv.Atoi(fields[0])
		itemID, err2 := strconv.Atoi(fields[1])
		rating, err3 := strconv.Atoi(fields[2])
		timestamp, err4 := strconv.ParseInt(fields[3], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil ||
			rating < MinRating || rating > MaxRating {
			skipped++
			continue
		}
		interactions = append(interactions, Interaction{
			UserID:    userID,
			ItemID:    itemID,
			Rating:    rating,
			Timestamp: timestamp,
		})
	}
	return interactions, skipped, errors.Trace(scanner.Err())
}

// ReadItems parses pipe-separated items. Missing genre flags are read as zero. It returns
// the number of malformed lines that were skipped.
func ReadItems(r io.Reader, numGenres int) ([]ItemRecord, int, error) {
	var (
		items   []ItemRecord
		skipped int
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 2+numGenres {
			skipped++
			continue
		}
		itemID, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			skipped++
			continue
		}
		record := ItemRecord{
			ItemID: itemID,
			Title:  latin1ToUTF8(fields[1]),
			Genres: make([]float32, numGenres),
		}
		if len(fields) > 2+numGenres && fields[2] != "" {
			if t, err := dateparse.ParseAny(fields[2]); err == nil {
				record.ReleaseYear = t.Year()
			}
		}
		flags := fields[len(fields)-numGenres:]
		for i, flag := range flags {
			if flag == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(flag), 32)
			if err != nil {
				record.Genres = nil
				break
			}
			record.Genres[i] = float32(v)
		}
		if record.Genres == nil {
			skipped++
			continue
		}
		items = append(items, record)
	}
	return items, skipped, errors.Trace(scanner.Err())
}

// latin1ToUTF8 converts ISO-8859-1 text to UTF-8. Valid UTF-8 is returned unchanged.
func latin1ToUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	runes := make([]rune, len(s))
	for i := 0; i < len(s); i++ {
		runes[i] = rune(s[i])
	}
	return string(runes)
}
