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
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorse-io/twotower/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestData(t *testing.T) string {
	dir := t.TempDir()
	var items strings.Builder
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&items, "%d|Movie %d (199%d)|01-Jan-199%d||http://example.com|%d|%d\n", i, i, i, i, i%2, 1-i%2)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u.item"), []byte(items.String()), 0o644))
	var ratings strings.Builder
	timestamp := 881250949
	for user := 1; user <= 3; user++ {
		for item := 1; item <= 4; item++ {
			if (user+item)%3 == 0 {
				continue
			}
			timestamp++
			fmt.Fprintf(&ratings, "%d\t%d\t%d\t%d\n", user, item, 1+(user*item)%5, timestamp)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "u.data"), []byte(ratings.String()), 0o644))

	configPath := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(fmt.Sprintf(`
[data]
dir = %q
num_genres = 2

[model]
epochs = 2
batch_size = 4
embedding_dim = 4
hidden_dim = 4

[recommend]
top_k = 2
history_n = 3
min_history = 1

[evaluate]
min_history = 2

[checkpoint]
type = "posix"
dir = %q
`, dir, filepath.Join(dir, "checkpoints"))), 0o644))
	return configPath
}

func TestTrainAndRecommend(t *testing.T) {
	configPath := writeTestData(t)
	projectionPath := filepath.Join(filepath.Dir(configPath), "projection.csv")

	rootCommand.SetArgs([]string{"train", "-c", configPath, "--evaluate", "--projection", projectionPath})
	require.NoError(t, rootCommand.Execute())
	assert.FileExists(t, filepath.Join(filepath.Dir(configPath), "checkpoints", checkpointName))
	projection, err := os.ReadFile(projectionPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(projection)), "\n")
	assert.Equal(t, "item_id,title,x,y", lines[0])
	assert.Len(t, lines, 6)

	rootCommand.SetArgs([]string{"recommend", "-c", configPath, "--user", "1", "--baseline"})
	require.NoError(t, rootCommand.Execute())

	rootCommand.SetArgs([]string{"recommend", "-c", configPath, "--user", "404"})
	assert.Error(t, rootCommand.Execute())

	rootCommand.SetArgs([]string{"tune", "-c", configPath, "--trials", "2"})
	require.NoError(t, rootCommand.Execute())
}

func TestNewContext(t *testing.T) {
	cfg := config.GetDefaultConfig()
	ctx, cancel := newContext(cfg)
	_, ok := ctx.Deadline()
	assert.False(t, ok)
	cancel()

	cfg.Model.Timeout = time.Millisecond
	ctx, cancel = newContext(cfg)
	defer cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestFormatYear(t *testing.T) {
	assert.Equal(t, "-", formatYear(0))
	assert.Equal(t, "1995", formatYear(1995))
}
