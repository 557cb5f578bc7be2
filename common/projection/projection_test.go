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
package projection

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCA(t *testing.T) {
	// points on the line y = 2x
	data := []float32{
		0, 0,
		1, 2,
		2, 4,
		3, 6,
		4, 8,
	}
	projected, err := PCA(data, 5, 2, 2)
	require.NoError(t, err)
	require.Len(t, projected, 10)
	for i := 0; i < 5; i++ {
		assert.InDelta(t, math32.Sqrt(5)*math32.Abs(float32(i-2)), math32.Abs(projected[i*2]), 1e-4)
		assert.InDelta(t, 0, projected[i*2+1], 1e-4)
	}
	// the order along the line is kept
	if projected[0] < projected[8] {
		for i := 1; i < 5; i++ {
			assert.Less(t, projected[(i-1)*2], projected[i*2])
		}
	} else {
		for i := 1; i < 5; i++ {
			assert.Greater(t, projected[(i-1)*2], projected[i*2])
		}
	}
}

func TestPCAMoreComponentsThanColumns(t *testing.T) {
	data := []float32{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
	projected, err := PCA(data, 3, 3, 5)
	require.NoError(t, err)
	assert.Len(t, projected, 15)
	for i := 0; i < 3; i++ {
		// the last components are padding
		assert.Zero(t, projected[i*5+3])
		assert.Zero(t, projected[i*5+4])
	}
}

func TestPCAInvalid(t *testing.T) {
	_, err := PCA([]float32{1, 2, 3}, 2, 2, 2)
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = PCA(nil, 0, 2, 0)
	assert.True(t, errors.Is(err, errors.NotValid))
	projected, err := PCA([]float32{1, 2}, 1, 2, 2)
	assert.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, projected)
}
