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
	"github.com/juju/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA projects the rows of a row-major [rows, cols] matrix onto its first k principal
// components and returns a row-major [rows, k] matrix. Components beyond the rank of the
// data are zero.
func PCA(data []float32, rows, cols, k int) ([]float32, error) {
	if rows < 0 || cols <= 0 || k <= 0 {
		return nil, errors.NotValidf("projection of %dx%d matrix onto %d components", rows, cols, k)
	}
	if len(data) != rows*cols {
		return nil, errors.NotValidf("%d values for %dx%d matrix", len(data), rows, cols)
	}
	out := make([]float32, rows*k)
	if rows < 2 {
		return out, nil
	}

	// center columns
	a := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			a.Set(i, j, float64(data[i*cols+j]))
		}
	}
	for j := 0; j < cols; j++ {
		mean := stat.Mean(mat.Col(nil, j, a), nil)
		for i := 0; i < rows; i++ {
			a.Set(i, j, a.At(i, j)-mean)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(a, nil); !ok {
		return nil, errors.New("principal component analysis failed")
	}
	var vectors mat.Dense
	pc.VectorsTo(&vectors)
	_, n := vectors.Dims()
	n = min(n, k)
	var projected mat.Dense
	projected.Mul(a, vectors.Slice(0, cols, 0, n))
	for i := 0; i < rows; i++ {
		for j := 0; j < n; j++ {
			out[i*k+j] = float32(projected.At(i, j))
		}
	}
	return out, nil
}
