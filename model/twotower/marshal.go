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
package twotower

import (
	"io"
	"slices"

	"github.com/gorse-io/twotower/base/encoding"
	"github.com/gorse-io/twotower/model"
	"github.com/juju/errors"
)

// Marshal writes hyper-parameters, index space sizes and every parameter tensor.
func (m *TwoTower) Marshal(w io.Writer) error {
	if m.Invalid() {
		return errors.NotValidf("untrained model")
	}
	if err := encoding.WriteGob(w, m.Params); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteShape(w, []int{m.numUsers, m.numItems, m.numGenres}); err != nil {
		return errors.Trace(err)
	}
	for _, param := range m.Parameters() {
		if err := encoding.WriteShape(w, param.Shape()); err != nil {
			return errors.Trace(err)
		}
		if err := encoding.WriteVector(w, param.Data()); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Unmarshal reads a model written by Marshal.
func (m *TwoTower) Unmarshal(r io.Reader) error {
	var params model.Params
	if err := encoding.ReadGob(r, &params); err != nil {
		return errors.Trace(err)
	}
	m.SetParams(params)
	if err := m.Validate(); err != nil {
		return errors.Trace(err)
	}
	dims, err := encoding.ReadShape(r)
	if err != nil {
		return errors.Trace(err)
	}
	if len(dims) != 3 {
		return errors.NotValidf("index space sizes %v", dims)
	}
	m.Init(dims[0], dims[1], dims[2])
	for _, param := range m.Parameters() {
		shape, err := encoding.ReadShape(r)
		if err != nil {
			m.Clear()
			return errors.Trace(err)
		}
		if !slices.Equal(shape, param.Shape()) {
			m.Clear()
			return errors.NotValidf("parameter shape %v, expected %v", shape, param.Shape())
		}
		if err = encoding.ReadVector(r, param.Data()); err != nil {
			m.Clear()
			return errors.Trace(err)
		}
	}
	return nil
}
