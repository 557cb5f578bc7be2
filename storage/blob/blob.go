// Copyright 2024 gorse Project Authors
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
package blob

import (
	"context"
	"io"

	"github.com/gorse-io/twotower/config"
	"github.com/juju/errors"
)

// Store keeps named blobs such as model checkpoints.
type Store interface {
	// Open a blob for reading.
	Open(name string) (io.ReadCloser, error)
	// Create a blob for writing. The blob is complete once Close returns without error.
	Create(name string) (Writer, error)
	// List names of all blobs.
	List() ([]string, error)
	// Remove a blob.
	Remove(name string) error
}

// NewStore creates the store selected by the checkpoint config.
func NewStore(cfg config.CheckpointConfig) (Store, error) {
	switch cfg.Type {
	case config.CheckpointPOSIX:
		return NewPOSIX(cfg.Dir), nil
	case config.CheckpointS3:
		return NewS3(cfg)
	case config.CheckpointGCS:
		return NewGCS(cfg)
	case config.CheckpointAzure:
		return NewAzureBlob(cfg)
	}
	return nil, errors.NotSupportedf("checkpoint store %q", cfg.Type)
}

// Writer is a blob being written. Close commits the blob. CloseWithError discards it and
// leaves any previous blob of the same name in place.
type Writer interface {
	io.WriteCloser
	CloseWithError(err error) error
}

var errAborted = errors.New("blob write aborted")

type Marshaler interface {
	Marshal(w io.Writer) error
}

type Unmarshaler interface {
	Unmarshal(r io.Reader) error
}

// Save writes a model into the store.
func Save(s Store, name string, m Marshaler) error {
	w, err := s.Create(name)
	if err != nil {
		return errors.Trace(err)
	}
	if err = m.Marshal(w); err != nil {
		return errors.Trace(w.CloseWithError(err))
	}
	return errors.Trace(w.Close())
}

// Load reads a model from the store.
func Load(s Store, name string, m Unmarshaler) error {
	r, err := s.Open(name)
	if err != nil {
		return errors.Trace(err)
	}
	defer r.Close()
	return errors.Trace(m.Unmarshal(r))
}

// pipeWriter streams writes to an uploader running in another goroutine. Close waits for
// the upload and returns its error. CloseWithError fails the stream and cancels the upload.
type pipeWriter struct {
	*io.PipeWriter
	cancel context.CancelFunc
	done   chan error
}

func newPipeWriter(upload func(ctx context.Context, r io.Reader) error) *pipeWriter {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := upload(ctx, pr)
		// unblock pending writes if the upload stopped early
		_ = pr.CloseWithError(err)
		done <- err
	}()
	return &pipeWriter{PipeWriter: pw, cancel: cancel, done: done}
}

func (w *pipeWriter) Close() error {
	defer w.cancel()
	if err := w.PipeWriter.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(<-w.done)
}

func (w *pipeWriter) CloseWithError(err error) error {
	if err == nil {
		err = errAborted
	}
	_ = w.PipeWriter.CloseWithError(err)
	w.cancel()
	<-w.done
	return err
}
