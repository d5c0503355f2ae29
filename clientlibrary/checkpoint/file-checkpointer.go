/*
 * Copyright (c) 2021 VMware, Inc.
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy of this software and
 * associated documentation files (the "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is furnished to do
 * so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all copies or substantial
 * portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR IMPLIED, INCLUDING BUT
 * NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY,
 * WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 */
package checkpoint

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/vmware/vmware-go-changefeed/clientlibrary/config"
	par "github.com/vmware/vmware-go-changefeed/clientlibrary/partition"
	"github.com/vmware/vmware-go-changefeed/logger"
)

// checkpointFile is the YAML layout. One file can hold several collections.
type checkpointFile struct {
	Collections map[string]map[string]string `yaml:"collections"`
}

// FileCheckpoint implements the Checkpointer interface with a local YAML file, for command line
// use and local development. Writes go to a temporary file renamed over the target.
type FileCheckpoint struct {
	log        logger.Logger
	path       string
	collection string

	mux sync.Mutex
}

func NewFileCheckpoint(cfg *config.ChangeFeedConfiguration, path string) *FileCheckpoint {
	return &FileCheckpoint{
		log:        cfg.Logger,
		path:       path,
		collection: cfg.Collection().String(),
	}
}

func (f *FileCheckpoint) Init(ctx context.Context) error {
	return os.MkdirAll(filepath.Dir(f.path), 0o755)
}

func (f *FileCheckpoint) FetchCheckpoint(ctx context.Context) (*par.Checkpoint, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	file, err := f.load()
	if err != nil {
		return nil, err
	}
	tokens := file.Collections[f.collection]
	f.log.Debugf("Retrieved %d checkpoint entries of %s from %s", len(tokens), f.collection, f.path)
	return par.NewCheckpointFromMap(tokens), nil
}

func (f *FileCheckpoint) SaveCheckpoint(ctx context.Context, checkpoint *par.Checkpoint) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	file, err := f.load()
	if err != nil {
		return err
	}
	tokens := file.Collections[f.collection]
	if tokens == nil {
		tokens = make(map[string]string)
		file.Collections[f.collection] = tokens
	}
	for id, token := range checkpoint.Snapshot() {
		tokens[id] = token
	}
	return f.store(file)
}

func (f *FileCheckpoint) RemoveCheckpoint(ctx context.Context, partitionID string) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	file, err := f.load()
	if err != nil {
		return err
	}
	delete(file.Collections[f.collection], partitionID)
	if err := f.store(file); err != nil {
		return err
	}
	f.log.Infof("Checkpoint of partition: %s has been removed.", partitionID)
	return nil
}

func (f *FileCheckpoint) load() (*checkpointFile, error) {
	file := &checkpointFile{}
	data, err := os.ReadFile(f.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, file); err != nil {
			f.log.Errorf("Checkpoint file %s is corrupted: %+v", f.path, err)
			return nil, err
		}
	}
	if file.Collections == nil {
		file.Collections = make(map[string]map[string]string)
	}
	return file, nil
}

func (f *FileCheckpoint) store(file *checkpointFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
